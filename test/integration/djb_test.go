package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/mixcrate/dj-booking-core/internal/adapters/mongo"
	"github.com/mixcrate/dj-booking-core/internal/adapters/pg"
	"github.com/mixcrate/dj-booking-core/internal/adapters/rabbit"
	redisadapter "github.com/mixcrate/dj-booking-core/internal/adapters/redis"
	"github.com/mixcrate/dj-booking-core/internal/availability"
	"github.com/mixcrate/dj-booking-core/internal/config"
	"github.com/mixcrate/dj-booking-core/internal/domain"
	httphandler "github.com/mixcrate/dj-booking-core/internal/http"
	"github.com/mixcrate/dj-booking-core/internal/idempotency"
	"github.com/mixcrate/dj-booking-core/internal/lifecycle"
	"github.com/mixcrate/dj-booking-core/internal/notify"
	"github.com/mixcrate/dj-booking-core/internal/observability"
	"github.com/mixcrate/dj-booking-core/internal/payments"
	"github.com/mixcrate/dj-booking-core/internal/rateLimit"
	"github.com/mixcrate/dj-booking-core/internal/recovery"
	"github.com/mixcrate/dj-booking-core/internal/scoring"
)

func TestIntegration_BookingLifecycleAndTermination(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			Env:          map[string]string{"POSTGRES_PASSWORD": "test", "POSTGRES_DB": "djb"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")
	mongoHost, _ := mongoContainer.Host(ctx)
	mongoPort, _ := mongoContainer.MappedPort(ctx, "27017")
	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")
	rabbitHost, _ := rabbitContainer.Host(ctx)
	rabbitPort, _ := rabbitContainer.MappedPort(ctx, "5672")

	// Payment gateway stub: checkout sessions and refunds always succeed.
	gatewayStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/checkout/sessions":
			json.NewEncoder(w).Encode(map[string]interface{}{"id": "cs_1", "url": "https://pay.test/cs_1"})
		case "/v1/refunds":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":           "re_1",
				"amount_cents": req["amount_cents"],
				"status":       "succeeded",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer gatewayStub.Close()

	cfg := &config.Config{
		PostgresDSN:    "postgresql://postgres:test@" + pgHost + ":" + pgPort.Port() + "/djb?sslmode=disable",
		MongoURI:       "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:      redisHost + ":" + redisPort.Port(),
		RabbitURL:      "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		GatewayBaseURL: gatewayStub.URL,
		GatewayAPIKey:  "sk_test",
		GatewayTimeout: 10 * time.Second,
		RecoveryTTL:    7 * 24 * time.Hour,
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if err := applySchema(ctx, pool); err != nil {
		t.Fatal(err)
	}
	repo := pg.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	logger := observability.NewLogger()
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("djb"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}

	gateway := payments.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)
	checker := availability.NewChecker(repo)
	notifier := notify.NewService(repo, rabbit.NewBus(rabbitPub), logger)
	lifecycleSvc := lifecycle.NewService(repo, checker, gateway, audit, logger)
	recoverySvc := recovery.NewService(
		repo, checker, scoring.NewAdminScorer(repo), gateway,
		cache, notifier, audit, logger, cfg.RecoveryTTL,
	)

	handlers := httphandler.NewHandlers(cfg, lifecycleSvc, recoverySvc, repo, checker, idemp, logger)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rl))
	defer srv.Close()

	admin := uuid.New()
	client := uuid.New()
	dj1 := uuid.New()
	dj2 := uuid.New()

	for i, dj := range []uuid.UUID{dj1, dj2} {
		profile := &domain.DjProfile{
			UserID:              dj,
			StageName:           "DJ Test " + string(rune('A'+i)),
			ContractorStatus:    domain.ContractorActive,
			IsAcceptingBookings: true,
			Rating:              4.5,
			PayoutOnboarded:     true,
		}
		if err := repo.SaveDjProfile(ctx, profile); err != nil {
			t.Fatal(err)
		}
	}

	start := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	end := start.Add(4 * time.Hour)

	// Create and assign the first booking.
	status, body := doJSON(t, srv.URL, "POST", "/v1/bookings", admin, map[string]interface{}{
		"client_id":          client,
		"event_type":         "wedding",
		"event_date":         start,
		"start_time":         start,
		"end_time":           end,
		"quoted_price_cents": 200_00,
	})
	if status != http.StatusCreated {
		t.Fatalf("create booking: status %d: %s", status, body)
	}
	booking1 := parsedID(t, body)

	status, body = doJSON(t, srv.URL, "POST", "/v1/bookings/"+booking1.String()+"/assign", admin,
		map[string]interface{}{"dj_id": dj1, "reason": "best fit"})
	if status != http.StatusOK {
		t.Fatalf("assign: status %d: %s", status, body)
	}

	// An overlapping booking cannot be given to the same DJ; the response
	// names the competing booking.
	status, body = doJSON(t, srv.URL, "POST", "/v1/bookings", admin, map[string]interface{}{
		"client_id":          client,
		"event_type":         "club",
		"event_date":         start,
		"start_time":         start.Add(2 * time.Hour),
		"end_time":           end.Add(2 * time.Hour),
		"quoted_price_cents": 150_00,
	})
	if status != http.StatusCreated {
		t.Fatalf("create booking 2: status %d: %s", status, body)
	}
	booking2 := parsedID(t, body)

	status, body = doJSON(t, srv.URL, "POST", "/v1/bookings/"+booking2.String()+"/assign", admin,
		map[string]interface{}{"dj_id": dj1, "reason": "double booked"})
	if status != http.StatusConflict {
		t.Fatalf("overlap assign: status %d, want 409", status)
	}
	if !strings.Contains(string(body), booking1.String()) {
		t.Errorf("conflict response does not name the competing booking: %s", body)
	}

	status, body = doJSON(t, srv.URL, "POST", "/v1/bookings/"+booking2.String()+"/assign", admin,
		map[string]interface{}{"dj_id": dj2, "reason": "second dj"})
	if status != http.StatusOK {
		t.Fatalf("assign dj2: status %d: %s", status, body)
	}

	// Pay the second booking so termination has escrow to refund.
	acceptAndPay(t, srv.URL, admin, booking2, "pi_2")

	// Drive the first booking to completion: accept, pay, both confirm.
	status, body = doJSON(t, srv.URL, "POST", "/v1/bookings/"+booking1.String()+"/accept", admin, map[string]interface{}{})
	if status != http.StatusOK {
		t.Fatalf("accept: status %d: %s", status, body)
	}
	var accepted struct {
		CheckoutSessionID string `json:"checkout_session_id"`
		PlatformFeeCents  int64  `json:"platform_fee_cents"`
	}
	json.Unmarshal(body, &accepted)
	if accepted.CheckoutSessionID != "cs_1" {
		t.Errorf("checkout session = %q, want cs_1", accepted.CheckoutSessionID)
	}
	if accepted.PlatformFeeCents != 20_00 {
		t.Errorf("platform fee = %d, want 2000", accepted.PlatformFeeCents)
	}

	status, _ = doJSON(t, srv.URL, "POST", "/v1/payments/callback", admin,
		map[string]interface{}{"booking_id": booking1, "status": "SUCCEEDED", "payment_ref": "pi_1"})
	if status != http.StatusOK {
		t.Fatalf("payment callback: status %d", status)
	}

	status, body = doJSON(t, srv.URL, "POST", "/v1/bookings/"+booking1.String()+"/complete", client,
		map[string]interface{}{"side": "client"})
	if status != http.StatusOK {
		t.Fatalf("client confirm: status %d: %s", status, body)
	}
	if got := fieldString(t, body, "escrow_status"); got != "HELD" {
		t.Errorf("escrow after one confirmation = %s, want HELD", got)
	}

	status, body = doJSON(t, srv.URL, "POST", "/v1/bookings/"+booking1.String()+"/complete", dj1,
		map[string]interface{}{"side": "dj"})
	if status != http.StatusOK {
		t.Fatalf("dj confirm: status %d: %s", status, body)
	}
	if got := fieldString(t, body, "escrow_status"); got != "RELEASED" {
		t.Errorf("escrow after both confirmations = %s, want RELEASED", got)
	}
	if got := fieldString(t, body, "status"); got != "COMPLETED" {
		t.Errorf("status after release = %s, want COMPLETED", got)
	}

	// Terminate the second DJ. The completed first booking must stay
	// untouched; the paid second booking is cancelled and refunded.
	status, body = doJSON(t, srv.URL, "POST", "/v1/djs/"+dj2.String()+"/terminate", admin,
		map[string]interface{}{"reason": "policy violation"})
	if status != http.StatusOK {
		t.Fatalf("terminate: status %d: %s", status, body)
	}
	var termRes struct {
		Affected int `json:"affected_bookings"`
		Refunded int `json:"refunded"`
	}
	json.Unmarshal(body, &termRes)
	if termRes.Affected != 1 || termRes.Refunded != 1 {
		t.Fatalf("termination result = %+v, want 1 affected, 1 refunded", termRes)
	}

	status, body = doJSON(t, srv.URL, "GET", "/v1/bookings/"+booking2.String(), admin, nil)
	if status != http.StatusOK {
		t.Fatal("get booking 2 failed")
	}
	if got := fieldString(t, body, "status"); got != "REFUNDED" {
		t.Errorf("booking 2 status = %s, want REFUNDED", got)
	}

	status, body = doJSON(t, srv.URL, "GET", "/v1/bookings/"+booking1.String(), admin, nil)
	if status != http.StatusOK || fieldString(t, body, "status") != "COMPLETED" {
		t.Errorf("completed booking was touched by termination: %s", body)
	}

	// The recovery offer suggests dj1, whose only booking is already
	// completed and no longer blocks the window.
	var recoveryID uuid.UUID
	err = pool.QueryRow(ctx, `SELECT id FROM booking_recoveries WHERE original_booking_id = $1`, booking2).Scan(&recoveryID)
	if err != nil {
		t.Fatal(err)
	}

	status, body = doJSON(t, srv.URL, "GET", "/v1/recoveries/"+recoveryID.String(), client, nil)
	if status != http.StatusOK {
		t.Fatalf("get recovery: status %d", status)
	}
	if got := fieldString(t, body, "status"); got != "PENDING" {
		t.Errorf("recovery status = %s, want PENDING", got)
	}

	status, body = doJSON(t, srv.URL, "POST", "/v1/recoveries/"+recoveryID.String()+"/accept", client,
		map[string]interface{}{"dj_id": dj1})
	if status != http.StatusOK {
		t.Fatalf("accept recovery: status %d: %s", status, body)
	}
	if got := fieldString(t, body, "status"); got != "DJ_ASSIGNED" {
		t.Errorf("rebound booking status = %s, want DJ_ASSIGNED", got)
	}
	if got := fieldString(t, body, "dj_id"); got != dj1.String() {
		t.Errorf("rebound dj = %s, want %s", got, dj1)
	}
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	schema, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(schema), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func acceptAndPay(t *testing.T, baseURL string, actor uuid.UUID, bookingID uuid.UUID, paymentRef string) {
	t.Helper()
	status, body := doJSON(t, baseURL, "POST", "/v1/bookings/"+bookingID.String()+"/accept", actor, map[string]interface{}{})
	if status != http.StatusOK {
		t.Fatalf("accept %s: status %d: %s", bookingID, status, body)
	}
	status, _ = doJSON(t, baseURL, "POST", "/v1/payments/callback", actor,
		map[string]interface{}{"booking_id": bookingID, "status": "SUCCEEDED", "payment_ref": paymentRef})
	if status != http.StatusOK {
		t.Fatalf("pay %s: status %d", bookingID, status)
	}
}

func doJSON(t *testing.T, baseURL, method, path string, actor uuid.UUID, payload interface{}) (int, []byte) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actor.String())
	if method == "POST" {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func parsedID(t *testing.T, body []byte) uuid.UUID {
	t.Helper()
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	return resp.ID
}

func fieldString(t *testing.T, body []byte, field string) string {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatal(err)
	}
	s, _ := m[field].(string)
	return s
}
