package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/mixcrate/dj-booking-core/internal/adapters/mongo"
	"github.com/mixcrate/dj-booking-core/internal/adapters/pg"
	"github.com/mixcrate/dj-booking-core/internal/adapters/rabbit"
	redisadapter "github.com/mixcrate/dj-booking-core/internal/adapters/redis"
	"github.com/mixcrate/dj-booking-core/internal/availability"
	"github.com/mixcrate/dj-booking-core/internal/config"
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

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := pg.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("djb"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
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
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.WithField("addr", cfg.ListenAddr).Info("api started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
