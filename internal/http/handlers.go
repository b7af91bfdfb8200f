package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mixcrate/dj-booking-core/internal/adapters/pg"
	"github.com/mixcrate/dj-booking-core/internal/availability"
	"github.com/mixcrate/dj-booking-core/internal/config"
	"github.com/mixcrate/dj-booking-core/internal/domain"
	"github.com/mixcrate/dj-booking-core/internal/idempotency"
	"github.com/mixcrate/dj-booking-core/internal/lifecycle"
	"github.com/mixcrate/dj-booking-core/internal/observability"
	"github.com/mixcrate/dj-booking-core/internal/recovery"
	"github.com/mixcrate/dj-booking-core/internal/scoring"
)

type Handlers struct {
	cfg       *config.Config
	lifecycle *lifecycle.Service
	recovery  *recovery.Service
	repo      *pg.Repository
	checker   *availability.Checker
	idemp     *idempotency.Idempotency
	logger    observability.Logger
}

func NewHandlers(cfg *config.Config, lc *lifecycle.Service, rc *recovery.Service, repo *pg.Repository, checker *availability.Checker, idemp *idempotency.Idempotency, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:       cfg,
		lifecycle: lc,
		recovery:  rc,
		repo:      repo,
		checker:   checker,
		idemp:     idemp,
		logger:    logger,
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

// writeError maps domain errors to HTTP statuses. Conflicts carry the
// competing bookings so the caller can render them without another query.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var ce *lifecycle.ConflictError
	if errors.As(err, &ce) {
		conflicts := make([]map[string]interface{}, 0, len(ce.Conflicts))
		for _, c := range ce.Conflicts {
			entry := map[string]interface{}{"booking_id": c.ID, "status": c.Status}
			if c.HasWindow() {
				entry["start_time"] = c.StartTime.Format(time.RFC3339)
				entry["end_time"] = c.EndTime.Format(time.RFC3339)
			}
			conflicts = append(conflicts, entry)
		}
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "dj has conflicting bookings",
			"dj_id":     ce.DjID,
			"conflicts": conflicts,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrDjNotActive):
		http.Error(w, "dj is not an active contractor", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrPayoutNotOnboarded):
		http.Error(w, "dj has not completed payout onboarding", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrExpired):
		http.Error(w, "recovery offer has expired", http.StatusGone)
	case errors.Is(err, domain.ErrEscrowState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// replay serves a previously stored response for the request's
// Idempotency-Key. Returns true when the request was already handled.
func (h *Handlers) replay(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		h.logger.WithError(err).Warn("idempotency lookup failed")
		return false
	}
	if existing == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(existing.Status)
	w.Write(existing.Result)
	return true
}

func (h *Handlers) remember(r *http.Request, status int, body []byte) {
	key := r.Header.Get("Idempotency-Key")
	if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, Result: body}); err != nil {
		h.logger.WithError(err).Warn("failed to store idempotent response")
	}
}

func bookingResponse(b *domain.Booking) map[string]interface{} {
	resp := map[string]interface{}{
		"id":               b.ID,
		"client_id":        b.ClientID,
		"status":           b.Status,
		"escrow_status":    b.EscrowStatus,
		"payout_status":    b.PayoutStatus,
		"dispute_status":   b.DisputeStatus,
		"event_type":       b.EventType,
		"event_date":       b.EventDate.Format(time.RFC3339),
		"is_paid":          b.IsPaid,
		"client_confirmed": b.ClientConfirmed,
		"dj_confirmed":     b.DjConfirmed,
	}
	if b.DjID != nil {
		resp["dj_id"] = *b.DjID
	}
	if b.HasWindow() {
		resp["start_time"] = b.StartTime.Format(time.RFC3339)
		resp["end_time"] = b.EndTime.Format(time.RFC3339)
	}
	if b.QuotedPriceCents != nil {
		resp["quoted_price_cents"] = *b.QuotedPriceCents
		resp["platform_fee_cents"] = b.PlatformFeeCents
		resp["payout_amount_cents"] = b.PayoutAmountCents
	}
	if b.RefundID != nil {
		resp["refund_id"] = *b.RefundID
	}
	return resp
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	if h.replay(w, r) {
		return
	}

	var req struct {
		ClientID         uuid.UUID  `json:"client_id"`
		PreferredDjID    *uuid.UUID `json:"preferred_dj_id"`
		EventType        string     `json:"event_type"`
		EventDate        time.Time  `json:"event_date"`
		StartTime        time.Time  `json:"start_time"`
		EndTime          time.Time  `json:"end_time"`
		QuotedPriceCents *int64     `json:"quoted_price_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.lifecycle.Create(r.Context(), lifecycle.CreateParams{
		ClientID:         req.ClientID,
		PreferredDjID:    req.PreferredDjID,
		EventType:        req.EventType,
		EventDate:        req.EventDate,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		QuotedPriceCents: req.QuotedPriceCents,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	body := h.writeJSON(w, http.StatusCreated, bookingResponse(b))
	h.remember(r, http.StatusCreated, body)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	b, err := h.repo.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) AssignDj(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		DjID   uuid.UUID `json:"dj_id"`
		Reason string    `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.lifecycle.Assign(r.Context(), bookingID, req.DjID, actorID(r), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) SetQuote(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		PriceCents int64 `json:"price_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PriceCents <= 0 {
		http.Error(w, "price must be positive", http.StatusBadRequest)
		return
	}
	if err := h.repo.SetQuotedPrice(r.Context(), bookingID, req.PriceCents); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AcceptBooking(w http.ResponseWriter, r *http.Request) {
	if h.replay(w, r) {
		return
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	b, err := h.lifecycle.Accept(r.Context(), bookingID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := bookingResponse(b)
	if b.CheckoutSessionID != nil {
		resp["checkout_session_id"] = *b.CheckoutSessionID
	}
	body := h.writeJSON(w, http.StatusOK, resp)
	h.remember(r, http.StatusOK, body)
}

// PaymentCallback is the gateway webhook. Only succeeded payments advance
// the booking; anything else is acknowledged and ignored.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID  uuid.UUID `json:"booking_id"`
		Status     string    `json:"status"`
		PaymentRef string    `json:"payment_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Status != "SUCCEEDED" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if _, err := h.lifecycle.PaymentConfirmed(r.Context(), req.BookingID, req.PaymentRef); err != nil {
		// A replayed webhook hits the status guard; that is success.
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) ConfirmCompletion(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Side string `json:"side"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	side := domain.ConfirmSide(req.Side)
	if side != domain.ConfirmClient && side != domain.ConfirmDj {
		http.Error(w, "side must be client or dj", http.StatusBadRequest)
		return
	}
	b, err := h.lifecycle.ConfirmCompletion(r.Context(), bookingID, side, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) OpenDispute(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.lifecycle.OpenDispute(r.Context(), bookingID, actorID(r), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bookingResponse(b))
}

// Suggestions ranks replacement or initial candidates for a booking with
// the admin weight table.
func (h *Handlers) Suggestions(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	b, err := h.repo.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	suggestions, err := h.recovery.SuggestDjs(r.Context(), b, 10)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"booking_id":  bookingID,
		"suggestions": suggestions,
	})
}

// MatchDjs ranks DJs against client-submitted preferences for a prospective
// window, before any booking exists.
func (h *Handlers) MatchDjs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Genres      []string  `json:"genres"`
		Style       string    `json:"style"`
		Vibe        string    `json:"vibe"`
		BudgetCents int64     `json:"budget_cents"`
		EventDate   time.Time `json:"event_date"`
		StartTime   time.Time `json:"start_time"`
		EndTime     time.Time `json:"end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := domain.ValidateWindow(req.StartTime, req.EndTime); err != nil {
		h.writeError(w, err)
		return
	}

	candidates, err := h.repo.ListAssignableDjs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	available := make([]domain.DjProfile, 0, len(candidates))
	for i := range candidates {
		res, err := h.checker.Check(r.Context(), candidates[i].UserID, req.StartTime, req.EndTime, nil)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if res.Available {
			available = append(available, candidates[i])
		}
	}

	start, end := req.StartTime, req.EndTime
	prospect := &domain.Booking{
		EventDate: req.EventDate,
		StartTime: &start,
		EndTime:   &end,
	}
	scorer := scoring.NewRequestScorer(scoring.Preferences{
		Genres:      req.Genres,
		Style:       req.Style,
		Vibe:        req.Vibe,
		BudgetCents: req.BudgetCents,
	})
	matches, err := scoring.Rank(r.Context(), prospect, available, scorer, 10)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

func (h *Handlers) SaveProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		StageName           string   `json:"stage_name"`
		IsAcceptingBookings bool     `json:"is_accepting_bookings"`
		Genres              []string `json:"genres"`
		StyleKeywords       []string `json:"style_keywords"`
		Bio                 string   `json:"bio"`
		PriceMinCents       int64    `json:"price_min_cents"`
		PriceMaxCents       int64    `json:"price_max_cents"`
		PayoutAccountID     string   `json:"payout_account_id"`
		PayoutOnboarded     bool     `json:"payout_onboarded"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.StageName == "" {
		http.Error(w, "stage name is required", http.StatusBadRequest)
		return
	}

	// New profiles start as PENDING contractors; the upsert leaves the
	// status of an existing row untouched.
	profile := &domain.DjProfile{
		UserID:              userID,
		ContractorStatus:    domain.ContractorPending,
		StageName:           req.StageName,
		IsAcceptingBookings: req.IsAcceptingBookings,
		Genres:              req.Genres,
		StyleKeywords:       req.StyleKeywords,
		Bio:                 req.Bio,
		PriceMinCents:       req.PriceMinCents,
		PriceMaxCents:       req.PriceMaxCents,
		PayoutAccountID:     req.PayoutAccountID,
		PayoutOnboarded:     req.PayoutOnboarded,
	}
	if err := h.repo.SaveDjProfile(r.Context(), profile); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			http.Error(w, "stage name already in use", http.StatusConflict)
			return
		}
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) TerminateDj(w http.ResponseWriter, r *http.Request) {
	if h.replay(w, r) {
		return
	}
	djID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.recovery.Terminate(r.Context(), djID, actorID(r), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if len(res.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	body := h.writeJSON(w, status, res)
	h.remember(r, status, body)
}

func (h *Handlers) GetRecovery(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	rec, err := h.recovery.GetRecovery(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                  rec.ID,
		"original_booking_id": rec.OriginalBookingID,
		"suggested_dj_id":     rec.SuggestedDjID,
		"status":              rec.Status,
		"expires_at":          rec.ExpiresAt.Format(time.RFC3339),
		"suggestions":         json.RawMessage(rec.Suggestions),
	})
}

func (h *Handlers) AcceptRecovery(w http.ResponseWriter, r *http.Request) {
	if h.replay(w, r) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		DjID *uuid.UUID `json:"dj_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	djID := uuid.Nil
	if req.DjID != nil {
		djID = *req.DjID
	}
	b, err := h.recovery.AcceptRecovery(r.Context(), id, djID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	body := h.writeJSON(w, http.StatusOK, bookingResponse(b))
	h.remember(r, http.StatusOK, body)
}

func (h *Handlers) DeclineRecovery(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.recovery.DeclineRecovery(r.Context(), id, actorID(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
