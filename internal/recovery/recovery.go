// Package recovery orchestrates DJ termination and the follow-up offered to
// affected clients: cancellation, refund, notification and a time-limited
// recovery record with replacement suggestions. Each booking is processed in
// its own transaction so one failure never rolls back its siblings.
package recovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mixcrate/dj-booking-core/internal/availability"
	"github.com/mixcrate/dj-booking-core/internal/domain"
	"github.com/mixcrate/dj-booking-core/internal/lifecycle"
	"github.com/mixcrate/dj-booking-core/internal/notify"
	"github.com/mixcrate/dj-booking-core/internal/observability"
	"github.com/mixcrate/dj-booking-core/internal/payments"
	"github.com/mixcrate/dj-booking-core/internal/scoring"
)

const (
	terminationConcurrency = 4
	maxSuggestions         = 5
	refundLockTTL          = 2 * time.Minute
	refundCallTimeout      = 30 * time.Second
)

type Store interface {
	SetContractorStatus(ctx context.Context, userID uuid.UUID, status domain.ContractorStatus) error
	ActiveBookingsForDj(ctx context.Context, djID uuid.UUID) ([]domain.Booking, error)
	CancelForTermination(ctx context.Context, cmd domain.CancelCommand) (*domain.Booking, error)
	RecordRefund(ctx context.Context, bookingID uuid.UUID, refundID string, amountCents int64) error
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ListAssignableDjs(ctx context.Context) ([]domain.DjProfile, error)
	CreateRecovery(ctx context.Context, rec *domain.BookingRecovery) error
	GetRecovery(ctx context.Context, id uuid.UUID) (*domain.BookingRecovery, error)
	ResolveRecovery(ctx context.Context, id uuid.UUID, status domain.RecoveryStatus, resolvedAt time.Time) error
	RebindDj(ctx context.Context, cmd domain.AssignCommand) (*domain.Booking, error)
}

// Locker dedupes concurrent refund attempts for the same booking across
// processes. The refund_id column remains the durable idempotency record;
// the lock only narrows the race window before it is written.
type Locker interface {
	AcquireRefundLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error)
	ReleaseRefundLock(ctx context.Context, bookingID string) error
}

type Notifier interface {
	Notify(ctx context.Context, e notify.Event) bool
}

type Auditor interface {
	LogTransition(ctx context.Context, actorID uuid.UUID, b *domain.Booking, action string)
	LogTermination(ctx context.Context, actorID, djID uuid.UUID, affected int)
}

// ItemError reports a failed sub-step for one booking in a termination
// batch. The batch always runs to completion; errors are collected, never
// propagated between bookings.
type ItemError struct {
	BookingID uuid.UUID `json:"booking_id"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
}

type Result struct {
	DjID              uuid.UUID   `json:"dj_id"`
	Affected          int         `json:"affected_bookings"`
	Refunded          int         `json:"refunded"`
	NotificationsSent int         `json:"notifications_sent"`
	Recoveries        int         `json:"recoveries_created"`
	Errors            []ItemError `json:"errors"`
}

type Service struct {
	store    Store
	checker  *availability.Checker
	scorer   scoring.Scorer
	gateway  payments.Gateway
	locker   Locker
	notifier Notifier
	audit    Auditor
	logger   observability.Logger
	ttl      time.Duration
	now      func() time.Time
}

func NewService(store Store, checker *availability.Checker, scorer scoring.Scorer, gateway payments.Gateway, locker Locker, notifier Notifier, audit Auditor, logger observability.Logger, recoveryTTL time.Duration) *Service {
	return &Service{
		store:    store,
		checker:  checker,
		scorer:   scorer,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		ttl:      recoveryTTL,
		now:      time.Now,
	}
}

// Terminate suspends the DJ and unwinds every booking that still commits
// their time. Suspension happens first so no new assignment can land while
// the batch runs. The returned Result reports partial failures per booking.
func (s *Service) Terminate(ctx context.Context, djUserID, actorID uuid.UUID, reason string) (*Result, error) {
	if reason == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "termination reason is required")
	}
	if err := s.store.SetContractorStatus(ctx, djUserID, domain.ContractorSuspended); err != nil {
		return nil, errors.Wrap(err, "suspend contractor")
	}
	bookings, err := s.store.ActiveBookingsForDj(ctx, djUserID)
	if err != nil {
		return nil, errors.Wrap(err, "list active bookings")
	}

	res := &Result{DjID: djUserID}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(terminationConcurrency)
	for i := range bookings {
		b := bookings[i]
		g.Go(func() error {
			item := s.unwindBooking(gctx, &b, actorID, reason)
			mu.Lock()
			res.Affected += item.affected
			res.Refunded += item.refunded
			res.NotificationsSent += item.notified
			res.Recoveries += item.recovered
			res.Errors = append(res.Errors, item.errs...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if s.audit != nil {
		s.audit.LogTermination(ctx, actorID, djUserID, res.Affected)
	}
	if s.logger != nil {
		s.logger.WithField("dj_id", djUserID.String()).
			WithField("affected", res.Affected).
			WithField("errors", len(res.Errors)).
			Info("dj termination completed")
	}
	return res, nil
}

type itemOutcome struct {
	affected  int
	refunded  int
	notified  int
	recovered int
	errs      []ItemError
}

func (o *itemOutcome) fail(id uuid.UUID, stage string, err error) {
	o.errs = append(o.errs, ItemError{BookingID: id, Stage: stage, Message: err.Error()})
}

// unwindBooking runs cancel, refund, notify and recovery creation for one
// booking. Cancellation failing aborts the item; every later step failing is
// recorded and the remaining steps still run.
func (s *Service) unwindBooking(ctx context.Context, b *domain.Booking, actorID uuid.UUID, reason string) itemOutcome {
	var out itemOutcome

	cancelled, err := s.store.CancelForTermination(ctx, domain.CancelCommand{
		BookingID: b.ID,
		ActorID:   actorID,
		Reason:    reason,
	})
	if err != nil {
		out.fail(b.ID, "cancel", err)
		return out
	}
	out.affected++

	refunded := false
	if cancelled.IsPaid && cancelled.PaymentRef != nil && cancelled.RefundID == nil {
		if err := s.refund(ctx, cancelled); err != nil {
			out.fail(b.ID, "refund", err)
		} else {
			refunded = true
			out.refunded++
		}
	}

	sent := s.notifier.Notify(ctx, notify.Event{
		Kind:   "booking.cancelled_dj_unavailable",
		UserID: cancelled.ClientID,
		Title:  "Your DJ is no longer available",
		Body:   "Your booking was cancelled because the assigned DJ left the platform. We picked replacement DJs for your date, or you can keep the full refund.",
		Metadata: map[string]interface{}{
			"booking_id": cancelled.ID.String(),
			"refunded":   refunded,
		},
	})
	if sent {
		out.notified++
	} else {
		out.fail(b.ID, "notify", errors.New("notification was not recorded"))
	}

	if err := s.createRecovery(ctx, cancelled); err != nil {
		out.fail(b.ID, "recovery", err)
	} else {
		out.recovered++
	}
	return out
}

// refund issues a full refund of the quoted price through the gateway. The
// redis lock plus the booking's refund_id column make the operation
// idempotent; the gateway call is additionally keyed so a dropped response
// cannot double-refund.
func (s *Service) refund(ctx context.Context, b *domain.Booking) error {
	if b.QuotedPriceCents == nil {
		return errors.Wrap(domain.ErrInvalidInput, "paid booking has no quoted price")
	}
	key := b.ID.String()
	acquired, err := s.locker.AcquireRefundLock(ctx, key, refundLockTTL)
	if err != nil {
		return errors.Wrap(err, "refund lock")
	}
	if !acquired {
		return errors.Wrap(domain.ErrConflict, "refund already in progress")
	}
	defer s.locker.ReleaseRefundLock(context.WithoutCancel(ctx), key)

	rctx, cancel := context.WithTimeout(ctx, refundCallTimeout)
	defer cancel()
	refund, err := s.gateway.CreateRefund(rctx, payments.RefundParams{
		PaymentRef:     *b.PaymentRef,
		AmountCents:    *b.QuotedPriceCents,
		Reason:         "dj_termination",
		IdempotencyKey: "refund:" + key,
	})
	if err != nil {
		observability.RefundsTotal.WithLabelValues("failed").Inc()
		return errors.Wrap(err, "gateway refund")
	}

	if err := s.store.RecordRefund(ctx, b.ID, refund.ID, refund.AmountCents); err != nil {
		// A competing process recorded its refund first; the gateway side
		// was idempotent, so nothing was double-charged.
		if errors.Is(err, domain.ErrConflict) {
			observability.RefundsTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		observability.RefundsTotal.WithLabelValues("failed").Inc()
		return errors.Wrap(err, "record refund")
	}
	observability.RefundsTotal.WithLabelValues("succeeded").Inc()
	return nil
}

func (s *Service) createRecovery(ctx context.Context, b *domain.Booking) error {
	suggestions, err := s.SuggestDjs(ctx, b, maxSuggestions)
	if err != nil {
		return errors.Wrap(err, "build suggestions")
	}
	payload, err := json.Marshal(suggestions)
	if err != nil {
		return err
	}
	rec := &domain.BookingRecovery{
		ID:                uuid.New(),
		OriginalBookingID: b.ID,
		Status:            domain.RecoveryPending,
		ExpiresAt:         s.now().Add(s.ttl),
		Suggestions:       payload,
	}
	if len(suggestions) > 0 {
		top := suggestions[0].Dj.UserID
		rec.SuggestedDjID = &top
	}
	return s.store.CreateRecovery(ctx, rec)
}

// SuggestDjs restricts the candidate pool to active, accepting DJs that
// pass the availability check for the booking's window, then ranks them.
// A booking without a window gets an empty suggestion list, never an error.
func (s *Service) SuggestDjs(ctx context.Context, b *domain.Booking, n int) ([]scoring.Suggestion, error) {
	if !b.HasWindow() {
		return nil, nil
	}
	candidates, err := s.store.ListAssignableDjs(ctx)
	if err != nil {
		return nil, err
	}
	available := make([]domain.DjProfile, 0, len(candidates))
	for i := range candidates {
		res, err := s.checker.Check(ctx, candidates[i].UserID, *b.StartTime, *b.EndTime, &b.ID)
		if err != nil {
			return nil, err
		}
		if res.Available {
			available = append(available, candidates[i])
		}
	}
	return scoring.Rank(ctx, b, available, s.scorer, n)
}

// AcceptRecovery binds a replacement DJ to the original booking. Expiry is
// enforced here, at the point of use: an expired recovery is marked EXPIRED
// and rejected. Availability is re-checked because time has passed since the
// suggestions were computed.
func (s *Service) AcceptRecovery(ctx context.Context, recoveryID, djID, actorID uuid.UUID) (*domain.Booking, error) {
	rec, err := s.store.GetRecovery(ctx, recoveryID)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.RecoveryPending {
		return nil, errors.Wrap(domain.ErrConflict, "recovery is already resolved")
	}
	if rec.Expired(s.now()) {
		if rerr := s.store.ResolveRecovery(ctx, recoveryID, domain.RecoveryExpired, s.now()); rerr != nil && !errors.Is(rerr, domain.ErrConflict) {
			return nil, rerr
		}
		return nil, domain.ErrExpired
	}

	if djID == uuid.Nil {
		if rec.SuggestedDjID == nil {
			return nil, errors.Wrap(domain.ErrInvalidInput, "no dj chosen and recovery has no suggestion")
		}
		djID = *rec.SuggestedDjID
	}

	b, err := s.store.GetBooking(ctx, rec.OriginalBookingID)
	if err != nil {
		return nil, err
	}
	if !b.HasWindow() {
		return nil, errors.Wrap(domain.ErrInvalidInput, "booking has no time window")
	}
	res, err := s.checker.Check(ctx, djID, *b.StartTime, *b.EndTime, &b.ID)
	if err != nil {
		return nil, err
	}
	if !res.Available {
		return nil, errors.Mark(&lifecycle.ConflictError{DjID: djID, Conflicts: res.Conflicts}, domain.ErrConflict)
	}

	rebound, err := s.store.RebindDj(ctx, domain.AssignCommand{
		BookingID: rec.OriginalBookingID,
		DjID:      djID,
		ActorID:   actorID,
		Reason:    "recovery_accept",
		NewStatus: domain.StatusDjAssigned,
	})
	if errors.Is(err, domain.ErrConflict) {
		if recheck, cerr := s.checker.Check(ctx, djID, *b.StartTime, *b.EndTime, &b.ID); cerr == nil && len(recheck.Conflicts) > 0 {
			return nil, errors.Mark(&lifecycle.ConflictError{DjID: djID, Conflicts: recheck.Conflicts}, domain.ErrConflict)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.ResolveRecovery(ctx, recoveryID, domain.RecoveryAccepted, s.now()); err != nil && !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}
	if s.audit != nil {
		s.audit.LogTransition(ctx, actorID, rebound, "recovery.accepted")
	}
	s.notifier.Notify(ctx, notify.Event{
		Kind:   "booking.recovered",
		UserID: rebound.ClientID,
		Title:  "A new DJ is on your booking",
		Body:   "Your booking is active again with a replacement DJ.",
		Metadata: map[string]interface{}{
			"booking_id": rebound.ID.String(),
			"dj_id":      djID.String(),
		},
	})
	return rebound, nil
}

// DeclineRecovery closes the offer; the booking stays cancelled or refunded.
func (s *Service) DeclineRecovery(ctx context.Context, recoveryID, actorID uuid.UUID) error {
	rec, err := s.store.GetRecovery(ctx, recoveryID)
	if err != nil {
		return err
	}
	if rec.Status != domain.RecoveryPending {
		return errors.Wrap(domain.ErrConflict, "recovery is already resolved")
	}
	if rec.Expired(s.now()) {
		if rerr := s.store.ResolveRecovery(ctx, recoveryID, domain.RecoveryExpired, s.now()); rerr != nil && !errors.Is(rerr, domain.ErrConflict) {
			return rerr
		}
		return domain.ErrExpired
	}
	if err := s.store.ResolveRecovery(ctx, recoveryID, domain.RecoveryDeclined, s.now()); err != nil {
		return err
	}
	if s.audit != nil {
		if b, berr := s.store.GetBooking(ctx, rec.OriginalBookingID); berr == nil {
			s.audit.LogTransition(ctx, actorID, b, "recovery.declined")
		}
	}
	return nil
}

// GetRecovery returns the record, lazily expiring it first if its window has
// passed. Reads observe expiry the same way accept does.
func (s *Service) GetRecovery(ctx context.Context, recoveryID uuid.UUID) (*domain.BookingRecovery, error) {
	rec, err := s.store.GetRecovery(ctx, recoveryID)
	if err != nil {
		return nil, err
	}
	if rec.Status == domain.RecoveryPending && rec.Expired(s.now()) {
		if rerr := s.store.ResolveRecovery(ctx, recoveryID, domain.RecoveryExpired, s.now()); rerr != nil && !errors.Is(rerr, domain.ErrConflict) {
			return nil, rerr
		}
		now := s.now()
		rec.Status = domain.RecoveryExpired
		rec.ResolvedAt = &now
	}
	return rec, nil
}
