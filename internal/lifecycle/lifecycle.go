// Package lifecycle governs the legal status transitions of a booking, from
// request through assignment, payment, completion confirmation and dispute.
// Cancellation via DJ termination is a separate workflow (see recovery).
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/mixcrate/dj-booking-core/internal/availability"
	"github.com/mixcrate/dj-booking-core/internal/domain"
	"github.com/mixcrate/dj-booking-core/internal/observability"
	"github.com/mixcrate/dj-booking-core/internal/payments"
)

// Store is the persistence surface the lifecycle needs. Every write is
// atomic and guard-checked on the storage side as well; the service performs
// the same guards up front to fail early with structured detail.
type Store interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	CreateBooking(ctx context.Context, b *domain.Booking) error
	GetDjProfile(ctx context.Context, userID uuid.UUID) (*domain.DjProfile, error)
	AssignDj(ctx context.Context, cmd domain.AssignCommand) (*domain.Booking, error)
	MarkAccepted(ctx context.Context, cmd domain.AcceptCommand) (*domain.Booking, error)
	MarkPaid(ctx context.Context, bookingID uuid.UUID, paymentRef string) (*domain.Booking, error)
	SetCompletionFlag(ctx context.Context, bookingID uuid.UUID, side domain.ConfirmSide) (*domain.Booking, error)
	ReleaseEscrow(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	OpenDispute(ctx context.Context, bookingID uuid.UUID, reason string) (*domain.Booking, error)
}

// Auditor is the best-effort operational trail (mongo in production). The
// canonical audit rows are written by the store inside the same transaction
// as the change they record.
type Auditor interface {
	LogTransition(ctx context.Context, actorID uuid.UUID, b *domain.Booking, action string)
}

// ConflictError carries every competing booking so an admin can see exactly
// what blocks an assignment. Matches domain.ErrConflict under errors.Is.
type ConflictError struct {
	DjID      uuid.UUID
	Conflicts []domain.Booking
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dj %s has %d conflicting booking(s)", e.DjID, len(e.Conflicts))
}

func conflictErr(djID uuid.UUID, conflicts []domain.Booking) error {
	return errors.Mark(&ConflictError{DjID: djID, Conflicts: conflicts}, domain.ErrConflict)
}

type Service struct {
	store   Store
	checker *availability.Checker
	gateway payments.Gateway
	audit   Auditor
	logger  observability.Logger
}

func NewService(store Store, checker *availability.Checker, gateway payments.Gateway, audit Auditor, logger observability.Logger) *Service {
	return &Service{store: store, checker: checker, gateway: gateway, audit: audit, logger: logger}
}

type CreateParams struct {
	ClientID         uuid.UUID
	PreferredDjID    *uuid.UUID
	EventType        string
	EventDate        time.Time
	StartTime        time.Time
	EndTime          time.Time
	QuotedPriceCents *int64
}

// Create validates the request and persists a new booking awaiting admin
// review. A pre-selected DJ moves it straight into ADMIN_REVIEWING.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Booking, error) {
	if p.EventType == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "event type is required")
	}
	if err := domain.ValidateWindow(p.StartTime, p.EndTime); err != nil {
		return nil, errors.Wrap(err, "invalid time window")
	}
	if p.QuotedPriceCents != nil && *p.QuotedPriceCents <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "quoted price must be positive")
	}

	status := domain.StatusPendingAdminReview
	if p.PreferredDjID != nil {
		status = domain.StatusAdminReviewing
	}

	start, end := p.StartTime, p.EndTime
	b := &domain.Booking{
		ID:               uuid.New(),
		ClientID:         p.ClientID,
		PreferredDjID:    p.PreferredDjID,
		EventType:        p.EventType,
		EventDate:        p.EventDate,
		StartTime:        &start,
		EndTime:          &end,
		QuotedPriceCents: p.QuotedPriceCents,
		Status:           status,
		PayoutStatus:     domain.PayoutPending,
		EscrowStatus:     domain.EscrowPending,
		DisputeStatus:    domain.DisputeNone,
	}
	if err := s.store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Assign puts a DJ on a booking. The pre-flight checks here exist to return
// rich errors; the store re-runs both inside the assignment transaction, so
// two racing assigns cannot both commit.
func (s *Service) Assign(ctx context.Context, bookingID, djID, actorID uuid.UUID, reason string) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.Active() {
		return nil, errors.Wrap(domain.ErrConflict, "booking is no longer assignable")
	}
	if !b.HasWindow() {
		return nil, errors.Wrap(domain.ErrInvalidInput, "booking has no time window")
	}

	profile, err := s.store.GetDjProfile(ctx, djID)
	if err != nil {
		return nil, err
	}
	if profile.ContractorStatus != domain.ContractorActive {
		return nil, domain.ErrDjNotActive
	}

	res, err := s.checker.Check(ctx, djID, *b.StartTime, *b.EndTime, &bookingID)
	if err != nil {
		return nil, err
	}
	if !res.Available {
		return nil, conflictErr(djID, res.Conflicts)
	}

	newStatus := b.Status
	if b.Status == domain.StatusPendingAdminReview || b.Status == domain.StatusAdminReviewing {
		newStatus = domain.StatusDjAssigned
	}

	assigned, err := s.store.AssignDj(ctx, domain.AssignCommand{
		BookingID: bookingID,
		DjID:      djID,
		ActorID:   actorID,
		Reason:    reason,
		NewStatus: newStatus,
	})
	if errors.Is(err, domain.ErrConflict) {
		// Lost the race to a competing write; report who won.
		if recheck, cerr := s.checker.Check(ctx, djID, *b.StartTime, *b.EndTime, &bookingID); cerr == nil {
			return nil, conflictErr(djID, recheck.Conflicts)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.LogTransition(ctx, actorID, assigned, "booking.dj_assigned")
	}
	return assigned, nil
}

// Accept moves a booking to ACCEPTED: the quoted price is split into
// platform fee and DJ payout, and a checkout session is opened for the
// client. A gateway failure here is fatal to the accept.
func (s *Service) Accept(ctx context.Context, bookingID, actorID uuid.UUID) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.Active() || b.Status == domain.StatusAccepted || b.Status == domain.StatusConfirmed {
		return nil, errors.Wrap(domain.ErrConflict, "booking cannot be accepted in its current status")
	}
	if b.QuotedPriceCents == nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "booking has no quoted price")
	}
	if !b.HasWindow() {
		return nil, errors.Wrap(domain.ErrInvalidInput, "booking has no time window")
	}
	if b.DjID != nil {
		profile, err := s.store.GetDjProfile(ctx, *b.DjID)
		if err != nil {
			return nil, err
		}
		if !profile.PayoutOnboarded {
			return nil, domain.ErrPayoutNotOnboarded
		}
	}

	quoted := *b.QuotedPriceCents
	fee := domain.PlatformFeeCents(quoted)

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutParams{
		BookingID:   bookingID,
		AmountCents: quoted,
		Metadata:    map[string]string{"event_type": b.EventType},
	})
	if err != nil {
		return nil, errors.Wrap(err, "checkout session")
	}

	accepted, err := s.store.MarkAccepted(ctx, domain.AcceptCommand{
		BookingID:         bookingID,
		CheckoutSessionID: session.ID,
		PlatformFeeCents:  fee,
		PayoutAmountCents: quoted - fee,
	})
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.LogTransition(ctx, actorID, accepted, "booking.accepted")
	}
	return accepted, nil
}

// PaymentConfirmed is driven by the gateway's webhook. Funds move to HELD.
func (s *Service) PaymentConfirmed(ctx context.Context, bookingID uuid.UUID, paymentRef string) (*domain.Booking, error) {
	b, err := s.store.MarkPaid(ctx, bookingID, paymentRef)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.LogTransition(ctx, b.ClientID, b, "booking.paid")
	}
	return b, nil
}

// ConfirmCompletion records one side's confirmation. Escrow releases only
// when both sides have confirmed; one flag alone never moves funds.
func (s *Service) ConfirmCompletion(ctx context.Context, bookingID uuid.UUID, side domain.ConfirmSide, actorID uuid.UUID) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsPaid || b.EscrowStatus != domain.EscrowHeld {
		return nil, errors.Wrap(domain.ErrEscrowState, "completion can only be confirmed while funds are held")
	}
	already := b.ClientConfirmed
	if side == domain.ConfirmDj {
		already = b.DjConfirmed
	}
	if already {
		return nil, errors.Wrap(domain.ErrConflict, "completion already confirmed by this party")
	}

	b, err = s.store.SetCompletionFlag(ctx, bookingID, side)
	if err != nil {
		return nil, err
	}

	if b.ClientConfirmed && b.DjConfirmed {
		released, err := s.store.ReleaseEscrow(ctx, bookingID)
		if err != nil {
			// A concurrent confirm or dispute won; surface current state.
			if errors.Is(err, domain.ErrEscrowState) {
				return s.store.GetBooking(ctx, bookingID)
			}
			return nil, err
		}
		if s.audit != nil {
			s.audit.LogTransition(ctx, actorID, released, "booking.escrow_released")
		}
		return released, nil
	}
	return b, nil
}

// OpenDispute freezes escrow. Only reachable from HELD; resolution is an
// admin concern outside this service.
func (s *Service) OpenDispute(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*domain.Booking, error) {
	if reason == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "dispute reason is required")
	}
	b, err := s.store.OpenDispute(ctx, bookingID, reason)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.LogTransition(ctx, actorID, b, "booking.disputed")
	}
	return b, nil
}
