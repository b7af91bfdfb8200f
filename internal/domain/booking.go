package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusPendingAdminReview BookingStatus = "PENDING_ADMIN_REVIEW"
	StatusAdminReviewing     BookingStatus = "ADMIN_REVIEWING"
	StatusDjAssigned         BookingStatus = "DJ_ASSIGNED"
	StatusAccepted           BookingStatus = "ACCEPTED"
	StatusConfirmed          BookingStatus = "CONFIRMED"
	StatusCompleted          BookingStatus = "COMPLETED"
	StatusCancelled          BookingStatus = "CANCELLED"
	StatusDeclined           BookingStatus = "DECLINED"
	StatusRefunded           BookingStatus = "REFUNDED"
)

type EscrowStatus string

const (
	EscrowPending  EscrowStatus = "PENDING"
	EscrowHeld     EscrowStatus = "HELD"
	EscrowReleased EscrowStatus = "RELEASED"
	EscrowDisputed EscrowStatus = "DISPUTED"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutCompleted PayoutStatus = "COMPLETED"
)

// ConfirmSide identifies which party is confirming event completion.
type ConfirmSide string

const (
	ConfirmClient ConfirmSide = "client"
	ConfirmDj     ConfirmSide = "dj"
)

type DisputeStatus string

const (
	DisputeNone     DisputeStatus = "NONE"
	DisputeOpen     DisputeStatus = "OPEN"
	DisputeResolved DisputeStatus = "RESOLVED"
)

// ActiveStatuses are the statuses that commit a DJ's time. Only bookings in
// one of these states participate in conflict checks or termination batches.
var ActiveStatuses = []BookingStatus{
	StatusPendingAdminReview,
	StatusAdminReviewing,
	StatusDjAssigned,
	StatusAccepted,
	StatusConfirmed,
}

func (s BookingStatus) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusDeclined || s == StatusRefunded
}

type Booking struct {
	ID                uuid.UUID
	ClientID          uuid.UUID
	DjID              *uuid.UUID
	PreferredDjID     *uuid.UUID
	AdminAssignedDjID *uuid.UUID

	EventType string
	EventDate time.Time
	StartTime *time.Time
	EndTime   *time.Time

	QuotedPriceCents  *int64
	PlatformFeeCents  int64
	PayoutAmountCents int64
	IsPaid            bool
	PayoutStatus      PayoutStatus
	EscrowStatus      EscrowStatus

	Status BookingStatus

	ClientConfirmed  bool
	DjConfirmed      bool
	EventCompletedAt *time.Time

	DisputeStatus DisputeStatus
	DisputeReason *string
	DisputedAt    *time.Time

	CheckoutSessionID *string
	PaymentRef        *string
	RefundID          *string
	RefundAmountCents *int64
	RefundedAt        *time.Time

	CancellationReason *string
	CancelledBy        *uuid.UUID
	CancelledAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasWindow reports whether the booking carries a complete time window.
// Legacy rows may have neither endpoint; those never conflict and are
// barred from assignment.
func (b *Booking) HasWindow() bool {
	return b.StartTime != nil && b.EndTime != nil
}

// Overlaps tests two half-open windows [aStart, aEnd) and [bStart, bEnd).
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// ValidateWindow is the time validation applied at create/update time.
func ValidateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return ErrInvalidInput
	}
	if !start.Before(end) {
		return ErrInvalidInput
	}
	return nil
}

// PlatformFeeCents computes the platform's cut for a quoted price.
// The remainder is the DJ payout.
func PlatformFeeCents(quotedCents int64) int64 {
	return (quotedCents + 5) / 10 // 10%, rounded half up
}
