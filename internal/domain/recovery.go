package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RecoveryStatus string

const (
	RecoveryPending  RecoveryStatus = "PENDING"
	RecoveryAccepted RecoveryStatus = "ACCEPTED"
	RecoveryDeclined RecoveryStatus = "DECLINED"
	RecoveryExpired  RecoveryStatus = "EXPIRED"
)

// BookingRecovery is offered to a client after their assigned DJ becomes
// unavailable. It is resolved by client action or goes inert at ExpiresAt;
// expiry is enforced lazily at the point of use, there is no sweeper.
type BookingRecovery struct {
	ID                uuid.UUID
	OriginalBookingID uuid.UUID
	SuggestedDjID     *uuid.UUID
	Status            RecoveryStatus
	ExpiresAt         time.Time
	Suggestions       json.RawMessage
	ResolvedAt        *time.Time
	CreatedAt         time.Time
}

func (r *BookingRecovery) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// AdminBookingAction is an append-only audit row. It is inserted in the same
// transaction as the booking mutation it records and never updated.
type AdminBookingAction struct {
	ID           uuid.UUID
	BookingID    uuid.UUID
	ActorID      uuid.UUID
	Action       string
	PreviousDjID *uuid.UUID
	NewDjID      *uuid.UUID
	Reason       string
	CreatedAt    time.Time
}

type Notification struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Kind         string
	Title        string
	Body         string
	Metadata     json.RawMessage
	CreatedAt    time.Time
	DispatchedAt *time.Time
}
