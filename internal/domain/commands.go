package domain

import "github.com/google/uuid"

// Commands are the write-side inputs shared between the services and the
// storage layer.

type AssignCommand struct {
	BookingID uuid.UUID
	DjID      uuid.UUID
	ActorID   uuid.UUID
	Reason    string
	NewStatus BookingStatus
}

type AcceptCommand struct {
	BookingID         uuid.UUID
	CheckoutSessionID string
	PlatformFeeCents  int64
	PayoutAmountCents int64
}

type CancelCommand struct {
	BookingID uuid.UUID
	ActorID   uuid.UUID
	Reason    string
}
