package domain

import (
	"time"

	"github.com/google/uuid"
)

type ContractorStatus string

const (
	ContractorPending   ContractorStatus = "PENDING"
	ContractorTraining  ContractorStatus = "TRAINING"
	ContractorActive    ContractorStatus = "ACTIVE"
	ContractorSuspended ContractorStatus = "SUSPENDED"
)

type DjProfile struct {
	UserID              uuid.UUID
	StageName           string
	ContractorStatus    ContractorStatus
	IsAcceptingBookings bool

	Rating        float64 // 0-5 scale
	TotalBookings int
	Genres        []string
	StyleKeywords []string
	Bio           string

	PriceMinCents int64
	PriceMaxCents int64

	PayoutAccountID string
	PayoutOnboarded bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assignable reports whether this DJ may receive new bookings at all.
// Availability for a concrete window is a separate check.
func (p *DjProfile) Assignable() bool {
	return p.ContractorStatus == ContractorActive && p.IsAcceptingBookings
}
