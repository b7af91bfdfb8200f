package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrDjNotActive          = errors.New("dj is not an active contractor")
	ErrPayoutNotOnboarded   = errors.New("dj payout account is not onboarded")
	ErrExpired              = errors.New("expired")
	ErrEscrowState          = errors.New("operation not allowed in current escrow state")
)
