// Package availability decides whether a DJ can take a time window without
// double-booking. The decision is a pure read; the tie-breaking write is the
// assignment transaction in the pg adapter, backed by the exclusion
// constraint on active windows.
package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mixcrate/dj-booking-core/internal/domain"
	"github.com/mixcrate/dj-booking-core/internal/observability"
)

// BookingSource yields the candidate conflicts for a DJ and window. The pg
// repository narrows by dj, active status and window in SQL; the checker
// re-applies the overlap predicate in Go so the decision logic does not
// depend on the source being exact.
type BookingSource interface {
	OverlappingActive(ctx context.Context, djID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]domain.Booking, error)
}

type Result struct {
	Available bool
	Conflicts []domain.Booking
}

type Checker struct {
	source BookingSource
}

func NewChecker(source BookingSource) *Checker {
	return &Checker{source: source}
}

// Check reports whether [start, end) is free for the DJ, returning every
// conflicting booking rather than the first. Touching endpoints do not
// conflict. excludeBookingID omits the booking being edited from its own
// check. The result is advisory: callers must treat the assignment write as
// the tie-breaking event (see Repository.AssignDj).
func (c *Checker) Check(ctx context.Context, djID uuid.UUID, start, end time.Time, excludeBookingID *uuid.UUID) (Result, error) {
	if err := domain.ValidateWindow(start, end); err != nil {
		return Result{}, err
	}

	candidates, err := c.source.OverlappingActive(ctx, djID, start, end, excludeBookingID)
	if err != nil {
		return Result{}, err
	}

	var conflicts []domain.Booking
	for _, b := range candidates {
		if excludeBookingID != nil && b.ID == *excludeBookingID {
			continue
		}
		if !b.Status.Active() {
			continue
		}
		// Incomplete windows never conflict; such bookings are barred
		// from assignment elsewhere.
		if !b.HasWindow() {
			continue
		}
		if domain.Overlaps(*b.StartTime, *b.EndTime, start, end) {
			conflicts = append(conflicts, b)
		}
	}

	outcome := "available"
	if len(conflicts) > 0 {
		outcome = "conflict"
	}
	observability.ConflictChecks.WithLabelValues(outcome).Inc()

	return Result{Available: len(conflicts) == 0, Conflicts: conflicts}, nil
}
