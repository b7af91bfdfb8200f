package availability_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mixcrate/dj-booking-core/internal/availability"
	"github.com/mixcrate/dj-booking-core/internal/domain"
)

type fakeSource struct {
	bookings []domain.Booking
}

func (f *fakeSource) OverlappingActive(ctx context.Context, djID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]domain.Booking, error) {
	// Return everything for the DJ; the checker must filter on its own.
	var out []domain.Booking
	for _, b := range f.bookings {
		if b.DjID != nil && *b.DjID == djID {
			out = append(out, b)
		}
	}
	return out, nil
}

func mkBooking(djID uuid.UUID, status domain.BookingStatus, start, end time.Time) domain.Booking {
	s, e := start, end
	return domain.Booking{
		ID:        uuid.New(),
		DjID:      &djID,
		Status:    status,
		StartTime: &s,
		EndTime:   &e,
	}
}

func at(hour, min int) time.Time {
	return time.Date(2024, 6, 1, hour, min, 0, 0, time.UTC)
}

func TestCheck_BasicConflict(t *testing.T) {
	dj := uuid.New()
	existing := mkBooking(dj, domain.StatusConfirmed, at(18, 0), at(22, 0))
	c := availability.NewChecker(&fakeSource{bookings: []domain.Booking{existing}})

	res, err := c.Check(context.Background(), dj, at(20, 0), at(23, 0), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Available {
		t.Error("expected unavailable for overlapping window")
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].ID != existing.ID {
		t.Errorf("expected the existing booking as sole conflict, got %d conflicts", len(res.Conflicts))
	}
}

func TestCheck_BoundaryDoesNotConflict(t *testing.T) {
	dj := uuid.New()
	c := availability.NewChecker(&fakeSource{bookings: []domain.Booking{
		mkBooking(dj, domain.StatusConfirmed, at(18, 0), at(20, 0)),
	}})

	res, err := c.Check(context.Background(), dj, at(20, 0), at(22, 0), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Available {
		t.Errorf("adjacent windows sharing a boundary must not conflict, got %d conflicts", len(res.Conflicts))
	}
}

func TestCheck_ExcludeSelf(t *testing.T) {
	dj := uuid.New()
	own := mkBooking(dj, domain.StatusDjAssigned, at(18, 0), at(20, 0))
	c := availability.NewChecker(&fakeSource{bookings: []domain.Booking{own}})

	res, err := c.Check(context.Background(), dj, at(18, 0), at(20, 0), &own.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Available {
		t.Error("a booking must never conflict with itself when excluded")
	}
}

func TestCheck_TerminalStatusesNeverConflict(t *testing.T) {
	dj := uuid.New()
	var bookings []domain.Booking
	for _, st := range []domain.BookingStatus{domain.StatusCancelled, domain.StatusDeclined, domain.StatusRefunded} {
		bookings = append(bookings, mkBooking(dj, st, at(18, 0), at(22, 0)))
	}
	c := availability.NewChecker(&fakeSource{bookings: bookings})

	res, err := c.Check(context.Background(), dj, at(19, 0), at(21, 0), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Available {
		t.Errorf("terminal-status bookings must not conflict, got %d conflicts", len(res.Conflicts))
	}
}

func TestCheck_NullWindowNeverConflicts(t *testing.T) {
	dj := uuid.New()
	incomplete := domain.Booking{ID: uuid.New(), DjID: &dj, Status: domain.StatusConfirmed}
	c := availability.NewChecker(&fakeSource{bookings: []domain.Booking{incomplete}})

	res, err := c.Check(context.Background(), dj, at(18, 0), at(20, 0), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Available {
		t.Error("bookings without a window must not conflict")
	}
}

func TestCheck_AllConflictsReturned(t *testing.T) {
	dj := uuid.New()
	a := mkBooking(dj, domain.StatusAccepted, at(17, 0), at(19, 0))
	b := mkBooking(dj, domain.StatusPendingAdminReview, at(19, 30), at(21, 0))
	c := availability.NewChecker(&fakeSource{bookings: []domain.Booking{a, b}})

	res, err := c.Check(context.Background(), dj, at(18, 0), at(20, 0), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Conflicts) != 2 {
		t.Errorf("expected both overlapping bookings reported, got %d", len(res.Conflicts))
	}
}

func TestCheck_InvalidWindowRejected(t *testing.T) {
	c := availability.NewChecker(&fakeSource{})
	_, err := c.Check(context.Background(), uuid.New(), at(20, 0), at(18, 0), nil)
	if err == nil {
		t.Fatal("expected error for inverted window")
	}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd time.Time
		want                       bool
	}{
		{"contained", at(18, 0), at(22, 0), at(19, 0), at(20, 0), true},
		{"partial", at(18, 0), at(20, 0), at(19, 0), at(21, 0), true},
		{"touching end to start", at(18, 0), at(20, 0), at(20, 0), at(22, 0), false},
		{"touching start to end", at(20, 0), at(22, 0), at(18, 0), at(20, 0), false},
		{"disjoint", at(10, 0), at(12, 0), at(18, 0), at(20, 0), false},
		{"identical", at(18, 0), at(20, 0), at(18, 0), at(20, 0), true},
	}
	for _, tc := range cases {
		if got := domain.Overlaps(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd); got != tc.want {
			t.Errorf("%s: Overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}
}
