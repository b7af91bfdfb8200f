package scoring

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mixcrate/dj-booking-core/internal/domain"
)

// History supplies the booking-history counts the admin scorer weighs.
type History interface {
	CountBookingsByEventType(ctx context.Context, djID uuid.UUID, eventType string) (int, error)
	CountBookingsSince(ctx context.Context, djID uuid.UUID, since time.Time) (int, error)
}

// AdminScorer ranks available candidates for an admin choosing a replacement
// or initial assignment. Candidates are assumed pre-filtered to active,
// accepting, available DJs.
type AdminScorer struct {
	history History
	now     func() time.Time
}

func NewAdminScorer(history History) *AdminScorer {
	return &AdminScorer{history: history, now: time.Now}
}

func (s *AdminScorer) Score(ctx context.Context, booking *domain.Booking, dj *domain.DjProfile) ([]Term, error) {
	terms := []Term{{Name: "available", Points: 10}}

	if booking.PreferredDjID != nil && *booking.PreferredDjID == dj.UserID {
		terms = append(terms, Term{Name: "client_preference", Points: 50})
	}

	terms = append(terms, Term{Name: "rating", Points: capped(dj.Rating*10, 50)})

	sameType, err := s.history.CountBookingsByEventType(ctx, dj.UserID, booking.EventType)
	if err != nil {
		return nil, err
	}
	terms = append(terms, Term{Name: "event_type_experience", Points: capped(float64(sameType)*5, 25)})

	recent, err := s.history.CountBookingsSince(ctx, dj.UserID, s.now().AddDate(0, -6, 0))
	if err != nil {
		return nil, err
	}
	terms = append(terms, Term{Name: "recent_activity", Points: capped(float64(recent)*2, 20)})

	terms = append(terms, Term{Name: "total_experience", Points: capped(float64(dj.TotalBookings)*0.5, 15)})

	if wd := booking.EventDate.Weekday(); wd == time.Saturday || wd == time.Sunday {
		terms = append(terms, Term{Name: "weekend", Points: 5})
	}

	return terms, nil
}
