// Package scoring ranks candidate DJs for a booking. The ranking shape is
// shared: a Scorer turns one candidate into weighted terms, Rank sums and
// orders. The admin-suggestion and client-request paths differ only in their
// term tables.
package scoring

import (
	"context"
	"math"
	"sort"

	"github.com/mixcrate/dj-booking-core/internal/domain"
)

// Term is one contributing criterion, kept individually so admins see why a
// DJ ranked where they did, not just the total.
type Term struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

type Suggestion struct {
	Dj        domain.DjProfile `json:"dj"`
	Score     int              `json:"score"`
	Breakdown []Term           `json:"breakdown"`
}

type Scorer interface {
	Score(ctx context.Context, booking *domain.Booking, dj *domain.DjProfile) ([]Term, error)
}

// Rank scores every candidate and returns the top n (n <= 0 means all),
// ordered by score descending. The sort is stable, so for a fixed candidate
// order ties resolve deterministically to input order.
func Rank(ctx context.Context, booking *domain.Booking, candidates []domain.DjProfile, scorer Scorer, n int) ([]Suggestion, error) {
	suggestions := make([]Suggestion, 0, len(candidates))
	for i := range candidates {
		terms, err := scorer.Score(ctx, booking, &candidates[i])
		if err != nil {
			return nil, err
		}
		var sum float64
		for _, t := range terms {
			sum += t.Points
		}
		suggestions = append(suggestions, Suggestion{
			Dj:        candidates[i],
			Score:     int(math.Round(sum)),
			Breakdown: terms,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})

	if n > 0 && len(suggestions) > n {
		suggestions = suggestions[:n]
	}
	return suggestions, nil
}

func capped(v, max float64) float64 {
	return math.Min(v, max)
}
