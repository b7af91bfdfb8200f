package scoring

import (
	"context"
	"strings"

	"github.com/mixcrate/dj-booking-core/internal/domain"
)

// Preferences is the client-submitted free-text preference captured at
// booking-request time. Weights here intentionally differ from the admin
// scorer: the client cares about fit, not platform history.
type Preferences struct {
	Genres      []string
	Style       string
	Vibe        string
	BudgetCents int64
}

// styleKeywords maps a named style to the keywords a matching DJ profile
// would carry.
var styleKeywords = map[string][]string{
	"open-format":  {"open-format", "versatile", "all-genres"},
	"club":         {"club", "house", "edm", "dance"},
	"wedding":      {"wedding", "ceremony", "reception", "classics"},
	"corporate":    {"corporate", "lounge", "background"},
	"hip-hop":      {"hip-hop", "rap", "urban", "turntablism"},
	"latin":        {"latin", "reggaeton", "salsa", "bachata"},
	"retro":        {"retro", "disco", "80s", "90s", "throwback"},
}

// RequestScorer ranks DJs against client-submitted preferences.
type RequestScorer struct {
	prefs Preferences
}

func NewRequestScorer(prefs Preferences) *RequestScorer {
	return &RequestScorer{prefs: prefs}
}

func (s *RequestScorer) Score(ctx context.Context, booking *domain.Booking, dj *domain.DjProfile) ([]Term, error) {
	var terms []Term

	shared := 0
	for _, g := range s.prefs.Genres {
		for _, dg := range dj.Genres {
			if strings.EqualFold(g, dg) {
				shared++
				break
			}
		}
	}
	terms = append(terms, Term{Name: "genre_overlap", Points: capped(float64(shared)*25, 50)})

	if s.prefs.BudgetCents > 0 && dj.PriceMinCents <= s.prefs.BudgetCents && s.prefs.BudgetCents <= dj.PriceMaxCents {
		terms = append(terms, Term{Name: "price_range", Points: 20})
	}

	if keywordMatch(s.prefs.Style, dj.StyleKeywords) {
		terms = append(terms, Term{Name: "style_keyword", Points: 15})
	}

	terms = append(terms, Term{Name: "vibe_overlap", Points: capped(float64(wordOverlap(s.prefs.Vibe, dj.Bio))*2, 10)})

	terms = append(terms, Term{Name: "available", Points: 5})

	return terms, nil
}

func keywordMatch(style string, djKeywords []string) bool {
	wanted, ok := styleKeywords[strings.ToLower(strings.TrimSpace(style))]
	if !ok {
		return false
	}
	for _, w := range wanted {
		for _, k := range djKeywords {
			if strings.EqualFold(w, k) {
				return true
			}
		}
	}
	return false
}

// wordOverlap counts distinct words of a that also appear in b, ignoring
// case and very short filler words.
func wordOverlap(a, b string) int {
	bWords := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(b)) {
		bWords[w] = true
	}
	seen := map[string]bool{}
	n := 0
	for _, w := range strings.Fields(strings.ToLower(a)) {
		if len(w) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		if bWords[w] {
			n++
		}
	}
	return n
}
