package pg

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mixcrate/dj-booking-core/internal/domain"
)

const profileColumns = `
	user_id, stage_name, contractor_status, is_accepting_bookings,
	rating, total_bookings, genres, style_keywords, bio,
	price_min_cents, price_max_cents, payout_account_id, payout_onboarded,
	created_at, updated_at`

func scanProfile(row rowScanner) (*domain.DjProfile, error) {
	var p domain.DjProfile
	err := row.Scan(
		&p.UserID, &p.StageName, &p.ContractorStatus, &p.IsAcceptingBookings,
		&p.Rating, &p.TotalBookings, &p.Genres, &p.StyleKeywords, &p.Bio,
		&p.PriceMinCents, &p.PriceMaxCents, &p.PayoutAccountID, &p.PayoutOnboarded,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetDjProfile(ctx context.Context, userID uuid.UUID) (*domain.DjProfile, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+profileColumns+` FROM dj_profiles WHERE user_id = $1`, userID)
	return scanProfile(row)
}

// ListAssignableDjs returns the candidate pool for suggestion runs: active
// contractors currently accepting bookings, in stable created_at order so
// score ties break deterministically.
func (r *Repository) ListAssignableDjs(ctx context.Context) ([]domain.DjProfile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+profileColumns+`
		FROM dj_profiles
		WHERE contractor_status = 'ACTIVE' AND is_accepting_bookings
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DjProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *Repository) SaveDjProfile(ctx context.Context, p *domain.DjProfile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dj_profiles (
			user_id, stage_name, contractor_status, is_accepting_bookings,
			rating, total_bookings, genres, style_keywords, bio,
			price_min_cents, price_max_cents, payout_account_id, payout_onboarded
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id) DO UPDATE SET
			stage_name = EXCLUDED.stage_name,
			is_accepting_bookings = EXCLUDED.is_accepting_bookings,
			genres = EXCLUDED.genres,
			style_keywords = EXCLUDED.style_keywords,
			bio = EXCLUDED.bio,
			price_min_cents = EXCLUDED.price_min_cents,
			price_max_cents = EXCLUDED.price_max_cents,
			payout_account_id = EXCLUDED.payout_account_id,
			payout_onboarded = EXCLUDED.payout_onboarded,
			updated_at = now()
	`, p.UserID, p.StageName, p.ContractorStatus, p.IsAcceptingBookings,
		p.Rating, p.TotalBookings, p.Genres, p.StyleKeywords, p.Bio,
		p.PriceMinCents, p.PriceMaxCents, p.PayoutAccountID, p.PayoutOnboarded)
	// stage_name carries a unique index; a collision surfaces as ErrConflict
	return mapPgError(err)
}

func (r *Repository) SetContractorStatus(ctx context.Context, userID uuid.UUID, status domain.ContractorStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE dj_profiles SET contractor_status = $2, updated_at = now() WHERE user_id = $1
	`, userID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountBookingsByEventType counts a DJ's non-terminal history for one event
// type, used by the event-experience scoring term.
func (r *Repository) CountBookingsByEventType(ctx context.Context, djID uuid.UUID, eventType string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE dj_id = $1 AND event_type = $2 AND status NOT IN ('CANCELLED', 'DECLINED', 'REFUNDED')
	`, djID, eventType).Scan(&n)
	return n, err
}

func (r *Repository) CountBookingsSince(ctx context.Context, djID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE dj_id = $1 AND event_date >= $2 AND status NOT IN ('CANCELLED', 'DECLINED', 'REFUNDED')
	`, djID, since).Scan(&n)
	return n, err
}
