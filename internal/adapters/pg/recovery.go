package pg

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mixcrate/dj-booking-core/internal/domain"
)

const recoveryColumns = `
	id, original_booking_id, suggested_dj_id, status, expires_at,
	suggestions, resolved_at, created_at`

func scanRecovery(row rowScanner) (*domain.BookingRecovery, error) {
	var rec domain.BookingRecovery
	err := row.Scan(
		&rec.ID, &rec.OriginalBookingID, &rec.SuggestedDjID, &rec.Status,
		&rec.ExpiresAt, &rec.Suggestions, &rec.ResolvedAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) CreateRecovery(ctx context.Context, rec *domain.BookingRecovery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_recoveries (id, original_booking_id, suggested_dj_id, status, expires_at, suggestions)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.OriginalBookingID, rec.SuggestedDjID, rec.Status, rec.ExpiresAt, rec.Suggestions)
	return mapPgError(err)
}

func (r *Repository) GetRecovery(ctx context.Context, id uuid.UUID) (*domain.BookingRecovery, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+recoveryColumns+` FROM booking_recoveries WHERE id = $1`, id)
	return scanRecovery(row)
}

// ResolveRecovery moves a PENDING recovery to a terminal status. The WHERE
// guard makes resolution one-shot under concurrent accept/decline.
func (r *Repository) ResolveRecovery(ctx context.Context, id uuid.UUID, status domain.RecoveryStatus, resolvedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE booking_recoveries SET status = $2, resolved_at = $3 WHERE id = $1 AND status = 'PENDING'
	`, id, status, resolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *Repository) InsertNotification(ctx context.Context, n *domain.Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, body, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.UserID, n.Kind, n.Title, n.Body, n.Metadata)
	return err
}

func (r *Repository) MarkNotificationDispatched(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications SET dispatched_at = now()
		WHERE id = $1 AND dispatched_at IS NULL
	`, id)
	return errors.Wrap(err, "mark notification dispatched")
}
