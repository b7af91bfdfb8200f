package pg

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mixcrate/dj-booking-core/internal/domain"
)

const bookingColumns = `
	id, client_id, dj_id, preferred_dj_id, admin_assigned_dj_id,
	event_type, event_date, start_time, end_time,
	quoted_price_cents, platform_fee_cents, payout_amount_cents,
	is_paid, payout_status, escrow_status, status,
	client_confirmed, dj_confirmed, event_completed_at,
	dispute_status, dispute_reason, disputed_at,
	checkout_session_id, payment_ref, refund_id, refund_amount_cents, refunded_at,
	cancellation_reason, cancelled_by, cancelled_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.ClientID, &b.DjID, &b.PreferredDjID, &b.AdminAssignedDjID,
		&b.EventType, &b.EventDate, &b.StartTime, &b.EndTime,
		&b.QuotedPriceCents, &b.PlatformFeeCents, &b.PayoutAmountCents,
		&b.IsPaid, &b.PayoutStatus, &b.EscrowStatus, &b.Status,
		&b.ClientConfirmed, &b.DjConfirmed, &b.EventCompletedAt,
		&b.DisputeStatus, &b.DisputeReason, &b.DisputedAt,
		&b.CheckoutSessionID, &b.PaymentRef, &b.RefundID, &b.RefundAmountCents, &b.RefundedAt,
		&b.CancellationReason, &b.CancelledBy, &b.CancelledAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *Repository) CreateBooking(ctx context.Context, b *domain.Booking) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bookings (
			id, client_id, dj_id, preferred_dj_id, event_type, event_date,
			start_time, end_time, quoted_price_cents, payout_status,
			escrow_status, status, dispute_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'PENDING', 'PENDING', $10, 'NONE')
	`, b.ID, b.ClientID, b.DjID, b.PreferredDjID, b.EventType, b.EventDate,
		b.StartTime, b.EndTime, b.QuotedPriceCents, b.Status)
	return mapPgError(err)
}

// OverlappingActive returns every booking for the DJ in an active status whose
// half-open window intersects [start, end). Rows without a complete window are
// excluded by the NOT NULL predicates.
func (r *Repository) OverlappingActive(ctx context.Context, djID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE dj_id = $1
		  AND status = ANY($2)
		  AND start_time IS NOT NULL AND end_time IS NOT NULL
		  AND start_time < $4 AND end_time > $3
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY start_time ASC
	`, djID, activeStatusStrings(), start, end, exclude)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ActiveBookingsForDj feeds the termination batch.
func (r *Repository) ActiveBookingsForDj(ctx context.Context, djID uuid.UUID) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE dj_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC
	`, djID, activeStatusStrings())
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func activeStatusStrings() []string {
	out := make([]string, len(domain.ActiveStatuses))
	for i, s := range domain.ActiveStatuses {
		out[i] = string(s)
	}
	return out
}
