package pg

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mixcrate/dj-booking-core/internal/domain"
)

// AssignDj performs the check-and-assign sequence in one serializable
// transaction: contractor status and the conflict window are re-read inside
// the tx, and the audit row is written atomically with the booking update.
// The exclusion constraint on active windows backs this as a second line of
// defence; a violation comes back as ErrConflict.
func (r *Repository) AssignDj(ctx context.Context, p domain.AssignCommand) (*domain.Booking, error) {
	var assigned *domain.Booking
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var status domain.ContractorStatus
		err := tx.QueryRow(ctx,
			`SELECT contractor_status FROM dj_profiles WHERE user_id = $1`, p.DjID,
		).Scan(&status)
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if status != domain.ContractorActive {
			return domain.ErrDjNotActive
		}

		row := tx.QueryRow(ctx,
			`SELECT`+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, p.BookingID)
		b, err := scanBooking(row)
		if err != nil {
			return err
		}
		if !b.Status.Active() {
			return domain.ErrConflict
		}
		if !b.HasWindow() {
			return domain.ErrInvalidInput
		}

		var conflicts int
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM bookings
			WHERE dj_id = $1 AND id <> $2 AND status = ANY($3)
			  AND start_time IS NOT NULL AND end_time IS NOT NULL
			  AND start_time < $5 AND end_time > $4
		`, p.DjID, p.BookingID, activeStatusStrings(), *b.StartTime, *b.EndTime).Scan(&conflicts)
		if err != nil {
			return err
		}
		if conflicts > 0 {
			return domain.ErrConflict
		}

		previousDjID := b.DjID
		row = tx.QueryRow(ctx, `
			UPDATE bookings
			SET dj_id = $2, admin_assigned_dj_id = $2, status = $3, updated_at = now()
			WHERE id = $1
			RETURNING`+bookingColumns, p.BookingID, p.DjID, p.NewStatus)
		if assigned, err = scanBooking(row); err != nil {
			return err
		}

		if err := insertAdminAction(ctx, tx, domain.AdminBookingAction{
			ID:           uuid.New(),
			BookingID:    p.BookingID,
			ActorID:      p.ActorID,
			Action:       "assign_dj",
			PreviousDjID: previousDjID,
			NewDjID:      &p.DjID,
			Reason:       p.Reason,
		}); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"booking_id": p.BookingID,
			"dj_id":      p.DjID,
		})
		return r.InsertOutbox(ctx, tx, OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "booking",
			AggregateID:   p.BookingID,
			EventType:     "booking.dj_assigned",
			Payload:       payload,
			DedupeKey:     uuid.New().String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

func insertAdminAction(ctx context.Context, tx pgx.Tx, a domain.AdminBookingAction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO admin_booking_actions (id, booking_id, actor_id, action, previous_dj_id, new_dj_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.BookingID, a.ActorID, a.Action, a.PreviousDjID, a.NewDjID, a.Reason)
	return err
}

func (r *Repository) MarkAccepted(ctx context.Context, p domain.AcceptCommand) (*domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'ACCEPTED', escrow_status = 'PENDING',
		    checkout_session_id = $2, platform_fee_cents = $3,
		    payout_amount_cents = $4, updated_at = now()
		WHERE id = $1
		  AND status IN ('PENDING_ADMIN_REVIEW', 'ADMIN_REVIEWING', 'DJ_ASSIGNED')
		  AND quoted_price_cents IS NOT NULL
		RETURNING`+bookingColumns,
		p.BookingID, p.CheckoutSessionID, p.PlatformFeeCents, p.PayoutAmountCents)
	b, err := scanBooking(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrConflict
	}
	return b, err
}

func (r *Repository) MarkPaid(ctx context.Context, bookingID uuid.UUID, paymentRef string) (*domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET is_paid = true, status = 'CONFIRMED', escrow_status = 'HELD',
		    payment_ref = $2, updated_at = now()
		WHERE id = $1 AND status = 'ACCEPTED' AND escrow_status = 'PENDING'
		RETURNING`+bookingColumns, bookingID, paymentRef)
	return scanBooking(row)
}

// SetCompletionFlag records one side's completion confirmation. Guarded so a
// flag can only be set once and only while funds are held.
func (r *Repository) SetCompletionFlag(ctx context.Context, bookingID uuid.UUID, side domain.ConfirmSide) (*domain.Booking, error) {
	col := "client_confirmed"
	if side == domain.ConfirmDj {
		col = "dj_confirmed"
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET `+col+` = true, updated_at = now()
		WHERE id = $1 AND is_paid AND escrow_status = 'HELD' AND NOT `+col+`
		RETURNING`+bookingColumns, bookingID)
	b, err := scanBooking(row)
	if errors.Is(err, domain.ErrNotFound) {
		// Callers read the booking first; a zero-row update means the
		// escrow guard lost a race, not a missing row.
		return nil, domain.ErrEscrowState
	}
	return b, err
}

// ReleaseEscrow is the only path that releases funds to the DJ. The WHERE
// clause re-asserts the two-party AND so a concurrent dispute loses the race.
func (r *Repository) ReleaseEscrow(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'COMPLETED', escrow_status = 'RELEASED',
		    payout_status = 'COMPLETED', event_completed_at = now(), updated_at = now()
		WHERE id = $1 AND client_confirmed AND dj_confirmed AND escrow_status = 'HELD'
		RETURNING`+bookingColumns, bookingID)
	b, err := scanBooking(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrEscrowState
	}
	return b, err
}

func (r *Repository) OpenDispute(ctx context.Context, bookingID uuid.UUID, reason string) (*domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET escrow_status = 'DISPUTED', dispute_status = 'OPEN',
		    dispute_reason = $2, disputed_at = now(), updated_at = now()
		WHERE id = $1 AND escrow_status = 'HELD'
		RETURNING`+bookingColumns, bookingID, reason)
	b, err := scanBooking(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrEscrowState
	}
	return b, err
}

func (r *Repository) SetQuotedPrice(ctx context.Context, bookingID uuid.UUID, cents int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings SET quoted_price_cents = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, bookingID, cents, activeStatusStrings())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
