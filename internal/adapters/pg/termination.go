package pg

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mixcrate/dj-booking-core/internal/domain"
)

// CancelForTermination cancels one booking of a terminated DJ: the status
// flip and the audit row commit together, in a transaction scoped to this
// booking only so a failure here cannot roll back siblings in the batch.
func (r *Repository) CancelForTermination(ctx context.Context, p domain.CancelCommand) (*domain.Booking, error) {
	var cancelled *domain.Booking
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE bookings
			SET status = 'CANCELLED', cancellation_reason = $2,
			    cancelled_by = $3, cancelled_at = now(), updated_at = now()
			WHERE id = $1 AND status = ANY($4)
			RETURNING`+bookingColumns, p.BookingID, p.Reason, p.ActorID, activeStatusStrings())
		var err error
		if cancelled, err = scanBooking(row); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrConflict
			}
			return err
		}

		if err := insertAdminAction(ctx, tx, domain.AdminBookingAction{
			ID:           uuid.New(),
			BookingID:    p.BookingID,
			ActorID:      p.ActorID,
			Action:       "cancel_termination",
			PreviousDjID: cancelled.DjID,
			NewDjID:      nil,
			Reason:       p.Reason,
		}); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"booking_id": p.BookingID,
			"reason":     p.Reason,
		})
		return r.InsertOutbox(ctx, tx, OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "booking",
			AggregateID:   p.BookingID,
			EventType:     "booking.cancelled",
			Payload:       payload,
			DedupeKey:     uuid.New().String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// RebindDj reactivates a booking cancelled by termination with a replacement
// DJ. Same in-tx guards as AssignDj; payment state is reset because any held
// funds were refunded during the termination batch. Refund columns stay as
// history.
func (r *Repository) RebindDj(ctx context.Context, p domain.AssignCommand) (*domain.Booking, error) {
	var rebound *domain.Booking
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var status domain.ContractorStatus
		err := tx.QueryRow(ctx,
			`SELECT contractor_status FROM dj_profiles WHERE user_id = $1`, p.DjID,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
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
		if b.Status != domain.StatusCancelled && b.Status != domain.StatusRefunded {
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
			SET dj_id = $2, admin_assigned_dj_id = $2, status = $3,
			    is_paid = false, escrow_status = 'PENDING', payout_status = 'PENDING',
			    client_confirmed = false, dj_confirmed = false,
			    checkout_session_id = NULL, payment_ref = NULL,
			    cancellation_reason = NULL, cancelled_by = NULL, cancelled_at = NULL,
			    updated_at = now()
			WHERE id = $1
			RETURNING`+bookingColumns, p.BookingID, p.DjID, p.NewStatus)
		if rebound, err = scanBooking(row); err != nil {
			return err
		}

		if err := insertAdminAction(ctx, tx, domain.AdminBookingAction{
			ID:           uuid.New(),
			BookingID:    p.BookingID,
			ActorID:      p.ActorID,
			Action:       "recovery_rebind",
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
			EventType:     "booking.recovered",
			Payload:       payload,
			DedupeKey:     uuid.New().String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return rebound, nil
}

// RecordRefund stamps a completed gateway refund on the booking. The refund
// id doubles as the local idempotency record: a booking that already carries
// one is never refunded again.
func (r *Repository) RecordRefund(ctx context.Context, bookingID uuid.UUID, refundID string, amountCents int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET refund_id = $2, refund_amount_cents = $3, refunded_at = now(),
		    status = 'REFUNDED', updated_at = now()
		WHERE id = $1 AND refund_id IS NULL
	`, bookingID, refundID, amountCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}
