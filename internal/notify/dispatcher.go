package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mixcrate/dj-booking-core/internal/observability"
)

type DispatchStore interface {
	MarkNotificationDispatched(ctx context.Context, id uuid.UUID) error
}

// Dispatcher drains the notification queue and stamps each row as
// dispatched. Actual channel fan-out (push, email) hangs off this loop.
type Dispatcher struct {
	store  DispatchStore
	logger observability.Logger
}

func NewDispatcher(store DispatchStore, logger observability.Logger) *Dispatcher {
	return &Dispatcher{store: store, logger: logger}
}

// Run blocks until ctx is cancelled or the delivery channel closes.
// Malformed deliveries are acked and dropped so they cannot wedge the queue.
func (d *Dispatcher) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg amqp.Delivery) {
	defer msg.Ack(false)

	var e Event
	if err := json.Unmarshal(msg.Body, &e); err != nil || e.ID == uuid.Nil {
		d.logger.WithField("routing_key", msg.RoutingKey).Warn("dropping undecodable notification event")
		return
	}
	if err := d.store.MarkNotificationDispatched(ctx, e.ID); err != nil {
		d.logger.WithError(err).WithField("notification_id", e.ID).Error("failed to mark notification dispatched")
		return
	}
	observability.NotificationsDispatched.Inc()
	d.logger.WithField("notification_id", e.ID).WithField("kind", e.Kind).Info("notification dispatched")
}
