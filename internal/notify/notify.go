// Package notify delivers user-facing notifications. Delivery is best
// effort: a failed publish or insert is logged, never propagated, so a state
// transition can never be rolled back by its own notification.
package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mixcrate/dj-booking-core/internal/domain"
	"github.com/mixcrate/dj-booking-core/internal/observability"
)

type Event struct {
	ID       uuid.UUID              `json:"id"`
	Kind     string                 `json:"kind"`
	UserID   uuid.UUID              `json:"user_id"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Bus pushes an event to whatever transports are wired (rabbit in
// production, a recorder in tests). Injected explicitly, never a package
// global.
type Bus interface {
	Publish(ctx context.Context, e Event) error
}

type Store interface {
	InsertNotification(ctx context.Context, n *domain.Notification) error
}

// Service persists a notification row and pushes the event on the bus.
type Service struct {
	store  Store
	bus    Bus
	logger observability.Logger
}

func NewService(store Store, bus Bus, logger observability.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger}
}

// Notify returns true if the notification row was recorded. Bus failures
// only log.
func (s *Service) Notify(ctx context.Context, e Event) bool {
	meta, _ := json.Marshal(e.Metadata)
	n := &domain.Notification{
		ID:       uuid.New(),
		UserID:   e.UserID,
		Kind:     e.Kind,
		Title:    e.Title,
		Body:     e.Body,
		Metadata: meta,
	}
	recorded := true
	if err := s.store.InsertNotification(ctx, n); err != nil {
		s.logger.WithError(err).WithField("kind", e.Kind).Error("failed to record notification")
		recorded = false
	}
	e.ID = n.ID
	if err := s.bus.Publish(ctx, e); err != nil {
		s.logger.WithError(err).WithField("kind", e.Kind).Warn("failed to publish notification event")
	}
	return recorded
}
