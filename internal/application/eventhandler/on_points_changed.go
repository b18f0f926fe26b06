// Package eventhandler contains domain event handlers.
package eventhandler

import (
	"context"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON POINTS CHANGED HANDLER
// Drops cached summaries of a student whenever the ledger changes for them.
// Subscribed to points.awarded and points.adjusted.
// ═══════════════════════════════════════════════════════════════════════════

// SummaryInvalidator removes cached summaries. *redis.SummaryCache satisfies it.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context, studentIDs ...shared.StudentID) error
}

// OnPointsChangedHandler invalidates summary caches.
type OnPointsChangedHandler struct {
	cache   SummaryInvalidator
	logger  *logger.Logger
	timeout time.Duration
}

// NewOnPointsChangedHandler creates a new handler.
func NewOnPointsChangedHandler(cache SummaryInvalidator, log *logger.Logger) *OnPointsChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnPointsChangedHandler{
		cache:   cache,
		logger:  log.With(logger.String("handler", "on_points_changed")),
		timeout: 2 * time.Second,
	}
}

// Handle implements shared.EventHandler.
func (h *OnPointsChangedHandler) Handle(event shared.Event) error {
	var studentID string
	switch e := event.(type) {
	case shared.PointsAwardedEvent:
		studentID = e.AggregateID()
	case shared.PointsAdjustedEvent:
		studentID = e.AggregateID()
	default:
		return nil
	}
	if studentID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, shared.StudentID(studentID)); err != nil {
		h.logger.Warn("summary invalidation failed",
			logger.StudentID(studentID),
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
		return err
	}
	h.logger.Debug("summary invalidated", logger.StudentID(studentID))
	return nil
}

// SyncSubscriber is a bus that can run a handler before Publish returns.
// *messaging.InMemoryEventBus satisfies it.
type SyncSubscriber interface {
	SubscribeSync(eventType shared.EventType, handler shared.EventHandler) error
}

// Register subscribes the handler to ledger events. Invalidation runs inline
// when the bus supports it, so a read issued after a write never sees the
// summary from before it.
func (h *OnPointsChangedHandler) Register(bus shared.EventSubscriber) error {
	subscribe := bus.Subscribe
	if s, ok := bus.(SyncSubscriber); ok {
		subscribe = s.SubscribeSync
	}
	for _, t := range []shared.EventType{shared.EventPointsAwarded, shared.EventPointsAdjusted} {
		if err := subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}
