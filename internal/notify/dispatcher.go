package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ratewatch/internal/engine"
	"ratewatch/internal/metrics"
	"ratewatch/internal/model"
)

// Notifier is the notification delivery collaborator. Show may fail with
// model.ErrPermissionDenied when the platform forbids user-visible
// notifications.
type Notifier interface {
	Show(ctx context.Context, title, body string) error
	SetBadge(ctx context.Context, count int) error
}

// EventPublisher fans trigger events out to downstream consumers. Failure
// to publish never blocks notification delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event model.TriggerEvent) error
}

// Dispatcher turns trigger events into user-visible notifications and
// keeps the badge equal to the number of alerts currently triggered.
type Dispatcher struct {
	logger    *zap.Logger
	engine    *engine.Engine
	notifier  Notifier
	publisher EventPublisher // optional
}

// NewDispatcher creates a notification dispatcher. publisher may be nil.
func NewDispatcher(eng *engine.Engine, notifier Notifier, publisher EventPublisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:    logger.Named("notify"),
		engine:    eng,
		notifier:  notifier,
		publisher: publisher,
	}
}

// Dispatch delivers exactly one notification per trigger event, then
// recomputes the badge. Permission denial drops the notification silently
// (logged as a warning) while the badge and persisted status still update.
func (d *Dispatcher) Dispatch(ctx context.Context, events []model.TriggerEvent) error {
	for i := range events {
		event := events[i]

		title, body := format(event)
		err := d.notifier.Show(ctx, title, body)
		switch {
		case err == nil:
			metrics.NotificationsTotal.WithLabelValues("shown").Inc()
		case errors.Is(err, model.ErrPermissionDenied):
			metrics.NotificationsTotal.WithLabelValues("permission_denied").Inc()
			d.logger.Warn("Notification skipped, permission denied",
				zap.String("alert_id", event.AlertID))
		default:
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			d.logger.Warn("Notification delivery failed",
				zap.String("alert_id", event.AlertID),
				zap.Error(err))
		}

		if d.publisher != nil {
			if err := d.publisher.Publish(ctx, event); err != nil {
				d.logger.Warn("Failed to publish trigger event",
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}

	count, err := d.engine.TriggeredCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to recompute badge: %w", err)
	}
	if err := d.notifier.SetBadge(ctx, count); err != nil {
		d.logger.Warn("Failed to update badge", zap.Int("count", count), zap.Error(err))
	}
	return nil
}

func format(event model.TriggerEvent) (title, body string) {
	title = "Rate alert triggered"
	body = fmt.Sprintf("%s reached %g", event.Snapshot.Subject, event.Rate)
	return title, body
}
