package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ratewatch/internal/model"
)

// StreamName is the JetStream stream holding published trigger events
const StreamName = "TRIGGERS"

// Publisher publishes trigger events to JetStream for downstream
// consumers (audit, fan-out to other delivery surfaces). In-process
// dispatch to the notification dispatcher does not go through here.
type Publisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewPublisher creates a trigger event publisher, creating the stream if
// it doesn't exist
func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) (*Publisher, error) {
	stream, err := js.StreamInfo(StreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	if stream == nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{"trigger.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
		logger.Info("Created trigger stream", zap.String("name", StreamName))
	}

	return &Publisher{
		logger: logger.Named("events"),
		js:     js,
	}, nil
}

// Publish implements notify.EventPublisher
func (p *Publisher) Publish(ctx context.Context, event model.TriggerEvent) error {
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal trigger event: %w", err)
	}

	subject := "trigger." + string(event.AlertKind)
	if _, err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish trigger event: %w", err)
	}

	p.logger.Debug("Trigger event published",
		zap.String("event_id", event.ID),
		zap.String("alert_id", event.AlertID),
		zap.String("subject", subject))
	return nil
}
