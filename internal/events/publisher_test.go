package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ratewatch/internal/model"
	"ratewatch/internal/testutil"
)

func TestPublisher_PublishTriggerEvent(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	publisher, err := NewPublisher(js, logger)
	require.NoError(t, err)

	sub, err := js.SubscribeSync("trigger.currency")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	now := time.Now().UTC()
	event := model.TriggerEvent{
		ID:        "e1",
		AlertID:   "a1",
		AlertKind: model.AlertKindCurrency,
		Snapshot: model.RateSnapshot{
			Subject:    "USD/ILS",
			Rate:       3.8,
			Timestamp:  now,
			Provenance: model.ProvenanceStream,
		},
		Rate:        3.8,
		TriggeredAt: now,
	}
	require.NoError(t, publisher.Publish(context.Background(), event))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var got model.TriggerEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, "e1", got.ID)
	require.Equal(t, "a1", got.AlertID)
	require.Equal(t, "USD/ILS", got.Snapshot.Subject)
	require.Equal(t, model.ProvenanceStream, got.Snapshot.Provenance)
}

func TestNewPublisher_ReusesExistingStream(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	_, err := NewPublisher(js, logger)
	require.NoError(t, err)

	// Second construction must tolerate the stream already existing.
	_, err = NewPublisher(js, logger)
	require.NoError(t, err)
}
