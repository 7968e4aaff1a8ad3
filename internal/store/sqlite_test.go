package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ratewatch/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	s, err := NewSQLiteStore(logger, filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAlert(id string) model.Alert {
	return model.Alert{
		ID:          id,
		Kind:        model.AlertKindCurrency,
		Base:        "USD",
		Target:      "ILS",
		Condition:   model.Above(3.7),
		TargetValue: decimal.RequireFromString("3.70"),
		Enabled:     true,
		Status:      model.AlertStatusActive,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hours := 2
	triggeredAt := time.Now().UTC().Truncate(time.Second)

	alert := sampleAlert("a1")
	alert.Status = model.AlertStatusTriggered
	alert.TriggeredAt = &triggeredAt
	alert.AutoResetAfterHours = &hours
	require.NoError(t, s.Upsert(ctx, alert))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, alert.ID, got.ID)
	require.Equal(t, alert.Kind, got.Kind)
	require.Equal(t, alert.Base, got.Base)
	require.Equal(t, alert.Target, got.Target)
	require.Equal(t, alert.Condition, got.Condition)
	require.True(t, alert.TargetValue.Equal(got.TargetValue))
	require.Equal(t, alert.Enabled, got.Enabled)
	require.Equal(t, alert.Status, got.Status)
	require.NotNil(t, got.TriggeredAt)
	require.True(t, triggeredAt.Equal(got.TriggeredAt.UTC()))
	require.NotNil(t, got.AutoResetAfterHours)
	require.Equal(t, hours, *got.AutoResetAfterHours)
}

func TestSQLiteStore_OptionalFieldsAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, sampleAlert("a1")))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Nil(t, got.TriggeredAt)
	require.Nil(t, got.AutoResetAfterHours)
}

func TestSQLiteStore_TargetValuePrecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := sampleAlert("a1")
	alert.TargetValue = decimal.RequireFromString("0.123456789012345678")
	require.NoError(t, s.Upsert(ctx, alert))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "0.123456789012345678", got.TargetValue.String())
}

func TestSQLiteStore_InsertionOrderSurvivesUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, sampleAlert("first")))
	require.NoError(t, s.Upsert(ctx, sampleAlert("second")))
	require.NoError(t, s.Upsert(ctx, sampleAlert("third")))

	// Updating the first alert must not move it to the back.
	updated := sampleAlert("first")
	updated.Enabled = false
	updated.Status = model.AlertStatusPaused
	require.NoError(t, s.Upsert(ctx, updated))

	alerts, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	require.Equal(t, "first", alerts[0].ID)
	require.Equal(t, "second", alerts[1].ID)
	require.Equal(t, "third", alerts[2].ID)
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, model.ErrAlertNotFound)
}

func TestSQLiteStore_DeleteNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, model.ErrAlertNotFound)
}

func TestSQLiteStore_MarkTriggeredIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, sampleAlert("a1")))

	at := time.Now().UTC().Truncate(time.Second)
	ok, err := s.MarkTriggered(ctx, "a1", at)
	require.NoError(t, err)
	require.True(t, ok)

	// Already triggered: the second transition must not commit.
	ok, err = s.MarkTriggered(ctx, "a1", at.Add(time.Second))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.AlertStatusTriggered, got.Status)
	require.True(t, at.Equal(got.TriggeredAt.UTC()))
}

func TestSQLiteStore_MarkTriggeredSkipsDisabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := sampleAlert("a1")
	alert.Enabled = false
	require.NoError(t, s.Upsert(ctx, alert))

	ok, err := s.MarkTriggered(ctx, "a1", time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteStore_SetEnabledClearsTriggerTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, sampleAlert("a1")))
	ok, err := s.MarkTriggered(ctx, "a1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.SetEnabled(ctx, "a1", true, model.AlertStatusActive))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.AlertStatusActive, got.Status)
	require.Nil(t, got.TriggeredAt)
}

func TestSQLiteStore_CountByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		require.NoError(t, s.Upsert(ctx, sampleAlert(id)))
	}
	for _, id := range []string{"a2", "a4"} {
		ok, err := s.MarkTriggered(ctx, id, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
	}

	count, err := s.CountByStatus(ctx, model.AlertStatusTriggered)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "alerts.db")

	s, err := NewSQLiteStore(logger, path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(context.Background(), sampleAlert("a1")))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(logger, path)
	require.NoError(t, err)
	defer reopened.Close()

	alerts, err := reopened.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "a1", alerts[0].ID)
}

func TestOpen_CorruptFileDegradesToMemory(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "alerts.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))

	s := Open(logger, path)
	defer s.Close()

	_, isMemory := s.(*MemoryStore)
	require.True(t, isMemory, "corrupt storage must degrade to the in-memory store")

	// The degraded store starts empty and stays usable.
	alerts, err := s.GetAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, alerts)
	require.NoError(t, s.Upsert(context.Background(), sampleAlert("a1")))
}
