package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ratewatch/internal/engine"
	"ratewatch/internal/model"
	"ratewatch/internal/store"
)

type stubFetcher struct {
	mu        sync.Mutex
	snapshots []model.RateSnapshot
	err       error
	calls     int
}

func (f *stubFetcher) FetchRates(ctx context.Context, subjects []string) ([]model.RateSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshots, nil
}

type stubSink struct {
	mu     sync.Mutex
	events []model.TriggerEvent
}

func (s *stubSink) Dispatch(ctx context.Context, events []model.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *stubSink) all() []model.TriggerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TriggerEvent(nil), s.events...)
}

type stubWindows struct {
	mu           sync.Mutex
	availability Availability
	requests     int
}

func (w *stubWindows) Availability() Availability { return w.availability }

func (w *stubWindows) Request(fn func(ctx context.Context)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests++
	return nil
}

func (w *stubWindows) Stop() {}

func (w *stubWindows) requestCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests
}

func testAlert(id, base, target string, cond model.AlertCondition) model.Alert {
	return model.Alert{
		ID:          id,
		Kind:        model.AlertKindCurrency,
		Base:        base,
		Target:      target,
		Condition:   cond,
		TargetValue: decimal.NewFromFloat(cond.Threshold),
		Enabled:     true,
		Status:      model.AlertStatusActive,
		CreatedAt:   time.Now(),
	}
}

func newTestScheduler(t *testing.T, fetcher *stubFetcher, windows *stubWindows) (*RefreshScheduler, *store.MemoryStore, *stubSink) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	s := store.NewMemoryStore()
	eng := engine.New(s, logger)
	sink := &stubSink{}
	sched := NewRefreshScheduler(eng, fetcher, sink, windows, time.Minute, logger)
	return sched, s, sink
}

func TestRefreshScheduler_BackgroundPassTriggersAndReschedules(t *testing.T) {
	fetcher := &stubFetcher{
		snapshots: []model.RateSnapshot{
			{Subject: "USD/ILS", Rate: 3.8, Timestamp: time.Now()},
		},
	}
	windows := &stubWindows{availability: AvailabilityAvailable}
	sched, s, sink := newTestScheduler(t, fetcher, windows)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testAlert("a1", "USD", "ILS", model.Above(3.7))))

	sched.RunBackgroundPass(ctx)

	events := sink.all()
	require.Len(t, events, 1)
	require.Equal(t, "a1", events[0].AlertID)
	require.Equal(t, model.ProvenanceScheduledFetch, events[0].Snapshot.Provenance)

	// The next window is requested after the pass.
	require.Equal(t, 1, windows.requestCount())
}

func TestRefreshScheduler_ReschedulesAfterFailedPass(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("network down")}
	windows := &stubWindows{availability: AvailabilityAvailable}
	sched, s, sink := newTestScheduler(t, fetcher, windows)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testAlert("a1", "USD", "ILS", model.Above(3.7))))

	sched.RunBackgroundPass(ctx)

	// The cycle is skipped, nothing fires, and the alert stays active.
	require.Empty(t, sink.all())
	alert, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.AlertStatusActive, alert.Status)

	// Rescheduling is unconditional: a failed pass must not forfeit the
	// next background opportunity.
	require.Equal(t, 1, windows.requestCount())
}

func TestRefreshScheduler_SkipsFetchWithoutSubjects(t *testing.T) {
	fetcher := &stubFetcher{}
	windows := &stubWindows{availability: AvailabilityAvailable}
	sched, _, sink := newTestScheduler(t, fetcher, windows)

	sched.RunBackgroundPass(context.Background())

	require.Empty(t, sink.all())
	require.Zero(t, fetcher.calls)
	require.Equal(t, 1, windows.requestCount())
}

func TestRefreshScheduler_BackgroundPassSweepsAutoReset(t *testing.T) {
	fetcher := &stubFetcher{}
	windows := &stubWindows{availability: AvailabilityAvailable}
	sched, s, _ := newTestScheduler(t, fetcher, windows)
	ctx := context.Background()

	hours := 1
	triggeredAt := time.Now().Add(-2 * time.Hour)
	alert := testAlert("a1", "USD", "ILS", model.Above(3.7))
	alert.Status = model.AlertStatusTriggered
	alert.TriggeredAt = &triggeredAt
	alert.AutoResetAfterHours = &hours
	require.NoError(t, s.Upsert(ctx, alert))

	sched.RunBackgroundPass(ctx)

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.AlertStatusActive, got.Status)
	require.Nil(t, got.TriggeredAt)
}

func TestRefreshScheduler_DeniedBackgroundDegradesToForeground(t *testing.T) {
	fetcher := &stubFetcher{}
	windows := &stubWindows{availability: AvailabilityDenied}
	sched, _, _ := newTestScheduler(t, fetcher, windows)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	// No background window is ever requested when the platform denies it.
	require.Zero(t, windows.requestCount())
}

func TestRefreshScheduler_ExpiredWindowCommitsPartialProgress(t *testing.T) {
	fetcher := &stubFetcher{
		snapshots: []model.RateSnapshot{
			{Subject: "USD/ILS", Rate: 3.8, Timestamp: time.Now()},
		},
	}
	windows := &stubWindows{availability: AvailabilityAvailable}
	sched, s, _ := newTestScheduler(t, fetcher, windows)

	require.NoError(t, s.Upsert(context.Background(), testAlert("a1", "USD", "ILS", model.Above(3.7))))

	// A window whose budget is already spent.
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	sched.RunBackgroundPass(expired)

	// No transition was half-applied and the next window is still requested.
	alert, err := s.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.Contains(t, []model.AlertStatus{model.AlertStatusActive, model.AlertStatusTriggered}, alert.Status)
	if alert.Status == model.AlertStatusTriggered {
		require.NotNil(t, alert.TriggeredAt)
	} else {
		require.Nil(t, alert.TriggeredAt)
	}
	require.Equal(t, 1, windows.requestCount())
}
