package engine

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ratewatch/internal/metrics"
	"ratewatch/internal/model"
	"ratewatch/internal/store"
)

// lockStripes bounds the number of per-alert mutexes. Two alerts may share
// a stripe; that only serializes their transitions, never skips one.
const lockStripes = 64

// Engine evaluates rate snapshots against stored alerts and drives the
// alert status state machine. It never delivers notifications itself;
// callers forward the returned trigger events to the dispatcher.
type Engine struct {
	logger *zap.Logger
	store  store.AlertStore
	locks  [lockStripes]sync.Mutex
}

// New creates an alert engine over the given store
func New(alertStore store.AlertStore, logger *zap.Logger) *Engine {
	return &Engine{
		logger: logger.Named("engine"),
		store:  alertStore,
	}
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &e.locks[h.Sum32()%lockStripes]
}

// Evaluate checks every active alert watching the snapshot's subject and
// transitions the satisfied ones to triggered, returning one trigger event
// per transition. Alerts already triggered or paused are not evaluated.
// Evaluation stops early when ctx expires; alerts not yet reached are
// picked up by the next invocation and no partial transition is left
// behind, since each transition commits atomically in the store.
func (e *Engine) Evaluate(ctx context.Context, snapshot model.RateSnapshot) ([]model.TriggerEvent, error) {
	metrics.EvaluationsTotal.WithLabelValues(string(snapshot.Provenance)).Inc()

	alerts, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var events []model.TriggerEvent
	for i := range alerts {
		alert := alerts[i]
		if !alert.IsActive() || alert.Subject() != snapshot.Subject {
			continue
		}
		if !ConditionSatisfied(alert.Condition, snapshot.Rate) {
			continue
		}
		if err := ctx.Err(); err != nil {
			e.logger.Debug("Evaluation abandoned before completion",
				zap.String("subject", snapshot.Subject),
				zap.Int("events_committed", len(events)))
			return events, err
		}

		event, ok := e.trigger(ctx, alert, snapshot)
		if ok {
			events = append(events, event)
		}
	}

	return events, nil
}

// trigger performs the active -> triggered transition for one alert. The
// stripe lock plus the store's conditional update make the transition
// commit at most once even when snapshots for the same subject arrive
// concurrently from different sources.
func (e *Engine) trigger(ctx context.Context, alert model.Alert, snapshot model.RateSnapshot) (model.TriggerEvent, bool) {
	mu := e.lockFor(alert.ID)
	mu.Lock()
	defer mu.Unlock()

	ok, err := e.store.MarkTriggered(ctx, alert.ID, snapshot.Timestamp)
	if err != nil {
		e.logger.Error("Failed to commit alert transition",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		return model.TriggerEvent{}, false
	}
	if !ok {
		// Another snapshot won the race; no second event fires.
		return model.TriggerEvent{}, false
	}

	metrics.TriggersTotal.Inc()
	e.logger.Info("Alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("subject", snapshot.Subject),
		zap.Float64("rate", snapshot.Rate),
		zap.String("condition", alert.Condition.String()),
		zap.String("provenance", string(snapshot.Provenance)))

	return model.TriggerEvent{
		ID:          uuid.New().String(),
		AlertID:     alert.ID,
		AlertKind:   alert.Kind,
		Snapshot:    snapshot,
		Rate:        snapshot.Rate,
		TriggeredAt: snapshot.Timestamp,
	}, true
}

// ResetExpired re-arms triggered alerts whose auto-reset window has
// elapsed, clearing their trigger timestamp. Returns the number of alerts
// reset.
func (e *Engine) ResetExpired(ctx context.Context, now time.Time) (int, error) {
	alerts, err := e.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	reset := 0
	for i := range alerts {
		alert := alerts[i]
		if !alert.AutoResetExpired(now) {
			continue
		}

		mu := e.lockFor(alert.ID)
		mu.Lock()
		err := e.store.UpdateStatus(ctx, alert.ID, model.AlertStatusActive, nil)
		mu.Unlock()
		if err != nil {
			e.logger.Error("Failed to auto-reset alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
			continue
		}

		reset++
		metrics.AutoResetsTotal.Inc()
		e.logger.Info("Alert auto-reset to active",
			zap.String("alert_id", alert.ID),
			zap.Intp("after_hours", alert.AutoResetAfterHours))
	}

	return reset, nil
}

// SetEnabled applies the user enable/disable lifecycle rules: disabling
// pauses the alert, enabling a paused alert restores it to active, never
// directly to triggered.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool) error {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	alert, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}

	status := alert.Status
	if !enabled {
		status = model.AlertStatusPaused
	} else if alert.Status == model.AlertStatusPaused {
		status = model.AlertStatusActive
	}

	return e.store.SetEnabled(ctx, id, enabled, status)
}

// TriggeredCount recomputes the badge value by scanning the store rather
// than tracking a counter that could drift from persisted state.
func (e *Engine) TriggeredCount(ctx context.Context) (int, error) {
	count, err := e.store.CountByStatus(ctx, model.AlertStatusTriggered)
	if err != nil {
		return 0, err
	}
	metrics.BadgeCount.Set(float64(count))
	return count, nil
}

// Subjects returns the deduplicated set of subjects referenced by at least
// one active alert, in first-seen order. The scheduler and live feed use
// it to scope fetches and subscriptions.
func (e *Engine) Subjects(ctx context.Context) ([]string, error) {
	alerts, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var subjects []string
	for i := range alerts {
		if !alerts[i].IsActive() {
			continue
		}
		subject := alerts[i].Subject()
		if _, ok := seen[subject]; ok {
			continue
		}
		seen[subject] = struct{}{}
		subjects = append(subjects, subject)
	}
	return subjects, nil
}
