package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ratewatch/internal/engine"
	"ratewatch/internal/metrics"
	"ratewatch/internal/model"
)

// RateFetcher is the fetch collaborator. It owns its own retry/backoff;
// the scheduler only reacts to delivered snapshots.
type RateFetcher interface {
	FetchRates(ctx context.Context, subjects []string) ([]model.RateSnapshot, error)
}

// EventSink consumes trigger events produced by an evaluation pass
type EventSink interface {
	Dispatch(ctx context.Context, events []model.TriggerEvent) error
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// RefreshScheduler decides when the engine runs: on a cron tick while the
// process is foregrounded, and on platform-granted background windows.
// Every tick also sweeps triggered alerts whose auto-reset window elapsed.
type RefreshScheduler struct {
	logger  *zap.Logger
	engine  *engine.Engine
	fetcher RateFetcher
	sink    EventSink
	windows BackgroundWindows

	cron         *cron.Cron
	pollInterval time.Duration
	foreground   atomic.Bool
}

// NewRefreshScheduler creates a refresh scheduler
func NewRefreshScheduler(eng *engine.Engine, fetcher RateFetcher, sink EventSink, windows BackgroundWindows, pollInterval time.Duration, logger *zap.Logger) *RefreshScheduler {
	log := logger.Named("scheduler")
	cronOptions := []cron.Option{
		cron.WithChain(cron.Recover(&cronLogger{logger: log.Named("cron")})),
	}

	s := &RefreshScheduler{
		logger:       log,
		engine:       eng,
		fetcher:      fetcher,
		sink:         sink,
		windows:      windows,
		cron:         cron.New(cronOptions...),
		pollInterval: pollInterval,
	}
	s.foreground.Store(true)
	return s
}

// Start begins foreground polling and, when the platform permits it,
// registers the first background window
func (s *RefreshScheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.pollInterval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.tick(ctx)
	}); err != nil {
		return fmt.Errorf("failed to add poll job: %w", err)
	}
	s.cron.Start()

	switch s.windows.Availability() {
	case AvailabilityAvailable, AvailabilityUnknown:
		s.scheduleNextWindow()
	default:
		// Not an error: the app keeps working in the foreground.
		s.logger.Warn("Background refresh unavailable, foreground-only evaluation",
			zap.String("availability", string(s.windows.Availability())))
	}

	s.logger.Info("Refresh scheduler started",
		zap.Duration("poll_interval", s.pollInterval))
	return nil
}

// Stop stops the poll loop and cancels any pending background window
func (s *RefreshScheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.windows.Stop()
	s.logger.Info("Refresh scheduler stopped")
}

// SetForeground records whether the application is foregrounded. While
// backgrounded the cron keeps running but ticks are skipped; evaluation
// then rides on background windows and the live feed.
func (s *RefreshScheduler) SetForeground(foreground bool) {
	s.foreground.Store(foreground)
}

// tick is one foreground poll pass
func (s *RefreshScheduler) tick(ctx context.Context) {
	if !s.foreground.Load() {
		return
	}
	if _, err := s.engine.ResetExpired(ctx, time.Now()); err != nil {
		s.logger.Warn("Auto-reset sweep failed", zap.Error(err))
	}
	s.runPass(ctx, model.ProvenanceForegroundPoll)
}

// RunBackgroundPass performs one best-effort fetch-and-evaluate pass
// within a platform-granted window. Sub-evaluations that finished before
// the budget expired stay committed; the remainder is abandoned for this
// pass only. The next window is requested unconditionally, even after a
// failed pass, so a single failure never forfeits future background
// opportunity.
func (s *RefreshScheduler) RunBackgroundPass(ctx context.Context) {
	defer s.scheduleNextWindow()

	if _, err := s.engine.ResetExpired(ctx, time.Now()); err != nil {
		s.logger.Warn("Auto-reset sweep failed", zap.Error(err))
	}

	err := s.runPass(ctx, model.ProvenanceScheduledFetch)
	switch {
	case err == nil:
		metrics.BackgroundPassesTotal.WithLabelValues("completed").Inc()
	case ctx.Err() != nil:
		metrics.BackgroundPassesTotal.WithLabelValues("expired").Inc()
		s.logger.Info("Background window expired mid-pass, remaining alerts deferred")
	default:
		metrics.BackgroundPassesTotal.WithLabelValues("failed").Inc()
	}
}

func (s *RefreshScheduler) scheduleNextWindow() {
	if err := s.windows.Request(s.RunBackgroundPass); err != nil {
		s.logger.Warn("Failed to request background window", zap.Error(err))
	}
}

// runPass fetches fresh rates for every subject an active alert watches
// and feeds them through the engine. A fetch failure skips the cycle; the
// next tick tries again.
func (s *RefreshScheduler) runPass(ctx context.Context, provenance model.Provenance) error {
	subjects, err := s.engine.Subjects(ctx)
	if err != nil {
		s.logger.Warn("Failed to collect alert subjects", zap.Error(err))
		return err
	}
	if len(subjects) == 0 {
		return nil
	}

	snapshots, err := s.fetcher.FetchRates(ctx, subjects)
	if err != nil {
		metrics.FetchTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("Rate fetch failed, skipping cycle",
			zap.Strings("subjects", subjects),
			zap.Error(err))
		return err
	}
	metrics.FetchTotal.WithLabelValues("success").Inc()

	var events []model.TriggerEvent
	var passErr error
	for i := range snapshots {
		snapshot := snapshots[i]
		snapshot.Provenance = provenance

		evaluated, err := s.engine.Evaluate(ctx, snapshot)
		events = append(events, evaluated...)
		if err != nil {
			// Committed transitions stand; stop evaluating this pass.
			passErr = err
			break
		}
	}

	if len(events) > 0 {
		if err := s.sink.Dispatch(ctx, events); err != nil {
			s.logger.Warn("Failed to dispatch trigger events", zap.Error(err))
		}
	}
	return passErr
}
