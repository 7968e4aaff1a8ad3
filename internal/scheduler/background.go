package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ratewatch/internal/model"
)

// Availability reports the platform's background execution state
type Availability string

const (
	AvailabilityAvailable  Availability = "available"
	AvailabilityDenied     Availability = "denied"
	AvailabilityRestricted Availability = "restricted"
	AvailabilityUnknown    Availability = "unknown"
)

// BackgroundWindows is the platform collaborator that grants coarse,
// time-boxed background execution windows. Each Request schedules exactly
// one window; the callback's context expires when the window's budget is
// spent. Re-requesting is the caller's responsibility.
type BackgroundWindows interface {
	// Availability reports whether background execution is permitted
	Availability() Availability

	// Request asks for the next execution window. The callback runs once,
	// on its own goroutine, with a deadline-bound context.
	Request(fn func(ctx context.Context)) error

	// Stop cancels any pending window
	Stop()
}

// TimerWindows implements BackgroundWindows with a plain timer: a window
// is granted after every interval and carries a fixed time budget. It
// stands in for an OS background-task scheduler in server deployments.
type TimerWindows struct {
	logger       *zap.Logger
	availability Availability
	interval     time.Duration
	budget       time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewTimerWindows creates a timer-backed window grantor
func NewTimerWindows(logger *zap.Logger, availability Availability, interval, budget time.Duration) *TimerWindows {
	return &TimerWindows{
		logger:       logger.Named("background"),
		availability: availability,
		interval:     interval,
		budget:       budget,
	}
}

// Availability implements BackgroundWindows.Availability
func (w *TimerWindows) Availability() Availability {
	return w.availability
}

// Request implements BackgroundWindows.Request
func (w *TimerWindows) Request(fn func(ctx context.Context)) error {
	switch w.availability {
	case AvailabilityDenied, AvailabilityRestricted:
		return model.ErrBackgroundUnavailable
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.budget)
		defer cancel()
		fn(ctx)
	})
	return nil
}

// Stop implements BackgroundWindows.Stop
func (w *TimerWindows) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
