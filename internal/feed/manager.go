package feed

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ratewatch/internal/engine"
	"ratewatch/internal/metrics"
	"ratewatch/internal/model"
)

// State represents the streaming connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// EventSink consumes trigger events produced by stream evaluation
type EventSink interface {
	Dispatch(ctx context.Context, events []model.TriggerEvent) error
}

// feedTick is one quote frame from the stream
type feedTick struct {
	Subject   string  `json:"subject"`
	Rate      float64 `json:"rate"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds, 0 means now
}

// subscribeFrame is the frame sent to (re)declare the subscription set
type subscribeFrame struct {
	Type     string   `json:"type"`
	Subjects []string `json:"subjects"`
}

// Manager owns one logical streaming connection to the quote feed. The
// subscription set may change at any time and survives disconnects,
// suspends and reconnects; callers never need to resubmit it. Transient
// errors reconnect with backoff; disabling the feature or emptying the
// subscription set cancels the loop immediately.
type Manager struct {
	logger      *zap.Logger
	engine      *engine.Engine
	sink        EventSink
	url         string
	dialer      *websocket.Dialer
	backoff     RetryStrategy
	readTimeout time.Duration

	mu        sync.Mutex
	baseCtx   context.Context
	subjects  map[string]struct{}
	enabled   bool
	suspended bool
	state     State
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a live feed subscription manager
func NewManager(url string, eng *engine.Engine, sink EventSink, backoff RetryStrategy, readTimeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger.Named("feed"),
		engine: eng,
		sink:   sink,
		url:    url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		backoff:     backoff,
		readTimeout: readTimeout,
		subjects:    make(map[string]struct{}),
		enabled:     true,
		state:       StateDisconnected,
	}
}

// Start records the base context the connection loop derives from. No
// connection is opened until the subscription set is non-empty.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
	m.logger.Info("Live feed manager started", zap.String("url", m.url))
	return nil
}

// Stop tears down the connection loop
func (m *Manager) Stop() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
	m.stopLoop()
	m.logger.Info("Live feed manager stopped")
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subjects returns the retained subscription set, sorted
func (m *Manager) Subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subjectsLocked()
}

func (m *Manager) subjectsLocked() []string {
	subjects := make([]string, 0, len(m.subjects))
	for subject := range m.subjects {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}

// SetEnabled turns the live feed feature on or off. Disabling cancels any
// connection or pending reconnect immediately; the subscription set is
// retained for a later enable.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()

	if enabled {
		m.maybeStartLoop()
	} else {
		m.stopLoop()
	}
}

// SetSubjects replaces the subscription set. An empty set cancels the
// connection loop; a connected loop is resubscribed in place. Setting an
// unchanged set is a no-op.
func (m *Manager) SetSubjects(subjects []string) {
	next := make(map[string]struct{}, len(subjects))
	for _, subject := range subjects {
		next[subject] = struct{}{}
	}

	m.mu.Lock()
	if sameSubjects(m.subjects, next) && (len(next) == 0 || m.cancel != nil) {
		m.mu.Unlock()
		return
	}
	m.subjects = next
	conn := m.conn
	connected := m.state == StateConnected
	empty := len(m.subjects) == 0
	frame := subscribeFrame{Type: "subscribe", Subjects: m.subjectsLocked()}
	m.mu.Unlock()

	if empty {
		m.stopLoop()
		return
	}

	if connected && conn != nil {
		if err := m.writeFrame(conn, frame); err != nil {
			// The read loop will surface the broken connection.
			m.logger.Warn("Failed to resubscribe", zap.Error(err))
		}
		return
	}

	m.maybeStartLoop()
}

// Suspend disconnects for a background transition, retaining the
// subscription set in memory
func (m *Manager) Suspend() {
	m.mu.Lock()
	m.suspended = true
	m.mu.Unlock()
	m.stopLoop()
	m.logger.Info("Live feed suspended", zap.Int("retained_subjects", len(m.Subjects())))
}

// Resume reconnects after a foreground transition, but only when the
// feature is enabled and at least one subject is subscribed
func (m *Manager) Resume() {
	m.mu.Lock()
	m.suspended = false
	m.mu.Unlock()
	m.maybeStartLoop()
}

func (m *Manager) maybeStartLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.baseCtx == nil || !m.enabled || m.suspended || len(m.subjects) == 0 || m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.run(ctx, done)
}

func (m *Manager) stopLoop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	conn := m.conn
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done
}

// run is the connect/subscribe/read loop. It exits only on context
// cancellation; every other failure reconnects with backoff.
func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.setState(StateDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting)
		conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
		if err != nil {
			m.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("Feed connect failed",
				zap.String("url", m.url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if !m.waitBackoff(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.state = StateConnected
		frame := subscribeFrame{Type: "subscribe", Subjects: m.subjectsLocked()}
		m.mu.Unlock()

		m.logger.Info("Feed connected",
			zap.String("url", m.url),
			zap.Strings("subjects", frame.Subjects))

		err = m.writeFrame(conn, frame)
		if err == nil {
			attempt = 0
			err = m.readLoop(ctx, conn)
		}

		conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.state = StateDisconnected
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		metrics.FeedReconnectsTotal.Inc()
		m.logger.Warn("Feed disconnected, reconnecting", zap.Error(err))
		if !m.waitBackoff(ctx, attempt) {
			return
		}
		attempt++
	}
}

// readLoop consumes ticks until the connection breaks or ctx is canceled
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if m.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(m.readTimeout))
		}

		var tick feedTick
		if err := conn.ReadJSON(&tick); err != nil {
			return err
		}
		if tick.Subject == "" {
			continue
		}

		metrics.FeedTicksTotal.Inc()

		timestamp := time.Now()
		if tick.Timestamp > 0 {
			timestamp = time.UnixMilli(tick.Timestamp)
		}

		snapshot := model.RateSnapshot{
			Subject:    tick.Subject,
			Rate:       tick.Rate,
			Timestamp:  timestamp,
			Provenance: model.ProvenanceStream,
		}

		events, err := m.engine.Evaluate(ctx, snapshot)
		if err != nil {
			m.logger.Warn("Stream evaluation failed",
				zap.String("subject", tick.Subject),
				zap.Error(err))
		}
		if len(events) > 0 {
			if err := m.sink.Dispatch(ctx, events); err != nil {
				m.logger.Warn("Failed to dispatch trigger events", zap.Error(err))
			}
		}
	}
}

func (m *Manager) writeFrame(conn *websocket.Conn, frame subscribeFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return conn.WriteJSON(frame)
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func sameSubjects(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for subject := range a {
		if _, ok := b[subject]; !ok {
			return false
		}
	}
	return true
}

func (m *Manager) waitBackoff(ctx context.Context, attempt int) bool {
	delay := m.backoff.NextRetry(attempt)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
