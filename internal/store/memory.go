package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ratewatch/internal/model"
)

// MemoryStore implements AlertStore in process memory. It backs tests and
// the degrade path taken when durable storage cannot be opened.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]model.Alert
	order  []string
}

// NewMemoryStore creates an empty in-memory alert store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]model.Alert),
	}
}

// GetAll implements AlertStore.GetAll
func (s *MemoryStore) GetAll(ctx context.Context) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alerts := make([]model.Alert, 0, len(s.order))
	for _, id := range s.order {
		alerts = append(alerts, s.alerts[id])
	}
	return alerts, nil
}

// Get implements AlertStore.Get
func (s *MemoryStore) Get(ctx context.Context, id string) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return model.Alert{}, fmt.Errorf("%w: %s", model.ErrAlertNotFound, id)
	}
	return alert, nil
}

// Upsert implements AlertStore.Upsert
func (s *MemoryStore) Upsert(ctx context.Context, alert model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[alert.ID]; !ok {
		s.order = append(s.order, alert.ID)
	}
	s.alerts[alert.ID] = alert
	return nil
}

// Delete implements AlertStore.Delete
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[id]; !ok {
		return fmt.Errorf("%w: %s", model.ErrAlertNotFound, id)
	}
	delete(s.alerts, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// MarkTriggered implements AlertStore.MarkTriggered. The store mutex makes
// the read-decide-write a single critical section, so concurrent callers
// commit at most one transition.
func (s *MemoryStore) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", model.ErrAlertNotFound, id)
	}
	if !alert.Enabled || alert.Status != model.AlertStatusActive {
		return false, nil
	}

	triggeredAt := at
	alert.Status = model.AlertStatusTriggered
	alert.TriggeredAt = &triggeredAt
	s.alerts[id] = alert
	return true, nil
}

// UpdateStatus implements AlertStore.UpdateStatus
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status model.AlertStatus, triggeredAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrAlertNotFound, id)
	}
	alert.Status = status
	alert.TriggeredAt = triggeredAt
	s.alerts[id] = alert
	return nil
}

// SetEnabled implements AlertStore.SetEnabled
func (s *MemoryStore) SetEnabled(ctx context.Context, id string, enabled bool, status model.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrAlertNotFound, id)
	}
	alert.Enabled = enabled
	alert.Status = status
	if status != model.AlertStatusTriggered {
		alert.TriggeredAt = nil
	}
	s.alerts[id] = alert
	return nil
}

// CountByStatus implements AlertStore.CountByStatus
func (s *MemoryStore) CountByStatus(ctx context.Context, status model.AlertStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, alert := range s.alerts {
		if alert.Status == status {
			count++
		}
	}
	return count, nil
}

// Close implements AlertStore.Close
func (s *MemoryStore) Close() error {
	return nil
}

// Open returns a SQLite-backed store at dbPath, degrading to an empty
// in-memory store when the file cannot be opened or is corrupt. Startup
// never fails on bad storage.
func Open(logger *zap.Logger, dbPath string) AlertStore {
	s, err := NewSQLiteStore(logger, dbPath)
	if err != nil {
		logger.Warn("Alert storage unavailable, starting with empty in-memory set",
			zap.String("path", dbPath),
			zap.Error(err))
		return NewMemoryStore()
	}
	return s
}
