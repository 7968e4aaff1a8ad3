package store

import (
	"context"
	"time"

	"ratewatch/internal/model"
)

// AlertStore defines the interface for durable alert storage. It is the
// sole owner of alert identity and mutation; the engine never holds a
// private copy that can diverge from persisted state.
type AlertStore interface {
	// GetAll returns every alert in insertion order
	GetAll(ctx context.Context) ([]model.Alert, error)

	// Get retrieves an alert by id, ErrAlertNotFound when absent
	Get(ctx context.Context, id string) (model.Alert, error)

	// Upsert inserts or replaces an alert record
	Upsert(ctx context.Context, alert model.Alert) error

	// Delete removes an alert, ErrAlertNotFound when absent
	Delete(ctx context.Context, id string) error

	// MarkTriggered atomically transitions an enabled active alert to
	// triggered with the given timestamp. Returns false when the alert
	// was not in a triggerable state, so concurrent evaluations of the
	// same alert commit at most one transition.
	MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error)

	// UpdateStatus sets the status and triggered timestamp of an alert
	UpdateStatus(ctx context.Context, id string, status model.AlertStatus, triggeredAt *time.Time) error

	// SetEnabled flips the enabled flag together with the status that the
	// lifecycle rules derive from it, in one write
	SetEnabled(ctx context.Context, id string, enabled bool, status model.AlertStatus) error

	// CountByStatus returns the number of alerts currently in a status
	CountByStatus(ctx context.Context, status model.AlertStatus) (int, error)

	// Close releases underlying resources
	Close() error
}
