package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ratewatch/internal/model"
)

// SQLiteStore implements AlertStore using SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the alert database at dbPath
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistenceUnavailable, err)
	}

	s := &SQLiteStore{
		logger: logger,
		db:     db,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the alerts table if it doesn't exist. Loading an
// existing database that fails here is treated by the caller as corrupt
// storage and degraded to an in-memory store.
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			base TEXT,
			target TEXT,
			crypto_id TEXT,
			crypto_symbol TEXT,
			condition_kind TEXT NOT NULL,
			threshold REAL NOT NULL,
			target_value TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			status TEXT NOT NULL,
			triggered_at DATETIME,
			created_at DATETIME NOT NULL,
			auto_reset_after_hours INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_kind ON alerts(kind);
	`)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersistenceUnavailable, err)
	}
	return nil
}

// GetAll implements AlertStore.GetAll. Rowid order preserves insertion
// order across upserts because ON CONFLICT DO UPDATE keeps the row.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, base, target, crypto_id, crypto_symbol,
		       condition_kind, threshold, target_value, enabled, status,
		       triggered_at, created_at, auto_reset_after_hours
		FROM alerts ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// Get implements AlertStore.Get
func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, base, target, crypto_id, crypto_symbol,
		       condition_kind, threshold, target_value, enabled, status,
		       triggered_at, created_at, auto_reset_after_hours
		FROM alerts WHERE id = ?`, id)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return model.Alert{}, fmt.Errorf("%w: %s", model.ErrAlertNotFound, id)
	}
	return alert, err
}

// Upsert implements AlertStore.Upsert
func (s *SQLiteStore) Upsert(ctx context.Context, alert model.Alert) error {
	var triggeredAt interface{}
	if alert.TriggeredAt != nil {
		triggeredAt = alert.TriggeredAt.UTC()
	}
	var autoReset interface{}
	if alert.AutoResetAfterHours != nil {
		autoReset = *alert.AutoResetAfterHours
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, kind, base, target, crypto_id, crypto_symbol,
			condition_kind, threshold, target_value, enabled, status,
			triggered_at, created_at, auto_reset_after_hours
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			base = excluded.base,
			target = excluded.target,
			crypto_id = excluded.crypto_id,
			crypto_symbol = excluded.crypto_symbol,
			condition_kind = excluded.condition_kind,
			threshold = excluded.threshold,
			target_value = excluded.target_value,
			enabled = excluded.enabled,
			status = excluded.status,
			triggered_at = excluded.triggered_at,
			created_at = excluded.created_at,
			auto_reset_after_hours = excluded.auto_reset_after_hours`,
		alert.ID, string(alert.Kind), alert.Base, alert.Target,
		alert.CryptoID, alert.CryptoSymbol,
		string(alert.Condition.Kind), alert.Condition.Threshold,
		alert.TargetValue.String(), alert.Enabled, string(alert.Status),
		triggeredAt, alert.CreatedAt.UTC(), autoReset)
	if err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}
	return nil
}

// Delete implements AlertStore.Delete
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", model.ErrAlertNotFound, id)
	}
	return nil
}

// MarkTriggered implements AlertStore.MarkTriggered. The status guard in
// the WHERE clause is what makes the active -> triggered transition
// commit at most once under concurrent evaluation.
func (s *SQLiteStore) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, triggered_at = ?
		WHERE id = ? AND enabled = 1 AND status = ?`,
		string(model.AlertStatusTriggered), at.UTC(), id,
		string(model.AlertStatusActive))
	if err != nil {
		return false, fmt.Errorf("failed to mark alert triggered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatus implements AlertStore.UpdateStatus
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.AlertStatus, triggeredAt *time.Time) error {
	var at interface{}
	if triggeredAt != nil {
		at = triggeredAt.UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, triggered_at = ? WHERE id = ?`,
		string(status), at, id)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", model.ErrAlertNotFound, id)
	}
	return nil
}

// SetEnabled implements AlertStore.SetEnabled. Moving out of triggered
// clears the trigger timestamp in the same statement.
func (s *SQLiteStore) SetEnabled(ctx context.Context, id string, enabled bool, status model.AlertStatus) error {
	var query string
	if status == model.AlertStatusTriggered {
		query = `UPDATE alerts SET enabled = ?, status = ? WHERE id = ?`
	} else {
		query = `UPDATE alerts SET enabled = ?, status = ?, triggered_at = NULL WHERE id = ?`
	}
	result, err := s.db.ExecContext(ctx, query, enabled, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update alert enabled flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", model.ErrAlertNotFound, id)
	}
	return nil
}

// CountByStatus implements AlertStore.CountByStatus
func (s *SQLiteStore) CountByStatus(ctx context.Context, status model.AlertStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// Close implements AlertStore.Close
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (model.Alert, error) {
	var (
		alert         model.Alert
		kind          string
		conditionKind string
		status        string
		targetValue   string
		triggeredAt   sql.NullTime
		autoReset     sql.NullInt64
	)

	err := row.Scan(&alert.ID, &kind, &alert.Base, &alert.Target,
		&alert.CryptoID, &alert.CryptoSymbol,
		&conditionKind, &alert.Condition.Threshold, &targetValue,
		&alert.Enabled, &status, &triggeredAt, &alert.CreatedAt, &autoReset)
	if err != nil {
		return model.Alert{}, err
	}

	alert.Kind = model.AlertKind(kind)
	alert.Condition.Kind = model.ConditionKind(conditionKind)
	alert.Status = model.AlertStatus(status)

	value, err := decimal.NewFromString(targetValue)
	if err != nil {
		return model.Alert{}, fmt.Errorf("invalid target value %q: %w", targetValue, err)
	}
	alert.TargetValue = value

	if triggeredAt.Valid {
		t := triggeredAt.Time
		alert.TriggeredAt = &t
	}
	if autoReset.Valid {
		hours := int(autoReset.Int64)
		alert.AutoResetAfterHours = &hours
	}

	return alert, nil
}
