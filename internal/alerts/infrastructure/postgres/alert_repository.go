package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "enp-settlement/internal/alerts/domain"
)

// AlertRepository is a Postgres repository for enforcement alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, vehicle_id, tag_id, reason, priority, status,
	checkpoint_id, transaction_id, created_at, updated_at, resolved_at`

// Create inserts an alert.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, vehicle_id, tag_id, reason, priority, status,
	checkpoint_id, transaction_id, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10
)`, alert.ID, alert.VehicleID, alert.TagID, alert.Reason, alert.Priority, alert.Status,
		alert.CheckpointID, alert.TransactionID, alert.CreatedAt, alert.UpdatedAt)
	return err
}

// GetByID loads an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE id = $1
LIMIT 1`, id)
	return scanAlert(row)
}

// FindOpen returns an unresolved alert for the same subject and
// reason, if any. Unregistered-tag alerts match on the raw tag since
// no vehicle exists.
func (r *AlertRepository) FindOpen(ctx context.Context, vehicleID, tagID, reason string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE vehicle_id = $1 AND tag_id = $2 AND reason = $3 AND status IN ($4, $5)
ORDER BY created_at DESC
LIMIT 1`, vehicleID, tagID, reason, alerts.StatusActive, alerts.StatusInvestigating)
	return scanAlert(row)
}

// UpdateStatus applies a status change.
func (r *AlertRepository) UpdateStatus(ctx context.Context, id, status string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	var resolvedAt any
	if status == alerts.StatusResolved {
		resolvedAt = at
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, updated_at = $2, resolved_at = $3
WHERE id = $4`, status, at, resolvedAt, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	return nil
}

// ListByStatus returns alerts newest first, optionally filtered.
func (r *AlertRepository) ListByStatus(ctx context.Context, status string, limit int) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
ORDER BY created_at DESC
LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE status = $1
ORDER BY created_at DESC
LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		var a alerts.Alert
		var resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.VehicleID, &a.TagID, &a.Reason, &a.Priority, &a.Status,
			&a.CheckpointID, &a.TransactionID, &a.CreatedAt, &a.UpdatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			a.ResolvedAt = resolvedAt.Time
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanAlert(row *sql.Row) (*alerts.Alert, error) {
	var a alerts.Alert
	var resolvedAt sql.NullTime
	err := row.Scan(&a.ID, &a.VehicleID, &a.TagID, &a.Reason, &a.Priority, &a.Status,
		&a.CheckpointID, &a.TransactionID, &a.CreatedAt, &a.UpdatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alerts.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		a.ResolvedAt = resolvedAt.Time
	}
	return &a, nil
}
