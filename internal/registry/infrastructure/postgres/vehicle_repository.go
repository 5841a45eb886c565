package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"enp-settlement/internal/money"
	registry "enp-settlement/internal/registry/domain"
)

// VehicleRepository persists vehicle records in Postgres.
type VehicleRepository struct {
	db *sql.DB
}

// NewVehicleRepository constructs a vehicle repository.
func NewVehicleRepository(db *sql.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

const vehicleColumns = `id, license_plate, rfid_tag, vehicle_type, balance_minor, status, owner_id,
	warrant_flag, registration_expires_at, created_at, updated_at`

// FindByTag resolves a vehicle by RFID tag.
func (r *VehicleRepository) FindByTag(ctx context.Context, tag string) (*registry.Vehicle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vehicle repo: nil db")
	}
	if tag == "" {
		return nil, registry.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+vehicleColumns+`
FROM vehicles
WHERE rfid_tag = $1 AND status <> $2
LIMIT 1`, tag, registry.StatusUnregistered)
	return scanVehicle(row)
}

// GetByID fetches a vehicle by id.
func (r *VehicleRepository) GetByID(ctx context.Context, id string) (*registry.Vehicle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vehicle repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+vehicleColumns+`
FROM vehicles
WHERE id = $1
LIMIT 1`, id)
	return scanVehicle(row)
}

// Create registers a new vehicle. Tag uniqueness among active
// vehicles is enforced by a partial unique index
// (vehicles_active_rfid_tag_key ON (rfid_tag) WHERE status <>
// 'unregistered'), so concurrent registrations of the same tag
// cannot both land.
func (r *VehicleRepository) Create(ctx context.Context, vehicle *registry.Vehicle) error {
	if r == nil || r.db == nil {
		return errors.New("vehicle repo: nil db")
	}
	if vehicle == nil {
		return errors.New("vehicle repo: nil vehicle")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO vehicles (
	id, license_plate, rfid_tag, vehicle_type, balance_minor, status, owner_id,
	warrant_flag, registration_expires_at, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, vehicle.ID, vehicle.LicensePlate, vehicle.Tag, vehicle.VehicleType, vehicle.Balance.Minor(),
		vehicle.Status, vehicle.OwnerID, vehicle.WarrantFlag, nullTime(vehicle.RegistrationExpiresAt),
		vehicle.CreatedAt, vehicle.UpdatedAt)
	if isTagViolation(err) {
		return registry.ErrTagTaken
	}
	return err
}

// UpdateStatus applies a status transition.
func (r *VehicleRepository) UpdateStatus(ctx context.Context, id, status string) (*registry.Vehicle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vehicle repo: nil db")
	}
	if !registry.ValidStatus(status) {
		return nil, registry.ErrInvalidTransition
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !registry.CanTransition(current.Status, status) {
		return nil, registry.ErrInvalidTransition
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
UPDATE vehicles
SET status = $1, updated_at = $2
WHERE id = $3`, status, now, id)
	if err != nil {
		return nil, err
	}
	current.Status = status
	current.UpdatedAt = now
	return current, nil
}

// ApplyBalanceDelta conditionally mutates the balance. The update
// only succeeds when the stored balance still equals expected; a
// stale expectation returns ErrBalanceConflict and changes nothing.
func (r *VehicleRepository) ApplyBalanceDelta(ctx context.Context, id string, delta, expected money.Amount) (*registry.Vehicle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vehicle repo: nil db")
	}
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
UPDATE vehicles
SET balance_minor = balance_minor + $1, updated_at = $2
WHERE id = $3 AND balance_minor = $4`, delta.Minor(), now, id, expected.Minor())
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a lost race from a missing vehicle.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, registry.ErrBalanceConflict
	}
	return r.GetByID(ctx, id)
}

func scanVehicle(row *sql.Row) (*registry.Vehicle, error) {
	var v registry.Vehicle
	var balance int64
	var expires sql.NullTime
	err := row.Scan(&v.ID, &v.LicensePlate, &v.Tag, &v.VehicleType, &balance, &v.Status, &v.OwnerID,
		&v.WarrantFlag, &expires, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Balance = money.FromMinor(balance)
	if expires.Valid {
		v.RegistrationExpiresAt = expires.Time
	}
	return &v, nil
}

func isTagViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		strings.Contains(pgErr.ConstraintName, "rfid_tag")
}

func nullTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value
}
