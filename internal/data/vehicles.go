package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Vehicle statuses. The database enforces the same set with a CHECK
// constraint.
const (
	VehicleStatusActive      = "active"
	VehicleStatusMaintenance = "maintenance"
	VehicleStatusRetired     = "retired"
)

// Vehicle is a fleet unit shown on the dashboard.
type Vehicle struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	VIN          string     `json:"vin"`
	LicensePlate string     `json:"license_plate"`
	Status       string     `json:"status"`
	OdometerKm   int        `json:"odometer_km"`
	Tags         []string   `json:"tags"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

type VehicleModel struct {
	DB DBTX
}

// Create inserts a new vehicle. VIN uniqueness is enforced by the DB.
func (m VehicleModel) Create(ctx context.Context, v *Vehicle) error {
	query := `
		INSERT INTO vehicles (name, vin, license_plate, status, odometer_km, tags)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		v.Name, v.VIN, v.LicensePlate, v.Status, v.OdometerKm, pq.Array(v.Tags),
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
}

func (m VehicleModel) GetByID(ctx context.Context, id uuid.UUID) (*Vehicle, error) {
	query := `
		SELECT id, name, vin, license_plate, status, odometer_km, tags,
		       created_at, updated_at, deleted_at
		FROM vehicles
		WHERE id = $1 AND deleted_at IS NULL`

	var v Vehicle
	var tags []string
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.Name, &v.VIN, &v.LicensePlate, &v.Status, &v.OdometerKm,
		pq.Array(&tags), &v.CreatedAt, &v.UpdatedAt, &v.DeletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	v.Tags = tags
	return &v, nil
}

func (m VehicleModel) Update(ctx context.Context, v *Vehicle) error {
	query := `
		UPDATE vehicles
		SET name = $1, license_plate = $2, status = $3, odometer_km = $4,
		    tags = $5, updated_at = NOW()
		WHERE id = $6 AND deleted_at IS NULL
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		v.Name, v.LicensePlate, v.Status, v.OdometerKm, pq.Array(v.Tags), v.ID,
	).Scan(&v.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

func (m VehicleModel) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE vehicles SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	res, err := m.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// VehicleFilter parameters
type VehicleFilter struct {
	Status string
	Query  string
}

// List retrieves paginated vehicles with a total count for the dashboard
// pager.
func (m VehicleModel) List(ctx context.Context, filter VehicleFilter, limit, offset int) ([]*Vehicle, int, error) {
	where := "WHERE deleted_at IS NULL"
	args := []any{}
	nextArg := 1

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", nextArg)
		args = append(args, filter.Status)
		nextArg++
	}
	if filter.Query != "" {
		where += fmt.Sprintf(" AND (name ILIKE '%%' || $%d || '%%' OR vin ILIKE '%%' || $%d || '%%' OR license_plate ILIKE '%%' || $%d || '%%')", nextArg, nextArg, nextArg)
		args = append(args, filter.Query)
		nextArg++
	}

	countQuery := "SELECT count(*) FROM vehicles " + where
	var total int
	if err := m.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, name, vin, license_plate, status, odometer_km, tags,
		       created_at, updated_at
		FROM vehicles
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, nextArg, nextArg+1)
	args = append(args, limit, offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var vehicles []*Vehicle
	for rows.Next() {
		var v Vehicle
		var tags []string
		if err := rows.Scan(&v.ID, &v.Name, &v.VIN, &v.LicensePlate, &v.Status,
			&v.OdometerKm, pq.Array(&tags), &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, err
		}
		v.Tags = tags
		vehicles = append(vehicles, &v)
	}
	return vehicles, total, rows.Err()
}
