package availability

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/telehealth/platform/internal/shared/errors"
)

// PostgresRepository is the durable store behind the registry
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new availability repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Upsert creates or replaces a doctor's availability record
func (r *PostgresRepository) Upsert(ctx context.Context, doctor *DoctorAvailability) error {
	query := `
		INSERT INTO telehealth.doctor_availability (
			doctor_username, is_online, specialties, current_load, max_load,
			last_seen, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (doctor_username) DO UPDATE SET
			is_online = EXCLUDED.is_online,
			specialties = EXCLUDED.specialties,
			max_load = EXCLUDED.max_load,
			last_seen = EXCLUDED.last_seen,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		doctor.DoctorUsername, doctor.IsOnline, doctor.Specialties,
		doctor.CurrentLoad, doctor.MaxLoad,
		doctor.LastSeen, doctor.CreatedAt, doctor.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to upsert doctor availability")
	}

	return nil
}

// Get retrieves a doctor's availability record
func (r *PostgresRepository) Get(ctx context.Context, doctorUsername string) (*DoctorAvailability, error) {
	query := `
		SELECT doctor_username, is_online, specialties, current_load, max_load,
			last_seen, created_at, updated_at
		FROM telehealth.doctor_availability
		WHERE doctor_username = $1`

	doctor := &DoctorAvailability{}
	err := r.pool.QueryRow(ctx, query, doctorUsername).Scan(
		&doctor.DoctorUsername, &doctor.IsOnline, &doctor.Specialties,
		&doctor.CurrentLoad, &doctor.MaxLoad,
		&doctor.LastSeen, &doctor.CreatedAt, &doctor.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("doctor availability", doctorUsername)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get doctor availability")
	}

	return doctor, nil
}

// List returns all availability records
func (r *PostgresRepository) List(ctx context.Context) ([]DoctorAvailability, error) {
	query := `
		SELECT doctor_username, is_online, specialties, current_load, max_load,
			last_seen, created_at, updated_at
		FROM telehealth.doctor_availability
		ORDER BY doctor_username`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list doctor availability")
	}
	defer rows.Close()

	var doctors []DoctorAvailability
	for rows.Next() {
		var d DoctorAvailability
		err := rows.Scan(
			&d.DoctorUsername, &d.IsOnline, &d.Specialties,
			&d.CurrentLoad, &d.MaxLoad,
			&d.LastSeen, &d.CreatedAt, &d.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan doctor availability")
		}
		doctors = append(doctors, d)
	}

	return doctors, nil
}

// AdjustLoad applies a clamped load delta. The WHERE clause re-checks
// the bounds so a concurrent process cannot push the counter past them;
// zero rows affected on an increment means the doctor reached capacity.
func (r *PostgresRepository) AdjustLoad(ctx context.Context, doctorUsername string, delta int) error {
	var query string
	switch {
	case delta > 0:
		query = `
			UPDATE telehealth.doctor_availability
			SET current_load = current_load + $2, updated_at = NOW()
			WHERE doctor_username = $1 AND current_load + $2 <= max_load`
	case delta < 0:
		query = `
			UPDATE telehealth.doctor_availability
			SET current_load = GREATEST(current_load + $2, 0), updated_at = NOW()
			WHERE doctor_username = $1`
	default:
		return nil
	}

	result, err := r.pool.Exec(ctx, query, doctorUsername, delta)
	if err != nil {
		return apperrors.Wrap(err, "failed to adjust doctor load")
	}

	if delta > 0 && result.RowsAffected() == 0 {
		return apperrors.CapacityExceeded(doctorUsername)
	}

	return nil
}

var _ Repository = (*PostgresRepository)(nil)
