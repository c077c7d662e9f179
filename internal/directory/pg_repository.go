package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/db"
)

type PgRepository struct {
	db db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

const doctorColumns = `id, user_id, full_name, specialty_id, location_id, bio, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.FullName,
		&d.SpecialtyID,
		&d.LocationID,
		&d.Bio,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.FullName,
		&p.Email,
		&p.Phone,
		&p.DateOfBirth,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanLocation(row pgx.Row) (*Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.Name, &l.Address, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return &l, nil
}

func scanSpecialty(row pgx.Row) (*Specialty, error) {
	var s Specialty
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpecialtyNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, full_name, email, phone, date_of_birth, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, address, created_at, updated_at
		FROM locations
		WHERE id = $1
	`, id)
	return scanLocation(row)
}

func (r *PgRepository) GetSpecialtyByID(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM specialties
		WHERE id = $1
	`, id)
	return scanSpecialty(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context, f DoctorFilter) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE ($1::uuid IS NULL OR specialty_id = $1)
		  AND ($2::uuid IS NULL OR location_id = $2)
		ORDER BY full_name, id
		LIMIT $3 OFFSET $4
	`, f.SpecialtyID, f.LocationID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, address, created_at, updated_at
		FROM locations
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var result []Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListSpecialties(ctx context.Context) ([]Specialty, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM specialties
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list specialties: %w", err)
	}
	defer rows.Close()

	var result []Specialty
	for rows.Next() {
		s, err := scanSpecialty(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}
