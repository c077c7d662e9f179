package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const appointmentColumns = `id, patient_id, doctor_id, location_id, specialty_id, date, time, contact,
	status, otp_expires_at, verified, cancel_reason, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.LocationID,
		&a.SpecialtyID,
		&a.Date,
		&a.Time,
		&a.Contact,
		&status,
		&a.OTPExpiresAt,
		&a.Verified,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func statusStrings(in []AppointmentStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::uuid IS NULL OR patient_id = $1)
		  AND ($2::uuid IS NULL OR doctor_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY date DESC, time DESC, id
		LIMIT $4 OFFSET $5
	`, f.PatientID, f.DoctorID, status, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) GetActiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND time = $3
		  AND status IN ('pending', 'confirmed', 'completed')
	`, doctorID, date, label)
	return scanAppointment(row)
}

func (r *PgRepository) CreatePendingAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, location_id, specialty_id, date, time, contact,
		                          status, otp_expires_at, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, false, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.LocationID, a.SpecialtyID, a.Date, a.Time, a.Contact, a.OTPExpiresAt)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus, reason *string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    verified = verified OR $2 = 'confirmed',
		    cancel_reason = COALESCE($3, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($4::text[])
		RETURNING `+appointmentColumns,
		id, string(to), reason, statusStrings(from))

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrInvalidTransition
	}
	return a, err
}

func (r *PgRepository) ExtendOTPExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET otp_expires_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+appointmentColumns,
		id, expiresAt)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrInvalidTransition
	}
	return a, err
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND otp_expires_at IS NOT NULL
		  AND otp_expires_at <= $1
		ORDER BY otp_expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired pending: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// IsSlotTaken reports whether err is the partial unique index on active bookings firing.
func IsSlotTaken(err error) bool {
	return db.IsUniqueViolation(err)
}
