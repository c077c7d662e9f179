package schedule

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

func (r *PgRepository) BookedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ss.time, ss.appointment_id
		FROM schedule_slots ss
		JOIN schedules s ON s.id = ss.schedule_id
		WHERE s.doctor_id = $1
		  AND s.date = $2
		  AND ss.booked
		ORDER BY ss.time
	`, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("query booked slots: %w", err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		var sl Slot
		if err := rows.Scan(&sl.Time, &sl.AppointmentID); err != nil {
			return nil, fmt.Errorf("scan booked slot: %w", err)
		}
		sl.Booked = true
		result = append(result, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ReserveSlot creates the schedule row if needed and flips the slot to booked in one
// statement. The DO UPDATE only fires while the slot is free, so a held slot yields no row.
func (r *PgRepository) ReserveSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) error {
	var scheduleID uuid.UUID
	err := r.db.QueryRow(ctx, `
		WITH s AS (
			INSERT INTO schedules (id, doctor_id, date, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
			ON CONFLICT (doctor_id, date) DO UPDATE SET updated_at = now()
			RETURNING id
		)
		INSERT INTO schedule_slots (schedule_id, time, booked, appointment_id, updated_at)
		SELECT s.id, $4, true, $5, now() FROM s
		ON CONFLICT (schedule_id, time) DO UPDATE
		SET booked = true,
		    appointment_id = EXCLUDED.appointment_id,
		    updated_at = now()
		WHERE schedule_slots.booked = false
		RETURNING schedule_id
	`, uuid.New(), doctorID, date, label, appointmentID).Scan(&scheduleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotAlreadyBooked
		}
		return fmt.Errorf("reserve slot: %w", err)
	}
	return nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE schedule_slots ss
		SET booked = false,
		    appointment_id = NULL,
		    updated_at = now()
		FROM schedules s
		WHERE ss.schedule_id = s.id
		  AND s.doctor_id = $1
		  AND s.date = $2
		  AND ss.time = $3
		  AND ss.appointment_id = $4
	`, doctorID, date, label, appointmentID)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) ReleaseOrphaned(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE schedule_slots ss
		SET booked = false,
		    appointment_id = NULL,
		    updated_at = now()
		WHERE ss.booked
		  AND ss.updated_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.id = ss.appointment_id
			  AND a.status IN ('pending', 'confirmed', 'completed')
		  )
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("release orphaned slots: %w", err)
	}
	return tag.RowsAffected(), nil
}
