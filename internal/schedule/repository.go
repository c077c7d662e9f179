package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSlotAlreadyBooked = errors.New("slot already booked")

// Repository persists per doctor/date bookings. ReserveSlot and ReleaseSlot are each a
// single conditional write.
type Repository interface {
	BookedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error)
	// ReserveSlot returns ErrSlotAlreadyBooked when another appointment holds the slot.
	ReserveSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) error
	// ReleaseSlot frees the slot only if appointmentID holds it and reports whether it did.
	ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) (bool, error)
	// ReleaseOrphaned frees slots last touched before olderThan whose holder is no longer active.
	ReleaseOrphaned(ctx context.Context, olderThan time.Time) (int64, error)
}
