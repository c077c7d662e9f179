package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("appointment status does not allow this action")
	ErrAlreadyConfirmed    = errors.New("appointment already confirmed")
	ErrForbidden           = errors.New("not allowed to act on this appointment")
	ErrOTPInvalid          = errors.New("verification code is incorrect")
	ErrOTPExpired          = errors.New("verification code expired")
	ErrTooManyAttempts     = errors.New("too many verification attempts")
	ErrVisitNotStarted     = errors.New("appointment time has not started yet")
	ErrHoldLimitReached    = errors.New("pending appointment can no longer be extended, book again")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// For lazy expiry of a stale holder on conflict
	GetActiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string) (*Appointment, error)

	// Creation and updates
	CreatePendingAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateAppointmentStatus moves id to `to` only while its status is one of from.
	// ErrInvalidTransition means no row matched.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus, reason *string) (*Appointment, error)
	ExtendOTPExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) (*Appointment, error)

	// Expiry worker
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
