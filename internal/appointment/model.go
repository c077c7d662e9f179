package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusExpired   AppointmentStatus = "expired"
)

// Terminal reports whether no further transition is allowed out of s.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

const (
	CancelReasonOTPDelivery = "otp_delivery_failed"
)

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	LocationID   uuid.UUID
	SpecialtyID  uuid.UUID
	Date         time.Time
	Time         string
	Contact      string
	Status       AppointmentStatus
	OTPExpiresAt *time.Time
	Verified     bool
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OTPPurpose scopes the appointment's verification code.
func (a *Appointment) OTPPurpose() string {
	return "appointment:" + a.ID.String()
}

// OTPLapsed reports whether the verification window closed before now.
func (a *Appointment) OTPLapsed(now time.Time) bool {
	return a.OTPExpiresAt != nil && !now.Before(*a.OTPExpiresAt)
}

type CreateInput struct {
	PatientID   uuid.UUID // admins only; patients book for themselves
	DoctorID    uuid.UUID
	LocationID  uuid.UUID
	SpecialtyID uuid.UUID
	Date        time.Time
	Time        string
	Contact     string // defaults to the patient's email
}

type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *AppointmentStatus
	Limit     int
	Offset    int
}

// Actor is the caller a lifecycle operation runs on behalf of.
type Actor struct {
	UserID    uuid.UUID
	Role      directory.Role
	ProfileID uuid.UUID
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

const (
	EventCreated   = "APPOINTMENT_CREATED"
	EventConfirmed = "APPOINTMENT_CONFIRMED"
	EventCancelled = "APPOINTMENT_CANCELLED"
	EventCompleted = "APPOINTMENT_COMPLETED"
	EventExpired   = "APPOINTMENT_EXPIRED"
	EventOTPResent = "OTP_RESENT"
)
