package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/appointment"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/schedule"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/validate"
)

type CreateAppointmentRequest struct {
	DoctorID    string `json:"doctorId"`
	LocationID  string `json:"locationId"`
	SpecialtyID string `json:"specialtyId"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Contact     string `json:"contact,omitempty"`
	PatientID   string `json:"patientId,omitempty"`
}

type VerifyOTPRequest struct {
	AppointmentID string `json:"appointmentId"`
	Code          string `json:"code"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patientId"`
	DoctorID     uuid.UUID  `json:"doctorId"`
	LocationID   uuid.UUID  `json:"locationId"`
	SpecialtyID  uuid.UUID  `json:"specialtyId"`
	Date         string     `json:"date"`
	Time         string     `json:"time"`
	Status       string     `json:"status"`
	Verified     bool       `json:"verified"`
	OTPExpiresAt *time.Time `json:"otpExpiresAt,omitempty"`
	CancelReason *string    `json:"cancelReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type SlotResponse struct {
	Time   string `json:"time"`
	Booked bool   `json:"booked"`
}

type ScheduleResponse struct {
	DoctorID  uuid.UUID      `json:"doctorId"`
	Date      string         `json:"date"`
	Available []string       `json:"available"`
	Slots     []SlotResponse `json:"slots"`
}

type DoctorResponse struct {
	ID          uuid.UUID `json:"id"`
	FullName    string    `json:"fullName"`
	SpecialtyID uuid.UUID `json:"specialtyId"`
	LocationID  uuid.UUID `json:"locationId"`
	Bio         *string   `json:"bio,omitempty"`
}

type LocationResponse struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Address *string   `json:"address,omitempty"`
}

type SpecialtyResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		LocationID:   a.LocationID,
		SpecialtyID:  a.SpecialtyID,
		Date:         a.Date.Format(validate.DateLayout),
		Time:         a.Time,
		Status:       string(a.Status),
		Verified:     a.Verified,
		OTPExpiresAt: a.OTPExpiresAt,
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toScheduleResponse(s *schedule.Schedule, available []string) ScheduleResponse {
	resp := ScheduleResponse{
		DoctorID:  s.DoctorID,
		Date:      s.Date.Format(validate.DateLayout),
		Available: available,
		Slots:     make([]SlotResponse, 0, len(s.Slots)),
	}
	if resp.Available == nil {
		resp.Available = []string{}
	}
	for _, sl := range s.Slots {
		resp.Slots = append(resp.Slots, SlotResponse{Time: sl.Time, Booked: sl.Booked})
	}
	return resp
}

func toDoctorResponse(d *directory.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:          d.ID,
		FullName:    d.FullName,
		SpecialtyID: d.SpecialtyID,
		LocationID:  d.LocationID,
		Bio:         d.Bio,
	}
}
