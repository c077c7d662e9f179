package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/appointment"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/auth"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/validate"
)

// AppointmentService is the lifecycle manager as the HTTP layer uses it.
type AppointmentService interface {
	CreateAppointment(ctx context.Context, actor appointment.Actor, in appointment.CreateInput) (*appointment.Appointment, error)
	VerifyOTP(ctx context.Context, actor appointment.Actor, id uuid.UUID, code string) (*appointment.Appointment, error)
	ResendOTP(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID, reason string) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, actor appointment.Actor, f appointment.ListFilter) ([]appointment.Appointment, error)
}

func actorFrom(r *http.Request) (appointment.Actor, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return appointment.Actor{}, false
	}
	return appointment.Actor{UserID: p.UserID, Role: p.Role, ProfileID: p.ProfileID}, true
}

// withActor resolves the caller or answers 401.
func withActor(fn func(w http.ResponseWriter, r *http.Request, actor appointment.Actor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
			return
		}
		fn(w, r, actor)
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := validate.UUID("id", chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func parseCreateInput(req CreateAppointmentRequest) (appointment.CreateInput, error) {
	var in appointment.CreateInput
	var err error

	if in.DoctorID, err = validate.UUID("doctorId", req.DoctorID); err != nil {
		return in, err
	}
	if in.LocationID, err = validate.UUID("locationId", req.LocationID); err != nil {
		return in, err
	}
	if in.SpecialtyID, err = validate.UUID("specialtyId", req.SpecialtyID); err != nil {
		return in, err
	}
	if in.Date, err = validate.Date("date", req.Date); err != nil {
		return in, err
	}
	if req.Time == "" {
		return in, validate.Errorf("time", "is required")
	}
	in.Time = req.Time
	if req.Contact != "" {
		if in.Contact, err = validate.Email("contact", req.Contact); err != nil {
			return in, err
		}
	}
	if req.PatientID != "" {
		if in.PatientID, err = validate.UUID("patientId", req.PatientID); err != nil {
			return in, err
		}
	}
	return in, nil
}

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return withActor(func(w http.ResponseWriter, r *http.Request, actor appointment.Actor) {
		var req CreateAppointmentRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		in, err := parseCreateInput(req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), actor, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	})
}

func verifyOTPHandler(svc AppointmentService) http.HandlerFunc {
	return withActor(func(w http.ResponseWriter, r *http.Request, actor appointment.Actor) {
		var req VerifyOTPRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		id, err := validate.UUID("appointmentId", req.AppointmentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		code, err := validate.OTPCode("code", req.Code)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.VerifyOTP(r.Context(), actor, id, code)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	})
}

func resendOTPHandler(svc AppointmentService) http.HandlerFunc {
	return withActor(func(w http.ResponseWriter, r *http.Request, actor appointment.Actor) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.ResendOTP(r.Context(), actor, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	})
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return withActor(func(w http.ResponseWriter, r *http.Request, actor appointment.Actor) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if err := decodeJSON(w, r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), actor, id, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	})
}

func updateStatusHandler(svc AppointmentService) http.HandlerFunc {
	return withActor(func(w http.ResponseWriter, r *http.Request, actor appointment.Actor) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		var (
			appt *appointment.Appointment
			err  error
		)
		switch appointment.AppointmentStatus(req.Status) {
		case appointment.StatusCompleted:
			appt, err = svc.CompleteAppointment(r.Context(), actor, id)
		case appointment.StatusCancelled:
			appt, err = svc.CancelAppointment(r.Context(), actor, id, req.Reason)
		default:
			err = validate.Errorf("status", "must be one of completed, cancelled")
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	})
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return withActor(func(w http.ResponseWriter, r *http.Request, actor appointment.Actor) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actor, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	})
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return withActor(func(w http.ResponseWriter, r *http.Request, actor appointment.Actor) {
		q := r.URL.Query()
		limit, offset, err := pageParams(q.Get("limit"), q.Get("offset"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		f := appointment.ListFilter{Limit: limit, Offset: offset}
		if raw := q.Get("status"); raw != "" {
			st := appointment.AppointmentStatus(raw)
			switch st {
			case appointment.StatusPending, appointment.StatusConfirmed, appointment.StatusCancelled,
				appointment.StatusCompleted, appointment.StatusExpired:
				f.Status = &st
			default:
				writeServiceError(w, r, validate.Errorf("status", "unknown status %q", raw))
				return
			}
		}

		list, err := svc.ListAppointments(r.Context(), actor, f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AppointmentListResponse{Items: make([]AppointmentResponse, 0, len(list)), Limit: limit, Offset: offset}
		for i := range list {
			resp.Items = append(resp.Items, toAppointmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func pageParams(rawLimit, rawOffset string) (int, int, error) {
	var limit, offset int
	var err error
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil {
			return 0, 0, validate.Errorf("limit", "must be an integer")
		}
	}
	if rawOffset != "" {
		if offset, err = strconv.Atoi(rawOffset); err != nil {
			return 0, 0, validate.Errorf("offset", "must be an integer")
		}
	}
	limit, offset = validate.Page(limit, offset)
	return limit, offset, nil
}
