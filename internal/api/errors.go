package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/appointment"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/otp"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/schedule"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/validate"
)

const retryAfterSeconds = "5"

// writeServiceError maps domain errors to status codes. 5xx responses never carry err's text.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())

	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation_error", verr.Error())
	case errors.Is(err, appointment.ErrOTPInvalid):
		writeError(w, http.StatusBadRequest, "otp_invalid", err.Error())

	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, directory.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())

	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, schedule.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, appointment.ErrAlreadyConfirmed):
		writeError(w, http.StatusConflict, "already_confirmed", err.Error())
	case errors.Is(err, appointment.ErrOTPExpired):
		writeError(w, http.StatusConflict, "otp_expired", err.Error())
	case errors.Is(err, appointment.ErrVisitNotStarted):
		writeError(w, http.StatusConflict, "visit_not_started", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())

	case errors.Is(err, appointment.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", err.Error())
	case errors.Is(err, otp.ErrResendTooSoon):
		writeError(w, http.StatusTooManyRequests, "resend_too_soon", err.Error())
	case errors.Is(err, appointment.ErrHoldLimitReached):
		writeError(w, http.StatusTooManyRequests, "resend_limit_reached", err.Error())

	case errors.Is(err, otp.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		logger.Error().Err(err).Msg("dependency unavailable")
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "a dependency is temporarily unavailable, retry shortly")

	default:
		logger.Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	logger.Info().Err(err).Msg("request rejected")
}
