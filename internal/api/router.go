package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/auth"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/observability/metrics"
)

type RouterConfig struct {
	Appointments AppointmentService
	Schedule     ScheduleService
	Directory    DirectoryService

	// Authenticate rejects requests without a valid bearer token.
	Authenticate func(http.Handler) http.Handler
	Health       *HealthHandler

	Logger         zerolog.Logger
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.HTTPMetrics))
	r.Use(middleware.Recoverer)

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		// Reference data and availability are public.
		r.Get("/schedule", getScheduleHandler(cfg.Schedule))
		r.Get("/specialties", listSpecialtiesHandler(cfg.Directory))
		r.Get("/locations", listLocationsHandler(cfg.Directory))
		r.Get("/doctors", listDoctorsHandler(cfg.Directory))
		r.Get("/doctors/{id}", getDoctorHandler(cfg.Directory))

		// Appointment endpoints
		r.Route("/appointments", func(r chi.Router) {
			r.Use(cfg.Authenticate)

			r.With(auth.RequireRole(directory.RolePatient, directory.RoleAdmin)).Post("/", createAppointmentHandler(cfg.Appointments))
			r.Get("/", listAppointmentsHandler(cfg.Appointments))
			r.With(auth.RequireRole(directory.RolePatient, directory.RoleAdmin)).Post("/verify-otp", verifyOTPHandler(cfg.Appointments))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
			r.Delete("/{id}", cancelAppointmentHandler(cfg.Appointments))
			r.Patch("/{id}/status", updateStatusHandler(cfg.Appointments))
			r.With(auth.RequireRole(directory.RolePatient, directory.RoleAdmin)).Post("/{id}/resend-otp", resendOTPHandler(cfg.Appointments))
		})
	})

	return r
}
