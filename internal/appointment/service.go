package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/observability/metrics"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/otp"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/schedule"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/validate"
)

// Directory resolves the references an appointment points at.
type Directory interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	GetLocationByID(ctx context.Context, id uuid.UUID) (*directory.Location, error)
	GetSpecialtyByID(ctx context.Context, id uuid.UUID) (*directory.Specialty, error)
}

// Slots is the schedule store as the lifecycle sees it.
type Slots interface {
	ReserveSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) error
	ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) error
	HasStarted(date time.Time, label string) bool
}

// Codes issues and checks the booking OTP.
type Codes interface {
	Issue(ctx context.Context, contact, purpose string) (time.Time, error)
	Verify(ctx context.Context, contact, purpose, code string) (otp.Result, error)
	Revoke(ctx context.Context, contact, purpose string) error
	TTL() time.Duration
}

// DefaultMaxHold bounds how long a pending appointment can keep its slot through resends.
const DefaultMaxHold = 15 * time.Minute

type Service struct {
	repo    Repository
	dir     Directory
	slots   Slots
	codes   Codes
	metrics *metrics.BookingMetrics
	logger  zerolog.Logger
	tracer  trace.Tracer
	maxHold time.Duration

	now func() time.Time
}

func NewService(repo Repository, dir Directory, slots Slots, codes Codes, m *metrics.BookingMetrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		dir:     dir,
		slots:   slots,
		codes:   codes,
		metrics: m,
		logger:  logger.With().Str("component", "appointment").Logger(),
		tracer:  otel.Tracer("telehealth/appointment"),
		maxHold: DefaultMaxHold,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithMaxHold sets how long after creation a pending appointment may still be extended.
func (s *Service) WithMaxHold(d time.Duration) *Service {
	if d > 0 {
		s.maxHold = d
	}
	return s
}

// CreateAppointment reserves the slot, stores a pending appointment and sends the OTP.
// The slot stays held until the appointment is confirmed, cancelled or expired.
func (s *Service) CreateAppointment(ctx context.Context, actor Actor, in CreateInput) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.create")
	defer span.End()

	appt, err := s.createAppointment(ctx, actor, in)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID.String()))
	return appt, nil
}

func (s *Service) createAppointment(ctx context.Context, actor Actor, in CreateInput) (*Appointment, error) {
	patientID, err := s.bookingPatient(actor, in.PatientID)
	if err != nil {
		return nil, err
	}

	patient, err := s.dir.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, referenceError(err, "patientId", directory.ErrPatientNotFound)
	}
	doctor, err := s.dir.GetDoctorByID(ctx, in.DoctorID)
	if err != nil {
		return nil, referenceError(err, "doctorId", directory.ErrDoctorNotFound)
	}
	if _, err := s.dir.GetLocationByID(ctx, in.LocationID); err != nil {
		return nil, referenceError(err, "locationId", directory.ErrLocationNotFound)
	}
	if _, err := s.dir.GetSpecialtyByID(ctx, in.SpecialtyID); err != nil {
		return nil, referenceError(err, "specialtyId", directory.ErrSpecialtyNotFound)
	}
	if doctor.SpecialtyID != in.SpecialtyID {
		return nil, validate.Errorf("specialtyId", "doctor does not practise this specialty")
	}
	if doctor.LocationID != in.LocationID {
		return nil, validate.Errorf("locationId", "doctor does not work at this location")
	}

	date := schedule.DateOnly(in.Date)
	if s.slots.HasStarted(date, in.Time) {
		return nil, validate.Errorf("time", "slot %s on %s has already started", in.Time, date.Format(validate.DateLayout))
	}

	contact := in.Contact
	if contact == "" {
		contact = patient.Email
	}

	id := uuid.New()
	if err := s.reserve(ctx, doctor.ID, date, in.Time, id); err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.codes.TTL())
	created, err := s.repo.CreatePendingAppointment(ctx, &Appointment{
		ID:           id,
		PatientID:    patient.ID,
		DoctorID:     doctor.ID,
		LocationID:   in.LocationID,
		SpecialtyID:  in.SpecialtyID,
		Date:         date,
		Time:         in.Time,
		Contact:      contact,
		OTPExpiresAt: &expiresAt,
		CreatedAt:    s.now(),
	})
	if err != nil {
		s.releaseQuietly(ctx, doctor.ID, date, in.Time, id)
		if IsSlotTaken(err) {
			s.metrics.ObserveSlotConflict()
			return nil, schedule.ErrSlotAlreadyBooked
		}
		return nil, fmt.Errorf("create pending appointment: %w", err)
	}
	s.metrics.ObserveTransition(string(StatusPending))
	s.logEvent(ctx, created.ID, EventCreated, map[string]any{
		"patient_id": created.PatientID.String(),
		"doctor_id":  created.DoctorID.String(),
		"date":       date.Format(validate.DateLayout),
		"time":       created.Time,
	})

	if _, err := s.codes.Issue(ctx, contact, created.OTPPurpose()); err != nil {
		s.metrics.ObserveOTPSend(false)
		s.abandon(ctx, created, CancelReasonOTPDelivery)
		if errors.Is(err, otp.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("send verification code: %w: %v", otp.ErrUnavailable, err)
	}
	s.metrics.ObserveOTPSend(true)

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Str("date", date.Format(validate.DateLayout)).
		Str("time", created.Time).
		Msg("pending appointment created")
	return created, nil
}

// reserve takes the slot. A holder that is still pending with a lapsed OTP is expired
// on the spot and the reservation retried once.
func (s *Service) reserve(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, id uuid.UUID) error {
	err := s.slots.ReserveSlot(ctx, doctorID, date, label, id)
	if !errors.Is(err, schedule.ErrSlotAlreadyBooked) {
		return err
	}

	holder, herr := s.repo.GetActiveAppointmentForSlot(ctx, doctorID, date, label)
	if herr == nil && holder.Status == StatusPending && holder.OTPLapsed(s.now()) {
		if s.expire(ctx, holder, "lazy_on_create") {
			err = s.slots.ReserveSlot(ctx, doctorID, date, label, id)
		}
	}
	if errors.Is(err, schedule.ErrSlotAlreadyBooked) {
		s.metrics.ObserveSlotConflict()
	}
	return err
}

// abandon cancels a pending appointment the patient can never confirm.
func (s *Service) abandon(ctx context.Context, a *Appointment, reason string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.repo.UpdateAppointmentStatus(ctx, a.ID, []AppointmentStatus{StatusPending}, StatusCancelled, &reason); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to cancel undeliverable appointment")
	} else {
		s.metrics.ObserveTransition(string(StatusCancelled))
		s.logEvent(ctx, a.ID, EventCancelled, map[string]any{"reason": reason})
	}
	s.releaseQuietly(ctx, a.DoctorID, a.Date, a.Time, a.ID)
}

// VerifyOTP confirms a pending appointment when code matches.
func (s *Service) VerifyOTP(ctx context.Context, actor Actor, id uuid.UUID, code string) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.verify_otp", trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer span.End()

	appt, err := s.loadFor(ctx, actor, id, false)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	switch appt.Status {
	case StatusPending:
	case StatusConfirmed, StatusCompleted:
		return nil, ErrAlreadyConfirmed
	case StatusExpired:
		return nil, ErrOTPExpired
	default:
		return nil, ErrInvalidTransition
	}

	if appt.OTPLapsed(s.now()) {
		s.expire(ctx, appt, "lazy_on_verify")
		return nil, ErrOTPExpired
	}

	res, err := s.codes.Verify(ctx, appt.Contact, appt.OTPPurpose(), code)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	s.metrics.ObserveOTPCheck(res.String())
	span.SetAttributes(attribute.String("otp.result", res.String()))

	switch res {
	case otp.ResultValid:
	case otp.ResultInvalid:
		return nil, ErrOTPInvalid
	case otp.ResultTooManyAttempts:
		return nil, ErrTooManyAttempts
	case otp.ResultConsumed:
		return nil, ErrAlreadyConfirmed
	default:
		// A concurrent verify may have consumed the token already.
		if current, gerr := s.repo.GetAppointmentByID(ctx, appt.ID); gerr == nil &&
			(current.Status == StatusConfirmed || current.Status == StatusCompleted) {
			return nil, ErrAlreadyConfirmed
		}
		return nil, ErrOTPExpired
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, []AppointmentStatus{StatusPending}, StatusConfirmed, nil)
	if err != nil {
		return nil, s.transitionError(ctx, appt.ID, err)
	}
	s.metrics.ObserveTransition(string(StatusConfirmed))
	s.logEvent(ctx, updated.ID, EventConfirmed, map[string]any{})
	s.logger.Info().Str("appointment_id", updated.ID.String()).Msg("appointment confirmed")
	return updated, nil
}

// ResendOTP reissues the code for a pending appointment and pushes its OTP expiry out,
// never past created_at plus the max hold.
func (s *Service) ResendOTP(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.resend_otp", trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer span.End()

	appt, err := s.loadFor(ctx, actor, id, false)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if appt.Status != StatusPending {
		if appt.Status == StatusConfirmed {
			return nil, ErrAlreadyConfirmed
		}
		return nil, ErrInvalidTransition
	}
	if appt.OTPLapsed(s.now()) {
		s.expire(ctx, appt, "lazy_on_resend")
		return nil, ErrOTPExpired
	}
	holdUntil := appt.CreatedAt.Add(s.maxHold)
	if appt.OTPExpiresAt != nil && !appt.OTPExpiresAt.Before(holdUntil) {
		return nil, ErrHoldLimitReached
	}

	expiresAt, err := s.codes.Issue(ctx, appt.Contact, appt.OTPPurpose())
	if err != nil {
		if !errors.Is(err, otp.ErrResendTooSoon) {
			s.metrics.ObserveOTPSend(false)
		}
		recordSpanError(span, err)
		return nil, err
	}
	s.metrics.ObserveOTPSend(true)
	if expiresAt.After(holdUntil) {
		expiresAt = holdUntil
	}

	updated, err := s.repo.ExtendOTPExpiry(ctx, appt.ID, expiresAt)
	if err != nil {
		return nil, s.transitionError(ctx, appt.ID, err)
	}
	s.logEvent(ctx, appt.ID, EventOTPResent, map[string]any{"otp_expires_at": expiresAt})
	return updated, nil
}

// CancelAppointment cancels a pending or confirmed appointment and frees its slot.
func (s *Service) CancelAppointment(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.cancel", trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer span.End()

	appt, err := s.loadFor(ctx, actor, id, true)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if reason == "" {
		reason = "cancelled_by_" + string(actor.Role)
	}
	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID,
		[]AppointmentStatus{StatusPending, StatusConfirmed}, StatusCancelled, &reason)
	if err != nil {
		return nil, s.transitionError(ctx, appt.ID, err)
	}
	s.metrics.ObserveTransition(string(StatusCancelled))

	s.releaseQuietly(ctx, updated.DoctorID, updated.Date, updated.Time, updated.ID)
	if appt.Status == StatusPending {
		if err := s.codes.Revoke(ctx, updated.Contact, updated.OTPPurpose()); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", updated.ID.String()).Msg("failed to revoke otp")
		}
	}

	s.logEvent(ctx, updated.ID, EventCancelled, map[string]any{
		"reason":      reason,
		"from_status": string(appt.Status),
		"by_role":     string(actor.Role),
	})
	s.logger.Info().Str("appointment_id", updated.ID.String()).Str("reason", reason).Msg("appointment cancelled")
	return updated, nil
}

// CompleteAppointment marks a confirmed visit done. Only the appointment's doctor may do
// it, and only once the slot has started.
func (s *Service) CompleteAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.complete", trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer span.End()

	if actor.Role != directory.RoleDoctor {
		return nil, ErrForbidden
	}
	appt, err := s.loadFor(ctx, actor, id, true)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if appt.Status != StatusConfirmed {
		return nil, ErrInvalidTransition
	}
	if !s.slots.HasStarted(appt.Date, appt.Time) {
		return nil, ErrVisitNotStarted
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, []AppointmentStatus{StatusConfirmed}, StatusCompleted, nil)
	if err != nil {
		return nil, s.transitionError(ctx, appt.ID, err)
	}
	s.metrics.ObserveTransition(string(StatusCompleted))
	s.logEvent(ctx, updated.ID, EventCompleted, map[string]any{"doctor_id": actor.ProfileID.String()})
	return updated, nil
}

// ExpirePendingAppointments is intended to be called by the worker periodically.
// It returns how many appointments it moved to expired.
func (s *Service) ExpirePendingAppointments(ctx context.Context, batch int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.expire_pending")
	defer span.End()

	if batch <= 0 {
		batch = 100
	}
	candidates, err := s.repo.FindExpiredPending(ctx, s.now(), batch)
	if err != nil {
		recordSpanError(span, err)
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}

	expired := 0
	for i := range candidates {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if s.expire(ctx, &candidates[i], "worker") {
			expired++
		}
	}
	span.SetAttributes(attribute.Int("appointment.expired", expired))
	return expired, nil
}

// expire moves a pending appointment to expired and frees what it held. It reports
// whether this call performed the transition.
func (s *Service) expire(ctx context.Context, a *Appointment, reason string) bool {
	_, err := s.repo.UpdateAppointmentStatus(ctx, a.ID, []AppointmentStatus{StatusPending}, StatusExpired, nil)
	if err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to expire appointment")
		}
		return false
	}
	s.metrics.ObserveTransition(string(StatusExpired))
	s.releaseQuietly(ctx, a.DoctorID, a.Date, a.Time, a.ID)
	if err := s.codes.Revoke(ctx, a.Contact, a.OTPPurpose()); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to revoke otp")
	}
	s.logEvent(ctx, a.ID, EventExpired, map[string]any{"reason": reason})
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("reason", reason).Msg("appointment expired")
	return true
}

func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.loadFor(ctx, actor, id, true)
}

// ListAppointments scopes the filter to the caller: patients see their own bookings,
// doctors their own schedule, admins anything.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, f ListFilter) ([]Appointment, error) {
	switch actor.Role {
	case directory.RolePatient:
		f.PatientID = &actor.ProfileID
	case directory.RoleDoctor:
		f.DoctorID = &actor.ProfileID
	case directory.RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	f.Limit, f.Offset = validate.Page(f.Limit, f.Offset)

	list, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return list, nil
}

// loadFor fetches the appointment and checks actor may touch it. Doctors are allowed
// only when allowDoctor is set.
func (s *Service) loadFor(ctx context.Context, actor Actor, id uuid.UUID, allowDoctor bool) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	switch actor.Role {
	case directory.RoleAdmin:
		return appt, nil
	case directory.RolePatient:
		if appt.PatientID == actor.ProfileID {
			return appt, nil
		}
	case directory.RoleDoctor:
		if allowDoctor && appt.DoctorID == actor.ProfileID {
			return appt, nil
		}
	}
	return nil, ErrForbidden
}

func (s *Service) bookingPatient(actor Actor, requested uuid.UUID) (uuid.UUID, error) {
	switch actor.Role {
	case directory.RolePatient:
		if requested != uuid.Nil && requested != actor.ProfileID {
			return uuid.Nil, ErrForbidden
		}
		return actor.ProfileID, nil
	case directory.RoleAdmin:
		if requested == uuid.Nil {
			return uuid.Nil, validate.Errorf("patientId", "is required when booking on behalf of a patient")
		}
		return requested, nil
	default:
		return uuid.Nil, ErrForbidden
	}
}

// transitionError turns a lost conditional update into the caller-facing error.
func (s *Service) transitionError(ctx context.Context, id uuid.UUID, err error) error {
	if !errors.Is(err, ErrInvalidTransition) {
		return fmt.Errorf("update appointment %s: %w", id, err)
	}
	current, gerr := s.repo.GetAppointmentByID(ctx, id)
	if gerr == nil {
		switch current.Status {
		case StatusConfirmed:
			return ErrAlreadyConfirmed
		case StatusExpired:
			return ErrOTPExpired
		}
	}
	return ErrInvalidTransition
}

func (s *Service) releaseQuietly(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, id uuid.UUID) {
	if err := s.slots.ReleaseSlot(context.WithoutCancel(ctx), doctorID, date, label, id); err != nil {
		// The worker's orphan pass will retry.
		s.logger.Error().Err(err).Str("appointment_id", id.String()).Msg("failed to release slot")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).Msg("failed to insert event log")
	}
}

func referenceError(err error, field string, notFound error) error {
	if errors.Is(err, notFound) {
		return validate.Errorf(field, "unknown %s", notFoundNoun(notFound))
	}
	return fmt.Errorf("lookup %s: %w", field, err)
}

func notFoundNoun(err error) string {
	switch err {
	case directory.ErrDoctorNotFound:
		return "doctor"
	case directory.ErrPatientNotFound:
		return "patient"
	case directory.ErrLocationNotFound:
		return "location"
	case directory.ErrSpecialtyNotFound:
		return "specialty"
	}
	return "reference"
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
