package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/db"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/slots"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/validate"
)

// DoctorLookup is the slice of the directory the schedule needs.
type DoctorLookup interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
}

type Service struct {
	repo    Repository
	doctors DoctorLookup
	catalog *slots.Catalog
	loc     *time.Location
	logger  zerolog.Logger

	now func() time.Time
}

func NewService(repo Repository, doctors DoctorLookup, catalog *slots.Catalog, loc *time.Location, logger zerolog.Logger) *Service {
	if catalog == nil {
		catalog = slots.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:    repo,
		doctors: doctors,
		catalog: catalog,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Catalog() *slots.Catalog {
	return s.catalog
}

// Today is the clinic's current calendar day.
func (s *Service) Today() time.Time {
	return DateOnly(s.now().In(s.loc))
}

// SlotStart is when label begins on date in the clinic timezone.
func (s *Service) SlotStart(date time.Time, label string) (time.Time, bool) {
	return s.catalog.StartOf(date, label, s.loc)
}

// HasStarted reports whether the slot's start time is at or before now.
func (s *Service) HasStarted(date time.Time, label string) bool {
	start, ok := s.SlotStart(date, label)
	if !ok {
		return false
	}
	return !start.After(s.now())
}

// GetSchedule returns every catalog slot for the doctor and date with its booked flag.
func (s *Service) GetSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Schedule, error) {
	if _, err := s.doctors.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, directory.ErrDoctorNotFound) {
			return nil, validate.Errorf("doctorId", "unknown doctor")
		}
		return nil, fmt.Errorf("lookup doctor: %w", err)
	}

	date = DateOnly(date)
	booked, err := s.repo.BookedSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	held := make(map[string]*uuid.UUID, len(booked))
	for _, b := range booked {
		held[b.Time] = b.AppointmentID
	}

	labels := s.catalog.List()
	sched := &Schedule{DoctorID: doctorID, Date: date, Slots: make([]Slot, 0, len(labels))}
	for _, label := range labels {
		appID, ok := held[label]
		sched.Slots = append(sched.Slots, Slot{Time: label, Booked: ok, AppointmentID: appID})
	}
	return sched, nil
}

// GetAvailableSlots is the catalog minus booked slots minus slots that already started.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	sched, err := s.GetSchedule(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	return s.Bookable(sched), nil
}

// Bookable filters sched down to unbooked slots that have not started.
func (s *Service) Bookable(sched *Schedule) []string {
	out := make([]string, 0, len(sched.Slots))
	for _, label := range sched.Available() {
		if s.HasStarted(sched.Date, label) {
			continue
		}
		out = append(out, label)
	}
	return out
}

func (s *Service) ReserveSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) error {
	if !s.catalog.Contains(label) {
		return validate.Errorf("time", "%q is not a slot in the catalog", label)
	}

	err := s.repo.ReserveSlot(ctx, doctorID, DateOnly(date), label, appointmentID)
	switch {
	case err == nil:
		s.logger.Debug().
			Str("doctor_id", doctorID.String()).
			Str("date", date.Format(validate.DateLayout)).
			Str("time", label).
			Msg("slot reserved")
		return nil
	case errors.Is(err, ErrSlotAlreadyBooked):
		return err
	case db.IsForeignKeyViolation(err):
		return validate.Errorf("doctorId", "unknown doctor")
	default:
		return err
	}
}

func (s *Service) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) error {
	released, err := s.repo.ReleaseSlot(ctx, doctorID, DateOnly(date), label, appointmentID)
	if err != nil {
		return err
	}
	if !released {
		s.logger.Warn().
			Str("doctor_id", doctorID.String()).
			Str("date", date.Format(validate.DateLayout)).
			Str("time", label).
			Str("appointment_id", appointmentID.String()).
			Msg("slot was not held by appointment")
	}
	return nil
}

// ReleaseOrphaned frees slots still flagged booked for appointments that are no longer
// active. Slots touched within grace are skipped so in-flight bookings are not raced.
func (s *Service) ReleaseOrphaned(ctx context.Context, grace time.Duration) (int64, error) {
	n, err := s.repo.ReleaseOrphaned(ctx, s.now().Add(-grace))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Msg("released orphaned slots")
	}
	return n, nil
}

// DateOnly strips the clock, keeping the calendar day as midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
