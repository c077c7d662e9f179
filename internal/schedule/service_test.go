package schedule

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/slots"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/validate"
)

type slotKey struct {
	doctor uuid.UUID
	date   string
	label  string
}

// memRepo mirrors the conditional writes of PgRepository behind a mutex.
type memRepo struct {
	mu    sync.Mutex
	held  map[slotKey]uuid.UUID
	alive map[uuid.UUID]bool
}

func newMemRepo() *memRepo {
	return &memRepo{held: make(map[slotKey]uuid.UUID), alive: make(map[uuid.UUID]bool)}
}

func key(doctorID uuid.UUID, date time.Time, label string) slotKey {
	return slotKey{doctor: doctorID, date: date.Format(validate.DateLayout), label: label}
}

func (m *memRepo) BookedSlots(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for k, id := range m.held {
		if k.doctor == doctorID && k.date == date.Format(validate.DateLayout) {
			id := id
			out = append(out, Slot{Time: k.label, Booked: true, AppointmentID: &id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *memRepo) ReserveSlot(_ context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(doctorID, date, label)
	if _, ok := m.held[k]; ok {
		return ErrSlotAlreadyBooked
	}
	m.held[k] = appointmentID
	return nil
}

func (m *memRepo) ReleaseSlot(_ context.Context, doctorID uuid.UUID, date time.Time, label string, appointmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(doctorID, date, label)
	if m.held[k] != appointmentID {
		return false, nil
	}
	delete(m.held, k)
	return true, nil
}

func (m *memRepo) ReleaseOrphaned(_ context.Context, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, id := range m.held {
		if !m.alive[id] {
			delete(m.held, k)
			n++
		}
	}
	return n, nil
}

type stubDoctors struct {
	known map[uuid.UUID]bool
	err   error
}

func (s stubDoctors) GetDoctorByID(_ context.Context, id uuid.UUID) (*directory.Doctor, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.known[id] {
		return nil, directory.ErrDoctorNotFound
	}
	return &directory.Doctor{ID: id}, nil
}

var (
	testDoctor = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testDay    = time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, now time.Time) (*Service, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	svc := NewService(repo, stubDoctors{known: map[uuid.UUID]bool{testDoctor: true}}, slots.Default(), time.UTC, zerolog.Nop()).
		WithClock(func() time.Time { return now })
	return svc, repo
}

func TestGetAvailableSlots_FreshDayIsWholeCatalog(t *testing.T) {
	svc, _ := newTestService(t, testDay.AddDate(0, 0, -1))

	got, err := svc.GetAvailableSlots(context.Background(), testDoctor, testDay)
	require.NoError(t, err)
	assert.Equal(t, slots.Default().List(), got)
}

func TestGetAvailableSlots_ExcludesBooked(t *testing.T) {
	svc, _ := newTestService(t, testDay.AddDate(0, 0, -1))
	ctx := context.Background()

	require.NoError(t, svc.ReserveSlot(ctx, testDoctor, testDay, "09:00", uuid.New()))

	got, err := svc.GetAvailableSlots(ctx, testDoctor, testDay)
	require.NoError(t, err)
	assert.NotContains(t, got, "09:00")
	assert.Len(t, got, len(slots.Default().List())-1)

	catalog := slots.Default()
	for _, label := range got {
		assert.True(t, catalog.Contains(label))
	}
}

func TestGetAvailableSlots_OmitsStartedSlotsToday(t *testing.T) {
	svc, _ := newTestService(t, testDay.Add(13*time.Hour+15*time.Minute))

	got, err := svc.GetAvailableSlots(context.Background(), testDoctor, testDay)
	require.NoError(t, err)
	assert.Equal(t, []string{"13:30", "14:00", "14:30", "15:00", "15:30", "16:00"}, got)
}

func TestBookable_DerivedFromSchedule(t *testing.T) {
	svc, _ := newTestService(t, testDay.Add(13*time.Hour+15*time.Minute))
	ctx := context.Background()
	require.NoError(t, svc.ReserveSlot(ctx, testDoctor, testDay, "14:00", uuid.New()))

	sched, err := svc.GetSchedule(ctx, testDoctor, testDay)
	require.NoError(t, err)
	assert.Equal(t, []string{"13:30", "14:30", "15:00", "15:30", "16:00"}, svc.Bookable(sched))

	// A later booking does not leak into a schedule already read.
	require.NoError(t, svc.ReserveSlot(ctx, testDoctor, testDay, "15:00", uuid.New()))
	assert.Contains(t, svc.Bookable(sched), "15:00")
}

func TestGetAvailableSlots_PastDayIsEmpty(t *testing.T) {
	svc, _ := newTestService(t, testDay.AddDate(0, 0, 1))

	got, err := svc.GetAvailableSlots(context.Background(), testDoctor, testDay)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetAvailableSlots_UnknownDoctor(t *testing.T) {
	svc, _ := newTestService(t, testDay)

	_, err := svc.GetAvailableSlots(context.Background(), uuid.New(), testDay)
	require.Error(t, err)
	assert.True(t, validate.IsValidation(err))
}

func TestGetAvailableSlots_LookupFailureIsNotValidation(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, stubDoctors{err: errors.New("db down")}, nil, nil, zerolog.Nop())

	_, err := svc.GetAvailableSlots(context.Background(), testDoctor, testDay)
	require.Error(t, err)
	assert.False(t, validate.IsValidation(err))
}

func TestGetSchedule_CarriesHolder(t *testing.T) {
	svc, _ := newTestService(t, testDay)
	ctx := context.Background()
	appID := uuid.New()

	require.NoError(t, svc.ReserveSlot(ctx, testDoctor, testDay.Add(9*time.Hour), "10:00", appID))

	sched, err := svc.GetSchedule(ctx, testDoctor, testDay)
	require.NoError(t, err)
	require.Len(t, sched.Slots, len(slots.Default().List()))
	for _, sl := range sched.Slots {
		if sl.Time == "10:00" {
			assert.True(t, sl.Booked)
			require.NotNil(t, sl.AppointmentID)
			assert.Equal(t, appID, *sl.AppointmentID)
		} else {
			assert.False(t, sl.Booked)
		}
	}
}

func TestReserveSlot_RejectsLabelOutsideCatalog(t *testing.T) {
	svc, _ := newTestService(t, testDay)

	err := svc.ReserveSlot(context.Background(), testDoctor, testDay, "11:00", uuid.New())
	assert.True(t, validate.IsValidation(err))
}

func TestReserveSlot_SecondReservationConflicts(t *testing.T) {
	svc, _ := newTestService(t, testDay)
	ctx := context.Background()

	require.NoError(t, svc.ReserveSlot(ctx, testDoctor, testDay, "09:00", uuid.New()))
	err := svc.ReserveSlot(ctx, testDoctor, testDay, "09:00", uuid.New())
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
}

func TestReserveSlot_ConcurrentExactlyOneWins(t *testing.T) {
	svc, _ := newTestService(t, testDay)
	ctx := context.Background()

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.ReserveSlot(ctx, testDoctor, testDay, "14:30", uuid.New())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrSlotAlreadyBooked):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(49), conflicts.Load())
}

func TestReleaseSlot_OnlyHolderFrees(t *testing.T) {
	svc, repo := newTestService(t, testDay.AddDate(0, 0, -1))
	ctx := context.Background()
	holder := uuid.New()

	require.NoError(t, svc.ReserveSlot(ctx, testDoctor, testDay, "09:00", holder))

	require.NoError(t, svc.ReleaseSlot(ctx, testDoctor, testDay, "09:00", uuid.New()))
	assert.Len(t, repo.held, 1)

	require.NoError(t, svc.ReleaseSlot(ctx, testDoctor, testDay, "09:00", holder))
	got, err := svc.GetAvailableSlots(ctx, testDoctor, testDay)
	require.NoError(t, err)
	assert.Contains(t, got, "09:00")
}

func TestReleaseOrphaned(t *testing.T) {
	svc, repo := newTestService(t, testDay)
	ctx := context.Background()
	live, dead := uuid.New(), uuid.New()
	repo.alive[live] = true

	require.NoError(t, svc.ReserveSlot(ctx, testDoctor, testDay, "09:00", live))
	require.NoError(t, svc.ReserveSlot(ctx, testDoctor, testDay, "09:30", dead))

	n, err := svc.ReleaseOrphaned(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, repo.held, 1)
}

func TestHasStartedUsesClinicZone(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	// 02:30 UTC is 09:30 in the clinic.
	now := time.Date(2025, 8, 25, 2, 30, 0, 0, time.UTC)
	svc := NewService(newMemRepo(), stubDoctors{}, slots.Default(), loc, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	assert.True(t, svc.HasStarted(testDay, "09:00"))
	assert.True(t, svc.HasStarted(testDay, "09:30"))
	assert.False(t, svc.HasStarted(testDay, "10:00"))
	assert.Equal(t, testDay, svc.Today())
}
