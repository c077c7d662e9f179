package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/appointment"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/auth"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/observability/metrics"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/otp"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/schedule"
)

const jwtSecret = "handler-test-secret"

type stubAppointments struct {
	createFn   func(actor appointment.Actor, in appointment.CreateInput) (*appointment.Appointment, error)
	verifyFn   func(id uuid.UUID, code string) (*appointment.Appointment, error)
	resendFn   func(id uuid.UUID) (*appointment.Appointment, error)
	cancelFn   func(id uuid.UUID, reason string) (*appointment.Appointment, error)
	completeFn func(id uuid.UUID) (*appointment.Appointment, error)
	getFn      func(id uuid.UUID) (*appointment.Appointment, error)
	listFn     func(actor appointment.Actor, f appointment.ListFilter) ([]appointment.Appointment, error)
}

func (s *stubAppointments) CreateAppointment(_ context.Context, actor appointment.Actor, in appointment.CreateInput) (*appointment.Appointment, error) {
	return s.createFn(actor, in)
}

func (s *stubAppointments) VerifyOTP(_ context.Context, _ appointment.Actor, id uuid.UUID, code string) (*appointment.Appointment, error) {
	return s.verifyFn(id, code)
}

func (s *stubAppointments) ResendOTP(_ context.Context, _ appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	return s.resendFn(id)
}

func (s *stubAppointments) CancelAppointment(_ context.Context, _ appointment.Actor, id uuid.UUID, reason string) (*appointment.Appointment, error) {
	return s.cancelFn(id, reason)
}

func (s *stubAppointments) CompleteAppointment(_ context.Context, _ appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	return s.completeFn(id)
}

func (s *stubAppointments) GetAppointment(_ context.Context, _ appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	return s.getFn(id)
}

func (s *stubAppointments) ListAppointments(_ context.Context, actor appointment.Actor, f appointment.ListFilter) ([]appointment.Appointment, error) {
	return s.listFn(actor, f)
}

type stubSchedule struct {
	sched     *schedule.Schedule
	available []string
	err       error

	bookableCalls int
}

func (s *stubSchedule) GetSchedule(_ context.Context, doctorID uuid.UUID, date time.Time) (*schedule.Schedule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sched, nil
}

func (s *stubSchedule) Bookable(*schedule.Schedule) []string {
	s.bookableCalls++
	return s.available
}

type stubDirectory struct {
	doctors []directory.Doctor
}

func (s *stubDirectory) GetDoctorByID(_ context.Context, id uuid.UUID) (*directory.Doctor, error) {
	for i := range s.doctors {
		if s.doctors[i].ID == id {
			return &s.doctors[i], nil
		}
	}
	return nil, directory.ErrDoctorNotFound
}

func (s *stubDirectory) ListDoctors(context.Context, directory.DoctorFilter) ([]directory.Doctor, error) {
	return s.doctors, nil
}

func (s *stubDirectory) ListLocations(context.Context) ([]directory.Location, error) {
	return []directory.Location{{ID: uuid.New(), Name: "Downtown"}}, nil
}

func (s *stubDirectory) ListSpecialties(context.Context) ([]directory.Specialty, error) {
	return []directory.Specialty{{ID: uuid.New(), Name: "Cardiology"}}, nil
}

type testServer struct {
	handler http.Handler
	appts   *stubAppointments
	sched   *stubSchedule
	dir     *stubDirectory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		appts: &stubAppointments{},
		sched: &stubSchedule{},
		dir:   &stubDirectory{},
	}
	ts.handler = NewRouter(RouterConfig{
		Appointments: ts.appts,
		Schedule:     ts.sched,
		Directory:    ts.dir,
		Authenticate: auth.NewVerifier(jwtSecret, "").Middleware,
		Health:       NewHealthHandler(func(context.Context) error { return nil }, func(context.Context) error { return nil }, "test", "v0"),
		Logger:       zerolog.Nop(),
		HTTPMetrics:  metrics.NewHTTPMetrics(prometheus.NewRegistry()),
	})
	return ts
}

func token(t *testing.T, role directory.Role) (string, auth.Principal) {
	t.Helper()
	p := auth.Principal{UserID: uuid.New(), Role: role}
	if role != directory.RoleAdmin {
		p.ProfileID = uuid.New()
	}
	tok, err := auth.IssueToken(jwtSecret, "", p, time.Hour)
	require.NoError(t, err)
	return tok, p
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func pendingAppointment(id uuid.UUID) *appointment.Appointment {
	exp := time.Date(2025, 8, 24, 10, 5, 0, 0, time.UTC)
	return &appointment.Appointment{
		ID:           id,
		PatientID:    uuid.New(),
		DoctorID:     uuid.New(),
		LocationID:   uuid.New(),
		SpecialtyID:  uuid.New(),
		Date:         time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC),
		Time:         "09:00",
		Contact:      "p@example.com",
		Status:       appointment.StatusPending,
		OTPExpiresAt: &exp,
	}
}

func validCreateBody() CreateAppointmentRequest {
	return CreateAppointmentRequest{
		DoctorID:    uuid.NewString(),
		LocationID:  uuid.NewString(),
		SpecialtyID: uuid.NewString(),
		Date:        "2025-08-25",
		Time:        "09:00",
	}
}

func TestCreateAppointment_Created(t *testing.T) {
	ts := newTestServer(t)
	tok, principal := token(t, directory.RolePatient)
	body := validCreateBody()

	var gotActor appointment.Actor
	var gotIn appointment.CreateInput
	ts.appts.createFn = func(actor appointment.Actor, in appointment.CreateInput) (*appointment.Appointment, error) {
		gotActor, gotIn = actor, in
		a := pendingAppointment(uuid.New())
		a.DoctorID = in.DoctorID
		return a, nil
	}

	rec := ts.do(t, http.MethodPost, "/appointments", tok, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "2025-08-25", resp.Date)
	assert.Equal(t, body.DoctorID, resp.DoctorID.String())
	assert.NotNil(t, resp.OTPExpiresAt)

	assert.Equal(t, principal.ProfileID, gotActor.ProfileID)
	assert.Equal(t, directory.RolePatient, gotActor.Role)
	assert.Equal(t, "09:00", gotIn.Time)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointment_RequiresToken(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/appointments", "", validCreateBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAppointment_DoctorRoleForbidden(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RoleDoctor)
	rec := ts.do(t, http.MethodPost, "/appointments", tok, validCreateBody())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAppointment_BadInput(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RolePatient)
	ts.appts.createFn = func(appointment.Actor, appointment.CreateInput) (*appointment.Appointment, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}

	cases := []struct {
		name   string
		mutate func(*CreateAppointmentRequest)
	}{
		{"bad doctor id", func(r *CreateAppointmentRequest) { r.DoctorID = "nope" }},
		{"missing location", func(r *CreateAppointmentRequest) { r.LocationID = "" }},
		{"bad date", func(r *CreateAppointmentRequest) { r.Date = "25/08/2025" }},
		{"missing time", func(r *CreateAppointmentRequest) { r.Time = "" }},
		{"bad contact", func(r *CreateAppointmentRequest) { r.Contact = "not-an-email" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := validCreateBody()
			tc.mutate(&body)
			rec := ts.do(t, http.MethodPost, "/appointments", tok, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", decodeError(t, rec).Error)
		})
	}
}

func TestCreateAppointment_UnknownFieldRejected(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RolePatient)
	rec := ts.do(t, http.MethodPost, "/appointments", tok, map[string]string{"doctor": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)
}

func TestServiceErrorLogsRejectionsAtInfo(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.InfoLevel)
	req := httptest.NewRequest(http.MethodPost, "/appointments/verify-otp", nil)
	req = req.WithContext(logger.WithContext(req.Context()))
	rec := httptest.NewRecorder()

	writeServiceError(rec, req, appointment.ErrOTPExpired)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, logs.String(), `"level":"info"`)
	assert.Contains(t, logs.String(), "request rejected")
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{schedule.ErrSlotAlreadyBooked, http.StatusConflict, "slot_already_booked"},
		{appointment.ErrAlreadyConfirmed, http.StatusConflict, "already_confirmed"},
		{appointment.ErrOTPExpired, http.StatusConflict, "otp_expired"},
		{appointment.ErrOTPInvalid, http.StatusBadRequest, "otp_invalid"},
		{appointment.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
		{appointment.ErrHoldLimitReached, http.StatusTooManyRequests, "resend_limit_reached"},
		{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{appointment.ErrForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("send code: %w", otp.ErrUnavailable), http.StatusServiceUnavailable, "service_unavailable"},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			ts := newTestServer(t)
			tok, _ := token(t, directory.RolePatient)
			ts.appts.verifyFn = func(uuid.UUID, string) (*appointment.Appointment, error) { return nil, tc.err }

			rec := ts.do(t, http.MethodPost, "/appointments/verify-otp", tok,
				VerifyOTPRequest{AppointmentID: uuid.NewString(), Code: "123456"})
			assert.Equal(t, tc.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tc.code, resp.Error)
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, resp.Details, "connection reset")
			}
			if tc.status == http.StatusServiceUnavailable {
				assert.Equal(t, "5", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestVerifyOTP_Confirms(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RolePatient)
	id := uuid.New()

	ts.appts.verifyFn = func(got uuid.UUID, code string) (*appointment.Appointment, error) {
		assert.Equal(t, id, got)
		assert.Equal(t, "004217", code)
		a := pendingAppointment(id)
		a.Status, a.Verified, a.OTPExpiresAt = appointment.StatusConfirmed, true, nil
		return a, nil
	}

	rec := ts.do(t, http.MethodPost, "/appointments/verify-otp", tok,
		VerifyOTPRequest{AppointmentID: id.String(), Code: " 004217 "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp.Status)
	assert.True(t, resp.Verified)
	assert.Nil(t, resp.OTPExpiresAt)
}

func TestVerifyOTP_MalformedCode(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RolePatient)
	rec := ts.do(t, http.MethodPost, "/appointments/verify-otp", tok,
		VerifyOTPRequest{AppointmentID: uuid.NewString(), Code: "12ab"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResendOTP(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RolePatient)
	id := uuid.New()
	ts.appts.resendFn = func(got uuid.UUID) (*appointment.Appointment, error) {
		assert.Equal(t, id, got)
		return pendingAppointment(id), nil
	}

	rec := ts.do(t, http.MethodPost, "/appointments/"+id.String()+"/resend-otp", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.appts.resendFn = func(uuid.UUID) (*appointment.Appointment, error) { return nil, otp.ErrResendTooSoon }
	rec = ts.do(t, http.MethodPost, "/appointments/"+id.String()+"/resend-otp", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCancelAppointment_OptionalBody(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RolePatient)
	id := uuid.New()

	var gotReason string
	ts.appts.cancelFn = func(_ uuid.UUID, reason string) (*appointment.Appointment, error) {
		gotReason = reason
		a := pendingAppointment(id)
		a.Status = appointment.StatusCancelled
		return a, nil
	}

	rec := ts.do(t, http.MethodDelete, "/appointments/"+id.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, gotReason)

	rec = ts.do(t, http.MethodDelete, "/appointments/"+id.String(), tok, CancelAppointmentRequest{Reason: "conflict"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "conflict", gotReason)
}

func TestUpdateStatus(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RoleDoctor)
	id := uuid.New()

	ts.appts.completeFn = func(uuid.UUID) (*appointment.Appointment, error) {
		a := pendingAppointment(id)
		a.Status = appointment.StatusCompleted
		return a, nil
	}
	rec := ts.do(t, http.MethodPatch, "/appointments/"+id.String()+"/status", tok, UpdateStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.appts.completeFn = func(uuid.UUID) (*appointment.Appointment, error) { return nil, appointment.ErrVisitNotStarted }
	rec = ts.do(t, http.MethodPatch, "/appointments/"+id.String()+"/status", tok, UpdateStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/appointments/"+id.String()+"/status", tok, UpdateStatusRequest{Status: "confirmed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAppointment_BadID(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RolePatient)
	rec := ts.do(t, http.MethodGet, "/appointments/not-a-uuid", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAppointments_Paging(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := token(t, directory.RoleDoctor)

	var got appointment.ListFilter
	ts.appts.listFn = func(_ appointment.Actor, f appointment.ListFilter) ([]appointment.Appointment, error) {
		got = f
		return []appointment.Appointment{*pendingAppointment(uuid.New())}, nil
	}

	rec := ts.do(t, http.MethodGet, "/appointments?limit=10&offset=20&status=pending", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 20, got.Offset)
	require.NotNil(t, got.Status)
	assert.Equal(t, appointment.StatusPending, *got.Status)

	var resp AppointmentListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 1)

	rec = ts.do(t, http.MethodGet, "/appointments?status=bogus", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/appointments?limit=ten", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSchedule_Public(t *testing.T) {
	ts := newTestServer(t)
	doctorID := uuid.New()
	id := uuid.New()
	ts.sched.sched = &schedule.Schedule{
		DoctorID: doctorID,
		Date:     time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC),
		Slots: []schedule.Slot{
			{Time: "09:00", Booked: true, AppointmentID: &id},
			{Time: "09:30"},
		},
	}
	ts.sched.available = []string{"09:30"}

	rec := ts.do(t, http.MethodGet, "/schedule?doctorId="+doctorID.String()+"&date=2025-08-25", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, doctorID, resp.DoctorID)
	assert.Equal(t, []string{"09:30"}, resp.Available)
	require.Len(t, resp.Slots, 2)
	assert.True(t, resp.Slots[0].Booked)
	assert.NotContains(t, rec.Body.String(), id.String())
	assert.Equal(t, 1, ts.sched.bookableCalls)
}

func TestGetSchedule_BadQuery(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/schedule?doctorId=abc&date=2025-08-25", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/schedule?doctorId="+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectoryEndpoints(t *testing.T) {
	ts := newTestServer(t)
	doc := directory.Doctor{ID: uuid.New(), FullName: "Dr. Ada", SpecialtyID: uuid.New(), LocationID: uuid.New()}
	ts.dir.doctors = []directory.Doctor{doc}

	rec := ts.do(t, http.MethodGet, "/doctors/"+doc.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got DoctorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Dr. Ada", got.FullName)

	rec = ts.do(t, http.MethodGet, "/doctors/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/doctors?specialtyId="+doc.SpecialtyID.String(), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/specialties", "/locations"} {
		rec = ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h := NewHealthHandler(func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("redis down") }, "test", "v0")
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "down", resp.Dependencies["redis"])
	assert.Equal(t, "ok", resp.Dependencies["postgres"])
}
