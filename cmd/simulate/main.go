package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/auth"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/config"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/db"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/logging"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/slots"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/validate"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	CancelRatio     float64
	ReadRatio       float64
	PatientLimit    int
	DoctorLimit     int
	DaysAhead       int
	PostgresDSN     string
	JWTSecret       string
	JWTIssuer       string
	SlotSessions    string
	SlotGranularity time.Duration
}

type patientRef struct {
	ID    uuid.UUID
	Token string
}

type doctorRef struct {
	ID          uuid.UUID
	SpecialtyID uuid.UUID
	LocationID  uuid.UUID
}

type booking struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Patients []patientRef
	Doctors  []doctorRef
	Labels   []string
	Dates    []string

	mu       sync.RWMutex
	bookings []booking
}

func (dp *DataPool) AddBooking(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) TakeBooking(rng *rand.Rand) (booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return booking{}, false
	}
	idx := rng.Intn(len(dp.bookings))
	b := dp.bookings[idx]
	dp.bookings[idx] = dp.bookings[len(dp.bookings)-1]
	dp.bookings = dp.bookings[:len(dp.bookings)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && (status == http.StatusConflict || status == http.StatusTooManyRequests):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking  OperationMetrics
	Resend   OperationMetrics
	Cancel   OperationMetrics
	Schedule OperationMetrics
	List     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "dev")
		bootLog.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(baseCfg.LogLevel, baseCfg.Env).With().Str("service", "simulate").Logger()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	dupes, err := countDoubleBookings(ctx, pgPool)
	if err != nil {
		logger.Error().Err(err).Msg("double booking check failed")
		os.Exit(1)
	}
	if dupes > 0 {
		logger.Error().Int("slots", dupes).Msg("double bookings detected")
		os.Exit(1)
	}
	logger.Info().Msg("no double bookings detected")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.4),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 500),
		DoctorLimit:     getInt("SIM_DOCTOR_LIMIT", 10),
		DaysAhead:       getInt("SIM_DAYS_AHEAD", 2),
		PostgresDSN:     base.PostgresDSN,
		JWTSecret:       base.JWTSecret,
		JWTIssuer:       base.JWTIssuer,
		SlotSessions:    base.SlotSessions,
		SlotGranularity: base.SlotGranularity,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	catalog, err := slots.Parse(cfg.SlotSessions, cfg.SlotGranularity)
	if err != nil {
		return nil, err
	}
	dataPool := &DataPool{Labels: catalog.List()}

	today := time.Now().UTC()
	for d := 1; d <= cfg.DaysAhead; d++ {
		dataPool.Dates = append(dataPool.Dates, today.AddDate(0, 0, d).Format(validate.DateLayout))
	}

	rows, err := pool.Query(ctx, `SELECT id, user_id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id, userID uuid.UUID
		if err := rows.Scan(&id, &userID); err != nil {
			rows.Close()
			return nil, err
		}
		tok, err := auth.IssueToken(cfg.JWTSecret, cfg.JWTIssuer, auth.Principal{
			UserID:    userID,
			Role:      directory.RolePatient,
			ProfileID: id,
		}, cfg.Duration+time.Hour)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("mint token: %w", err)
		}
		dataPool.Patients = append(dataPool.Patients, patientRef{ID: id, Token: tok})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A small doctor set keeps contention on each slot high.
	rows, err = pool.Query(ctx, `SELECT id, specialty_id, location_id FROM doctors LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var d doctorRef
		if err := rows.Scan(&d.ID, &d.SpecialtyID, &d.LocationID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}

	return dataPool, nil
}

func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT doctor_id, date, time
			FROM appointments
			WHERE status IN ('pending', 'confirmed', 'completed')
			GROUP BY doctor_id, date, time
			HAVING count(*) > 1
		) d
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doSchedule(ctx, rng)
				case 1:
					s.doList(ctx, rng)
				case 2:
					s.doResend(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]

	body := map[string]string{
		"doctorId":    doctor.ID.String(),
		"locationId":  doctor.LocationID.String(),
		"specialtyId": doctor.SpecialtyID.String(),
		"date":        s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		"time":        s.pool.Labels[rng.Intn(len(s.pool.Labels))],
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	latency, status, err := s.call(ctx, http.MethodPost, "/appointments", patient.Token, body, &created)
	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddBooking(booking{ID: created.ID, Token: patient.Token})
	}
	s.metrics.Booking.Record(latency, status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	latency, status, err := s.call(ctx, http.MethodDelete, "/appointments/"+b.ID.String(), b.Token,
		map[string]string{"reason": "simulated cancellation"}, nil)
	s.metrics.Cancel.Record(latency, status, err)
}

func (s *Simulator) doResend(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	latency, status, err := s.call(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/resend-otp", b.Token, nil, nil)
	if err == nil && status == http.StatusOK {
		s.pool.AddBooking(b)
	}
	s.metrics.Resend.Record(latency, status, err)
}

func (s *Simulator) doSchedule(ctx context.Context, rng *rand.Rand) {
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	path := fmt.Sprintf("/schedule?doctorId=%s&date=%s", doctor.ID, s.pool.Dates[rng.Intn(len(s.pool.Dates))])
	latency, status, err := s.call(ctx, http.MethodGet, path, "", nil, nil)
	s.metrics.Schedule.Record(latency, status, err)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	latency, status, err := s.call(ctx, http.MethodGet, "/appointments?limit=20&offset=0", patient.Token, nil, nil)
	s.metrics.List.Record(latency, status, err)
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body any, out any) (time.Duration, int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return latency, resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Resend OTP", &s.metrics.Resend)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Schedule", &s.metrics.Schedule)
	printOperationReport("List", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
