package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/db"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type refs struct {
	specialties []uuid.UUID
	locations   []uuid.UUID
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("APP_ENV", "dev")).With().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	seed := time.Now().UnixNano()
	if v := os.Getenv("SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			seed = n
		}
	}
	if err := gofakeit.Seed(seed); err != nil {
		logger.Fatal().Err(err).Msg("seed faker")
	}

	run := context.Background()
	r, err := seedReference(run, logger, pool, getInt("SEED_LOCATIONS", 5))
	if err != nil {
		logger.Fatal().Err(err).Msg("seed reference data")
	}
	if err := seedDoctors(run, logger, pool, r, getInt("SEED_DOCTORS", 100)); err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(run, logger, pool, getInt("SEED_PATIENTS", 2000)); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Int64("seed", seed).Msg("seed complete")
}

func seedReference(ctx context.Context, logger zerolog.Logger, pool *pgxpool.Pool, locations int) (refs, error) {
	var r refs

	tx, err := pool.Begin(ctx)
	if err != nil {
		return r, err
	}
	defer tx.Rollback(ctx)

	for _, name := range specialties {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO specialties (id, name, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET updated_at = now()
			RETURNING id
		`, uuid.New(), name, gofakeit.Sentence(8)).Scan(&id)
		if err != nil {
			return r, fmt.Errorf("insert specialty %s: %w", name, err)
		}
		r.specialties = append(r.specialties, id)
	}

	for i := 0; i < locations; i++ {
		id := uuid.New()
		name := gofakeit.City() + " " + gofakeit.RandomString([]string{"Clinic", "Medical Center", "Health Hub"})
		address := gofakeit.Street() + ", " + gofakeit.City()
		if _, err := tx.Exec(ctx, `
			INSERT INTO locations (id, name, address) VALUES ($1, $2, $3)
		`, id, name, address); err != nil {
			return r, fmt.Errorf("insert location: %w", err)
		}
		r.locations = append(r.locations, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return r, err
	}

	logger.Info().Int("specialties", len(r.specialties)).Int("locations", len(r.locations)).Msg("reference data seeded")
	return r, nil
}

func seedDoctors(ctx context.Context, logger zerolog.Logger, pool *pgxpool.Pool, r refs, count int) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		name := "Dr. " + gofakeit.Name()
		userID, _, err := insertUser(ctx, tx, name, "doctor")
		if err != nil {
			return err
		}

		specialtyID := r.specialties[gofakeit.Number(0, len(r.specialties)-1)]
		locationID := r.locations[gofakeit.Number(0, len(r.locations)-1)]
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, user_id, full_name, specialty_id, location_id, bio)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New(), userID, name, specialtyID, locationID, gofakeit.Sentence(12)); err != nil {
			return fmt.Errorf("insert doctor: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, logger zerolog.Logger, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			name := gofakeit.Name()
			userID, email, err := insertUser(ctx, tx, name, "patient")
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			dob := gofakeit.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC))
			_, err = tx.Exec(ctx, `
				INSERT INTO patients (id, user_id, full_name, email, phone, date_of_birth)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, uuid.New(), userID, name, email, gofakeit.Phone(), dob)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

// insertUser makes the email unique by suffixing the user id.
func insertUser(ctx context.Context, tx pgx.Tx, name, role string) (uuid.UUID, string, error) {
	id := uuid.New()
	local, domain, _ := strings.Cut(gofakeit.Email(), "@")
	email := strings.ToLower(fmt.Sprintf("%s.%s@%s", local, id.String()[:8], domain))

	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, email, full_name, role) VALUES ($1, $2, $3, $4)
	`, id, email, name, role)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("insert user: %w", err)
	}
	return id, email, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
