package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrLocationNotFound  = errors.New("location not found")
	ErrSpecialtyNotFound = errors.New("specialty not found")
)

// Repository is read access to the reference data the booking flow depends on.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error)
	GetSpecialtyByID(ctx context.Context, id uuid.UUID) (*Specialty, error)

	ListDoctors(ctx context.Context, f DoctorFilter) ([]Doctor, error)
	ListLocations(ctx context.Context) ([]Location, error)
	ListSpecialties(ctx context.Context) ([]Specialty, error)
}
