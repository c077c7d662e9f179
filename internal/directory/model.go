package directory

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

type User struct {
	ID        uuid.UUID
	Email     string
	FullName  string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Specialty struct {
	ID          uuid.UUID
	Name        string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Location struct {
	ID        uuid.UUID
	Name      string
	Address   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	FullName    string
	SpecialtyID uuid.UUID
	LocationID  uuid.UUID
	Bio         *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Patient struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	FullName    string
	Email       string
	Phone       *string
	DateOfBirth *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DoctorFilter struct {
	SpecialtyID *uuid.UUID
	LocationID  *uuid.UUID
	Limit       int
	Offset      int
}
