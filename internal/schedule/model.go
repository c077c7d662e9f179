package schedule

import (
	"time"

	"github.com/google/uuid"
)

type Slot struct {
	Time          string
	Booked        bool
	AppointmentID *uuid.UUID
}

// Schedule is the per doctor/date view of the catalog. Slots are in catalog order.
type Schedule struct {
	DoctorID uuid.UUID
	Date     time.Time
	Slots    []Slot
}

// Available returns the labels of unbooked slots.
func (s *Schedule) Available() []string {
	out := make([]string, 0, len(s.Slots))
	for _, sl := range s.Slots {
		if !sl.Booked {
			out = append(out, sl.Time)
		}
	}
	return out
}
