package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/schedule"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/validate"
)

type ScheduleService interface {
	GetSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) (*schedule.Schedule, error)
	Bookable(sched *schedule.Schedule) []string
}

type DirectoryService interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	ListDoctors(ctx context.Context, f directory.DoctorFilter) ([]directory.Doctor, error)
	ListLocations(ctx context.Context) ([]directory.Location, error)
	ListSpecialties(ctx context.Context) ([]directory.Specialty, error)
}

func getScheduleHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doctorID, err := validate.UUID("doctorId", q.Get("doctorId"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		date, err := validate.Date("date", q.Get("date"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		sched, err := svc.GetSchedule(r.Context(), doctorID, date)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toScheduleResponse(sched, svc.Bookable(sched)))
	}
}

func listSpecialtiesHandler(svc DirectoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListSpecialties(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp := make([]SpecialtyResponse, 0, len(list))
		for _, s := range list {
			resp = append(resp, SpecialtyResponse{ID: s.ID, Name: s.Name, Description: s.Description})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listLocationsHandler(svc DirectoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListLocations(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp := make([]LocationResponse, 0, len(list))
		for _, l := range list {
			resp = append(resp, LocationResponse{ID: l.ID, Name: l.Name, Address: l.Address})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listDoctorsHandler(svc DirectoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, offset, err := pageParams(q.Get("limit"), q.Get("offset"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		f := directory.DoctorFilter{Limit: limit, Offset: offset}
		if raw := q.Get("specialtyId"); raw != "" {
			id, err := validate.UUID("specialtyId", raw)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			f.SpecialtyID = &id
		}
		if raw := q.Get("locationId"); raw != "" {
			id, err := validate.UUID("locationId", raw)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			f.LocationID = &id
		}

		list, err := svc.ListDoctors(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp := make([]DoctorResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toDoctorResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getDoctorHandler(svc DirectoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validate.UUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		doc, err := svc.GetDoctorByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, directory.ErrDoctorNotFound) {
				writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
				return
			}
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponse(doc))
	}
}
