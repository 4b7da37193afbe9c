package scheduleapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/httpx"
	"github.com/hackgods/hospital-scheduling/internal/remote"
	"github.com/hackgods/hospital-scheduling/internal/schedule"
)

func createScheduleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		staffID, err := uuid.Parse(req.StaffID)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_staff_id", "staff_id must be a valid UUID")
			return
		}

		day, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		s, err := svc.Create(r.Context(), schedule.CreateRequest{
			StaffID:   staffID,
			Day:       day,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		})
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusCreated, toScheduleResponse(s))
	}
}

func getScheduleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		s, err := svc.Get(r.Context(), id)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toScheduleResponse(s))
	}
}

func listSchedulesHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		staffID, err := uuid.Parse(q.Get("staff_id"))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_staff_id", "staff_id must be a valid UUID")
			return
		}
		from, err := time.Parse(time.DateOnly, q.Get("from"))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD")
			return
		}
		to, err := time.Parse(time.DateOnly, q.Get("to"))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "to must be YYYY-MM-DD")
			return
		}

		list, err := svc.ListByStaff(r.Context(), staffID, from, to)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		items := make([]ScheduleResponse, 0, len(list))
		for i := range list {
			items = append(items, toScheduleResponse(&list[i]))
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func availabilityHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		day, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		avail, err := svc.Availability(r.Context(), doctorID, day)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, remote.AvailabilityResponse{
			DoctorID: avail.DoctorID,
			Date:     avail.Day.Format(time.DateOnly),
			Bookable: avail.Bookable,
			Status:   string(avail.Status),
		})
	}
}

func statusHandler(move func(r *http.Request, id uuid.UUID) (*schedule.Schedule, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		s, err := move(r, id)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toScheduleResponse(s))
	}
}

func deleteScheduleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// cancelScheduleHandler runs the saga synchronously. A rolled back or parked
// saga still reports its record next to the error.
func cancelScheduleHandler(orch *schedule.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		var req CancelScheduleRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		rec, err := orch.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			if rec != nil {
				w.Header().Set("X-Saga-ID", rec.ID.String())
			}
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toSagaResponse(rec))
	}
}

func reconcileSagaHandler(orch *schedule.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		rec, err := orch.Reconcile(r.Context(), id)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toSagaResponse(rec))
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
