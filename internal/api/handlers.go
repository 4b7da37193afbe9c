package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/httpx"
	"github.com/hackgods/hospital-scheduling/internal/remote"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		at, err := time.Parse(time.RFC3339, req.AppointmentTime)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_appointment_time", "appointment_time must be RFC 3339")
			return
		}

		appt, err := svc.CreateScheduled(r.Context(), appointment.ScheduledRequest{
			PatientID: patientID,
			DoctorID:  doctorID,
			Time:      at.UTC(),
			Reason:    req.Reason,
			Notes:     req.Notes,
		})
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusCreated, toResponse(appt))
	}
}

func registerWalkInHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WalkInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		var priority *appointment.PriorityReason
		if req.PriorityReason != nil {
			p := appointment.PriorityReason(*req.PriorityReason)
			priority = &p
		}

		appt, err := svc.RegisterWalkIn(r.Context(), appointment.WalkInRequest{
			PatientID:      patientID,
			DoctorID:       doctorID,
			Reason:         req.Reason,
			PriorityReason: priority,
			Notes:          req.Notes,
		})
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusCreated, toResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id query parameter must be a valid UUID")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toListResponse(appts))
	}
}

// transitionHandler serves the single-appointment status moves that take no body.
func transitionHandler(move func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := move(r, id)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req CancelRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return nil, appointment.ErrInvalidAppointment
			}
		}
		return svc.CancelAppointment(r.Context(), id, req.Reason)
	})
}

func doctorDayHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, day, ok := doctorDayParams(w, r)
		if !ok {
			return
		}

		appts, err := svc.ListAppointmentsByDoctorAndDate(r.Context(), doctorID, day)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toListResponse(appts))
	}
}

func queueHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, day, ok := doctorDayParams(w, r)
		if !ok {
			return
		}

		queue, err := svc.ListQueue(r.Context(), doctorID, day)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toListResponse(queue))
	}
}

func callNextHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}

		appt, err := svc.CallNext(r.Context(), doctorID)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
	}
}

// Internal endpoints called by the schedule service's cancellation saga.

func bulkCancelHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, day, ok := doctorDayParams(w, r)
		if !ok {
			return
		}

		var req remote.BulkCancelRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		n, err := svc.BulkCancelByDoctorAndDate(r.Context(), doctorID, day, req.Reason)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, remote.CountResponse{Count: n})
	}
}

func activeCountHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, day, ok := doctorDayParams(w, r)
		if !ok {
			return
		}

		n, err := svc.CountActiveByDoctorAndDate(r.Context(), doctorID, day)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, remote.CountResponse{Count: n})
	}
}

func bulkRestoreHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, day, ok := doctorDayParams(w, r)
		if !ok {
			return
		}

		n, err := svc.BulkRestoreByDoctorAndDate(r.Context(), doctorID, day)
		if err != nil {
			httpx.WriteAppError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, remote.CountResponse{Count: n})
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func doctorDayParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, time.Time, bool) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return uuid.Nil, time.Time{}, false
	}

	day, err := time.Parse(time.DateOnly, chi.URLParam(r, "date"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return uuid.Nil, time.Time{}, false
	}

	return doctorID, day, true
}
