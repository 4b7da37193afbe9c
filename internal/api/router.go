package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/httpx"
)

type RouterConfig struct {
	Service *appointment.Service
	Health  *httpx.HealthHandler
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(httpx.RequestContext)
	r.Use(httpx.AccessLog(cfg.Logger))

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	svc := cfg.Service

	// Appointment endpoints
	r.Post("/appointments", createAppointmentHandler(svc))
	r.Post("/appointments/walk-ins", registerWalkInHandler(svc))
	r.Get("/appointments", listAppointmentsHandler(svc))
	r.Get("/appointments/{id}", getAppointmentHandler(svc))
	r.Post("/appointments/{id}/start", transitionHandler(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.StartConsultation(r.Context(), id)
	}))
	r.Post("/appointments/{id}/complete", transitionHandler(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.CompleteConsultation(r.Context(), id)
	}))
	r.Post("/appointments/{id}/no-show", transitionHandler(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.MarkNoShow(r.Context(), id)
	}))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(svc))

	// Doctor day views
	r.Get("/doctors/{doctorID}/days/{date}/appointments", doctorDayHandler(svc))
	r.Get("/doctors/{doctorID}/days/{date}/queue", queueHandler(svc))
	r.Post("/doctors/{doctorID}/queue/next", callNextHandler(svc))

	// Saga endpoints, not exposed through the gateway
	r.Route("/internal/doctors/{doctorID}/days/{date}", func(r chi.Router) {
		r.Post("/cancel", bulkCancelHandler(svc))
		r.Get("/active-count", activeCountHandler(svc))
		r.Post("/restore", bulkRestoreHandler(svc))
	})

	return r
}
