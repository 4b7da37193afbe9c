package scheduleapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/httpx"
	"github.com/hackgods/hospital-scheduling/internal/schedule"
)

type RouterConfig struct {
	Service      *schedule.Service
	Orchestrator *schedule.Orchestrator
	Health       *httpx.HealthHandler
	Logger       zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(httpx.RequestContext)
	r.Use(httpx.AccessLog(cfg.Logger))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	svc := cfg.Service

	r.Post("/schedules", createScheduleHandler(svc))
	r.Get("/schedules", listSchedulesHandler(svc))
	r.Get("/schedules/availability", availabilityHandler(svc))
	r.Get("/schedules/{id}", getScheduleHandler(svc))
	r.Delete("/schedules/{id}", deleteScheduleHandler(svc))
	r.Post("/schedules/{id}/book", statusHandler(func(r *http.Request, id uuid.UUID) (*schedule.Schedule, error) {
		return svc.MarkBooked(r.Context(), id)
	}))
	r.Post("/schedules/{id}/release", statusHandler(func(r *http.Request, id uuid.UUID) (*schedule.Schedule, error) {
		return svc.MarkAvailable(r.Context(), id)
	}))
	r.Post("/schedules/{id}/cancel", cancelScheduleHandler(cfg.Orchestrator))

	r.Post("/sagas/{id}/reconcile", reconcileSagaHandler(cfg.Orchestrator))

	return r
}
