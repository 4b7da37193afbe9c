package httpx

import (
	"context"
	"net/http"
	"time"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

type dependency struct {
	name     string
	critical bool
	check    Check
}

// HealthHandler serves liveness and readiness. A failing critical dependency
// makes the service not ready; any other failure only degrades it.
type HealthHandler struct {
	deps    []dependency
	env     string
	version string
}

func NewHealthHandler(env, version string) *HealthHandler {
	return &HealthHandler{env: env, version: version}
}

func (h *HealthHandler) AddCheck(name string, critical bool, check Check) *HealthHandler {
	h.deps = append(h.deps, dependency{name: name, critical: critical, check: check})
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	for _, dep := range h.deps {
		depCtx, depCancel := context.WithTimeout(ctx, 1*time.Second)
		err := dep.check(depCtx)
		depCancel()

		if err == nil {
			deps[dep.name] = "ok"
			continue
		}
		deps[dep.name] = "down"
		if dep.critical {
			status = "error"
		} else if status == "ok" {
			status = "degraded"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	WriteJSON(w, httpStatus, resp)
}
