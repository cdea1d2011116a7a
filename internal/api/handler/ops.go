// Package handler provides HTTP handlers for the ops API.
package handler

import (
	"net/http"
	"time"

	"github.com/ellwoodwx/stationsync/internal/api/models"
	"github.com/ellwoodwx/stationsync/internal/api/response"
	"github.com/ellwoodwx/stationsync/internal/collector"
	"github.com/ellwoodwx/stationsync/internal/provider/resilience"
)

// recentRunsInStatus is how many runs GET /v1/ops/status lists.
const recentRunsInStatus = 10

// ProviderHealthSource reports upstream client health.
type ProviderHealthSource interface {
	Snapshot() []*resilience.ProviderHealth
}

// RunHistory looks up collection runs.
type RunHistory interface {
	Get(id string) (collector.RunResult, bool)
	Recent(n int) []collector.RunResult
}

// OpsConfig holds the dependencies of OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string
	Providers ProviderHealthSource
	Runs      RunHistory
	Now       func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	providers ProviderHealthSource
	runs      RunHistory
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		providers: cfg.Providers,
		runs:      cfg.Runs,
		now:       now,
	}
}

// HealthCheck handles GET /v1/ops/health. It only reports that the process
// is serving.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. It fails while any upstream
// circuit is open.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	providers := h.providerStatuses()
	if overall(providers, nil) == models.HealthStatusFail {
		response.ServiceUnavailable(w, r, "an upstream provider circuit is open")
		return
	}
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	})
}

// SystemStatus handles GET /v1/ops/status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	providers := h.providerStatuses()

	var recent []collector.RunResult
	if h.runs != nil {
		recent = h.runs.Recent(recentRunsInStatus)
	}
	runs := make([]models.Run, 0, len(recent))
	for _, run := range recent {
		summary := toRun(run)
		summary.Units = nil
		runs = append(runs, summary)
	}

	response.JSON(w, r, http.StatusOK, models.SystemStatus{
		Status:     overall(providers, recent),
		Time:       models.Timestamp(h.now()),
		Providers:  providers,
		RecentRuns: runs,
	})
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	if h.providers == nil {
		return []models.ProviderStatus{}
	}
	snapshot := h.providers.Snapshot()
	out := make([]models.ProviderStatus, 0, len(snapshot))
	for _, p := range snapshot {
		status := models.ProviderStatus{
			Provider:            p.Name,
			Status:              healthStatus(p.Status()),
			CircuitState:        p.CircuitState.String(),
			ConsecutiveFailures: int(p.Counts.ConsecutiveFailures),
		}
		if p.LastSuccessAt != nil {
			status.LastSuccessAt = models.TimestampPtr(*p.LastSuccessAt)
		}
		if p.LastFailureAt != nil {
			status.LastFailureAt = models.TimestampPtr(*p.LastFailureAt)
		}
		if p.LastError != "" {
			msg := p.LastError
			status.Message = &msg
		}
		out = append(out, status)
	}
	return out
}

func healthStatus(s string) models.HealthStatus {
	switch s {
	case resilience.StatusHealthy:
		return models.HealthStatusOK
	case resilience.StatusDegraded:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusFail
	}
}

// overall is FAIL when a provider circuit is open, DEGRADED when one is half
// open or the latest finished run did not fully succeed, and OK otherwise.
func overall(providers []models.ProviderStatus, recent []collector.RunResult) models.HealthStatus {
	status := models.HealthStatusOK
	for _, p := range providers {
		switch p.Status {
		case models.HealthStatusFail:
			return models.HealthStatusFail
		case models.HealthStatusDegraded:
			status = models.HealthStatusDegraded
		}
	}
	for _, run := range recent {
		if run.Status == collector.StatusRunning {
			continue
		}
		if run.Status != collector.StatusSucceeded {
			status = models.HealthStatusDegraded
		}
		break
	}
	return status
}
