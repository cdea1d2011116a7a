package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ellwoodwx/stationsync/internal/api/middleware"
	"github.com/ellwoodwx/stationsync/internal/api/models"
	"github.com/ellwoodwx/stationsync/internal/api/response"
	"github.com/ellwoodwx/stationsync/internal/collector"
)

const maxTriggerBody = 4 << 10

// RunStarter launches a collection run in the background.
type RunStarter interface {
	Start(ctx context.Context, sel collector.RangeSelector) (string, error)
}

// RunsHandler triggers and reports collection runs.
type RunsHandler struct {
	starter RunStarter
	runs    RunHistory
	logger  zerolog.Logger
}

// NewRunsHandler creates a new RunsHandler.
func NewRunsHandler(starter RunStarter, runs RunHistory, logger zerolog.Logger) *RunsHandler {
	return &RunsHandler{starter: starter, runs: runs, logger: logger}
}

// TriggerRun handles POST /v1/runs.
func (h *RunsHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req models.TriggerRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTriggerBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, r, "request body must be a JSON object", nil)
		return
	}

	sel, err := collector.ParseRange(req.Range)
	if err != nil {
		response.BadRequest(w, r, "invalid range", []models.FieldError{
			{Field: "range", Message: err.Error(), Code: "INVALID_RANGE"},
		})
		return
	}

	// The run outlives the request but keeps its trace and values.
	runID, err := h.starter.Start(context.WithoutCancel(r.Context()), sel)
	if errors.Is(err, collector.ErrRunInProgress) {
		response.RunInProgress(w, r, "a collection run is already in progress")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to start collection run")
		response.InternalError(w, r, "failed to start run")
		return
	}

	h.logger.Info().
		Str("run_id", runID).
		Str("range", sel.String()).
		Str("operator", middleware.GetOperator(r.Context())).
		Msg("collection run triggered")

	response.Accepted(w, r, "/v1/runs/"+runID, models.RunAccepted{RunID: runID, Range: sel.String()})
}

// GetRun handles GET /v1/runs/{runId}.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, ok := h.runs.Get(runID)
	if !ok {
		response.NotFound(w, r, "run not found")
		return
	}
	response.JSON(w, r, http.StatusOK, toRun(run))
}

// ListRuns handles GET /v1/runs, newest first, without per-unit detail.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	recent := h.runs.Recent(0)
	out := make([]models.Run, 0, len(recent))
	for _, run := range recent {
		summary := toRun(run)
		summary.Units = nil
		out = append(out, summary)
	}
	response.JSON(w, r, http.StatusOK, out)
}

func toRun(run collector.RunResult) models.Run {
	out := models.Run{
		ID:         run.ID,
		Range:      run.Range,
		Status:     run.Status,
		Dates:      make([]string, 0, len(run.Dates)),
		Stations:   run.Stations,
		StartedAt:  models.Timestamp(run.StartedAt),
		FinishedAt: models.TimestampPtr(run.FinishedAt),
		DurationMS: run.Duration.Milliseconds(),
	}
	for _, d := range run.Dates {
		out.Dates = append(out.Dates, d.String())
	}
	for _, u := range run.Units {
		out.Units = append(out.Units, models.UnitResult{
			Station: u.Station,
			Date:    u.Date.String(),
			Fetched: u.Fetched,
			Dropped: u.Dropped,
			Added:   u.Added,
			Total:   u.Total,
			Stage:   u.Stage,
			Error:   u.Error,
		})
	}
	return out
}
