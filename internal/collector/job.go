// Package collector runs the fetch, normalize and merge pipeline for every
// station and day in a date range.
package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ellwoodwx/stationsync/internal/dataset"
	"github.com/ellwoodwx/stationsync/internal/observation"
	"github.com/ellwoodwx/stationsync/internal/station"
	"github.com/ellwoodwx/stationsync/internal/timestamp"
)

// ErrRunInProgress is returned by TryRun and Start while a run is active.
var ErrRunInProgress = errors.New("a collection run is already in progress")

// Run status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Unit stages at which a station-day can fail.
const (
	StageFetch = "fetch"
	StageMerge = "merge"
)

// Fetcher retrieves raw records for [start, end).
type Fetcher interface {
	Fetch(ctx context.Context, mac string, start, end time.Time) ([]observation.Raw, error)
}

// DayMerger merges a day's records into persisted state.
type DayMerger interface {
	MergeDay(ctx context.Context, station string, date civil.Date, records []observation.Record) (*dataset.MergeResult, error)
}

// UnitResult is the outcome for one station and one day.
type UnitResult struct {
	Station string
	Date    civil.Date
	Fetched int
	Dropped int
	Added   int
	Total   int

	// Stage and Error are set when the unit failed.
	Stage string
	Error string
}

// RunResult summarizes a run.
type RunResult struct {
	ID         string
	Range      string
	Status     string
	Dates      []civil.Date
	Stations   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Units      []UnitResult
}

// Failed returns the failed units.
func (r RunResult) Failed() []UnitResult {
	var out []UnitResult
	for _, u := range r.Units {
		if u.Error != "" {
			out = append(out, u)
		}
	}
	return out
}

// JobConfig holds configuration for creating a Job.
type JobConfig struct {
	Registry   station.Registry
	Fetcher    Fetcher
	Merger     DayMerger
	Normalizer *timestamp.Normalizer

	// History receives every run (optional, a default one is created).
	History *History

	// Metrics is optional.
	Metrics *Metrics

	// Now returns the current time (optional, for tests).
	Now func() time.Time

	Logger zerolog.Logger
}

// Job runs collection passes. Only one pass runs at a time per Job.
type Job struct {
	registry   station.Registry
	fetcher    Fetcher
	merger     DayMerger
	normalizer *timestamp.Normalizer
	history    *History
	metrics    *Metrics
	tracer     trace.Tracer
	now        func() time.Time
	logger     zerolog.Logger

	running sync.Mutex
}

// NewJob creates a collection job.
func NewJob(cfg JobConfig) *Job {
	history := cfg.History
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Job{
		registry:   cfg.Registry,
		fetcher:    cfg.Fetcher,
		merger:     cfg.Merger,
		normalizer: cfg.Normalizer,
		history:    history,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer(instrumentationName),
		now:        now,
		logger:     cfg.Logger,
	}
}

// History returns the job's run history.
func (j *Job) History() *History {
	return j.history
}

// Run executes a pass over sel, waiting for any active run to finish first.
func (j *Job) Run(ctx context.Context, sel RangeSelector) RunResult {
	j.running.Lock()
	defer j.running.Unlock()

	return j.execute(ctx, j.begin(sel))
}

// TryRun executes a pass over sel, or returns ErrRunInProgress.
func (j *Job) TryRun(ctx context.Context, sel RangeSelector) (RunResult, error) {
	if !j.running.TryLock() {
		return RunResult{}, ErrRunInProgress
	}
	defer j.running.Unlock()

	return j.execute(ctx, j.begin(sel)), nil
}

// Start launches a pass in the background and returns its ID at once. The
// run is bound to ctx, so callers serving a request should detach it first.
func (j *Job) Start(ctx context.Context, sel RangeSelector) (string, error) {
	if !j.running.TryLock() {
		return "", ErrRunInProgress
	}

	result := j.begin(sel)
	go func() {
		defer j.running.Unlock()
		j.execute(ctx, result)
	}()
	return result.ID, nil
}

// begin registers a new running result in history.
func (j *Job) begin(sel RangeSelector) RunResult {
	today := civil.DateOf(j.now().In(j.normalizer.Location()))
	result := RunResult{
		ID:        uuid.New().String(),
		Range:     sel.String(),
		Status:    StatusRunning,
		Dates:     sel.Dates(today),
		StartedAt: j.now(),
	}
	j.history.Put(result)
	return result
}

func (j *Job) execute(ctx context.Context, result RunResult) RunResult {
	ctx, span := j.tracer.Start(ctx, "collector.run",
		trace.WithAttributes(
			attribute.String("run.id", result.ID),
			attribute.String("run.range", result.Range),
		),
	)
	defer span.End()

	logger := j.logger.With().Str("run_id", result.ID).Logger()
	stations := j.registry.Active(logger)
	result.Stations = len(stations)

	logger.Info().
		Str("range", result.Range).
		Int("stations", len(stations)).
		Int("days", len(result.Dates)).
		Msg("starting collection run")

	for _, st := range stations {
		for _, date := range result.Dates {
			if err := ctx.Err(); err != nil {
				result.Units = append(result.Units, UnitResult{
					Station: st.ID, Date: date, Stage: StageFetch, Error: err.Error(),
				})
				continue
			}
			result.Units = append(result.Units, j.unit(ctx, logger, st, date))
		}
	}

	result.FinishedAt = j.now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Status = status(result)

	span.SetAttributes(attribute.String("run.status", result.Status))
	if result.Status == StatusFailed {
		span.SetStatus(codes.Error, "all units failed")
	}
	j.metrics.RecordRun(ctx, result.Status, result.Duration)
	j.history.Put(result)

	logger.Info().
		Str("status", result.Status).
		Int("units", len(result.Units)).
		Int("failed", len(result.Failed())).
		Dur("duration", result.Duration).
		Msg("collection run completed")

	return result
}

// unit fetches, normalizes and merges one station-day.
func (j *Job) unit(ctx context.Context, logger zerolog.Logger, st station.Station, date civil.Date) UnitResult {
	u := UnitResult{Station: st.ID, Date: date}

	ctx, span := j.tracer.Start(ctx, "collector.unit",
		trace.WithAttributes(
			attribute.String("station.id", st.ID),
			attribute.String("date", date.String()),
		),
	)
	defer span.End()

	logger = logger.With().Str("station", st.ID).Str("date", date.String()).Logger()

	start, end := DayBounds(date, j.normalizer.Location())
	began := time.Now()
	raws, err := j.fetcher.Fetch(ctx, st.MAC, start, end)
	fetchTook := time.Since(began)
	if err != nil {
		u.Stage, u.Error = StageFetch, err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		logger.Error().Err(err).Msg("fetch failed, skipping day")
		j.metrics.RecordUnit(ctx, u, fetchTook)
		return u
	}
	u.Fetched = len(raws)

	records := make([]observation.Record, 0, len(raws))
	for _, raw := range raws {
		v, _ := raw.DateUTC()
		local, err := j.normalizer.Normalize(v)
		if err != nil {
			u.Dropped++
			logger.Warn().Err(err).Interface("dateutc", v).Msg("dropping record with unparseable timestamp")
			continue
		}
		records = append(records, observation.NewRecord(raw, local))
	}

	for _, bucket := range observation.GroupByDate(records) {
		res, err := j.merger.MergeDay(ctx, st.ID, bucket.Date, bucket.Records)
		if err != nil {
			u.Stage, u.Error = StageMerge, err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, "merge failed")
			logger.Error().Err(err).Str("bucket", bucket.Date.String()).Msg("saving dataset failed")
			break
		}
		u.Added += res.Added
		u.Total += res.Total
	}

	if len(records) == 0 {
		logger.Info().Int("fetched", u.Fetched).Msg("no records for day")
	}

	span.SetAttributes(
		attribute.Int("records.fetched", u.Fetched),
		attribute.Int("records.dropped", u.Dropped),
		attribute.Int("records.added", u.Added),
	)
	j.metrics.RecordUnit(ctx, u, fetchTook)
	return u
}

func status(r RunResult) string {
	failed := len(r.Failed())
	switch {
	case failed == 0:
		return StatusSucceeded
	case failed == len(r.Units):
		return StatusFailed
	default:
		return StatusPartial
	}
}
