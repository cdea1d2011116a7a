package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ellwoodwx/stationsync/internal/collector"
	"github.com/ellwoodwx/stationsync/internal/station"
)

// ErrMalformed marks messages that will never succeed. They are acked so
// they are not redelivered.
var ErrMalformed = errors.New("malformed job message")

// Runner executes a collection run unless one is already active.
type Runner interface {
	TryRun(ctx context.Context, sel collector.RangeSelector) (collector.RunResult, error)
}

// Stats counts dispatched jobs.
type Stats struct {
	Received    int64
	Completed   int64
	Failed      int64
	Rejected    int64
	LastJobAt   time.Time
	LastJobType string
}

// DispatcherConfig holds the dependencies of a Dispatcher.
type DispatcherConfig struct {
	Config   Config
	Runner   Runner
	Source   Source
	Registry station.Registry
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Dispatcher decodes job messages and runs them.
type Dispatcher struct {
	config   Config
	runner   Runner
	source   Source
	registry station.Registry
	now      func() time.Time
	logger   zerolog.Logger

	mu    sync.RWMutex
	stats Stats
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		config:   cfg.Config.withDefaults(),
		runner:   cfg.Runner,
		source:   cfg.Source,
		registry: cfg.Registry,
		now:      now,
		logger:   cfg.Logger,
	}
}

// Handle runs the job in data. Errors wrapping ErrMalformed should be acked;
// any other error should be retried.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		d.record("", errMalformed(err))
		return errMalformed(err)
	}

	var err error
	switch msg.JobType {
	case JobCollect:
		err = d.collect(ctx, msg)
	case JobHealthCheck:
		err = d.healthCheck(ctx)
	default:
		err = fmt.Errorf("%w: unknown job type %q", ErrMalformed, msg.JobType)
	}
	d.record(msg.JobType, err)
	return err
}

func errMalformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

func (d *Dispatcher) collect(ctx context.Context, msg Message) error {
	sel, err := collector.ParseRange(msg.Range)
	if err != nil {
		return errMalformed(err)
	}

	result, err := d.runner.TryRun(ctx, sel)
	if err != nil {
		// ErrRunInProgress is retried; the redelivered message finds the job free.
		return err
	}

	if result.Status == collector.StatusFailed {
		return fmt.Errorf("collection run %s failed for all %d units", result.ID, len(result.Units))
	}
	if failed := result.Failed(); len(failed) > 0 {
		// Failed units are not retried by redelivery; the next run repeats them.
		d.logger.Warn().
			Str("run_id", result.ID).
			Int("failed_units", len(failed)).
			Msg("collection run finished with failures")
	}
	return nil
}

func (d *Dispatcher) healthCheck(ctx context.Context) error {
	stations := d.registry.Active(d.logger)
	if len(stations) == 0 {
		return errMalformed(errors.New("no configured stations to probe"))
	}

	result := d.probe(ctx, stations)
	d.logger.Info().
		Int("total", result.Total).
		Int("healthy", result.Healthy).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("health check finished")

	if result.Failed > 0 {
		return fmt.Errorf("health check failed: %d of %d stations unreachable", result.Failed, result.Total)
	}
	return nil
}

func (d *Dispatcher) record(jobType string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Received++
	d.stats.LastJobAt = d.now()
	d.stats.LastJobType = jobType
	switch {
	case err == nil:
		d.stats.Completed++
	case errors.Is(err, ErrMalformed):
		d.stats.Rejected++
	default:
		d.stats.Failed++
	}
}

// Stats returns a copy of the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}
