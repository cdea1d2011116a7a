package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ellwoodwx/stationsync/internal/observation"
	"github.com/ellwoodwx/stationsync/internal/station"
)

// Source is the upstream queried by health probes.
type Source interface {
	DeviceData(ctx context.Context, mac string, start, end time.Time) ([]observation.Raw, error)
}

// ProbeResult is the outcome of probing every active station.
type ProbeResult struct {
	StartTime time.Time
	Duration  time.Duration
	Total     int
	Healthy   int
	Failed    int
	Errors    []ProbeError
}

// ProbeError is one station that could not be reached.
type ProbeError struct {
	Station string
	Error   string
}

type probeOutcome struct {
	station string
	records int
	err     error
}

// probe asks the upstream for a short recent window per station, through a
// fixed pool of workers.
func (d *Dispatcher) probe(ctx context.Context, stations []station.Station) *ProbeResult {
	start := d.now()
	result := &ProbeResult{StartTime: start, Total: len(stations)}

	jobs := make(chan station.Station, len(stations))
	outcomes := make(chan probeOutcome, len(stations))

	var wg sync.WaitGroup
	for i := 0; i < d.config.ProbeConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range jobs {
				outcomes <- d.probeStation(ctx, st, start)
			}
		}()
	}

	for _, st := range stations {
		jobs <- st
	}
	close(jobs)

	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		if o.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ProbeError{Station: o.station, Error: o.err.Error()})
			d.logger.Warn().Err(o.err).Str("station", o.station).Msg("station probe failed")
			continue
		}
		result.Healthy++
		d.logger.Debug().Str("station", o.station).Int("records", o.records).Msg("station probe succeeded")
	}

	result.Duration = d.now().Sub(start)
	return result
}

func (d *Dispatcher) probeStation(ctx context.Context, st station.Station, now time.Time) probeOutcome {
	if ctx.Err() != nil {
		return probeOutcome{station: st.Name, err: ctx.Err()}
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.ProbeTimeout)
	defer cancel()

	records, err := d.source.DeviceData(ctx, st.MAC, now.Add(-d.config.ProbeWindow).UTC(), now.UTC())
	return probeOutcome{station: st.Name, records: len(records), err: err}
}
