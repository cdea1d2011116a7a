// Package window fetches a station's records over a local time interval,
// one upstream request per calendar day.
package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ellwoodwx/stationsync/internal/ambient"
	"github.com/ellwoodwx/stationsync/internal/observation"
	"github.com/ellwoodwx/stationsync/internal/timestamp"
)

const (
	// DefaultPacing is the wait between consecutive sub-requests.
	DefaultPacing = time.Second

	// DefaultRecordInterval is the station reporting cadence.
	DefaultRecordInterval = 5 * time.Minute
)

// ErrFetchFailed marks a window whose upstream retries were exhausted.
var ErrFetchFailed = errors.New("window fetch failed")

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// FetchError reports the sub-window that could not be fetched.
type FetchError struct {
	MAC    string
	Window Window
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s %s: %v", e.MAC, e.Window, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// Source is the upstream device-data query.
type Source interface {
	DeviceData(ctx context.Context, mac string, start, end time.Time) ([]observation.Raw, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// FetcherConfig holds configuration for a Fetcher.
type FetcherConfig struct {
	Source     Source
	Normalizer *timestamp.Normalizer

	// Pacing is the minimum gap between consecutive upstream requests made
	// by this Fetcher, across calls (default 1s, negative disables).
	Pacing time.Duration

	// RecordInterval and Limit bound how much time one request may span.
	// Defaults: 5m and 288.
	RecordInterval time.Duration
	Limit          int

	// Sleep and Now override the pacing wait and clock, mainly for tests.
	Sleep SleepFunc
	Now   func() time.Time

	Logger zerolog.Logger
}

// Fetcher retrieves records for an interval.
type Fetcher struct {
	source         Source
	normalizer     *timestamp.Normalizer
	pacing         time.Duration
	recordInterval time.Duration
	limit          int
	sleep          SleepFunc
	now            func() time.Time
	logger         zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Pacing == 0 {
		cfg.Pacing = DefaultPacing
	}
	if cfg.RecordInterval <= 0 {
		cfg.RecordInterval = DefaultRecordInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = ambient.MaxRecordsPerRequest
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Fetcher{
		source:         cfg.Source,
		normalizer:     cfg.Normalizer,
		pacing:         cfg.Pacing,
		recordInterval: cfg.RecordInterval,
		limit:          cfg.Limit,
		sleep:          cfg.Sleep,
		now:            cfg.Now,
		logger:         cfg.Logger,
	}
}

// Fetch returns the records for [start, end) in request order. Records whose
// normalized time falls outside the interval are dropped; records that do not
// normalize are kept for the caller to report. Any failed sub-request fails
// the whole call and no records are returned.
//
// Requests are paced against the previous request of any earlier call, so
// consecutive days and stations share the same gap.
func (f *Fetcher) Fetch(ctx context.Context, mac string, start, end time.Time) ([]observation.Raw, error) {
	windows := Split(start, end, f.normalizer.Location(), f.recordInterval, f.limit)

	var records []observation.Raw
	for _, w := range windows {
		if err := f.pace(ctx); err != nil {
			return nil, &FetchError{MAC: mac, Window: w, Err: err}
		}

		batch, err := f.source.DeviceData(ctx, mac, w.Start.UTC(), w.End.UTC())
		f.mu.Lock()
		f.lastRequest = f.now()
		f.mu.Unlock()
		if err != nil {
			return nil, &FetchError{MAC: mac, Window: w, Err: err}
		}

		f.logger.Debug().
			Str("mac", mac).
			Stringer("window", w).
			Int("records", len(batch)).
			Msg("window fetched")

		records = append(records, batch...)
	}

	return f.within(records, start, end), nil
}

// pace waits out what is left of the gap since the last request.
func (f *Fetcher) pace(ctx context.Context) error {
	if f.pacing <= 0 {
		return nil
	}
	f.mu.Lock()
	last := f.lastRequest
	f.mu.Unlock()
	if last.IsZero() {
		return nil
	}
	if wait := f.pacing - f.now().Sub(last); wait > 0 {
		return f.sleep(ctx, wait)
	}
	return nil
}

func (f *Fetcher) within(records []observation.Raw, start, end time.Time) []observation.Raw {
	kept := records[:0:0]
	dropped := 0
	for _, raw := range records {
		v, _ := raw.DateUTC()
		t, err := f.normalizer.Normalize(v)
		if err == nil && (t.Before(start) || !t.Before(end)) {
			dropped++
			continue
		}
		kept = append(kept, raw)
	}
	if dropped > 0 {
		f.logger.Debug().Int("dropped", dropped).Msg("discarded records outside window")
	}
	return kept
}

// Split cuts [start, end) at midnights in loc. A piece longer than
// limit*interval is cut again so no request exceeds the upstream cap.
func Split(start, end time.Time, loc *time.Location, interval time.Duration, limit int) []Window {
	if !start.Before(end) {
		return nil
	}

	maxSpan := time.Duration(limit) * interval
	var out []Window
	cursor := start
	for cursor.Before(end) {
		local := cursor.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
		if next.After(end) {
			next = end
		}

		for piece := cursor; piece.Before(next); {
			stop := next
			if maxSpan > 0 && stop.Sub(piece) > maxSpan {
				stop = piece.Add(maxSpan)
			}
			out = append(out, Window{Start: piece, End: stop})
			piece = stop
		}
		cursor = next
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
