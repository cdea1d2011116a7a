package collector_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwoodwx/stationsync/internal/collector"
	"github.com/ellwoodwx/stationsync/internal/dataset"
	"github.com/ellwoodwx/stationsync/internal/observation"
	"github.com/ellwoodwx/stationsync/internal/station"
	"github.com/ellwoodwx/stationsync/internal/timestamp"
)

// dayFetcher returns one record per 5 minutes for the requested range plus
// one unparseable record. MACs listed in fail return an error.
type dayFetcher struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
	gate  chan struct{}
}

func (f *dayFetcher) Fetch(_ context.Context, mac string, start, end time.Time) ([]observation.Raw, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.fail[mac] {
		return nil, errors.New("upstream exhausted")
	}
	var out []observation.Raw
	for t := start; t.Before(end); t = t.Add(5 * time.Minute) {
		out = append(out, observation.Raw{
			"dateutc": json.Number(strconv.FormatInt(t.UnixMilli(), 10)),
			"tempf":   json.Number("61.0"),
		})
	}
	return append(out, observation.Raw{"dateutc": "not-a-time"}), nil
}

func registry() station.Registry {
	return station.Registry{Stations: []station.Station{
		{ID: "ellwood_main", Name: "Ellwood Main", MAC: "main-mac"},
		{ID: "ellwood_mesa", Name: "Ellwood Mesa", MAC: "mesa-mac"},
		{ID: "bluff", Name: "Bluff"},
	}}
}

func newJob(t *testing.T, f collector.Fetcher, store dataset.Store, logger zerolog.Logger) *collector.Job {
	t.Helper()
	norm, err := timestamp.NewDefault()
	require.NoError(t, err)
	metrics, err := collector.NewMetrics()
	require.NoError(t, err)

	now := time.Date(2024, 5, 2, 10, 0, 0, 0, norm.Location())
	return collector.NewJob(collector.JobConfig{
		Registry:   registry(),
		Fetcher:    f,
		Merger:     dataset.NewMerger(dataset.MergerConfig{Store: store, Logger: zerolog.Nop()}),
		Normalizer: norm,
		Metrics:    metrics,
		Now:        func() time.Time { return now },
		Logger:     logger,
	})
}

func TestJob_RunYesterday(t *testing.T) {
	store := dataset.NewMemoryStore()
	var buf bytes.Buffer
	job := newJob(t, &dayFetcher{}, store, zerolog.New(&buf))

	result := job.Run(context.Background(), collector.DaysAgo(1))

	assert.Equal(t, collector.StatusSucceeded, result.Status)
	assert.Equal(t, 2, result.Stations, "inert station skipped")
	require.Len(t, result.Units, 2)
	for _, u := range result.Units {
		assert.Equal(t, date(2024, 5, 1), u.Date)
		assert.Equal(t, 289, u.Fetched)
		assert.Equal(t, 1, u.Dropped)
		assert.Equal(t, 288, u.Added)
	}
	assert.Equal(t, 2, store.Count())
	assert.Contains(t, buf.String(), "MAC address not configured for Bluff")
	assert.Contains(t, buf.String(), "dropping record with unparseable timestamp")

	stored, ok := job.History().Get(result.ID)
	require.True(t, ok)
	assert.Equal(t, collector.StatusSucceeded, stored.Status)
}

func TestJob_RerunIsIdempotent(t *testing.T) {
	store := dataset.NewMemoryStore()
	job := newJob(t, &dayFetcher{}, store, zerolog.Nop())

	job.Run(context.Background(), collector.DaysAgo(1))
	second := job.Run(context.Background(), collector.DaysAgo(1))

	for _, u := range second.Units {
		assert.Equal(t, 0, u.Added)
		assert.Equal(t, 288, u.Total)
	}
}

func TestJob_FailureDoesNotStopBatch(t *testing.T) {
	store := dataset.NewMemoryStore()
	job := newJob(t, &dayFetcher{fail: map[string]bool{"main-mac": true}}, store, zerolog.Nop())

	result := job.Run(context.Background(), collector.LastNDays(2))

	assert.Equal(t, collector.StatusPartial, result.Status)
	require.Len(t, result.Units, 4)
	failed := result.Failed()
	require.Len(t, failed, 2)
	for _, u := range failed {
		assert.Equal(t, "ellwood_main", u.Station)
		assert.Equal(t, collector.StageFetch, u.Stage)
	}
	assert.Equal(t, 2, store.Count(), "mesa days still written")
}

func TestJob_TryRunWhileBusy(t *testing.T) {
	gate := make(chan struct{})
	job := newJob(t, &dayFetcher{gate: gate}, dataset.NewMemoryStore(), zerolog.Nop())

	id, err := job.Start(context.Background(), collector.Today{})
	require.NoError(t, err)

	_, err = job.TryRun(context.Background(), collector.Today{})
	assert.ErrorIs(t, err, collector.ErrRunInProgress)

	_, err = job.Start(context.Background(), collector.Today{})
	assert.ErrorIs(t, err, collector.ErrRunInProgress)

	running, ok := job.History().Get(id)
	require.True(t, ok)
	assert.Equal(t, collector.StatusRunning, running.Status)

	close(gate)
	var next collector.RunResult
	require.Eventually(t, func() bool {
		r, err := job.TryRun(context.Background(), collector.Today{})
		next = r
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, collector.StatusSucceeded, next.Status)

	first, ok := job.History().Get(id)
	require.True(t, ok)
	assert.Equal(t, collector.StatusSucceeded, first.Status)
}

func TestJob_CanceledContext(t *testing.T) {
	job := newJob(t, &dayFetcher{}, dataset.NewMemoryStore(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := job.Run(ctx, collector.Today{})
	assert.Equal(t, collector.StatusFailed, result.Status)
}
