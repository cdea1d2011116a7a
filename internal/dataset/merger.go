package dataset

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/ellwoodwx/stationsync/internal/observation"
)

// MergerConfig holds configuration for a Merger.
type MergerConfig struct {
	Store  Store
	Logger zerolog.Logger
}

// Merger loads a day, merges new records into it and saves it back.
type Merger struct {
	store  Store
	logger zerolog.Logger
}

// NewMerger creates a Merger.
func NewMerger(cfg MergerConfig) *Merger {
	return &Merger{store: cfg.Store, logger: cfg.Logger}
}

// MergeResult summarizes one MergeDay call.
type MergeResult struct {
	Station  string
	Date     civil.Date
	Existing int
	Incoming int
	Added    int
	Total    int

	// LoadFailed is set when the stored dataset could not be read and was
	// replaced by the incoming records.
	LoadFailed bool
}

// MergeDay merges records into the stored dataset for station and date. A
// dataset that cannot be loaded is logged and treated as absent; a failed
// save is returned.
func (m *Merger) MergeDay(ctx context.Context, station string, date civil.Date, records []observation.Record) (*MergeResult, error) {
	result := &MergeResult{Station: station, Date: date, Incoming: len(records)}

	existing, err := m.store.Load(ctx, station, date)
	switch {
	case err == nil:
		result.Existing = existing.Len()
	case errors.Is(err, ErrNotFound):
		existing = nil
	default:
		m.logger.Warn().
			Err(err).
			Str("station", station).
			Str("date", date.String()).
			Msg("could not read existing dataset, continuing with new records only")
		existing = nil
		result.LoadFailed = true
	}

	merged := Merge(existing, station, date, records)
	result.Total = merged.Len()
	result.Added = result.Total - result.Existing

	if err := m.store.Save(ctx, merged); err != nil {
		return result, fmt.Errorf("saving %s: %w", merged.Name(), err)
	}

	m.logger.Info().
		Str("station", station).
		Str("date", date.String()).
		Int("existing", result.Existing).
		Int("added", result.Added).
		Int("total", result.Total).
		Msg("dataset updated")

	return result, nil
}
