// Package timestamp converts the upstream dateutc encodings into a single
// zoned instant.
//
// The upstream API is inconsistent about how it encodes dateutc: epoch
// seconds, epoch milliseconds, ISO-8601 strings, and numeric strings in either
// unit all appear in the wild. A Normalizer tries an ordered list of
// strategies and converts the first UTC instant it gets into the target civil
// zone.
package timestamp

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // zone data must not depend on the host
)

// DefaultZone is the civil zone every record is bucketed in.
const DefaultZone = "America/Los_Angeles"

// ErrUnparseable is wrapped by every NormalizationError.
var ErrUnparseable = errors.New("unparseable timestamp")

// NormalizationError reports a raw value no strategy could interpret.
type NormalizationError struct {
	Value any
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s: %v (%T)", ErrUnparseable.Error(), e.Value, e.Value)
}

// Unwrap allows errors.Is(err, ErrUnparseable).
func (e *NormalizationError) Unwrap() error {
	return ErrUnparseable
}

// Strategy interprets one raw encoding. ok is false when the value is not in
// the strategy's encoding or is out of range; the next strategy is tried.
type Strategy interface {
	Name() string
	Parse(raw any) (utc time.Time, ok bool)
}

// Normalizer applies strategies in order until one succeeds.
type Normalizer struct {
	loc        *time.Location
	strategies []Strategy
}

// DefaultStrategies returns the resolution order used for dateutc values:
// numeric epoch (seconds, then milliseconds), ISO-8601 with a Z suffix, and
// finally a numeric string with the digit-count heuristic.
func DefaultStrategies() []Strategy {
	return []Strategy{
		NumericEpoch{},
		ISO8601UTC{},
		NumericString{},
	}
}

// New creates a Normalizer for the given location. Nil strategies means
// DefaultStrategies.
func New(loc *time.Location, strategies ...Strategy) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Normalizer{loc: loc, strategies: strategies}
}

// NewDefault creates a Normalizer for DefaultZone.
func NewDefault() (*Normalizer, error) {
	loc, err := time.LoadLocation(DefaultZone)
	if err != nil {
		return nil, fmt.Errorf("loading zone %s: %w", DefaultZone, err)
	}
	return New(loc), nil
}

// Location returns the target civil zone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize converts raw into an instant in the target zone.
func (n *Normalizer) Normalize(raw any) (time.Time, error) {
	for _, s := range n.strategies {
		if utc, ok := s.Parse(raw); ok {
			return utc.UTC().In(n.loc), nil
		}
	}
	return time.Time{}, &NormalizationError{Value: raw}
}
