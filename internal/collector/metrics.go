package collector

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ellwoodwx/stationsync/internal/collector"

// Metrics holds the OpenTelemetry instruments for collection runs.
type Metrics struct {
	runDuration    metric.Float64Histogram
	runTotal       metric.Int64Counter
	fetchDuration  metric.Float64Histogram
	recordsFetched metric.Int64Counter
	recordsDropped metric.Int64Counter
	recordsAdded   metric.Int64Counter
	unitFailures   metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	runDuration, err := meter.Float64Histogram(
		"collector.run.duration",
		metric.WithDescription("Duration of collection runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runTotal, err := meter.Int64Counter(
		"collector.run.total",
		metric.WithDescription("Total number of collection runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"collector.fetch.duration",
		metric.WithDescription("Duration of one station-day fetch in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	recordsFetched, err := meter.Int64Counter(
		"collector.records.fetched",
		metric.WithDescription("Records returned by the upstream"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	recordsDropped, err := meter.Int64Counter(
		"collector.records.dropped",
		metric.WithDescription("Records dropped because their timestamp could not be parsed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	recordsAdded, err := meter.Int64Counter(
		"collector.records.added",
		metric.WithDescription("Records newly written to datasets"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	unitFailures, err := meter.Int64Counter(
		"collector.unit.failures",
		metric.WithDescription("Station-day units that failed"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runDuration:    runDuration,
		runTotal:       runTotal,
		fetchDuration:  fetchDuration,
		recordsFetched: recordsFetched,
		recordsDropped: recordsDropped,
		recordsAdded:   recordsAdded,
		unitFailures:   unitFailures,
	}, nil
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("run.status", status))
	m.runDuration.Record(ctx, d.Seconds(), attrs)
	m.runTotal.Add(ctx, 1, attrs)
}

// RecordUnit records one station-day unit.
func (m *Metrics) RecordUnit(ctx context.Context, u UnitResult, fetch time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("station.id", u.Station)}
	if u.Error != "" {
		m.unitFailures.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("unit.stage", u.Stage))...))
		attrs = append(attrs, attribute.Bool("error", true))
	}

	opt := metric.WithAttributes(attrs...)
	m.fetchDuration.Record(ctx, fetch.Seconds(), opt)
	m.recordsFetched.Add(ctx, int64(u.Fetched), opt)
	m.recordsDropped.Add(ctx, int64(u.Dropped), opt)
	m.recordsAdded.Add(ctx, int64(u.Added), opt)
}
