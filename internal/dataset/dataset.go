// Package dataset merges canonical records into per-station, per-day tables
// and persists them.
package dataset

import (
	"fmt"
	"maps"
	"slices"

	"cloud.google.com/go/civil"

	"github.com/ellwoodwx/stationsync/internal/observation"
)

// Row is one dataset row keyed by column name.
type Row map[string]string

// Dataset is the table for one station and one calendar day. Rows are unique
// by their dateutc cell.
type Dataset struct {
	Station string
	Date    civil.Date
	Columns []string
	Rows    []Row
}

// Len returns the row count.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Name returns the base file name, e.g. ellwood_main_2024_05_01.
func (d *Dataset) Name() string {
	return Name(d.Station, d.Date)
}

// Name builds the dataset name for a station and day.
func Name(station string, date civil.Date) string {
	return fmt.Sprintf("%s_%04d_%02d_%02d", station, date.Year, int(date.Month), date.Day)
}

// Record renders row i as cells in column order. Missing cells are empty.
func (d *Dataset) Record(i int) []string {
	out := make([]string, len(d.Columns))
	for j, c := range d.Columns {
		out[j] = d.Rows[i][c]
	}
	return out
}

// Merge combines existing (which may be nil) with incoming records. Rows from
// existing come first, then incoming rows in order; only the first row per
// dateutc value is kept. Merge does not modify existing.
func Merge(existing *Dataset, station string, date civil.Date, incoming []observation.Record) *Dataset {
	out := &Dataset{Station: station, Date: date}

	var prior []Row
	if existing != nil {
		prior = existing.Rows
		out.Columns = mergeColumns(existing.Columns, incoming)
	} else {
		out.Columns = mergeColumns(nil, incoming)
	}

	seen := make(map[string]struct{}, len(prior)+len(incoming))
	add := func(r Row) {
		key := r[observation.FieldDateUTC]
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out.Rows = append(out.Rows, r)
	}

	for _, r := range prior {
		add(maps.Clone(r))
	}
	for _, rec := range incoming {
		add(Row(rec.Cells()))
	}
	return out
}

// mergeColumns keeps the existing order, appends unseen raw fields (dateutc
// first, then lexical) and ends with local_time and date.
func mergeColumns(existing []string, incoming []observation.Record) []string {
	cols := make([]string, 0, len(existing)+4)
	have := make(map[string]bool, len(existing)+4)
	for _, c := range existing {
		if c == observation.FieldLocalTime || c == observation.FieldDate || have[c] {
			continue
		}
		cols = append(cols, c)
		have[c] = true
	}

	var fresh []string
	freshSeen := make(map[string]bool)
	dateUTC := false
	for _, rec := range incoming {
		for _, name := range rec.FieldNames() {
			if have[name] || freshSeen[name] {
				continue
			}
			freshSeen[name] = true
			if name == observation.FieldDateUTC {
				dateUTC = true
				continue
			}
			fresh = append(fresh, name)
		}
	}
	slices.Sort(fresh)
	if dateUTC {
		cols = append(cols, observation.FieldDateUTC)
	}
	cols = append(cols, fresh...)

	if len(existing) > 0 || len(incoming) > 0 {
		cols = append(cols, observation.FieldLocalTime, observation.FieldDate)
	}
	return cols
}
