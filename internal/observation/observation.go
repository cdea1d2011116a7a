// Package observation defines the raw and canonical station records.
package observation

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
)

// Field names shared by every record.
const (
	FieldDateUTC   = "dateutc"
	FieldLocalTime = "local_time"
	FieldDate      = "date"
)

// LocalTimeLayout is how local_time is written to datasets.
const LocalTimeLayout = "2006-01-02 15:04:05-07:00"

// Raw is a record as returned by the upstream API. The schema is open: every
// field present is passed through.
type Raw map[string]any

// DateUTC returns the raw, un-normalized timestamp value.
func (r Raw) DateUTC() (any, bool) {
	v, ok := r[FieldDateUTC]
	return v, ok
}

// Record is a Raw record with its normalized time attached.
type Record struct {
	Raw       Raw
	LocalTime time.Time
	Date      civil.Date
}

// NewRecord attaches localTime and the calendar date in localTime's zone.
func NewRecord(raw Raw, localTime time.Time) Record {
	return Record{
		Raw:       raw,
		LocalTime: localTime,
		Date:      civil.DateOf(localTime),
	}
}

// Key returns the dedup key: the raw dateutc value formatted as a cell.
func (r Record) Key() string {
	v, _ := r.Raw.DateUTC()
	return FormatValue(v)
}

// Cells renders the record as string cells, including local_time and date.
func (r Record) Cells() map[string]string {
	cells := make(map[string]string, len(r.Raw)+2)
	for k, v := range r.Raw {
		cells[k] = FormatValue(v)
	}
	cells[FieldLocalTime] = r.LocalTime.Format(LocalTimeLayout)
	cells[FieldDate] = r.Date.String()
	return cells
}

// FieldNames returns the raw field names with dateutc first and the rest in
// lexical order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Raw))
	for k := range r.Raw {
		if k != FieldDateUTC && k != FieldLocalTime && k != FieldDate {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	if _, ok := r.Raw[FieldDateUTC]; ok {
		names = append([]string{FieldDateUTC}, names...)
	}
	return names
}

// FormatValue renders a decoded JSON value as a table cell. Numbers keep
// their upstream text so that 1714546800000 stays 1714546800000.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// DecodeRaw decodes a JSON array of records, keeping numbers as json.Number.
func DecodeRaw(r io.Reader) ([]Raw, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []Raw
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return records, nil
}

// Bucket is the set of records for one calendar day.
type Bucket struct {
	Date    civil.Date
	Records []Record
}

// GroupByDate buckets records by Date, in ascending date order. Record order
// within a bucket is preserved.
func GroupByDate(records []Record) []Bucket {
	index := make(map[civil.Date]int)
	var buckets []Bucket
	for _, rec := range records {
		i, ok := index[rec.Date]
		if !ok {
			i = len(buckets)
			index[rec.Date] = i
			buckets = append(buckets, Bucket{Date: rec.Date})
		}
		buckets[i].Records = append(buckets[i].Records, rec)
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Date.Before(buckets[j].Date)
	})
	return buckets
}
