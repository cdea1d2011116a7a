package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/civil"
)

// CSVStore keeps one CSV file per station and day in a directory:
// {dir}/{station}_{YYYY}_{MM}_{DD}.csv with a header row.
type CSVStore struct {
	dir string
}

// NewCSVStore creates a CSVStore rooted at dir. The directory is created on
// first save.
func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{dir: dir}
}

// Path returns the file path for a station and day.
func (s *CSVStore) Path(station string, date civil.Date) string {
	return filepath.Join(s.dir, Name(station, date)+".csv")
}

// Load implements Store. A file that cannot be parsed is reported as an error
// other than ErrNotFound.
func (s *CSVStore) Load(_ context.Context, station string, date civil.Date) (*Dataset, error) {
	path := s.Path(station, date)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading %s: empty file", path)
		}
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}

	d := &Dataset{Station: station, Date: date, Columns: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		row := make(Row, len(header))
		for i, c := range header {
			row[c] = rec[i]
		}
		d.Rows = append(d.Rows, row)
	}
	return d, nil
}

// Save implements Store. The file is written next to its destination and
// renamed into place.
func (s *CSVStore) Save(_ context.Context, d *Dataset) (err error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating dataset dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+d.Name()+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(d.Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i := range d.Rows {
		if err := w.Write(d.Record(i)); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.Path(d.Station, d.Date)); err != nil {
		return fmt.Errorf("replacing dataset: %w", err)
	}
	return nil
}

var _ Store = (*CSVStore)(nil)
