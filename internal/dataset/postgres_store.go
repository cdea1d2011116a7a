package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS station_days (
		station    TEXT        NOT NULL,
		day        DATE        NOT NULL,
		columns    TEXT[]      NOT NULL,
		row_count  INTEGER     NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (station, day)
	);

	CREATE TABLE IF NOT EXISTS station_readings (
		station  TEXT    NOT NULL,
		day      DATE    NOT NULL,
		position INTEGER NOT NULL,
		dateutc  TEXT    NOT NULL,
		cells    JSONB   NOT NULL,
		PRIMARY KEY (station, day, position),
		FOREIGN KEY (station, day) REFERENCES station_days (station, day) ON DELETE CASCADE
	);
`

// PostgresStore keeps datasets in PostgreSQL. Each day is one station_days
// row plus its readings, replaced together in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL dataset store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating dataset schema: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, station string, date civil.Date) (*Dataset, error) {
	day := date.In(time.UTC)

	d := &Dataset{Station: station, Date: date}
	err := s.pool.QueryRow(ctx,
		`SELECT columns FROM station_days WHERE station = $1 AND day = $2`,
		station, day,
	).Scan(&d.Columns)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading %s: %w", Name(station, date), err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT cells
		FROM station_readings
		WHERE station = $1 AND day = $2
		ORDER BY position
	`, station, day)
	if err != nil {
		return nil, fmt.Errorf("loading readings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		var row Row
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decoding reading: %w", err)
		}
		d.Rows = append(d.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return d, nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, d *Dataset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback error is not critical

	day := d.Date.In(time.UTC)

	_, err = tx.Exec(ctx, `
		INSERT INTO station_days (station, day, columns, row_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (station, day) DO UPDATE SET
			columns = EXCLUDED.columns,
			row_count = EXCLUDED.row_count,
			updated_at = EXCLUDED.updated_at
	`, d.Station, day, d.Columns, len(d.Rows), time.Now())
	if err != nil {
		return fmt.Errorf("upserting day: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM station_readings WHERE station = $1 AND day = $2`,
		d.Station, day,
	); err != nil {
		return fmt.Errorf("clearing readings: %w", err)
	}

	rows := make([][]any, 0, len(d.Rows))
	for i, r := range d.Rows {
		cells, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding row %d: %w", i, err)
		}
		rows = append(rows, []any{d.Station, day, i, r["dateutc"], cells})
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"station_readings"},
		[]string{"station", "day", "position", "dateutc", "cells"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("writing readings: %w", err)
	}

	return tx.Commit(ctx)
}

var _ Store = (*PostgresStore)(nil)
