package dataset_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwoodwx/stationsync/internal/dataset"
)

// Runs against a real database when TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	store := dataset.NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	station := "test_" + t.Name()
	_, err = store.Load(ctx, station, may1)
	assert.ErrorIs(t, err, dataset.ErrNotFound)

	d := dataset.Merge(nil, station, may1, dayRecords(t, 0, 12, nil))
	require.NoError(t, store.Save(ctx, d))
	require.NoError(t, store.Save(ctx, d))

	loaded, err := store.Load(ctx, station, may1)
	require.NoError(t, err)
	assert.Equal(t, d.Columns, loaded.Columns)
	assert.Equal(t, d.Rows, loaded.Rows)

	_, err = pool.Exec(ctx, `DELETE FROM station_days WHERE station = $1`, station)
	require.NoError(t, err)
}
