package station_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwoodwx/stationsync/internal/station"
)

func TestDefaultRegistry(t *testing.T) {
	reg := station.DefaultRegistry()

	require.Len(t, reg.Stations, 2)
	assert.Equal(t, "ellwood_main", reg.Stations[0].ID)
	assert.Equal(t, "ELLWOOD_MESA_MAC", reg.Stations[1].MACEnv)
}

func TestParse(t *testing.T) {
	data := []byte(`
stations:
  - id: ellwood_main
    name: Ellwood Main
    mac: "AA:BB:CC:DD:EE:FF"
  - id: bluff
    mac_env: BLUFF_DEVICE
`)

	reg, err := station.Parse(data)
	require.NoError(t, err)
	require.Len(t, reg.Stations, 2)
	assert.True(t, reg.Stations[0].Configured())
	assert.Equal(t, "bluff", reg.Stations[1].Name, "name defaults to id")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing id", "stations:\n  - name: nope\n"},
		{"duplicate id", "stations:\n  - id: a\n  - id: a\n"},
		{"bad yaml", "stations: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := station.Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParse_RejectsPathIDs(t *testing.T) {
	for _, id := range []string{"../x", "a/b", `a\b`, "..", "up..dir"} {
		t.Run(id, func(t *testing.T) {
			_, err := station.Parse([]byte("stations:\n  - id: '" + id + "'\n"))
			assert.ErrorIs(t, err, station.ErrInvalidStationID)
		})
	}

	_, err := station.Parse([]byte("stations:\n  - id: ellwood.main-2\n"))
	assert.NoError(t, err, "single dots are fine")
}

func TestLoadFile(t *testing.T) {
	reg, err := station.LoadFile("")
	require.NoError(t, err)
	assert.Len(t, reg.Stations, 2)

	path := filepath.Join(t.TempDir(), "stations.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stations:\n  - id: solo\n"), 0o600))

	reg, err = station.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, reg.Stations, 1)
	assert.Equal(t, "solo", reg.Stations[0].ID)

	_, err = station.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRegistry_ResolveAndActive(t *testing.T) {
	env := map[string]string{
		"ELLWOOD_MAIN_MAC": " 00:11:22:33:44:55 ",
		"SOLO_MAC":         "66:77:88:99:AA:BB",
	}
	lookup := func(k string) string { return env[k] }

	reg := station.Registry{Stations: []station.Station{
		{ID: "ellwood_main", Name: "Ellwood Main", MACEnv: "ELLWOOD_MAIN_MAC"},
		{ID: "ellwood_mesa", Name: "Ellwood Mesa", MACEnv: "ELLWOOD_MESA_MAC"},
		{ID: "solo", Name: "Solo"},
	}}.Resolve(lookup)

	var buf bytes.Buffer
	active := reg.Active(zerolog.New(&buf))

	require.Len(t, active, 2)
	assert.Equal(t, "00:11:22:33:44:55", active[0].MAC)
	assert.Equal(t, "solo", active[1].ID)
	assert.Contains(t, buf.String(), "ELLWOOD_MESA_MAC")
	assert.Contains(t, buf.String(), "Ellwood Mesa")

	s, ok := reg.Lookup("solo")
	require.True(t, ok)
	assert.Equal(t, "66:77:88:99:AA:BB", s.MAC)
}
