// Package station holds the station registry.
package station

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Registry validation errors.
var (
	// ErrDuplicateStation is returned when a registry lists the same ID twice.
	ErrDuplicateStation = errors.New("duplicate station id")

	// ErrInvalidStationID is returned for an ID that cannot name a dataset
	// file inside the data directory.
	ErrInvalidStationID = errors.New("invalid station id")
)

// Station is one physical weather station.
type Station struct {
	// ID names the station in dataset file names, e.g. ellwood_main.
	ID string `yaml:"id"`

	// Name is the display name.
	Name string `yaml:"name"`

	// MAC is the device address. Empty means the station is inert.
	MAC string `yaml:"mac"`

	// MACEnv names the environment variable holding the MAC when MAC is
	// not set inline.
	MACEnv string `yaml:"mac_env"`
}

// Configured reports whether the station has a device address.
func (s Station) Configured() bool {
	return strings.TrimSpace(s.MAC) != ""
}

// Registry is the ordered set of known stations.
type Registry struct {
	Stations []Station `yaml:"stations"`
}

// DefaultRegistry returns the Ellwood stations, with MACs read from
// ELLWOOD_MAIN_MAC and ELLWOOD_MESA_MAC.
func DefaultRegistry() Registry {
	return Registry{
		Stations: []Station{
			{ID: "ellwood_main", Name: "Ellwood Main", MACEnv: "ELLWOOD_MAIN_MAC"},
			{ID: "ellwood_mesa", Name: "Ellwood Mesa", MACEnv: "ELLWOOD_MESA_MAC"},
		},
	}
}

// LoadFile reads a YAML registry. An empty path returns DefaultRegistry.
func LoadFile(path string) (Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, fmt.Errorf("reading station registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML registry and validates IDs.
func Parse(data []byte) (Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return Registry{}, fmt.Errorf("parsing station registry: %w", err)
	}

	seen := make(map[string]struct{}, len(reg.Stations))
	for i, s := range reg.Stations {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return Registry{}, fmt.Errorf("station %d: id is required", i)
		}
		if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
			return Registry{}, fmt.Errorf("%w: %q", ErrInvalidStationID, id)
		}
		if _, ok := seen[id]; ok {
			return Registry{}, fmt.Errorf("%w: %s", ErrDuplicateStation, id)
		}
		seen[id] = struct{}{}
		reg.Stations[i].ID = id
		if reg.Stations[i].Name == "" {
			reg.Stations[i].Name = id
		}
	}
	return reg, nil
}

// Resolve fills MAC from MACEnv (or {ID}_MAC upper-cased) using lookup.
func (r Registry) Resolve(lookup func(string) string) Registry {
	out := Registry{Stations: make([]Station, len(r.Stations))}
	for i, s := range r.Stations {
		if !s.Configured() {
			s.MAC = strings.TrimSpace(lookup(s.envName()))
		}
		out.Stations[i] = s
	}
	return out
}

func (s Station) envName() string {
	if s.MACEnv != "" {
		return s.MACEnv
	}
	return strings.ToUpper(s.ID) + "_MAC"
}

// Active returns the configured stations and logs a warning for each inert
// one. A missing address is never an error.
func (r Registry) Active(logger zerolog.Logger) []Station {
	active := make([]Station, 0, len(r.Stations))
	for _, s := range r.Stations {
		if !s.Configured() {
			logger.Warn().
				Str("station", s.ID).
				Str("env", s.envName()).
				Msgf("MAC address not configured for %s, skipping", s.Name)
			continue
		}
		active = append(active, s)
	}
	return active
}

// Lookup returns the station with the given ID.
func (r Registry) Lookup(id string) (Station, bool) {
	for _, s := range r.Stations {
		if s.ID == id {
			return s, true
		}
	}
	return Station{}, false
}
