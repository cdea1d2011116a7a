// Package worker dispatches collection jobs delivered over Pub/Sub.
package worker

import "time"

// Job types accepted in a Message.
const (
	JobCollect     = "collect"
	JobHealthCheck = "health_check"
)

// Message is the JSON payload of a job message, for example
// {"job_type":"collect","range":"yesterday"}.
type Message struct {
	JobType string `json:"job_type"`

	// Range applies to collect jobs. Empty means today.
	Range string `json:"range,omitempty"`
}

// Config holds tuning for the dispatcher.
type Config struct {
	// ProbeConcurrency is how many stations a health check probes at once.
	// The upstream rate limit is per API key, so keep this low.
	// Default: 1
	ProbeConcurrency int

	// ProbeWindow is how far back a health probe asks for data.
	// Default: 15 minutes
	ProbeWindow time.Duration

	// ProbeTimeout bounds one station probe.
	// Default: 30 seconds
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		ProbeConcurrency: 1,
		ProbeWindow:      15 * time.Minute,
		ProbeTimeout:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = d.ProbeConcurrency
	}
	if c.ProbeWindow <= 0 {
		c.ProbeWindow = d.ProbeWindow
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}
