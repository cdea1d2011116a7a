package models

// Health is the liveness response.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    Timestamp      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// SystemStatus summarizes upstream health and recent collection runs.
type SystemStatus struct {
	Status     HealthStatus     `json:"status"`
	Time       Timestamp        `json:"time"`
	Providers  []ProviderStatus `json:"providers"`
	RecentRuns []Run            `json:"recentRuns"`
}

// ProviderStatus is the health of one upstream provider.
type ProviderStatus struct {
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	CircuitState        string       `json:"circuitState,omitempty"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	Message             *string      `json:"message,omitempty"`
}
