package models

// TriggerRunRequest is the body of POST /v1/runs. Range takes the same
// expressions as the collector's -range flag; empty means today.
type TriggerRunRequest struct {
	Range string `json:"range"`
}

// RunAccepted is returned when a run has been started.
type RunAccepted struct {
	RunID string `json:"runId"`
	Range string `json:"range"`
}

// Run describes a collection run, finished or not.
type Run struct {
	ID         string       `json:"id"`
	Range      string       `json:"range"`
	Status     string       `json:"status"`
	Dates      []string     `json:"dates"`
	Stations   int          `json:"stations"`
	StartedAt  Timestamp    `json:"startedAt"`
	FinishedAt *Timestamp   `json:"finishedAt,omitempty"`
	DurationMS int64        `json:"durationMs"`
	Units      []UnitResult `json:"units,omitempty"`
}

// UnitResult is the outcome for one station and day.
type UnitResult struct {
	Station string `json:"station"`
	Date    string `json:"date"`
	Fetched int    `json:"fetched"`
	Dropped int    `json:"dropped"`
	Added   int    `json:"added"`
	Total   int    `json:"total"`
	Stage   string `json:"stage,omitempty"`
	Error   string `json:"error,omitempty"`
}
