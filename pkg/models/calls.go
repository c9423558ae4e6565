package models

import "time"

// Cache outcomes recorded for a dispatched call.
const (
	OutcomeHit    = "hit"
	OutcomeMiss   = "miss"
	OutcomeBypass = "bypass"
)

// CallRecord is a single dispatched transaction as written to the call log.
type CallRecord struct {
	RequestID  string    `json:"request_id"`
	Code       string    `json:"code"`
	Alias      string    `json:"alias,omitempty"`
	Tier       string    `json:"tier"`
	Outcome    string    `json:"outcome"`
	HasContKey bool      `json:"has_cont_key"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// CallLogConfig controls the call log subsystem.
type CallLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// CallQueryOpts specifies filters for querying the call log.
type CallQueryOpts struct {
	Code    string
	Tier    string
	Outcome string
	Since   time.Time
	Limit   int
}

// CallStat holds aggregate call counts for a code/day combination.
type CallStat struct {
	Code   string
	Day    string
	Calls  int
	Hits   int
	Errors int
}
