package model

import "time"

// RunState is the lifecycle state of a ratio run.
type RunState string

const (
	RunStateRunning  RunState = "running"
	RunStateComplete RunState = "complete"
	RunStateFailed   RunState = "failed"
)

// RunCounts is the outcome tally for one run. Exactly one counter is
// incremented per filing, so the counters always sum to Total.
type RunCounts struct {
	Total               int64 `json:"total" yaml:"total"`
	Processed           int64 `json:"processed" yaml:"processed"`
	ResolutionFailures  int64 `json:"resolution_failures" yaml:"resolution_failures"`
	PersistenceFailures int64 `json:"persistence_failures" yaml:"persistence_failures"`
	OtherFailures       int64 `json:"other_failures" yaml:"other_failures"`
}

// Balanced reports whether the counters account for every filing.
func (c RunCounts) Balanced() bool {
	return c.Processed+c.ResolutionFailures+c.PersistenceFailures+c.OtherFailures == c.Total
}

// RatioRun is one row of the run log.
type RatioRun struct {
	ID          string     `json:"id" yaml:"id"`
	State       RunState   `json:"state" yaml:"state"`
	Backend     string     `json:"backend" yaml:"backend"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Counts      RunCounts  `json:"counts" yaml:"counts"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Outcome is the single bucket a filing lands in at the end of processing.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeResolutionFailure
	OutcomePersistenceFailure
	OutcomeOtherFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeResolutionFailure:
		return "resolution_failure"
	case OutcomePersistenceFailure:
		return "persistence_failure"
	case OutcomeOtherFailure:
		return "other_failure"
	default:
		return "unknown"
	}
}

// Add records one filing with outcome o.
func (c *RunCounts) Add(o Outcome) {
	c.Total++
	switch o {
	case OutcomeProcessed:
		c.Processed++
	case OutcomeResolutionFailure:
		c.ResolutionFailures++
	case OutcomePersistenceFailure:
		c.PersistenceFailures++
	default:
		c.OtherFailures++
	}
}
