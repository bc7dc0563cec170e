// Package scraperesult defines the scrape-result record that a worker produces and the orchestrator aggregates:
// disposition, identifiers, timing, and either a record count or an error.
package scraperesult

import "time"

// Disposition is a hospital's final outcome for one run.
type Disposition string

const (
	Success Disposition = "SUCCESS"
	Failure Disposition = "FAILURE"
	Skipped Disposition = "SKIPPED"
)

// Result is one hospital's outcome, created by a worker and printed as a
// single JSON line on its stdout, which the orchestrator parses.
type Result struct {
	CCN         string
	Hospital    string
	State       string
	FileURL     string
	Disposition Disposition
	Records     int
	ErrorType   string
	ErrorMsg    string
	SkipReason  string
	Duration    time.Duration
	CompletedAt time.Time
}

// IsFailure reports whether r counts toward the orchestrator's non-zero
// exit code.
func (r Result) IsFailure() bool { return r.Disposition == Failure }
