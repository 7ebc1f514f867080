package domain

import (
	"fmt"
	"time"
)

// Status is the outcome of a test run, scenario, or step.
type Status string

// Known statuses.
const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
	StatusError   Status = "ERROR"
)

// Counts holds the aggregate pass/fail breakdown for a test run.
// The invariant passed+failed+skipped == total is enforced at construction.
type Counts struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Errors  int
}

// NewCounts builds a Counts aggregate and validates the invariant.
func NewCounts(passed, failed, skipped, errored int) (Counts, error) {
	c := Counts{
		Total:   passed + failed + skipped,
		Passed:  passed,
		Failed:  failed,
		Skipped: skipped,
		Errors:  errored,
	}

	if c.Passed+c.Failed+c.Skipped != c.Total {
		return Counts{}, fmt.Errorf(
			"inconsistent counts: %d+%d+%d != %d",
			c.Passed, c.Failed, c.Skipped, c.Total,
		)
	}

	return c, nil
}

// SuccessRate returns passed/total as a percentage, 0 when total is 0.
func (c Counts) SuccessRate() float64 {
	if c.Total == 0 {
		return 0
	}

	return float64(c.Passed) / float64(c.Total) * 100
}

// Report is the canonical in-memory representation of one executed
// test suite invocation, independent of any storage backend.
type Report struct {
	Name         string
	ProjectName  string
	Environment  string
	Branch       string
	CommitSHA    string
	OriginalUUID string
	Timestamp    time.Time
	EndedAt      time.Time
	Features     []FeatureInfo
	Scenarios    []Scenario
	Metadata     map[string]any
}

// FeatureInfo describes a Cucumber feature referenced by a report.
type FeatureInfo struct {
	Name        string
	Description string
	FilePath    string
	Tags        []string
}

// Status derives the run status from its scenarios.
func (r *Report) Status() Status {
	for i := range r.Scenarios {
		if r.Scenarios[i].Status == StatusError {
			return StatusError
		}
	}

	for i := range r.Scenarios {
		if r.Scenarios[i].Status == StatusFailed {
			return StatusFailed
		}
	}

	return StatusPassed
}

// Counts aggregates scenario outcomes for the run.
func (r *Report) Counts() Counts {
	var passed, failed, skipped, errored int

	for i := range r.Scenarios {
		switch r.Scenarios[i].Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		case StatusError:
			failed++
			errored++
		default:
			skipped++
		}
	}

	// Construction from a scenario walk cannot violate the invariant.
	c, _ := NewCounts(passed, failed, skipped, errored)

	return c
}

// Duration returns the total wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.EndedAt.IsZero() || r.EndedAt.Before(r.Timestamp) {
		var total time.Duration
		for i := range r.Scenarios {
			total += r.Scenarios[i].Duration
		}

		return total
	}

	return r.EndedAt.Sub(r.Timestamp)
}

// Scenario is one Cucumber scenario's execution result within a report.
type Scenario struct {
	OriginalID   string
	Name         string
	Description  string
	FeatureName  string
	Status       Status
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
	ErrorMessage string
	StackTrace   string
	Parameters   map[string]string
	Tags         []string
	Steps        []Step
}

// Step is one Given/When/Then line's execution result within a scenario.
type Step struct {
	Keyword       string
	Name          string
	Status        Status
	Position      int
	Duration      time.Duration
	ErrorMessage  string
	ScreenshotURL string
	LogOutput     string
}

// BuildInfo describes the CI build that produced a report.
type BuildInfo struct {
	ProjectName string
	BuildNumber string
	Name        string
	Status      Status
	StartedAt   time.Time
	EndedAt     time.Time
	Branch      string
	CommitSHA   string
	Environment string
	Metadata    map[string]any
}

// ParseTimestamp parses an ISO-8601 timestamp, falling back to the
// current time when the value is empty or malformed.
func ParseTimestamp(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}

	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}

	return time.Now().UTC()
}
