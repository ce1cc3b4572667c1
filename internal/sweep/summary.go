// File: internal/sweep/summary.go
package sweep

import (
	"fmt"
	"strings"
	"time"
)

// FailurePolicy decides what happens after a trainer invocation fails.
type FailurePolicy string

const (
	// PolicyContinue runs the whole plan and reports failures at the end.
	PolicyContinue FailurePolicy = "continue"
	// PolicyAbort stops launching trainers after the first failure. The parser for the
	// seed in progress and the final aggregator still run.
	PolicyAbort FailurePolicy = "abort"
)

// ParseFailurePolicy accepts the policy names used in config files and flags.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyContinue, "":
		return PolicyContinue, nil
	case PolicyAbort:
		return PolicyAbort, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (expected %q or %q)", s, PolicyContinue, PolicyAbort)
}

// Status is the terminal state of a sweep.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailures    Status = "completed_with_failures"
	StatusAborted     Status = "aborted"
	StatusInterrupted Status = "interrupted"
)

// Outcome records how one invocation went.
type Outcome struct {
	Invocation Invocation    `json:"invocation"`
	ExitCode   int           `json:"exit_code"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Failed reports whether the invocation did not exit cleanly.
func (o Outcome) Failed() bool {
	return o.ExitCode != 0 || o.Error != ""
}

// Summary is the result of a sweep.
type Summary struct {
	SweepID    string        `json:"sweep_id"`
	SeedInit   int           `json:"seed_init"`
	Seeds      []int         `json:"seeds"`
	Root       string        `json:"root"`
	Policy     FailurePolicy `json:"policy"`
	Status     Status        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Planned    int           `json:"planned"`
	Succeeded  int           `json:"succeeded"`
	Skipped    int           `json:"skipped"`
	Failures   []Outcome     `json:"failures"`
}

// Executed is the number of invocations that were actually launched.
func (s *Summary) Executed() int {
	return s.Succeeded + len(s.Failures)
}

// Failed reports whether any invocation failed.
func (s *Summary) Failed() bool {
	return len(s.Failures) > 0
}

// FailuresOf returns the failed outcomes of one kind.
func (s *Summary) FailuresOf(kind Kind) []Outcome {
	var out []Outcome
	for _, o := range s.Failures {
		if o.Invocation.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

func (s *Summary) settle(interrupted, aborted bool) {
	switch {
	case interrupted:
		s.Status = StatusInterrupted
	case aborted:
		s.Status = StatusAborted
	case s.Failed():
		s.Status = StatusFailures
	default:
		s.Status = StatusCompleted
	}
}
