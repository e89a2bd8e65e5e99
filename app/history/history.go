// Package history tracks the outcome of job executions. Only the most recent run
// is kept per job (status, timestamp) together with a total run counter, the
// persisted document stays bounded regardless of run frequency. The tracker is an
// independent aggregate keyed by job name, the orchestrating layer keeps it
// consistent with the job registry on remove/clear.
package history

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the outcome of a single execution, success or failure with the
// child's exit code. Serialized in the externally tagged form, "Success" or
// {"Failure": {"exit_code": N}}.
type Status struct {
	exitCode int
	failed   bool
}

// Success makes a successful status
func Success() Status { return Status{} }

// Failure makes a failed status with the given exit code
func Failure(exitCode int) Status { return Status{exitCode: exitCode, failed: true} }

// FromExitCode translates a process exit code to Status, zero means success
func FromExitCode(code int) Status {
	if code == 0 {
		return Success()
	}
	return Failure(code)
}

// Failed reports whether the run failed
func (s Status) Failed() bool { return s.failed }

// ExitCode returns the child's exit code, 0 for a successful run
func (s Status) ExitCode() int {
	if !s.failed {
		return 0
	}
	return s.exitCode
}

func (s Status) String() string {
	if !s.failed {
		return "Success"
	}
	return fmt.Sprintf("Failed (exit code: %d)", s.exitCode)
}

type statusFailure struct {
	ExitCode int `json:"exit_code"`
}

type statusDoc struct {
	Failure statusFailure `json:"Failure"`
}

// MarshalJSON implements json.Marshaler with the externally tagged encoding
func (s Status) MarshalJSON() ([]byte, error) {
	if !s.failed {
		return json.Marshal("Success")
	}
	return json.Marshal(statusDoc{Failure: statusFailure{ExitCode: s.exitCode}})
}

// UnmarshalJSON implements json.Unmarshaler
func (s *Status) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag != "Success" {
			return fmt.Errorf("unknown status %q", tag)
		}
		*s = Success()
		return nil
	}
	var doc statusDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("can't decode status: %w", err)
	}
	*s = Failure(doc.Failure.ExitCode)
	return nil
}

// Run is an immutable record of a single finished execution
type Run struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// History keeps the last run and the total number of recorded runs for one job.
// The two fields only ever change together, there is no way to touch one of them
// independently.
type History struct {
	lastRun  Run
	runCount int
}

// LastRun returns the most recent run record
func (h History) LastRun() Run { return h.lastRun }

// RunCount returns how many runs were recorded, at least 1
func (h History) RunCount() int { return h.runCount }

type historyDoc struct {
	LastRun  Run `json:"last_run"`
	RunCount int `json:"run_count"`
}

// MarshalJSON implements json.Marshaler
func (h History) MarshalJSON() ([]byte, error) {
	return json.Marshal(historyDoc{LastRun: h.lastRun, RunCount: h.runCount})
}

// UnmarshalJSON implements json.Unmarshaler
func (h *History) UnmarshalJSON(data []byte) error {
	var doc historyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	h.lastRun, h.runCount = doc.LastRun, doc.RunCount
	return nil
}

// Tracker keeps per-job histories keyed by job name. The zero value is an empty
// tracker ready to use. Not safe for concurrent use.
type Tracker struct {
	jobs map[string]History
}

// Record registers one finished execution for the named job. Creates the history
// with count 1 on the first run, otherwise replaces the last run and increments
// the counter in one step. Cannot fail.
func (t *Tracker) Record(jobName string, status Status) {
	run := Run{Status: status, Timestamp: time.Now()}
	if t.jobs == nil {
		t.jobs = map[string]History{}
	}
	h, ok := t.jobs[jobName]
	if !ok {
		t.jobs[jobName] = History{lastRun: run, runCount: 1}
		return
	}
	h.lastRun = run
	h.runCount++
	t.jobs[jobName] = h
}

// Get returns the history for the named job and whether it exists
func (t *Tracker) Get(jobName string) (History, bool) {
	h, ok := t.jobs[jobName]
	return h, ok
}

// Remove drops the history for the named job, a no-op if absent. History removal
// is best-effort cleanup on job removal, not a user-facing guarantee.
func (t *Tracker) Remove(jobName string) { delete(t.jobs, jobName) }

// Clear drops all histories
func (t *Tracker) Clear() { t.jobs = nil }

// IsEmpty reports whether the tracker has no histories
func (t *Tracker) IsEmpty() bool { return len(t.jobs) == 0 }

// Len returns the number of tracked jobs
func (t *Tracker) Len() int { return len(t.jobs) }

// StorageFilename is the canonical file name for the history document, stable across versions
func (t *Tracker) StorageFilename() string { return "history.json" }

type trackerDoc struct {
	Jobs map[string]History `json:"jobs"`
}

// MarshalJSON implements json.Marshaler keeping the document shape stable
func (t *Tracker) MarshalJSON() ([]byte, error) {
	jj := t.jobs
	if jj == nil {
		jj = map[string]History{}
	}
	return json.Marshal(trackerDoc{Jobs: jj})
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Tracker) UnmarshalJSON(data []byte) error {
	var doc trackerDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	t.jobs = doc.Jobs
	return nil
}
