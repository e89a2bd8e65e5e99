// Package jobs implements the registry of named shell jobs. The registry is an
// in-memory aggregate persisted as a single json document, name uniqueness
// enforced on insert. Persistence itself is the caller's concern.
package jobs

import (
	"encoding/json"
	"fmt"
)

// Job is a named shell command. The command text is opaque, the shell does its
// own tokenizing on execution. Jobs are immutable once stored.
type Job struct {
	Name    string `json:"name" yaml:"name"`
	Command string `json:"command" yaml:"command"`
}

// AlreadyExistsError returned by Add on a duplicate job name
type AlreadyExistsError struct {
	Name string
}

func (e *AlreadyExistsError) Error() string { return fmt.Sprintf("job %q already exists", e.Name) }

// NotFoundError returned by Remove for an unknown job name
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("job %q not found", e.Name) }

// Registry keeps all jobs keyed by name. The zero value is an empty registry
// ready to use. Not safe for concurrent use, the tool is single-threaded.
type Registry struct {
	jobs map[string]Job
}

// Add inserts the job, fails with AlreadyExistsError if the name is taken.
// Check and insert happen in one step, a failed Add leaves the registry unchanged.
func (r *Registry) Add(job Job) error {
	if _, ok := r.jobs[job.Name]; ok {
		return &AlreadyExistsError{Name: job.Name}
	}
	if r.jobs == nil {
		r.jobs = map[string]Job{}
	}
	r.jobs[job.Name] = job
	return nil
}

// Remove deletes the named job, fails with NotFoundError if absent
func (r *Registry) Remove(name string) error {
	if _, ok := r.jobs[name]; !ok {
		return &NotFoundError{Name: name}
	}
	delete(r.jobs, name)
	return nil
}

// Get returns the named job and whether it exists
func (r *Registry) Get(name string) (Job, bool) {
	job, ok := r.jobs[name]
	return job, ok
}

// List returns all jobs in no particular order, callers needing a display order
// have to sort themselves
func (r *Registry) List() []Job {
	res := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		res = append(res, job)
	}
	return res
}

// Clear drops all jobs
func (r *Registry) Clear() { r.jobs = nil }

// Len returns the number of stored jobs
func (r *Registry) Len() int { return len(r.jobs) }

// StorageFilename is the canonical file name for the jobs document, stable across versions
func (r *Registry) StorageFilename() string { return "jobs.json" }

// registryDoc is the persisted shape, {"jobs": {"<name>": {...}}}
type registryDoc struct {
	Jobs map[string]Job `json:"jobs"`
}

// MarshalJSON implements json.Marshaler keeping the document shape stable
func (r *Registry) MarshalJSON() ([]byte, error) {
	jj := r.jobs
	if jj == nil {
		jj = map[string]Job{}
	}
	return json.Marshal(registryDoc{Jobs: jj})
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Registry) UnmarshalJSON(data []byte) error {
	var doc registryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	r.jobs = doc.Jobs
	return nil
}
