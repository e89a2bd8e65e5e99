package jobs

import (
	"fmt"
	"io"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Jobfile is a yaml document with a list of jobs, used by bulk import and export, i.e.
//
//	jobs:
//	  - name: backup
//	    command: tar cvf /tmp/backup.tar ~/documents
type Jobfile struct {
	Jobs []Job `json:"jobs" yaml:"jobs" jsonschema:"required,description=list of jobs to import"`
}

// ParseJobfile reads and validates a yaml jobfile
func ParseJobfile(r io.Reader) (Jobfile, error) {
	var jf Jobfile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&jf); err != nil {
		return Jobfile{}, fmt.Errorf("can't decode jobfile: %w", err)
	}
	if err := jf.Verify(); err != nil {
		return Jobfile{}, err
	}
	return jf, nil
}

// Verify checks the jobfile is well-formed, i.e. at least one job, every job has
// a name and a command, and no name repeats within the file
func (f Jobfile) Verify() error {
	if len(f.Jobs) == 0 {
		return fmt.Errorf("at least one job is required")
	}
	seen := map[string]struct{}{}
	for i, job := range f.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job %d: name is required", i+1)
		}
		if job.Command == "" {
			return fmt.Errorf("job %d (%s): command is required", i+1, job.Name)
		}
		if _, ok := seen[job.Name]; ok {
			return fmt.Errorf("job %d: duplicated name %q", i+1, job.Name)
		}
		seen[job.Name] = struct{}{}
	}
	return nil
}

// WriteTo emits the jobfile as yaml, satisfies io.WriterTo for export
func (f Jobfile) WriteTo(w io.Writer) (int64, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("can't encode jobfile: %w", err)
	}
	n, err := w.Write(data)
	return int64(n), err
}

// GenerateSchema generates a JSON schema for the Jobfile struct
func GenerateSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Jobfile{})
}
