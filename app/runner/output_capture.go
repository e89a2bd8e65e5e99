package runner

import (
	"bytes"
	"strings"
	"sync"
)

// OutputCapture keeps the last N lines of combined stdout+stderr in a ring
// buffer, used to include the tail of the job output in failure notifications.
// Safe for concurrent writes.
type OutputCapture struct {
	maxLines int
	lines    []string
	mu       sync.Mutex
}

// NewOutputCapture makes io.Writer capturing up to maximum last lines, zero disables capture
func NewOutputCapture(maximum int) *OutputCapture {
	return &OutputCapture{maxLines: maximum}
}

// Write satisfies io.Writer, splits the chunk into lines and keeps the last N
func (o *OutputCapture) Write(p []byte) (n int, err error) {
	if o.maxLines == 0 {
		return len(p), nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, line := range bytes.Split(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if len(o.lines) >= o.maxLines {
			o.lines = o.lines[1:]
		}
		o.lines = append(o.lines, string(line))
	}
	return len(p), nil
}

// Output returns the captured lines as a single string
func (o *OutputCapture) Output() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.Join(o.lines, "\n")
}
