// Package store provides generic persistence of aggregate documents as json files.
// Each storable kind declares its canonical filename and all kinds share a single
// base directory (~/.jobers by default). One file per kind, full replace on save.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/go-pkgz/lgr"
)

// Document is implemented by every persisted aggregate kind. The zero value of the
// implementing type must be usable as-is, it is what Load leaves in place on first run.
type Document interface {
	StorageFilename() string
}

// ErrHomeNotFound returned when the base storage directory can't be resolved
var ErrHomeNotFound = errors.New("can't determine home directory")

// IOError wraps a filesystem failure other than a missing file on load
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("io failure on %s: %v", e.Path, e.Err) }

// Unwrap returns the underlying cause
func (e *IOError) Unwrap() error { return e.Err }

// SerializationError wraps a json encode or decode failure
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failure on %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause
func (e *SerializationError) Unwrap() error { return e.Err }

// Store keeps documents in dir, one json file per document kind
type Store struct {
	dir string
}

// New makes Store for the given base directory, but doesn't touch the filesystem yet.
// The directory is created on the first Save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// NewInHome makes Store in the default location ~/.jobers
func NewInHome() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHomeNotFound, err)
	}
	return New(filepath.Join(home, ".jobers")), nil
}

// Location returns the base directory of the store
func (s *Store) Location() string { return s.dir }

// Load reads the document's file and decodes into doc. A missing file is not an
// error, doc is left at its zero value. Any other read failure returns IOError,
// a malformed document returns SerializationError.
func (s *Store) Load(doc Document) error {
	fname := filepath.Join(s.dir, doc.StorageFilename())
	data, err := os.ReadFile(fname) // nolint gosec // path is made of store dir and fixed filenames
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("[DEBUG] no document %s yet, keeping defaults", fname)
		return nil
	}
	if err != nil {
		return &IOError{Path: fname, Err: err}
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return &SerializationError{Path: fname, Err: err}
	}
	return nil
}

// Save encodes doc and fully replaces the document's file, creating the base
// directory if missing. The write is not atomic, a crash mid-write may leave the
// file truncated. Accepted tradeoff for a single-user local tool.
func (s *Store) Save(doc Document) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return &IOError{Path: s.dir, Err: err}
	}
	fname := filepath.Join(s.dir, doc.StorageFilename())
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &SerializationError{Path: fname, Err: err}
	}
	if err := os.WriteFile(fname, data, 0o600); err != nil {
		return &IOError{Path: fname, Err: err}
	}
	log.Printf("[DEBUG] saved document %s, %d bytes", fname, len(data))
	return nil
}
