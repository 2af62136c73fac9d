package snapshot

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	// ErrNotFound means the snapshot file does not exist. It is indistinguishable from
	// "every record was deleted", so importers must refuse it.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCorrupt means the file exists but is not a well-formed snapshot of the collection.
	ErrCorrupt = errors.New("snapshot corrupt")
	// ErrIO covers read, write and rename failures.
	ErrIO = errors.New("snapshot io failure")
)

// Error describes a failed snapshot operation
type Error struct {
	Op         string // load, save
	Collection string
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Collection, e.Kind)
	}
	return fmt.Sprintf("snapshot %s %s: %v: %v", e.Op, e.Collection, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, collection string, kind, err error) *Error {
	return &Error{Op: op, Collection: collection, Kind: kind, Err: err}
}
