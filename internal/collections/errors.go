package collections

import "errors"

var (
	// ErrSnapshotMissing refuses an import whose snapshot file does not exist.
	// A missing file cannot be told apart from "everything was deleted".
	ErrSnapshotMissing = errors.New("snapshot file is missing, refusing to import")
	// ErrEmptySnapshot refuses an import that would delete every active record.
	// Set ImportOptions.AllowEmpty to go ahead anyway.
	ErrEmptySnapshot = errors.New("snapshot is empty while the collection is not")
	// ErrUnknownField means a field is not a timestamp column of the collection
	ErrUnknownField = errors.New("unknown timestamp field")
	// ErrNotFound means no active record has the given key
	ErrNotFound = errors.New("record not found")
	// ErrConflict means an active record already has the given key
	ErrConflict = errors.New("record with this key already exists")
	// ErrKeyChanged means a mutation tried to rewrite the natural key
	ErrKeyChanged = errors.New("natural key cannot be changed")
)
