package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/xelth-com/trainingcms/internal/logger"
)

const lockRetryDelay = 50 * time.Millisecond

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Dir is the directory holding one file per collection.
// Writes go through a temp file and a rename so readers never see a partial file.
type Dir struct {
	path   string
	mirror Mirror
}

// DirOption configures a Dir
type DirOption func(*Dir)

// WithMirror copies every committed snapshot to an off-site mirror
func WithMirror(m Mirror) DirOption {
	return func(d *Dir) {
		d.mirror = m
	}
}

// NewDir creates a snapshot directory handle. The directory is created lazily on first write.
func NewDir(path string, opts ...DirOption) *Dir {
	d := &Dir{path: path}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path returns the directory path
func (d *Dir) Path() string {
	return d.path
}

// FilePath returns the snapshot file of a collection
func (d *Dir) FilePath(collection, ext string) string {
	return filepath.Join(d.path, collection+ext)
}

// Read returns the raw content of a collection snapshot
func (d *Dir) Read(collection, ext string) ([]byte, error) {
	if err := validateName(collection); err != nil {
		return nil, newError("load", collection, ErrIO, err)
	}

	//nolint:gosec // file name is validated above
	data, err := os.ReadFile(d.FilePath(collection, ext))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError("load", collection, ErrNotFound, nil)
		}
		return nil, newError("load", collection, ErrIO, err)
	}
	return data, nil
}

// WriteAtomic replaces the collection snapshot with data. Either the whole content is
// committed or the previous file is left untouched.
func (d *Dir) WriteAtomic(ctx context.Context, collection, ext string, data []byte) error {
	if err := validateName(collection); err != nil {
		return newError("save", collection, ErrIO, err)
	}

	// Create base directory if it doesn't exist
	if err := os.MkdirAll(d.path, 0750); err != nil {
		return newError("save", collection, ErrIO, fmt.Errorf("failed to create snapshot directory: %w", err))
	}

	lock := flock.New(filepath.Join(d.path, "."+collection+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return newError("save", collection, ErrIO, fmt.Errorf("failed to lock snapshot: %w", err))
	}
	if !locked {
		return newError("save", collection, ErrIO, errors.New("snapshot lock not acquired"))
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warnf("snapshot %s: failed to release lock: %v", collection, err)
		}
	}()

	target := d.FilePath(collection, ext)
	tempPath := filepath.Join(d.path, fmt.Sprintf(".%s.%s.tmp", collection, uuid.NewString()))

	if err := writeSynced(tempPath, data); err != nil {
		_ = os.Remove(tempPath)
		return newError("save", collection, ErrIO, fmt.Errorf("failed to write temporary snapshot: %w", err))
	}

	// Atomic rename
	if err := os.Rename(tempPath, target); err != nil {
		_ = os.Remove(tempPath)
		return newError("save", collection, ErrIO, fmt.Errorf("failed to rename snapshot: %w", err))
	}

	if d.mirror != nil {
		key := collection + ext
		if err := d.mirror.Put(ctx, key, data); err != nil {
			logger.Warnf("snapshot %s: mirror upload failed: %v", collection, err)
		}
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	//nolint:gosec // temp file inside the snapshot directory
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func validateName(collection string) error {
	if !collectionNamePattern.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	return nil
}
