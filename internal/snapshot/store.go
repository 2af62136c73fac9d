// Package snapshot persists whole collections to flat files that mirror the database.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"k8s.io/utils/clock"

	"github.com/xelth-com/trainingcms/internal/logger"
)

// document is the on-disk layout of one collection
type document[T any] struct {
	Collection string    `json:"collection" yaml:"collection"`
	ExportedAt time.Time `json:"exported_at" yaml:"exported_at"`
	Count      int       `json:"count" yaml:"count"`
	Records    []T       `json:"records" yaml:"records"`
}

// Store reads and writes snapshots of one record type. It knows nothing about keys or diffs.
type Store[T any] struct {
	dir   *Dir
	codec Codec
	clock clock.PassiveClock
}

// NewStore creates a snapshot store for records of type T
func NewStore[T any](dir *Dir, codec Codec, clk clock.PassiveClock) *Store[T] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store[T]{dir: dir, codec: codec, clock: clk}
}

// Path returns the file backing a collection
func (s *Store[T]) Path(collection string) string {
	return s.dir.FilePath(collection, s.codec.Ext())
}

// Load reads every record of a collection snapshot.
// It fails with ErrNotFound when the file is absent and ErrCorrupt when it cannot be parsed.
func (s *Store[T]) Load(_ context.Context, collection string) ([]T, error) {
	data, err := s.dir.Read(collection, s.codec.Ext())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Errorf("snapshot %s: load failed: %v", collection, err)
		}
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		err := newError("load", collection, ErrCorrupt, errors.New("file is empty"))
		logger.Errorf("snapshot %s: %v", collection, err)
		return nil, err
	}

	var doc document[T]
	if err := s.codec.Unmarshal(data, &doc); err != nil {
		cerr := newError("load", collection, ErrCorrupt, err)
		logger.Errorf("snapshot %s: %v", collection, cerr)
		return nil, cerr
	}

	if doc.Collection != "" && doc.Collection != collection {
		err := newError("load", collection, ErrCorrupt,
			fmt.Errorf("file belongs to collection %q", doc.Collection))
		logger.Errorf("snapshot %s: %v", collection, err)
		return nil, err
	}

	for i, r := range doc.Records {
		if isNil(r) {
			err := newError("load", collection, ErrCorrupt, fmt.Errorf("record %d is null", i))
			logger.Errorf("snapshot %s: %v", collection, err)
			return nil, err
		}
	}

	if doc.Records == nil {
		doc.Records = []T{}
	}
	return doc.Records, nil
}

// Save replaces the collection snapshot with records, in the given order
func (s *Store[T]) Save(ctx context.Context, collection string, records []T) error {
	if records == nil {
		records = []T{}
	}
	doc := document[T]{
		Collection: collection,
		ExportedAt: s.clock.Now().UTC().Truncate(time.Second),
		Count:      len(records),
		Records:    records,
	}

	data, err := s.codec.Marshal(&doc)
	if err != nil {
		serr := newError("save", collection, ErrIO, fmt.Errorf("failed to encode snapshot: %w", err))
		logger.Errorf("snapshot %s: %v", collection, serr)
		return serr
	}

	if err := s.dir.WriteAtomic(ctx, collection, s.codec.Ext(), data); err != nil {
		logger.Errorf("snapshot %s: save failed: %v", collection, err)
		return err
	}

	logger.Debugf("snapshot %s: wrote %d records to %s", collection, len(records), s.Path(collection))
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
