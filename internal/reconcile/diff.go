// Package reconcile computes the difference between the authoritative copy of a
// collection and an external snapshot of it.
package reconcile

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/xelth-com/trainingcms/internal/models"
)

var (
	// ErrDuplicateKey means a collection holds the same natural key twice
	ErrDuplicateKey = errors.New("duplicate natural key")
	// ErrEmptyKey means a record has no natural key
	ErrEmptyKey = errors.New("empty natural key")
)

// Plan is the three-way diff of two collections, every bucket sorted by natural key
type Plan[T models.Record] struct {
	// ToInsert holds external records absent from the authoritative side, with a zero ID
	ToInsert []T
	// ToUpdate holds external content for records on both sides whose content differs,
	// carrying the authoritative ID and stamped with the operation time
	ToUpdate []T
	// ToDelete holds authoritative records absent from the external side
	ToDelete []T
}

// Empty reports whether applying the plan would change nothing
func (p *Plan[T]) Empty() bool {
	return len(p.ToInsert) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

// Keys returns the natural keys of a bucket
func Keys[T models.Record](records []T) []string {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.NaturalKey()
	}
	return keys
}

// Diff compares authoritative against external by natural key. Neither input is modified;
// records placed in ToInsert and ToUpdate are copies.
//
// A record missing from external is scheduled for deletion: the external side is the
// complete desired state. Callers must make sure an empty or missing snapshot is not
// passed here by accident.
func Diff[T models.Record](authoritative, external []T, now time.Time) (*Plan[T], error) {
	current, err := index(authoritative, "authoritative")
	if err != nil {
		return nil, err
	}
	desired, err := index(external, "external")
	if err != nil {
		return nil, err
	}

	plan := &Plan[T]{}

	for key, ext := range desired {
		auth, exists := current[key]
		if !exists {
			rec := clone(ext)
			rec.SetID(0)
			if rec.GetCreatedAt().IsZero() {
				rec.SetCreatedAt(now)
			}
			plan.ToInsert = append(plan.ToInsert, rec)
			continue
		}

		candidate := clone(ext)
		if candidate.GetCreatedAt().IsZero() {
			candidate.SetCreatedAt(auth.GetCreatedAt())
		}

		same, err := sameContent(auth, candidate)
		if err != nil {
			return nil, fmt.Errorf("comparing %q: %w", key, err)
		}
		if same {
			continue
		}

		candidate.SetID(auth.GetID())
		candidate.SetUpdatedAt(now)
		plan.ToUpdate = append(plan.ToUpdate, candidate)
	}

	for key, auth := range current {
		if _, exists := desired[key]; !exists {
			plan.ToDelete = append(plan.ToDelete, auth)
		}
	}

	sortByKey(plan.ToInsert)
	sortByKey(plan.ToUpdate)
	sortByKey(plan.ToDelete)
	return plan, nil
}

// index maps records by natural key, failing fast on duplicates instead of picking one
func index[T models.Record](records []T, side string) (map[string]T, error) {
	byKey := make(map[string]T, len(records))
	for i, r := range records {
		key := r.NaturalKey()
		if key == "" {
			return nil, fmt.Errorf("%s record %d: %w", side, i, ErrEmptyKey)
		}
		if _, dup := byKey[key]; dup {
			return nil, fmt.Errorf("%s collection: %w %q", side, ErrDuplicateKey, key)
		}
		byKey[key] = r
	}
	return byKey, nil
}

func sameContent[T models.Record](a, b T) (bool, error) {
	ha, err := Checksum(a)
	if err != nil {
		return false, err
	}
	hb, err := Checksum(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

// clone makes a shallow copy of the value a record pointer points to
func clone[T models.Record](r T) T {
	v := reflect.ValueOf(r)
	if v.Kind() != reflect.Ptr {
		return r
	}
	c := reflect.New(v.Elem().Type())
	c.Elem().Set(v.Elem())
	return c.Interface().(T)
}

func sortByKey[T models.Record](records []T) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].NaturalKey() < records[j].NaturalKey()
	})
}
