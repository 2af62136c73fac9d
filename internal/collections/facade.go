// Package collections binds every synchronized collection to its table and its snapshot file.
package collections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
	"k8s.io/utils/clock"

	"github.com/xelth-com/trainingcms/internal/logger"
	"github.com/xelth-com/trainingcms/internal/metrics"
	"github.com/xelth-com/trainingcms/internal/models"
	"github.com/xelth-com/trainingcms/internal/reconcile"
	"github.com/xelth-com/trainingcms/internal/snapshot"
)

// Event types published to the notifier
const (
	EventExported = "snapshot_exported"
	EventImported = "snapshot_imported"
	EventExpired  = "records_expired"
	EventChanged  = "record_changed"
)

// Notifier receives sync events, typically the admin websocket hub
type Notifier interface {
	Broadcast(eventType string, payload interface{})
}

// SyncEvent is the payload of every published event
type SyncEvent struct {
	Collection string    `json:"collection"`
	Status     string    `json:"status"`
	Key        string    `json:"key,omitempty"`
	Inserted   int       `json:"inserted,omitempty"`
	Updated    int       `json:"updated,omitempty"`
	Deleted    int       `json:"deleted,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Options configures a facade
type Options struct {
	// KeyColumn is the database column holding the natural key
	KeyColumn string
	// SnapshotEnabled exports the collection after every mutation
	SnapshotEnabled bool
	Clock           clock.PassiveClock
	Notifier        Notifier
}

// ImportOptions controls an import
type ImportOptions struct {
	// AllowEmpty lets an empty snapshot delete every active record
	AllowEmpty bool
	// DryRun computes the plan without applying it
	DryRun bool
}

// ImportResult lists the natural keys touched by an import
type ImportResult struct {
	Collection string   `json:"collection"`
	DryRun     bool     `json:"dry_run"`
	Inserted   []string `json:"inserted"`
	Updated    []string `json:"updated"`
	Deleted    []string `json:"deleted"`
}

// Changed reports whether the import touched anything
func (r *ImportResult) Changed() bool {
	return len(r.Inserted)+len(r.Updated)+len(r.Deleted) > 0
}

// Facade is the integration point of one collection: CRUD mutations against the
// authoritative table followed by an export, operator imports, and retention expiry.
type Facade[T models.Record] struct {
	name      string
	keyColumn string
	snapshots bool
	db        *gorm.DB
	store     *snapshot.Store[T]
	newRecord func() T
	schema    *schema.Schema
	clock     clock.PassiveClock
	notifier  Notifier

	// exportMu guards the two fields below and is never held during snapshot I/O.
	// At most one export pass runs at a time. A change committed while a pass is in
	// flight sets exportDirty so the running pass goes round once more.
	exportMu     sync.Mutex
	exportActive chan struct{}
	exportDirty  bool
}

// New creates a facade. newRecord must return a fresh zero record.
func New[T models.Record](name string, db *gorm.DB, store *snapshot.Store[T], newRecord func() T, opts Options) (*Facade[T], error) {
	sch, err := schema.Parse(newRecord(), &sync.Map{}, db.NamingStrategy)
	if err != nil {
		return nil, fmt.Errorf("collection %s: parse model: %w", name, err)
	}
	keyField := sch.LookUpField(opts.KeyColumn)
	if keyField == nil || keyField.DBName == "" {
		return nil, fmt.Errorf("collection %s: key column %q not found", name, opts.KeyColumn)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	return &Facade[T]{
		name:      name,
		keyColumn: keyField.DBName,
		snapshots: opts.SnapshotEnabled,
		db:        db,
		store:     store,
		newRecord: newRecord,
		schema:    sch,
		clock:     opts.Clock,
		notifier:  opts.Notifier,
	}, nil
}

// Name returns the collection name
func (f *Facade[T]) Name() string { return f.name }

// SnapshotEnabled reports whether mutations are mirrored into the snapshot file
func (f *Facade[T]) SnapshotEnabled() bool { return f.snapshots }

// SnapshotPath returns the snapshot file of the collection
func (f *Facade[T]) SnapshotPath() string { return f.store.Path(f.name) }

func (f *Facade[T]) now() time.Time {
	return f.clock.Now().UTC().Truncate(time.Microsecond)
}

// session scopes a query to ctx and stamps gorm's automatic timestamps with the facade clock
func (f *Facade[T]) session(ctx context.Context) *gorm.DB {
	return f.db.Session(&gorm.Session{Context: ctx, NowFunc: f.now})
}

func (f *Facade[T]) byKey(tx *gorm.DB, key string) *gorm.DB {
	return tx.Where(clause.Eq{Column: clause.Column{Name: f.keyColumn}, Value: key})
}

// ============ READS ============

// List returns every active record sorted by natural key
func (f *Facade[T]) List(ctx context.Context) ([]T, error) {
	return f.list(f.session(ctx))
}

func (f *Facade[T]) list(tx *gorm.DB) ([]T, error) {
	var records []T
	if err := tx.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", f.name, err)
	}
	slices.SortFunc(records, func(a, b T) int {
		return strings.Compare(a.NaturalKey(), b.NaturalKey())
	})
	return records, nil
}

// Records returns List as an untyped value for JSON rendering
func (f *Facade[T]) Records(ctx context.Context) (interface{}, error) {
	return f.List(ctx)
}

// Count returns the number of active records
func (f *Facade[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := f.session(ctx).Model(f.newRecord()).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", f.name, err)
	}
	return n, nil
}

// Get returns the active record with the given key
func (f *Facade[T]) Get(ctx context.Context, key string) (T, error) {
	rec := f.newRecord()
	if err := f.byKey(f.session(ctx), key).First(rec).Error; err != nil {
		var zero T
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, fmt.Errorf("%s %q: %w", f.name, key, ErrNotFound)
		}
		return zero, fmt.Errorf("get %s %q: %w", f.name, key, err)
	}
	return rec, nil
}

// ============ MUTATIONS ============

// Create inserts a record, then exports the collection
func (f *Facade[T]) Create(ctx context.Context, rec T) error {
	if rec.NaturalKey() == "" {
		return fmt.Errorf("create %s: %w", f.name, reconcile.ErrEmptyKey)
	}
	rec.SetID(0)
	if err := f.session(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%s %q: %w", f.name, rec.NaturalKey(), ErrConflict)
		}
		return fmt.Errorf("create %s: %w", f.name, err)
	}
	f.afterMutation(ctx, rec.NaturalKey())
	return nil
}

// Mutate applies fn to one record inside a transaction scoped to that record, then exports.
// On PostgreSQL the row is locked so the change cannot interleave with a concurrent expiry.
func (f *Facade[T]) Mutate(ctx context.Context, key string, fn func(T) error) (T, error) {
	rec := f.newRecord()
	err := f.session(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := f.byKey(q, key).First(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		if rec.NaturalKey() != key {
			return ErrKeyChanged
		}
		return tx.Save(rec).Error
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("mutate %s %q: %w", f.name, key, err)
	}
	f.afterMutation(ctx, key)
	return rec, nil
}

// Delete soft-deletes the active record with the given key, then exports
func (f *Facade[T]) Delete(ctx context.Context, key string) error {
	res := f.softDelete(f.byKey(f.session(ctx), key))
	if res.Error != nil {
		return fmt.Errorf("delete %s %q: %w", f.name, key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %q: %w", f.name, key, ErrNotFound)
	}
	f.afterMutation(ctx, key)
	return nil
}

// softDelete marks the matching active rows deleted and stamps updated_at
func (f *Facade[T]) softDelete(tx *gorm.DB) *gorm.DB {
	now := f.now()
	return tx.Model(f.newRecord()).Updates(map[string]interface{}{
		"deleted_at": now,
		"updated_at": now,
	})
}

// afterMutation exports when the collection opts in. Failure leaves the snapshot lagging
// behind the database and is only logged.
func (f *Facade[T]) afterMutation(ctx context.Context, key string) {
	f.publish(EventChanged, SyncEvent{Collection: f.name, Status: models.SyncStatusSuccess, Key: key})
	if !f.snapshots {
		return
	}
	f.exportMu.Lock()
	if f.exportActive != nil {
		// the pass in flight repeats and picks this change up
		f.exportDirty = true
		f.exportMu.Unlock()
		return
	}
	f.exportActive = make(chan struct{})
	f.exportMu.Unlock()

	// the change is committed, so the export must not depend on the caller staying around
	if _, err := f.runExports(context.WithoutCancel(ctx)); err != nil {
		logger.Warnf("%s: sync lag, snapshot not updated after change of %q: %v", f.name, key, err)
	}
}

// ============ SNAPSHOT ============

// Export writes every active record to the snapshot file
func (f *Facade[T]) Export(ctx context.Context) error {
	// wait for any pass in flight, then run one that sees everything committed so far
	for {
		f.exportMu.Lock()
		active := f.exportActive
		if active == nil {
			f.exportActive = make(chan struct{})
			f.exportMu.Unlock()
			break
		}
		f.exportMu.Unlock()
		select {
		case <-active:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	run := f.startRun(models.SyncDirectionExport)
	count, err := f.runExports(ctx)
	f.finishRun(ctx, run, err, map[string]interface{}{"path": f.SnapshotPath(), "count": count})
	f.publish(EventExported, eventFromRun(run))
	return err
}

// runExports exports until no change arrived during the last pass, then releases the
// export slot. The caller must own the slot.
func (f *Facade[T]) runExports(ctx context.Context) (int, error) {
	for {
		count, err := f.export(ctx)

		f.exportMu.Lock()
		if !f.exportDirty {
			close(f.exportActive)
			f.exportActive = nil
			f.exportMu.Unlock()
			return count, err
		}
		f.exportDirty = false
		f.exportMu.Unlock()
	}
}

func (f *Facade[T]) export(ctx context.Context) (int, error) {
	records, err := f.List(ctx)
	if err == nil {
		err = f.store.Save(ctx, f.name, records)
	}
	if err != nil {
		metrics.SnapshotExports.WithLabelValues(f.name, metrics.StatusFailed).Inc()
		metrics.SnapshotLag.WithLabelValues(f.name).Set(1)
		return 0, fmt.Errorf("export %s: %w", f.name, err)
	}
	metrics.SnapshotExports.WithLabelValues(f.name, metrics.StatusSuccess).Inc()
	metrics.SnapshotLag.WithLabelValues(f.name).Set(0)
	logger.Debugf("%s: exported %d records to %s", f.name, len(records), f.SnapshotPath())
	return len(records), nil
}

// Plan reports what an import would change without applying it
func (f *Facade[T]) Plan(ctx context.Context) (*ImportResult, error) {
	return f.Import(ctx, ImportOptions{DryRun: true})
}

// Import makes the authoritative table match the snapshot file. All inserts, updates and
// deletes are applied in one transaction. A missing snapshot is refused, and so is an
// empty one unless opts.AllowEmpty is set.
func (f *Facade[T]) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	run := f.startRun(models.SyncDirectionImport)
	result := &ImportResult{Collection: f.name, DryRun: opts.DryRun}

	err := f.importSnapshot(ctx, opts, result)

	run.Inserted, run.Updated, run.Deleted = len(result.Inserted), len(result.Updated), len(result.Deleted)
	if opts.DryRun && err == nil {
		run.Status = models.SyncStatusPlanned
	}
	f.finishRun(ctx, run, err, result)

	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		metrics.ImportChanges.WithLabelValues(f.name, "insert").Add(float64(run.Inserted))
		metrics.ImportChanges.WithLabelValues(f.name, "update").Add(float64(run.Updated))
		metrics.ImportChanges.WithLabelValues(f.name, "delete").Add(float64(run.Deleted))
		f.publish(EventImported, eventFromRun(run))
		logger.Infof("📥 %s: imported %d inserted, %d updated, %d deleted",
			f.name, run.Inserted, run.Updated, run.Deleted)
	}
	return result, nil
}

func (f *Facade[T]) importSnapshot(ctx context.Context, opts ImportOptions, result *ImportResult) error {
	external, err := f.store.Load(ctx, f.name)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return fmt.Errorf("import %s: %w: %w", f.name, ErrSnapshotMissing, err)
		}
		return fmt.Errorf("import %s: %w", f.name, err)
	}

	return f.session(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := f.list(tx)
		if err != nil {
			return err
		}
		if len(external) == 0 && len(current) > 0 && !opts.AllowEmpty {
			return fmt.Errorf("import %s: %w (%d active records)", f.name, ErrEmptySnapshot, len(current))
		}

		plan, err := reconcile.Diff(current, external, f.now())
		if err != nil {
			return fmt.Errorf("import %s: %w", f.name, err)
		}
		result.Inserted = reconcile.Keys(plan.ToInsert)
		result.Updated = reconcile.Keys(plan.ToUpdate)
		result.Deleted = reconcile.Keys(plan.ToDelete)

		if opts.DryRun || plan.Empty() {
			return nil
		}

		if len(plan.ToDelete) > 0 {
			ids := make([]uint, len(plan.ToDelete))
			for i, rec := range plan.ToDelete {
				ids[i] = rec.GetID()
			}
			if err := f.softDelete(tx.Where("id IN ?", ids)).Error; err != nil {
				return fmt.Errorf("import %s: delete: %w", f.name, err)
			}
		}
		for _, rec := range plan.ToUpdate {
			if err := tx.Save(rec).Error; err != nil {
				return fmt.Errorf("import %s: update %q: %w", f.name, rec.NaturalKey(), err)
			}
		}
		if len(plan.ToInsert) > 0 {
			if err := tx.CreateInBatches(plan.ToInsert, 100).Error; err != nil {
				return fmt.Errorf("import %s: insert: %w", f.name, err)
			}
		}
		return nil
	})
}

// ============ RETENTION ============

// ExpireBefore soft-deletes, in one statement, every active record whose timestamp
// field is at or before cutoff. It returns the number of records expired.
func (f *Facade[T]) ExpireBefore(ctx context.Context, field string, cutoff time.Time) (int64, error) {
	column, err := f.timeColumn(field)
	if err != nil {
		return 0, err
	}

	run := f.startRun(models.SyncDirectionExpire)
	q := f.session(ctx).Where(clause.Lte{Column: clause.Column{Name: column}, Value: cutoff.UTC()})
	res := f.softDelete(q)
	if res.Error != nil {
		err := fmt.Errorf("expire %s: %w", f.name, res.Error)
		f.finishRun(ctx, run, err, nil)
		return 0, err
	}

	if res.RowsAffected > 0 {
		run.Deleted = int(res.RowsAffected)
		f.finishRun(ctx, run, nil, map[string]interface{}{"field": column, "cutoff": cutoff.UTC()})
		f.publish(EventExpired, eventFromRun(run))
	}
	return res.RowsAffected, nil
}

func (f *Facade[T]) timeColumn(field string) (string, error) {
	fld := f.schema.LookUpField(field)
	if fld == nil || fld.DBName == "" || fld.DBName == "deleted_at" || fld.DataType != schema.Time {
		return "", fmt.Errorf("%s.%s: %w", f.name, field, ErrUnknownField)
	}
	return fld.DBName, nil
}

// ============ AUDIT ============

func (f *Facade[T]) startRun(direction string) *models.SyncRun {
	return &models.SyncRun{
		Collection: f.name,
		Direction:  direction,
		Status:     models.SyncStatusSuccess,
		StartedAt:  f.now(),
	}
}

// finishRun stores the audit row. Failing to store it never fails the operation.
func (f *Facade[T]) finishRun(ctx context.Context, run *models.SyncRun, opErr error, details interface{}) {
	run.FinishedAt = f.now()
	if opErr != nil {
		run.Status = models.SyncStatusFailed
		run.Error = opErr.Error()
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			run.Details = datatypes.JSON(raw)
		}
	}
	if err := f.db.WithContext(ctx).Create(run).Error; err != nil {
		logger.Warnf("%s: failed to record %s run: %v", f.name, run.Direction, err)
	}
}

func (f *Facade[T]) publish(eventType string, ev SyncEvent) {
	if f.notifier == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = f.now()
	}
	f.notifier.Broadcast(eventType, ev)
}

func eventFromRun(run *models.SyncRun) SyncEvent {
	return SyncEvent{
		Collection: run.Collection,
		Status:     run.Status,
		Inserted:   run.Inserted,
		Updated:    run.Updated,
		Deleted:    run.Deleted,
		Error:      run.Error,
		At:         run.FinishedAt,
	}
}
