package collections

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"k8s.io/utils/clock"

	"github.com/xelth-com/trainingcms/internal/config"
	"github.com/xelth-com/trainingcms/internal/models"
	"github.com/xelth-com/trainingcms/internal/retention"
	"github.com/xelth-com/trainingcms/internal/snapshot"
)

// Syncer is the untyped view of a Facade used by the CLI and admin handlers
type Syncer interface {
	Name() string
	SnapshotEnabled() bool
	SnapshotPath() string
	Export(ctx context.Context) error
	Import(ctx context.Context, opts ImportOptions) (*ImportResult, error)
	Plan(ctx context.Context) (*ImportResult, error)
	ExpireBefore(ctx context.Context, field string, cutoff time.Time) (int64, error)
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context) (int64, error)
	Records(ctx context.Context) (interface{}, error)
}

// Deps are the collaborators shared by every facade
type Deps struct {
	DB       *gorm.DB
	Dir      *snapshot.Dir
	Codec    snapshot.Codec
	Clock    clock.PassiveClock
	Notifier Notifier
}

// Registry holds one facade per configured collection
type Registry struct {
	syncers map[string]Syncer

	// Messages is kept typed for the lead-capture endpoints
	Messages *Facade[*models.Message]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{syncers: make(map[string]Syncer)}
}

// Build creates a facade for every collection in cfg
func Build(cfg *config.SyncConfig, deps Deps) (*Registry, error) {
	r := NewRegistry()
	for _, name := range cfg.CollectionNames() {
		cc := cfg.Collections[name]
		var err error
		switch name {
		case config.CollectionCourses:
			_, err = register(r, name, cc, deps, func() *models.Course { return &models.Course{} })
		case config.CollectionEvents:
			_, err = register(r, name, cc, deps, func() *models.Event { return &models.Event{} })
		case config.CollectionTrainings:
			_, err = register(r, name, cc, deps, func() *models.Training { return &models.Training{} })
		case config.CollectionVideos:
			_, err = register(r, name, cc, deps, func() *models.Video { return &models.Video{} })
		case config.CollectionImages:
			_, err = register(r, name, cc, deps, func() *models.Image { return &models.Image{} })
		case config.CollectionMessages:
			r.Messages, err = register(r, name, cc, deps, func() *models.Message { return &models.Message{} })
		default:
			err = fmt.Errorf("collection %s: no model registered", name)
		}
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func register[T models.Record](r *Registry, name string, cc config.CollectionConfig, deps Deps, newRecord func() T) (*Facade[T], error) {
	store := snapshot.NewStore[T](deps.Dir, deps.Codec, deps.Clock)
	f, err := New(name, deps.DB, store, newRecord, Options{
		KeyColumn:       cc.KeyField,
		SnapshotEnabled: cc.SnapshotEnabled,
		Clock:           deps.Clock,
		Notifier:        deps.Notifier,
	})
	if err != nil {
		return nil, err
	}
	r.Register(f)
	return f, nil
}

// Register adds a syncer, replacing one with the same name
func (r *Registry) Register(s Syncer) {
	r.syncers[s.Name()] = s
}

// Get returns the syncer of a collection
func (r *Registry) Get(name string) (Syncer, bool) {
	s, ok := r.syncers[name]
	return s, ok
}

// Names returns registered collections in stable order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.syncers))
	for name := range r.syncers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RetentionManager creates one scheduler per collection with retention enabled.
// Expired records are mirrored to the snapshot when the collection exports on mutation.
func (r *Registry) RetentionManager(cfg *config.SyncConfig, clk clock.WithTicker) *retention.Manager {
	m := retention.NewManager()
	for _, name := range r.Names() {
		cc, ok := cfg.Collections[name]
		if !ok || !cc.Retention.Enabled {
			continue
		}
		s := r.syncers[name]
		m.Add(retention.NewScheduler(s, retention.Policy{
			MaxAge:         cc.Retention.MaxAge(),
			ReferenceField: cc.Retention.ReferenceField,
			Interval:       cc.Retention.TickInterval(),
			Mirror:         s.SnapshotEnabled(),
		}, clk))
	}
	return m
}
