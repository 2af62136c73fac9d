package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"k8s.io/utils/clock"

	"github.com/xelth-com/trainingcms/internal/collections"
	"github.com/xelth-com/trainingcms/internal/config"
	"github.com/xelth-com/trainingcms/internal/database"
	"github.com/xelth-com/trainingcms/internal/logger"
	"github.com/xelth-com/trainingcms/internal/snapshot"
)

// app holds what every command needs: configuration, the database and the collections
type app struct {
	cfg      *config.Config
	sync     *config.SyncConfig
	db       *database.DB
	registry *collections.Registry
}

// bootstrap loads configuration, connects and migrates the database and builds a
// facade per collection. notifier may be nil.
func bootstrap(ctx context.Context, notifier collections.Notifier) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := logger.Initialize(cfg.NodeEnv); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	syncCfg, err := config.LoadSyncConfig()
	if err != nil {
		return nil, err
	}

	codec, err := snapshot.CodecFor(cfg.Snapshot.Format)
	if err != nil {
		return nil, err
	}

	var dirOpts []snapshot.DirOption
	if cfg.Snapshot.S3.Enabled() {
		mirror, err := snapshot.NewS3Mirror(ctx, cfg.Snapshot.S3)
		if err != nil {
			return nil, fmt.Errorf("configuring snapshot mirror: %w", err)
		}
		dirOpts = append(dirOpts, snapshot.WithMirror(mirror))
		logger.Infof("☁️  Snapshots mirrored to s3://%s/%s", cfg.Snapshot.S3.Bucket, cfg.Snapshot.S3.Prefix)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}

	logger.Infof("🚀 Synchronizing database schema...")
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	registry, err := collections.Build(syncCfg, collections.Deps{
		DB:       db.DB,
		Dir:      snapshot.NewDir(cfg.Snapshot.Dir, dirOpts...),
		Codec:    codec,
		Clock:    clock.RealClock{},
		Notifier: notifier,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &app{cfg: cfg, sync: syncCfg, db: db, registry: registry}, nil
}

func (a *app) close() {
	logger.Infof("🛑 Closing database connection...")
	if err := a.db.Close(); err != nil {
		logger.Errorf("Database close error: %v", err)
	}
}

// syncers resolves collection names, all collections when names is empty
func (a *app) syncers(names []string) ([]collections.Syncer, error) {
	if len(names) == 0 {
		names = a.registry.Names()
	}
	out := make([]collections.Syncer, 0, len(names))
	for _, name := range names {
		s, ok := a.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown collection %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
