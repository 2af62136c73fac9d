package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/xelth-com/trainingcms/internal/handlers"
	"github.com/xelth-com/trainingcms/internal/logger"
	"github.com/xelth-com/trainingcms/internal/ratelimit"
	"github.com/xelth-com/trainingcms/internal/websocket"
)

const (
	gracefulTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, the rate limiter and the retention schedulers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "Port to listen on (overrides PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub()
	a, err := bootstrap(ctx, hub)
	if err != nil {
		return err
	}
	defer a.close()

	port := a.cfg.Port
	if p, _ := cmd.Flags().GetString("port"); p != "" {
		port = p
	}

	// identifiers idle for longer than the longest window hold no live requests
	limiter := ratelimit.New(a.sync.LongestWindow())
	limiter.Start(ctx, a.sync.SweepInterval())
	defer limiter.Stop()

	retentionMgr := a.registry.RetentionManager(a.sync, clock.RealClock{})

	router := handlers.NewRouter(handlers.Deps{
		Config:    a.cfg,
		Sync:      a.sync,
		DB:        a.db.DB,
		Registry:  a.registry,
		Retention: retentionMgr,
		Limiter:   limiter,
		Hub:       hub,
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := retentionMgr.Start(gctx); err != nil {
			return err
		}
		logger.Infof("✅ Retention: %d collection(s) scheduled", retentionMgr.Len())
		<-gctx.Done()
		// in-flight passes finish their batch
		retentionMgr.Stop()
		return nil
	})

	g.Go(func() error {
		logger.Infof("🚀 Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("⚠️  Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Infof("✅ Shutdown complete")
	return nil
}
