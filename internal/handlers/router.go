// Package handlers exposes the collections over HTTP: public listings and lead capture,
// admin login, and operator sync triggers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/xelth-com/trainingcms/internal/buildinfo"
	"github.com/xelth-com/trainingcms/internal/collections"
	"github.com/xelth-com/trainingcms/internal/config"
	"github.com/xelth-com/trainingcms/internal/logger"
	"github.com/xelth-com/trainingcms/internal/middleware"
	"github.com/xelth-com/trainingcms/internal/reconcile"
	"github.com/xelth-com/trainingcms/internal/retention"
	"github.com/xelth-com/trainingcms/internal/snapshot"
	"github.com/xelth-com/trainingcms/internal/websocket"
)

// Deps are the collaborators of the router
type Deps struct {
	Config    *config.Config
	Sync      *config.SyncConfig
	DB        *gorm.DB
	Registry  *collections.Registry
	Retention *retention.Manager
	Limiter   middleware.Limiter
	Hub       *websocket.Hub
}

// Router wraps the mux router and its dependencies
type Router struct {
	*mux.Router
	Deps
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(d Deps) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		Deps:   d,
	}

	// Health check and metrics
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Auth routes
	r.Handle("/auth/login", r.limited(config.PolicyLogin, r.login)).Methods("POST")

	// Public routes
	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/collections/{name}", r.limited(config.PolicyListing, r.listPublic)).Methods("GET")
	api.Handle("/messages", r.limited(config.PolicyMessages, r.createMessage)).Methods("POST")

	// Admin routes (protected)
	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(middleware.AdminAuth(d.Config.JWTSecret))
	admin.HandleFunc("/collections", r.listCollections).Methods("GET")
	admin.HandleFunc("/collections/{name}/records", r.listRecords).Methods("GET")
	admin.HandleFunc("/collections/{name}/records/{key}", r.deleteRecord).Methods("DELETE")
	admin.HandleFunc("/collections/{name}/export", r.exportCollection).Methods("POST")
	admin.HandleFunc("/collections/{name}/import", r.importCollection).Methods("POST")
	admin.HandleFunc("/collections/{name}/plan", r.planImport).Methods("GET")
	admin.HandleFunc("/collections/{name}/expire", r.expireCollection).Methods("POST")
	admin.HandleFunc("/messages/{reference}/read", r.markMessageRead).Methods("PATCH")
	admin.HandleFunc("/sync-runs", r.listSyncRuns).Methods("GET")

	// Admin event feed
	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(middleware.AdminAuth(d.Config.JWTSecret))
	ws.HandleFunc("/admin", r.serveEvents).Methods("GET")

	return r
}

// limited wraps a handler with the rate policy of a call site, if one is configured
func (r *Router) limited(site string, h http.HandlerFunc) http.Handler {
	policy, ok := r.Sync.Policy(site)
	if !ok || r.Limiter == nil {
		return h
	}
	return middleware.RateLimit(r.Limiter, site, policy, r.Config.TrustProxy)(h)
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	status := "ok"
	code := http.StatusOK
	if sqlDB, err := r.DB.DB(); err != nil || sqlDB.PingContext(req.Context()) != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	body := buildinfo.Info()
	body["status"] = status
	body["database"] = r.DB.Dialector.Name()
	respondJSON(w, code, body)
}

func (r *Router) serveEvents(w http.ResponseWriter, req *http.Request) {
	websocket.ServeWs(r.Hub, w, req)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondSyncError maps subsystem errors to status codes
func respondSyncError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, collections.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, collections.ErrSnapshotMissing),
		errors.Is(err, collections.ErrEmptySnapshot),
		errors.Is(err, collections.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, collections.ErrUnknownField),
		errors.Is(err, collections.ErrKeyChanged),
		errors.Is(err, reconcile.ErrEmptyKey):
		status = http.StatusBadRequest
	case errors.Is(err, snapshot.ErrCorrupt),
		errors.Is(err, reconcile.ErrDuplicateKey):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("request failed: %v", err)
	}
	respondError(w, status, err.Error())
}
