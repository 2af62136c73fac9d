package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/xelth-com/trainingcms/internal/collections"
	"github.com/xelth-com/trainingcms/internal/config"
	"github.com/xelth-com/trainingcms/internal/models"
	"github.com/xelth-com/trainingcms/internal/ratelimit"
	"github.com/xelth-com/trainingcms/internal/snapshot"
	"github.com/xelth-com/trainingcms/internal/utils"
	"github.com/xelth-com/trainingcms/internal/websocket"
)

const (
	jwtSecret     = "handlers-test-secret"
	adminEmail    = "admin@example.com"
	adminPassword = "correct horse"
)

var now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type testServer struct {
	router   *Router
	db       *gorm.DB
	registry *collections.Registry
	dir      string
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "cms.db") + "?_time_format=sqlite"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard, TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.SyncedModels()...))

	hash, err := utils.HashPassword(adminPassword)
	require.NoError(t, err)
	cfg := &config.Config{JWTSecret: jwtSecret, AdminEmail: adminEmail, AdminPasswordHash: hash}

	syncCfg := config.DefaultSyncConfig()
	syncCfg.RateLimits[config.PolicyMessages] = config.RatePolicy{MaxRequests: 2, Window: 600}

	fc := clocktesting.NewFakeClock(now)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHub()
	go hub.Run(ctx)

	dir := filepath.Join(t.TempDir(), "snapshots")
	reg, err := collections.Build(syncCfg, collections.Deps{
		DB:       db,
		Dir:      snapshot.NewDir(dir),
		Codec:    snapshot.JSONCodec{},
		Clock:    fc,
		Notifier: hub,
	})
	require.NoError(t, err)

	token, err := utils.GenerateAdminToken(adminEmail, jwtSecret, time.Hour)
	require.NoError(t, err)

	router := NewRouter(Deps{
		Config:    cfg,
		Sync:      syncCfg,
		DB:        db,
		Registry:  reg,
		Retention: reg.RetentionManager(syncCfg, fc),
		Limiter:   ratelimit.New(time.Hour, ratelimit.WithClock(fc)),
		Hub:       hub,
	})
	return &testServer{router: router, db: db, registry: reg, dir: dir, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:40000"
	if admin {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) seedCourse(t *testing.T, title string) {
	t.Helper()
	s1, ok := s.registry.Get(config.CollectionCourses)
	require.True(t, ok)
	require.NoError(t, s.db.Create(&models.Course{Title: title}).Error)
	require.NoError(t, s1.Export(context.Background()))
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, "GET", "/health", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = s.do(t, "GET", "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, "POST", "/auth/login", LoginRequest{Email: "Admin@Example.com", Password: adminPassword}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	access := body["tokens"].(map[string]interface{})["accessToken"].(string)
	claims, err := utils.ValidateToken(access, jwtSecret)
	require.NoError(t, err)
	assert.True(t, utils.IsAdmin(claims))

	rec = s.do(t, "POST", "/auth/login", LoginRequest{Email: adminEmail, Password: "nope"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, "POST", "/auth/login", "not an object", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicListing(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.seedCourse(t, "Forklift")

	rec := s.do(t, "GET", "/api/collections/courses", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	courses := decode[[]map[string]interface{}](t, rec)
	require.Len(t, courses, 1)
	assert.Equal(t, "Forklift", courses[0]["title"])

	assert.Equal(t, http.StatusNotFound, s.do(t, "GET", "/api/collections/messages", nil, false).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "GET", "/api/collections/invoices", nil, false).Code)
}

func TestCreateMessage(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	valid := MessageRequest{Name: "Ada", Email: "ada@example.com", Body: "Is there a course in May?"}

	rec := s.do(t, "POST", "/api/messages", MessageRequest{Name: "Ada", Email: "not-an-email", Body: "hi"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, "POST", "/api/messages", valid, false)
	require.Equal(t, http.StatusCreated, rec.Code)
	ref := decode[map[string]string](t, rec)["reference"]
	require.NotEmpty(t, ref)

	stored, err := s.registry.Messages.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", stored.SourceIP)
	assert.FileExists(t, filepath.Join(s.dir, "messages.json"))

	// the invalid attempt counted too: policy allows two per window
	rec = s.do(t, "POST", "/api/messages", valid, false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCreateMessage_Validation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name    string
		in      MessageRequest
		wantErr string
	}{
		{"missing name", MessageRequest{Email: "ada@example.com", Body: "hi"}, "Name and message are required"},
		{"blank body", MessageRequest{Name: "Ada", Email: "ada@example.com", Body: "   "}, "Name and message are required"},
		{"missing email", MessageRequest{Name: "Ada", Body: "hi"}, "A valid email address is required"},
		{"bad email", MessageRequest{Name: "Ada", Email: "ada@", Body: "hi"}, "A valid email address is required"},
		{"body too long", MessageRequest{Name: "Ada", Email: "ada@example.com", Body: strings.Repeat("x", 5001)}, "Message is too long"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, json.NewEncoder(&buf).Encode(tt.in))
			req := httptest.NewRequest("POST", "/api/messages", &buf)
			// one address per case keeps the messages policy out of the way
			req.RemoteAddr = fmt.Sprintf("198.51.100.%d:40000", i+1)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantErr, decode[map[string]string](t, rec)["error"])
		})
	}

	n, err := s.registry.Messages.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAdminRequiresToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, "GET", "/api/admin/collections", nil, false).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, "GET", "/ws/admin", nil, false).Code)
}

func TestAdminCollections(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.seedCourse(t, "Forklift")

	rec := s.do(t, "GET", "/api/admin/collections", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]CollectionStatus](t, rec)
	require.Len(t, rows, 6)

	byName := map[string]CollectionStatus{}
	for _, row := range rows {
		byName[row.Name] = row
	}
	assert.Equal(t, int64(1), byName["courses"].Count)
	assert.True(t, byName["messages"].Retention)
	assert.False(t, byName["courses"].Retention)
}

func TestAdminExportPlanImport(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.seedCourse(t, "Forklift")
	s.seedCourse(t, "Rigging")

	rec := s.do(t, "POST", "/api/admin/collections/courses/export", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	// drift: a course appears in the database only
	require.NoError(t, s.db.Create(&models.Course{Title: "Welding"}).Error)

	rec = s.do(t, "GET", "/api/admin/collections/courses/plan", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode[collections.ImportResult](t, rec)
	assert.True(t, plan.DryRun)
	assert.Equal(t, []string{"Welding"}, plan.Deleted)

	rec = s.do(t, "POST", "/api/admin/collections/courses/import", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Welding"}, decode[collections.ImportResult](t, rec).Deleted)

	rec = s.do(t, "GET", "/api/admin/sync-runs?collection=courses&direction=import", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]models.SyncRun](t, rec)
	require.Len(t, runs, 2)
	assert.Equal(t, models.SyncStatusSuccess, runs[0].Status)
	assert.Equal(t, models.SyncStatusPlanned, runs[1].Status)
}

func TestAdminImportErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	require.NoError(t, s.db.Create(&models.Event{Title: "Open day"}).Error)

	rec := s.do(t, "POST", "/api/admin/collections/events/import", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, os.MkdirAll(s.dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "events.json"), []byte("{oops"), 0600))
	rec = s.do(t, "POST", "/api/admin/collections/events/import", nil, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "events.json"), []byte(`{"collection":"events","records":[]}`), 0600))
	rec = s.do(t, "POST", "/api/admin/collections/events/import", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, "POST", "/api/admin/collections/events/import?allow_empty=true", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, "POST", "/api/admin/collections/invoices/import", nil, true).Code)
}

func TestAdminExpire(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.registry.Messages.Create(ctx, &models.Message{
		Tracked:   models.Tracked{CreatedAt: now.Add(-29 * 24 * time.Hour)},
		Reference: "old",
		Name:      "Ada",
	}))
	require.NoError(t, s.registry.Messages.Create(ctx, &models.Message{Reference: "new", Name: "Linus"}))

	rec := s.do(t, "POST", "/api/admin/collections/messages/expire", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.EqualValues(t, 1, body["expired"])
	assert.Equal(t, false, body["skipped"])

	assert.Equal(t, http.StatusNotFound, s.do(t, "POST", "/api/admin/collections/courses/expire", nil, true).Code)
}

func TestAdminMessagesAndDelete(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.registry.Messages.Create(ctx, &models.Message{Reference: "ref-1", Name: "Ada"}))

	rec := s.do(t, "PATCH", "/api/admin/messages/ref-1/read", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, rec)["read"])

	assert.Equal(t, http.StatusNotFound, s.do(t, "PATCH", "/api/admin/messages/missing/read", nil, true).Code)

	rec = s.do(t, "GET", "/api/admin/collections/messages/records", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]interface{}](t, rec), 1)

	assert.Equal(t, http.StatusNoContent, s.do(t, "DELETE", "/api/admin/collections/messages/records/ref-1", nil, true).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "DELETE", "/api/admin/collections/messages/records/ref-1", nil, true).Code)
}
