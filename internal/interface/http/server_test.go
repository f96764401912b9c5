package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-buddy/internal/interface/http/handlers"
	"github.com/alem-hub/study-buddy/pkg/logger"
)

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, handlers.HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var status handlers.HealthStatus
	if rec.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &status)
	}
	return rec, status
}

func TestServer_Health(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	now := start
	health := handlers.NewHealthHandler(handlers.HealthConfig{
		Version:        "test",
		ActiveSessions: func() int { return 3 },
		Now:            func() time.Time { return now },
	})
	health.AddCheck("database", func(context.Context) error { return errors.New("db down") })

	srv := NewServer(DefaultConfig(), Dependencies{Health: health, Logger: logger.Discard()})
	now = start.Add(90 * time.Second)

	rec, status := do(t, srv.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, status.Healthy)
	assert.Equal(t, 3, status.ActiveSessions)
	assert.Equal(t, "1m30s", status.Uptime)
	assert.Empty(t, status.Checks, "liveness must not run dependency checks")
	assert.NotEmpty(t, rec.Header().Get(handlers.RequestIDHeader))
}

func TestServer_Ready(t *testing.T) {
	health := handlers.NewHealthHandler(handlers.HealthConfig{})
	health.AddCheck("database", func(context.Context) error { return nil })

	srv := NewServer(DefaultConfig(), Dependencies{Health: health, Logger: logger.Discard()})

	rec, status := do(t, srv.Handler(), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, status.Ready)
	assert.True(t, status.Checks["database"].Healthy)

	health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	rec, status = do(t, srv.Handler(), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, status.Ready)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	assert.Equal(t, []string{"database", "redis"}, health.Names())
}

func TestServer_ReadyCheckTimeout(t *testing.T) {
	health := handlers.NewHealthHandler(handlers.HealthConfig{Timeout: 20 * time.Millisecond})
	health.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	rec, status := do(t, NewServer(DefaultConfig(), Dependencies{Health: health}).Handler(), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
}

func TestServer_Webhook(t *testing.T) {
	var hits int
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})

	srv := NewServer(DefaultConfig(), Dependencies{Webhook: webhook, Logger: logger.Discard()})

	rec, _ := do(t, srv.Handler(), http.MethodPost, WebhookPath)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, hits)

	rec, _ = do(t, srv.Handler(), http.MethodGet, WebhookPath)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, hits)

	rec, _ = do(t, NewServer(DefaultConfig(), Dependencies{}).Handler(), http.MethodPost, WebhookPath)
	assert.Equal(t, http.StatusNotFound, rec.Code, "polling mode has no webhook route")
}

func TestServer_RecoversPanics(t *testing.T) {
	h := handlers.Chain(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		handlers.RequestID(),
		handlers.Logging(logger.Discard()),
		handlers.Recovery(logger.Discard()),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(handlers.RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body handlers.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body.RequestID)
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(cfg, Dependencies{Logger: logger.Discard()})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	require.Eventually(t, srv.IsRunning, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-errc)
}
