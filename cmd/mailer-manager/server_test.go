package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"portal-mailer/internal/common/logger"
	"portal-mailer/internal/email"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockStats struct {
	StatsFunc func(ctx context.Context) (map[email.Status]int, error)
}

func (m *MockStats) Stats(ctx context.Context) (map[email.Status]int, error) {
	return m.StatsFunc(ctx)
}

func okStats() *MockStats {
	return &MockStats{StatsFunc: func(ctx context.Context) (map[email.Status]int, error) {
		return map[email.Status]int{email.StatusPending: 4, email.StatusSent: 10, email.StatusFailed: 1}, nil
	}}
}

func serve(t *testing.T, mux http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthMux_Health(t *testing.T) {
	rec, body := serve(t, newHealthMux(nil, okStats(), logger.NewTestLogger(t)), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthMux_Ready(t *testing.T) {
	checks := map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	}
	rec, body := serve(t, newHealthMux(checks, okStats(), logger.NewTestLogger(t)), "/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, map[string]interface{}{"postgres": "ok", "redis": "ok"}, body["checks"])
}

func TestHealthMux_NotReady(t *testing.T) {
	checks := map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
		"redis":    func(context.Context) error { return nil },
	}
	rec, body := serve(t, newHealthMux(checks, okStats(), logger.NewTestLogger(t)), "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]interface{})["postgres"])
}

func TestHealthMux_QueueStats(t *testing.T) {
	rec, body := serve(t, newHealthMux(nil, okStats(), logger.NewTestLogger(t)), "/queue/stats")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"pending": float64(4), "sent": float64(10), "failed": float64(1)}, body)
}

func TestHealthMux_QueueStatsStoreDown(t *testing.T) {
	stats := &MockStats{StatsFunc: func(ctx context.Context) (map[email.Status]int, error) {
		return nil, email.ErrStoreUnavailable
	}}
	rec, body := serve(t, newHealthMux(nil, stats, logger.NewTestLogger(t)), "/queue/stats")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["error"], "STORE_UNAVAILABLE")
}

func TestHealthMux_Metrics(t *testing.T) {
	rec, _ := serve(t, newHealthMux(nil, okStats(), logger.NewTestLogger(t)), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	err := retryWithBackoff(func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, 5, time.Millisecond, zap.NewNop(), "test operation")

	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = retryWithBackoff(func() error { return errors.New("down") }, 2, time.Millisecond, zap.NewNop(), "postgres")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres failed after 2 attempts")
}
