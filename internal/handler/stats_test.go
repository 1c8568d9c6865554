package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hologram-chat/rendezvous-server/internal/model"
)

type fixedHouse model.HouseStats

func (f fixedHouse) Stats() model.HouseStats { return model.HouseStats(f) }

type fixedGovernor model.GovernorStats

func (f fixedGovernor) Stats() model.GovernorStats { return model.GovernorStats(f) }

func newTestHandler(checks map[string]PingFunc) *StatsHandler {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	h := NewStatsHandler(
		"eu-1",
		fixedHouse{Members: 4, Rooms: 1, Waiting: 2},
		fixedGovernor{Streams: 4, Tokens: 4, Datagrams: 3},
		checks,
		registry,
	)
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return h
}

func TestStatsHandler(t *testing.T) {
	t.Run("stats reports house and governor counts", func(t *testing.T) {
		h := newTestHandler(nil)
		rec := httptest.NewRecorder()
		h.Stats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got model.ServerStats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "eu-1", got.ServerName)
		assert.Equal(t, 4, got.House.Members)
		assert.Equal(t, 2, got.House.Waiting)
		assert.Equal(t, 3, got.Governor.Datagrams)
		assert.Equal(t, int64(1700000000000), got.Timestamp)
	})

	t.Run("health is ok when every check passes", func(t *testing.T) {
		h := newTestHandler(map[string]PingFunc{
			"database": func(context.Context) error { return nil },
		})
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	})

	t.Run("health fails when a check fails", func(t *testing.T) {
		h := newTestHandler(map[string]PingFunc{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		})
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "redis unavailable")
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		h := newTestHandler(nil)
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "test_total 1")
	})
}
