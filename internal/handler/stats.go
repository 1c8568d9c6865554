package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hologram-chat/rendezvous-server/internal/httputil"
	"github.com/hologram-chat/rendezvous-server/internal/model"
)

type HouseStatter interface {
	Stats() model.HouseStats
}

type GovernorStatter interface {
	Stats() model.GovernorStats
}

// PingFunc checks one backing service for the health endpoint.
type PingFunc func(ctx context.Context) error

type StatsHandler struct {
	serverName string
	house      HouseStatter
	governor   GovernorStatter
	checks     map[string]PingFunc
	gatherer   prometheus.Gatherer
	now        func() time.Time
}

func NewStatsHandler(
	serverName string,
	house HouseStatter,
	governor GovernorStatter,
	checks map[string]PingFunc,
	gatherer prometheus.Gatherer,
) *StatsHandler {
	return &StatsHandler{
		serverName: serverName,
		house:      house,
		governor:   governor,
		checks:     checks,
		gatherer:   gatherer,
		now:        time.Now,
	}
}

// Routes mounts /health and /metrics. Stats live on their own router so
// that they can carry middleware of their own.
func (h *StatsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	return r
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, name+" unavailable", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().UnixMilli(),
	})
}

// Stats reports what this instance currently holds.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.ServerStats{
		ServerName: h.serverName,
		House:      h.house.Stats(),
		Governor:   h.governor.Stats(),
		Timestamp:  h.now().UnixMilli(),
	})
}
