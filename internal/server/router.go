package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/docqa/internal/api"
	"github.com/cloo-solutions/docqa/internal/api/middleware"
	"github.com/cloo-solutions/docqa/internal/jobs"
)

// StatsProvider exposes a worker's processed/failed counters.
type StatsProvider interface {
	Stats() jobs.Stats
}

type RouterConfig struct {
	// Workers maps a worker name (its bus subject) to its runner.
	Workers map[string]StatsProvider
}

type statusResponse struct {
	Status  string                `json:"status"`
	Uptime  string                `json:"uptime"`
	Workers map[string]jobs.Stats `json:"workers"`
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	started := time.Now()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		workers := make(map[string]jobs.Stats, len(cfg.Workers))
		for name, provider := range cfg.Workers {
			workers[name] = provider.Stats()
		}
		api.Success(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Uptime:  time.Since(started).Round(time.Second).String(),
			Workers: workers,
		})
	})

	return r
}
