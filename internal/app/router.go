package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atlas-pos/atlas-pos/internal/observability"
	"github.com/atlas-pos/atlas-pos/internal/stock"
	"github.com/atlas-pos/atlas-pos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	StockHandler *stock.Handler
	JobHandler   *jobs.Handler
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with Atlas defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		body := `{"status":"ok"}`
		if params.Pool != nil {
			if err := params.Pool.Ping(ctx); err != nil {
				params.Logger.Warn("healthz postgres ping", slog.Any("error", err))
				status = http.StatusServiceUnavailable
				body = `{"status":"degraded","postgres":"down"}`
			}
		}
		if status == http.StatusOK && params.Redis != nil {
			if err := params.Redis.Ping(ctx).Err(); err != nil {
				params.Logger.Warn("healthz redis ping", slog.Any("error", err))
				status = http.StatusServiceUnavailable
				body = `{"status":"degraded","redis":"down"}`
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})

	if params.StockHandler != nil {
		r.Route("/api/stock", params.StockHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/api/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
