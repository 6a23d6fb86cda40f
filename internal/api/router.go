package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/api/handlers"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/api/middleware"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/config"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/monitor"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/pipeline"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/retention"
)

type Router struct {
	mux       *chi.Mux
	db        *pgxpool.Pool
	redis     *redis.Client
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	monitor   *monitor.Monitor
	retention *retention.Client
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, p *pipeline.Pipeline, mon *monitor.Monitor, rc *retention.Client) *Router {
	return &Router{
		mux:       chi.NewRouter(),
		db:        db,
		redis:     rdb,
		cfg:       cfg,
		pipeline:  p,
		monitor:   mon,
		retention: rc,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints
	health := handlers.NewHealthHandler(rt.db, rt.redis, rt.monitor)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		speechH := handlers.NewSpeechHandler(rt.pipeline)
		r.Route("/speech", func(r chi.Router) {
			r.Post("/", speechH.Submit)
			r.Get("/{id}", speechH.Status)
			r.Get("/{id}/audio", speechH.Audio)
			r.Delete("/{id}", speechH.Cancel)
		})

		adminH := handlers.NewAdminHandler(rt.pipeline, rt.monitor, rt.retention)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", adminH.Stats)
			r.Get("/deadletter", adminH.DeadLetter)
			r.Post("/deadletter/{id}/requeue", adminH.RequeueDeadLetter)
			r.Post("/deadletter/report", adminH.TriggerDeadLetterReport)
			r.Get("/cache/stats", adminH.CacheStats)
			r.Post("/cache/sweep", adminH.TriggerCacheSweep)
		})
	})

	return r
}
