package handlers

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/monitor"
)

type HealthHandler struct {
	db      *pgxpool.Pool
	redis   *redis.Client
	monitor *monitor.Monitor
}

func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client, mon *monitor.Monitor) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, monitor: mon}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz checks the backing stores and attaches the pipeline snapshot so
// ops tooling sees queue depth, worker liveness and error rates in one call.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
		} else {
			checks["database"] = "ok"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(r.Context()).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	body := map[string]interface{}{"status": statusStr(status), "checks": checks}
	if h.monitor != nil {
		if snap, err := h.monitor.TakeSnapshot(r.Context()); err == nil {
			body["pipeline"] = snap
		} else {
			body["pipeline_error"] = err.Error()
		}
	}

	writeJSON(w, status, body)
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}
