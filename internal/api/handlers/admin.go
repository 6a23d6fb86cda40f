package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/monitor"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/pipeline"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/retention"
)

// AdminHandler exposes the operator surface: dead-letter inspection and
// requeue, pipeline and cache statistics, and on-demand maintenance tasks.
type AdminHandler struct {
	pipeline  *pipeline.Pipeline
	monitor   *monitor.Monitor
	retention *retention.Client
}

func NewAdminHandler(p *pipeline.Pipeline, mon *monitor.Monitor, rc *retention.Client) *AdminHandler {
	return &AdminHandler{pipeline: p, monitor: mon, retention: rc}
}

// Stats returns the full pipeline snapshot: queue depths, worker liveness,
// latency percentiles and per-provider error rates.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.monitor.TakeSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DeadLetter lists dead-lettered jobs for inspection.
func (h *AdminHandler) DeadLetter(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.pipeline.ListDeadLetter(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// RequeueDeadLetter puts a dead-lettered job back on its lane with a fresh
// attempt budget.
func (h *AdminHandler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	err := h.pipeline.RequeueDeadLetter(r.Context(), jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if errors.Is(err, pipeline.ErrNotDeadLettered) {
		writeError(w, http.StatusConflict, "job is not dead-lettered")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// CacheStats reports entry count and total stored bytes.
func (h *AdminHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pipeline.CacheStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// TriggerCacheSweep enqueues an immediate expiry sweep instead of waiting
// for the scheduled one.
func (h *AdminHandler) TriggerCacheSweep(w http.ResponseWriter, r *http.Request) {
	if err := h.retention.EnqueueCacheSweep(retention.CacheSweepPayload{Limit: 500}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep_enqueued"})
}

// TriggerDeadLetterReport enqueues an immediate dead-letter report.
func (h *AdminHandler) TriggerDeadLetterReport(w http.ResponseWriter, r *http.Request) {
	if err := h.retention.EnqueueDeadLetterReport(retention.DeadLetterReportPayload{Limit: 100}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "report_enqueued"})
}
