package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/cache"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// Handlers processes maintenance tasks.
type Handlers struct {
	cache *cache.Store
	jobs  jobstore.Store
}

func NewHandlers(cacheStore *cache.Store, jobs jobstore.Store) *Handlers {
	return &Handlers{cache: cacheStore, jobs: jobs}
}

// Mux returns the asynq mux with all maintenance handlers registered.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeCacheSweep, h.ProcessCacheSweep)
	mux.HandleFunc(TypeDeadLetterReport, h.ProcessDeadLetterReport)
	return mux
}

func (h *Handlers) ProcessCacheSweep(ctx context.Context, t *asynq.Task) error {
	var payload CacheSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	removed, err := h.cache.SweepExpired(ctx, payload.Limit)
	if err != nil {
		return fmt.Errorf("cache sweep: %w", err)
	}
	if removed > 0 {
		slog.Info("cache sweep removed expired entries", "removed", removed)
	}
	return nil
}

func (h *Handlers) ProcessDeadLetterReport(ctx context.Context, t *asynq.Task) error {
	var payload DeadLetterReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	dead, err := h.jobs.ListByStatus(ctx, speech.StatusDeadLetter, payload.Limit)
	if err != nil {
		return fmt.Errorf("list dead-lettered jobs: %w", err)
	}
	if len(dead) == 0 {
		return nil
	}

	slog.Warn("dead-lettered jobs awaiting operator inspection", "count", len(dead))
	for _, job := range dead {
		slog.Warn("dead-lettered job",
			"job_id", job.ID,
			"hash", job.Hash,
			"lane", job.Lane,
			"attempts", job.Attempts,
			"last_error", job.LastError,
		)
	}
	return nil
}
