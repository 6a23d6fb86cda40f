package retention

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/config"
)

// Client enqueues maintenance tasks onto the asynq side-queue.
type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueueCacheSweep(payload CacheSweepPayload) error {
	return c.enqueue(TypeCacheSweep, payload, asynq.MaxRetry(2), asynq.Timeout(5*time.Minute))
}

func (c *Client) EnqueueDeadLetterReport(payload DeadLetterReportPayload) error {
	return c.enqueue(TypeDeadLetterReport, payload, asynq.MaxRetry(1), asynq.Timeout(time.Minute))
}

func (c *Client) enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.Enqueue(task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

// NewScheduler registers the periodic maintenance entries. Run alongside the
// asynq server in the worker binary.
func NewScheduler(cfg config.RedisConfig, every string) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil)

	sweep, err := json.Marshal(CacheSweepPayload{Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("marshal sweep payload: %w", err)
	}
	if _, err := scheduler.Register(every, asynq.NewTask(TypeCacheSweep, sweep)); err != nil {
		return nil, fmt.Errorf("register cache sweep: %w", err)
	}

	report, err := json.Marshal(DeadLetterReportPayload{Limit: 100})
	if err != nil {
		return nil, fmt.Errorf("marshal report payload: %w", err)
	}
	if _, err := scheduler.Register(every, asynq.NewTask(TypeDeadLetterReport, report)); err != nil {
		return nil, fmt.Errorf("register dead-letter report: %w", err)
	}

	return scheduler, nil
}
