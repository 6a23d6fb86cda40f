// Package monitor aggregates queue depth, worker liveness, error rate and
// job latency into a single read-only snapshot for health reporting. It
// observes every pipeline transition but never mutates job or cache state.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/queue"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// Snapshot is the full health picture at one point in time.
type Snapshot struct {
	QueueDepths  map[speech.Lane]int64 `json:"queue_depths"`
	WorkersAlive map[speech.Lane]int   `json:"workers_alive"`
	Workers      []speech.WorkerRecord `json:"workers"`
	Stats        RecorderStats         `json:"stats"`
	TakenAt      time.Time             `json:"taken_at"`
}

// StatsSource yields the rolling job stats. In the worker binary this is the
// local Recorder; in the API binary it is the snapshot the worker last
// published to Redis.
type StatsSource interface {
	Stats() RecorderStats
}

// Monitor composes live queue depths, heartbeat records and a stats source.
type Monitor struct {
	queues     queue.Manager
	heartbeats HeartbeatStore
	stats      StatsSource
}

func New(queues queue.Manager, heartbeats HeartbeatStore, stats StatsSource) *Monitor {
	return &Monitor{queues: queues, heartbeats: heartbeats, stats: stats}
}

// TakeSnapshot gathers the current state from all sources.
func (m *Monitor) TakeSnapshot(ctx context.Context) (Snapshot, error) {
	depths, err := m.queues.Depths(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("queue depths: %w", err)
	}

	workers, err := m.heartbeats.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("worker records: %w", err)
	}

	alive := make(map[speech.Lane]int)
	for _, w := range workers {
		for _, lane := range w.Lanes {
			alive[lane]++
		}
	}

	snap := Snapshot{
		QueueDepths:  depths,
		WorkersAlive: alive,
		Workers:      workers,
		TakenAt:      time.Now().UTC(),
	}
	if m.stats != nil {
		snap.Stats = m.stats.Stats()
	}
	return snap, nil
}

const statsKey = "speech:stats"

// RedisStatsPublisher lets the worker binary share its recorder stats with
// the API binary. Published stats expire so a stopped worker does not leave
// stale numbers on the health endpoint forever.
type RedisStatsPublisher struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatsPublisher(client *redis.Client, ttl time.Duration) *RedisStatsPublisher {
	return &RedisStatsPublisher{client: client, ttl: ttl}
}

func (p *RedisStatsPublisher) Publish(ctx context.Context, stats RecorderStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := p.client.Set(ctx, statsKey, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("publish stats: %w", err)
	}
	return nil
}

// RedisStatsSource reads the last published recorder stats.
type RedisStatsSource struct {
	client *redis.Client
}

func NewRedisStatsSource(client *redis.Client) *RedisStatsSource {
	return &RedisStatsSource{client: client}
}

func (s *RedisStatsSource) Stats() RecorderStats {
	data, err := s.client.Get(context.Background(), statsKey).Bytes()
	if err != nil {
		return RecorderStats{}
	}
	var stats RecorderStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return RecorderStats{}
	}
	return stats
}
