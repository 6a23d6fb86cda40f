package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// HeartbeatStore holds worker liveness records. A record that stops being
// refreshed disappears after its TTL, which is exactly how a dead worker is
// detected.
type HeartbeatStore interface {
	Beat(ctx context.Context, rec speech.WorkerRecord, ttl time.Duration) error
	List(ctx context.Context) ([]speech.WorkerRecord, error)
	Remove(ctx context.Context, name string) error
}

// MemoryHeartbeats is an in-process heartbeat store for tests and
// single-node runs.
type MemoryHeartbeats struct {
	mu      sync.Mutex
	records map[string]speech.WorkerRecord
	expiry  map[string]time.Time
	now     func() time.Time
}

func NewMemoryHeartbeats() *MemoryHeartbeats {
	return &MemoryHeartbeats{
		records: make(map[string]speech.WorkerRecord),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryHeartbeats) Beat(_ context.Context, rec speech.WorkerRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Name] = rec
	m.expiry[rec.Name] = m.now().Add(ttl)
	return nil
}

func (m *MemoryHeartbeats) List(_ context.Context) ([]speech.WorkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []speech.WorkerRecord
	for name, rec := range m.records {
		if now.After(m.expiry[name]) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemoryHeartbeats) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, name)
	delete(m.expiry, name)
	return nil
}

// SetClock overrides the time source. Test hook.
func (m *MemoryHeartbeats) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

const heartbeatPrefix = "speech:worker:"

// RedisHeartbeats stores one TTL'd key per worker.
type RedisHeartbeats struct {
	client *redis.Client
}

func NewRedisHeartbeats(client *redis.Client) *RedisHeartbeats {
	return &RedisHeartbeats{client: client}
}

func (r *RedisHeartbeats) Beat(ctx context.Context, rec speech.WorkerRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal worker record: %w", err)
	}
	if err := r.client.Set(ctx, heartbeatPrefix+rec.Name, data, ttl).Err(); err != nil {
		return fmt.Errorf("heartbeat %s: %w", rec.Name, err)
	}
	return nil
}

func (r *RedisHeartbeats) List(ctx context.Context) ([]speech.WorkerRecord, error) {
	var out []speech.WorkerRecord
	iter := r.client.Scan(ctx, 0, heartbeatPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("read worker record: %w", err)
		}
		var rec speech.WorkerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal worker record: %w", err)
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan worker records: %w", err)
	}
	return out, nil
}

func (r *RedisHeartbeats) Remove(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, heartbeatPrefix+name).Err(); err != nil {
		return fmt.Errorf("remove worker record %s: %w", name, err)
	}
	return nil
}
