package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

const (
	laneKeyPrefix = "speech:queue:"
	retryKey      = "speech:queue:retry"
	deadKey       = "speech:queue:dead_letter"
)

// promoteScript moves every due retry entry ("lane|jobID", scored by its
// ready time) back to the tail of its original lane in one atomic step.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, member in ipairs(due) do
	local sep = string.find(member, "|", 1, true)
	local lane = string.sub(member, 1, sep - 1)
	local job = string.sub(member, sep + 1)
	redis.call("RPUSH", ARGV[2] .. lane, job)
	redis.call("ZREM", KEYS[1], member)
end
return #due`)

// Redis is the shared queue manager. Lanes are lists (RPUSH/LPOP for FIFO),
// the retry lane is a sorted set keyed by visibility time.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func laneKey(lane speech.Lane) string {
	return laneKeyPrefix + string(lane)
}

func (q *Redis) Enqueue(ctx context.Context, lane speech.Lane, jobID string) error {
	if err := q.client.RPush(ctx, laneKey(lane), jobID).Err(); err != nil {
		return fmt.Errorf("enqueue %s to %s: %w", jobID, lane, err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context, lanes ...speech.Lane) (string, error) {
	now := time.Now().UnixMilli()
	if err := promoteScript.Run(ctx, q.client, []string{retryKey}, now, laneKeyPrefix).Err(); err != nil {
		return "", fmt.Errorf("promote due retries: %w", err)
	}

	for _, lane := range lanes {
		jobID, err := q.client.LPop(ctx, laneKey(lane)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("dequeue from %s: %w", lane, err)
		}
		return jobID, nil
	}
	return "", ErrEmpty
}

func (q *Redis) ScheduleRetry(ctx context.Context, lane speech.Lane, jobID string, delay time.Duration) error {
	member := string(lane) + "|" + jobID
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, retryKey, redis.Z{Score: readyAt, Member: member}).Err(); err != nil {
		return fmt.Errorf("schedule retry %s: %w", jobID, err)
	}
	return nil
}

func (q *Redis) SendToDeadLetter(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, deadKey, jobID).Err(); err != nil {
		return fmt.Errorf("dead-letter %s: %w", jobID, err)
	}
	return nil
}

func (q *Redis) RemoveFromDeadLetter(ctx context.Context, jobID string) error {
	if err := q.client.LRem(ctx, deadKey, 1, jobID).Err(); err != nil {
		return fmt.Errorf("remove %s from dead letter: %w", jobID, err)
	}
	return nil
}

func (q *Redis) Depths(ctx context.Context) (map[speech.Lane]int64, error) {
	depths := make(map[speech.Lane]int64, 5)
	for _, lane := range speech.WorkLanes {
		n, err := q.client.LLen(ctx, laneKey(lane)).Result()
		if err != nil {
			return nil, fmt.Errorf("depth of %s: %w", lane, err)
		}
		depths[lane] = n
	}

	n, err := q.client.ZCard(ctx, retryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("depth of retry: %w", err)
	}
	depths[speech.LaneRetry] = n

	n, err = q.client.LLen(ctx, deadKey).Result()
	if err != nil {
		return nil, fmt.Errorf("depth of dead letter: %w", err)
	}
	depths[speech.LaneDead] = n

	return depths, nil
}
