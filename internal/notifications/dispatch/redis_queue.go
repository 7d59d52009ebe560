package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"service-notifications/internal/common/logger"
	"service-notifications/internal/models"
)

// claimScript moves due members past the lease and returns id/payload pairs in
// one round trip, so two schedulers never claim the same task.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
  local payload = redis.call('HGET', KEYS[2], id)
  if payload then
    redis.call('ZADD', KEYS[1], ARGV[3], id)
    table.insert(out, id)
    table.insert(out, payload)
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return out
`)

const defaultClaimLimit = 100

// RedisQueue keeps the schedule in a sorted set scored by eligible time (unix
// ms) and the task bodies in a companion hash keyed by event id.
type RedisQueue struct {
	client  redis.UniversalClient
	key     string
	hashKey string
	logger  logger.Logger
}

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, hashKey: key + ":tasks", logger: logger.NewNoOpLogger()}
}

// WithLogger sets the logger used to report entries dropped during Claim.
func (q *RedisQueue) WithLogger(log logger.Logger) *RedisQueue {
	q.logger = log
	return q
}

func (q *RedisQueue) Schedule(ctx context.Context, task models.DispatchTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.EventID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.hashKey, task.EventID, payload)
		pipe.ZAdd(ctx, q.key, redis.Z{Score: float64(task.NextEligibleAt.UnixMilli()), Member: task.EventID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule task %s: %w", task.EventID, err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.DispatchTask, error) {
	if limit <= 0 {
		limit = defaultClaimLimit
	}
	pairs, err := claimScript.Run(ctx, q.client, []string{q.key, q.hashKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.Itoa(limit),
		strconv.FormatInt(now.Add(lease).UnixMilli(), 10),
	).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}

	tasks := make([]models.DispatchTask, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		id, payload := pairs[i], pairs[i+1]
		var t models.DispatchTask
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			// an undecodable entry can never be processed; drop it so it
			// does not come back after every lease
			q.logger.Error("Dropping undecodable task", map[string]interface{}{
				"eventId": id,
				"error":   err.Error(),
			})
			if cerr := q.Complete(ctx, id); cerr != nil {
				q.logger.Warn("Failed to drop undecodable task", map[string]interface{}{
					"eventId": id,
					"error":   cerr.Error(),
				})
			}
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (q *RedisQueue) Complete(ctx context.Context, eventID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.key, eventID)
		pipe.HDel(ctx, q.hashKey, eventID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", eventID, err)
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
