package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/metrics"
)

// DefaultKeyPrefix namespaces queue keys.
const DefaultKeyPrefix = "notif"

// claimDue moves up to ARGV[2] due ids from the due set into the processing
// set with deadline ARGV[3]. Running it as one script means two consumers
// never claim the same id.
var claimDue = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[3], id)
end
return ids
`)

// reclaimExpired returns ids whose processing deadline passed to the due set.
var reclaimExpired = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[1], id)
end
return #ids
`)

// RedisQueue stores task bodies in a hash and schedules them in sorted sets
// scored by due time in unix milliseconds.
type RedisQueue struct {
	rdb     redis.Cmdable
	prefix  string
	metrics *metrics.Metrics
	log     logger.Logger
	now     func() time.Time
}

// NewRedisQueue builds a queue over rdb. m may be nil.
func NewRedisQueue(rdb redis.Cmdable, prefix string, m *metrics.Metrics, log logger.Logger) *RedisQueue {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisQueue{
		rdb:     rdb,
		prefix:  prefix,
		metrics: m,
		log:     log.Module("queue"),
		now:     time.Now,
	}
}

func (q *RedisQueue) dueKey(queue string) string        { return q.prefix + ":queue:" + queue + ":due" }
func (q *RedisQueue) processingKey(queue string) string { return q.prefix + ":queue:" + queue + ":processing" }
func (q *RedisQueue) tasksKey(queue string) string      { return q.prefix + ":queue:" + queue + ":tasks" }

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Enqueue stores a new task that becomes due after countdown.
func (q *RedisQueue) Enqueue(ctx context.Context, taskName string, payload any, queueName string, countdown time.Duration) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", taskName, err)
	}
	if countdown < 0 {
		countdown = 0
	}

	now := q.now()
	task := Task{
		ID:         uuid.NewString(),
		Name:       taskName,
		Queue:      queueName,
		Payload:    body,
		EnqueuedAt: now.UTC(),
	}
	if err := q.schedule(ctx, task, now.Add(countdown)); err != nil {
		return "", err
	}

	q.metrics.TaskEnqueued(taskName)
	q.log.Debug("task enqueued",
		logger.String("task", taskName),
		logger.String("task_id", task.ID),
		logger.String("queue", queueName),
		logger.Duration("countdown", countdown))
	return task.ID, nil
}

// schedule writes the task body and (re)places it in the due set.
func (q *RedisQueue) schedule(ctx context.Context, task Task, at time.Time) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.tasksKey(task.Queue), task.ID, raw)
		p.ZRem(ctx, q.processingKey(task.Queue), task.ID)
		p.ZAdd(ctx, q.dueKey(task.Queue), redis.Z{Score: float64(at.UnixMilli()), Member: task.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", task.ID, err)
	}
	return nil
}

// Claim takes up to n due tasks. Claimed tasks are invisible to other
// consumers until acked, retried, released, or their visibility expires.
func (q *RedisQueue) Claim(ctx context.Context, queueName string, n int, visibility time.Duration) ([]Task, error) {
	now := q.now()
	ids, err := claimDue.Run(ctx, q.rdb,
		[]string{q.dueKey(queueName), q.processingKey(queueName)},
		score(now), n, score(now.Add(visibility)),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	bodies, err := q.rdb.HMGet(ctx, q.tasksKey(queueName), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed tasks: %w", err)
	}

	tasks := make([]Task, 0, len(ids))
	for i, body := range bodies {
		s, ok := body.(string)
		if !ok {
			// Body gone: acked elsewhere after a visibility timeout.
			q.rdb.ZRem(ctx, q.processingKey(queueName), ids[i])
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(s), &task); err != nil {
			q.log.Error("dropping undecodable task",
				logger.String("task_id", ids[i]),
				logger.Error(err))
			_ = q.drop(ctx, queueName, ids[i])
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Ack removes a finished task.
func (q *RedisQueue) Ack(ctx context.Context, task Task) error {
	return q.drop(ctx, task.Queue, task.ID)
}

func (q *RedisQueue) drop(ctx context.Context, queueName, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, q.tasksKey(queueName), id)
		p.ZRem(ctx, q.processingKey(queueName), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack task %s: %w", id, err)
	}
	return nil
}

// Retry reschedules task after delay with its retry count incremented.
func (q *RedisQueue) Retry(ctx context.Context, task Task, delay time.Duration) error {
	task.Retries++
	if err := q.schedule(ctx, task, q.now().Add(delay)); err != nil {
		return err
	}
	q.metrics.TaskRetried(task.Name)
	return nil
}

// Release makes a claimed task due again immediately without counting a retry.
func (q *RedisQueue) Release(ctx context.Context, task Task) error {
	return q.schedule(ctx, task, q.now())
}

// Reclaim returns tasks whose visibility deadline passed to the due set.
func (q *RedisQueue) Reclaim(ctx context.Context, queueName string) (int, error) {
	n, err := reclaimExpired.Run(ctx, q.rdb,
		[]string{q.processingKey(queueName), q.dueKey(queueName)},
		score(q.now()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim tasks: %w", err)
	}
	return n, nil
}

// Pending reports how many tasks are waiting and in flight.
func (q *RedisQueue) Pending(ctx context.Context, queueName string) (due, processing int64, err error) {
	due, err = q.rdb.ZCard(ctx, q.dueKey(queueName)).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.rdb.ZCard(ctx, q.processingKey(queueName)).Result()
	return due, processing, err
}
