package taskq

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// promoteScript moves due members of the delayed set onto the ready list atomically.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// RedisQueue keeps tasks in three keys: a ready list, an in-flight list that
// holds dequeued but unacked tasks, and a delayed sorted set scored by NotBefore.
type RedisQueue struct {
	client      *redis.Client
	readyKey    string
	inflightKey string
	delayedKey  string
	pollTimeout time.Duration
	promoteMax  int
	now         func() time.Time
}

func NewRedisQueue(client *redis.Client, name string, pollTimeout time.Duration) *RedisQueue {
	if name == "" {
		name = "tradesignal"
	}
	if pollTimeout < time.Second {
		pollTimeout = time.Second
	}
	return &RedisQueue{
		client:      client,
		readyKey:    name + ":tasks:ready",
		inflightKey: name + ":tasks:inflight",
		delayedKey:  name + ":tasks:delayed",
		pollTimeout: pollTimeout,
		promoteMax:  100,
		now:         time.Now,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if q == nil || q.client == nil {
		return ErrClosed
	}
	task.prepare()
	raw, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "encode task")
	}
	if !task.Due(q.now()) {
		return q.client.ZAdd(ctx, q.delayedKey, redis.Z{
			Score:  float64(task.NotBefore.UnixMilli()),
			Member: string(raw),
		}).Err()
	}
	return q.client.LPush(ctx, q.readyKey, string(raw)).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	if q == nil || q.client == nil {
		return Task{}, ErrClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		if _, err := q.promote(ctx); err != nil {
			return Task{}, errors.Wrap(err, "promote delayed tasks")
		}
		raw, err := q.client.BLMove(ctx, q.readyKey, q.inflightKey, "RIGHT", "LEFT", q.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Task{}, ctxErr
			}
			return Task{}, errors.Wrap(err, "move ready task")
		}
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			// Undecodable entries would loop forever; drop them from the in-flight list.
			_ = q.client.LRem(ctx, q.inflightKey, 1, raw).Err()
			return Task{}, errors.Wrap(err, "decode task")
		}
		task.receipt = raw
		return task, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, task Task) error {
	if q == nil || q.client == nil || task.receipt == "" {
		return nil
	}
	return q.client.LRem(ctx, q.inflightKey, 1, task.receipt).Err()
}

func (q *RedisQueue) promote(ctx context.Context) (int64, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.client, []string{q.delayedKey, q.readyKey}, now, q.promoteMax).Int64()
}

// RecoverInflight returns tasks left unacked by a previous process to the ready
// list. Call it once before workers start.
func (q *RedisQueue) RecoverInflight(ctx context.Context) (int, error) {
	if q == nil || q.client == nil {
		return 0, nil
	}
	moved := 0
	for {
		err := q.client.LMove(ctx, q.inflightKey, q.readyKey, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, errors.Wrap(err, "recover in-flight tasks")
		}
		moved++
	}
}

// Len reports the ready, in-flight and delayed counts.
func (q *RedisQueue) Len(ctx context.Context) (ready, inflight, delayed int64, err error) {
	pipe := q.client.Pipeline()
	r := pipe.LLen(ctx, q.readyKey)
	i := pipe.LLen(ctx, q.inflightKey)
	d := pipe.ZCard(ctx, q.delayedKey)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return r.Val(), i.Val(), d.Val(), nil
}
