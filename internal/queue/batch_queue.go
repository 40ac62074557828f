// Package queue holds the Redis-backed ready/in-flight queue that feeds
// batch conversion items to the worker binary. Single conversions bypass it
// entirely; the queue exists so batch submissions return immediately while
// items grind through the model in the background.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voice-transform-service/internal/config"
)

// BatchQueue tracks ready and in-flight batch items in Redis. A dequeued
// item holds a visibility lease; items whose lease expires (worker crash)
// are requeued rather than lost.
type BatchQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	visibilityTTL time.Duration
}

// NewBatchQueue builds a queue client from config.
func NewBatchQueue(cfg config.Config) *BatchQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return newBatchQueue(client, cfg.BatchQueueName, cfg.VisibilityTimeout)
}

// NewBatchQueueWithClient wires an existing client, used by tests.
func NewBatchQueueWithClient(client *redis.Client, readyKey string, visibility time.Duration) *BatchQueue {
	return newBatchQueue(client, readyKey, visibility)
}

func newBatchQueue(client *redis.Client, readyKey string, visibility time.Duration) *BatchQueue {
	if readyKey == "" {
		readyKey = "batch:ready"
	}
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	return &BatchQueue{
		client:        client,
		readyKey:      readyKey,
		inflightKey:   readyKey + ":inflight",
		visibilityTTL: visibility,
	}
}

// Ping verifies Redis reachability for health checks.
func (q *BatchQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue appends a job record id to the ready queue.
func (q *BatchQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.readyKey, jobID).Err()
}

// DequeueWithLease pops the next ready item and moves it into the in-flight
// set with a visibility deadline, atomically. Returns "" when the queue is
// empty.
func (q *BatchQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for a long invocation.
func (q *BatchQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes an item from in-flight tracking once its record is terminal.
func (q *BatchQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.inflightKey, jobID).Err()
}

// RequeueExpired reclaims items whose lease deadline passed.
func (q *BatchQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Remove drops an item from both the ready queue and the in-flight set,
// used when a record is cancelled before a worker picks it up.
func (q *BatchQueue) Remove(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.readyKey, 0, jobID)
	pipe.ZRem(ctx, q.inflightKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// Depth returns the number of ready items.
func (q *BatchQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
