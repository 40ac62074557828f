package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, visibility time.Duration) *BatchQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBatchQueueWithClient(client, "batch:ready", visibility)
}

func TestEnqueueDequeueOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.DequeueWithLease(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestDequeueEmptyReturnsNothing(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	got, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty dequeue, got %q", got)
	}
}

func TestAckClearsLease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Ack(ctx, "job-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("acked item must not be reclaimed, got %v", ids)
	}
}

func TestRequeueExpiredReclaimsLapsedLease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Millisecond)

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(ids) != 1 || ids[0] != "job-1" {
		t.Fatalf("expected job-1 reclaimed, got %v", ids)
	}

	got, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue after requeue: %v", err)
	}
	if got != "job-1" {
		t.Fatalf("expected job-1 ready again, got %q", got)
	}
}

func TestRequeueExpiredLeavesLiveLeases(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Hour)

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	ids, err := q.RequeueExpired(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("live lease must not be reclaimed, got %v", ids)
	}
}

func TestRemoveDropsReadyItem(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Remove(ctx, "job-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected empty queue after remove, depth=%d", depth)
	}
}
