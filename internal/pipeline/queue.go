package pipeline

import (
	"context"
	"hash/fnv"
	"strconv"

	"autopost/internal/metrics"
)

// partitionedQueue fans work across a fixed set of bounded FIFO channels.
// The partition is chosen by key hash, so all items sharing a key land on
// the same channel and keep their relative order while different keys
// proceed in parallel.
type partitionedQueue[T any] struct {
	stage string
	parts []chan T
}

func newPartitionedQueue[T any](stage string, partitions, depth int) *partitionedQueue[T] {
	q := &partitionedQueue[T]{
		stage: stage,
		parts: make([]chan T, partitions),
	}
	for i := range q.parts {
		q.parts[i] = make(chan T, depth)
	}
	return q
}

// push blocks when the target partition is full, applying backpressure to
// the producer.
func (q *partitionedQueue[T]) push(ctx context.Context, key string, v T) error {
	part := q.parts[q.partitionFor(key)]
	select {
	case part <- v:
		q.observe()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *partitionedQueue[T]) partitionFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.parts)))
}

func (q *partitionedQueue[T]) part(i int) <-chan T {
	return q.parts[i]
}

func (q *partitionedQueue[T]) observe() {
	for i, part := range q.parts {
		metrics.QueueDepth.WithLabelValues(q.stage, strconv.Itoa(i)).Set(float64(len(part)))
	}
}
