package queue

import (
	"errors"
	"sync"
	"time"
)

// ErrQueueEmpty is returned when reading from an empty ring.
var ErrQueueEmpty = errors.New("queue is empty")

// Ring is a fixed-capacity FIFO. Pushing into a full ring evicts the head.
// It is safe for concurrent use.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []entry[T]
	head  int
	size  int
	stats Stats

	totalWait time.Duration
}

type entry[T any] struct {
	value      T
	enqueuedAt time.Time
}

// Stats tracks ring throughput.
type Stats struct {
	TotalEnqueued   int64
	TotalDequeued   int64
	TotalDropped    int64
	CurrentSize     int
	PeakSize        int
	LastEnqueue     time.Time
	LastDequeue     time.Time
	AverageWaitTime time.Duration
}

// New creates a ring holding at most capacity entries.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]entry[T], capacity)}
}

// Push appends v. If the ring was full, the evicted head is returned with
// ok set to true.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == len(r.buf) {
		evicted = r.buf[r.head].value
		ok = true
		r.buf[r.head] = entry[T]{}
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		r.stats.TotalDropped++
	}

	now := time.Now()
	r.buf[(r.head+r.size)%len(r.buf)] = entry[T]{value: v, enqueuedAt: now}
	r.size++

	r.stats.TotalEnqueued++
	r.stats.LastEnqueue = now
	if r.size > r.stats.PeakSize {
		r.stats.PeakSize = r.size
	}
	return evicted, ok
}

// Pop removes and returns the head.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	e := r.buf[r.head]
	r.buf[r.head] = entry[T]{}
	r.head = (r.head + 1) % len(r.buf)
	r.size--

	now := time.Now()
	r.stats.TotalDequeued++
	r.stats.LastDequeue = now
	r.totalWait += now.Sub(e.enqueuedAt)
	return e.value, true
}

// Peek returns the head without removing it.
func (r *Ring[T]) Peek() (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		var zero T
		return zero, ErrQueueEmpty
	}
	return r.buf[r.head].value, nil
}

// Drain removes every entry and returns them in FIFO order.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, r.size)
	for r.size > 0 {
		out = append(out, r.buf[r.head].value)
		r.buf[r.head] = entry[T]{}
		r.head = (r.head + 1) % len(r.buf)
		r.size--
	}
	r.head = 0
	return out
}

// Len returns the number of entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Stats returns a copy of the ring statistics.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.stats
	stats.CurrentSize = r.size
	if stats.TotalDequeued > 0 {
		stats.AverageWaitTime = r.totalWait / time.Duration(stats.TotalDequeued)
	}
	return stats
}
