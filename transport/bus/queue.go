package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a bounded, context-aware FIFO. Closing it cancels pending sends
// instead of panicking them.
type Queue[T any] struct {
	channel    chan T
	context    context.Context
	cancel     context.CancelFunc
	bufferSize int

	mu     sync.RWMutex
	closed atomic.Bool
}

func NewQueue[T any](ctx context.Context, bufferSize int) *Queue[T] {
	qctx, cancel := context.WithCancel(ctx)
	return &Queue[T]{
		channel:    make(chan T, bufferSize),
		context:    qctx,
		cancel:     cancel,
		bufferSize: bufferSize,
	}
}

func (q *Queue[T]) Send(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed.Load() {
		return ErrClosed
	}

	select {
	case q.channel <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.context.Done():
		return ErrClosed
	}
}

// Receive blocks until an item is available. It returns ErrClosed once the
// queue is closed and drained.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case item, ok := <-q.channel:
		if !ok {
			return zero, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (q *Queue[T]) TryReceive() (T, bool) {
	select {
	case item, ok := <-q.channel:
		return item, ok
	default:
		var zero T
		return zero, false
	}
}

func (q *Queue[T]) Close() {
	q.cancel()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.CompareAndSwap(false, true) {
		close(q.channel)
	}
}

func (q *Queue[T]) IsClosed() bool {
	return q.closed.Load()
}

func (q *Queue[T]) BufferSize() int {
	return q.bufferSize
}

func (q *Queue[T]) Len() int {
	return len(q.channel)
}
