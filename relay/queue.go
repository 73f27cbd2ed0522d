package relay

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Queue.Post after Close.
var ErrQueueClosed = errors.New(`relay: queue closed`)

type (
	// Poster accepts tasks for execution on a host goroutine. Tasks must be
	// run in the order they were posted, and Post must not block on their
	// execution.
	Poster interface {
		Post(fn func()) error
	}

	// PosterFunc implements Poster.
	PosterFunc func(fn func()) error

	// Queue is an unbounded FIFO of tasks, run by the goroutine calling Run,
	// or Drain.
	Queue struct {
		mu     sync.Mutex
		tasks  []func()
		wake   chan struct{}
		closed bool
	}
)

var (
	_ Poster = PosterFunc(nil)
	_ Poster = (*Queue)(nil)
)

// Post implements Poster.
func (f PosterFunc) Post(fn func()) error {
	return f(fn)
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Post implements Poster. It never blocks.
func (x *Queue) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrQueueClosed
	}
	x.tasks = append(x.tasks, fn)
	select {
	case x.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of pending tasks.
func (x *Queue) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.tasks)
}

// Drain runs every pending task, including those posted by tasks it runs,
// returning the number run.
func (x *Queue) Drain() int {
	var n int
	for {
		tasks := x.take()
		if len(tasks) == 0 {
			return n
		}
		for _, fn := range tasks {
			fn()
		}
		n += len(tasks)
	}
}

// Run runs tasks as they are posted, until ctx is canceled, returning
// ctx.Err(), or until the queue is closed and drained, returning nil.
func (x *Queue) Run(ctx context.Context) error {
	for {
		x.Drain()

		x.mu.Lock()
		closed := x.closed && len(x.tasks) == 0
		x.mu.Unlock()
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-x.wake:
		}
	}
}

// Close rejects further tasks. Pending tasks are still run.
func (x *Queue) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return
	}
	x.closed = true
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

func (x *Queue) take() []func() {
	x.mu.Lock()
	defer x.mu.Unlock()
	tasks := x.tasks
	x.tasks = nil
	return tasks
}
