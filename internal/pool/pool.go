// Package pool provides a small fixed-size worker pool shared by every
// request handler. Oracle calls from concurrent requests compete for the same
// worker slots; the queue is bounded so pending work cannot pile up without
// limit.
package pool

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("pool: closed")

// Pool runs submitted functions on a fixed number of worker goroutines.
type Pool struct {
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// New creates a pool with the given worker count and queue bound.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.done:
			return
		}
	}
}

// Submit enqueues fn for execution. It blocks while the queue is full and
// fails with the context error once ctx is done, so saturation turns into
// backpressure at the caller instead of an unbounded backlog.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if fn == nil {
		return errors.New("pool: fn must not be nil")
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.tasks <- fn:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers. Tasks still sitting in the queue are dropped;
// tasks already running finish first.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}
