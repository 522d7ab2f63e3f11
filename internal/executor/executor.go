// Package executor runs batches of tasks either inline or on a bounded pool
// of goroutines behind a single Submit/Await interface.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task is a unit of work.
type Task func(ctx context.Context) error

// Executor runs submitted tasks. Submit may block until capacity is
// available; Await blocks until every submitted task has returned and
// reports the first task error.
type Executor interface {
	Submit(ctx context.Context, task Task) error
	Await() error
}

// New returns a Sequential executor for workers <= 1 and a Pool otherwise.
func New(workers int) Executor {
	if workers <= 1 {
		return &Sequential{}
	}
	return NewPool(workers)
}

// Sequential runs each task inline on the submitting goroutine.
type Sequential struct {
	mu  sync.Mutex
	err error
}

// Submit runs task before returning. The task error is reported by Await.
func (s *Sequential) Submit(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := task(ctx); err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
	return nil
}

// Await returns the first task error.
func (s *Sequential) Await() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pool runs tasks on at most n goroutines at a time.
type Pool struct {
	sem *semaphore.Weighted
	g   errgroup.Group
	n   int
}

// NewPool creates a pool with n slots. n < 1 is treated as 1.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), n: n}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.n }

// Submit waits for a free slot and starts task on its own goroutine. It
// fails only when ctx is done before a slot frees up.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.g.Go(func() error {
		defer p.sem.Release(1)
		return task(ctx)
	})
	return nil
}

// Await waits for all started tasks.
func (p *Pool) Await() error {
	return p.g.Wait()
}
