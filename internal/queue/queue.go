package queue

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrQueueClosed = errors.New("queue is closed")

// Task is one unit of work, typically a bulk write of a single batch.
type Task func(ctx context.Context) error

// Pool runs tasks with bounded concurrency. Submit blocks while the pool is
// at capacity, which suspends the producer until a running task finishes.
// The first failing task cancels the pool context; later submissions are refused.
type Pool struct {
	group       *errgroup.Group
	ctx         context.Context
	concurrency int
	pending     atomic.Int64
	submitted   atomic.Int64
	closed      bool
	mu          sync.RWMutex
	logger      *logrus.Logger
}

// NewPool creates a pool running at most concurrency tasks at once.
// A non-positive concurrency selects the host CPU count.
func NewPool(ctx context.Context, concurrency int, logger *logrus.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	return &Pool{
		group:       group,
		ctx:         gctx,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Submit schedules task, blocking until a worker slot is free. It fails
// without scheduling when the pool is closed or its context is done.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}
	if err := p.ctx.Err(); err != nil {
		return err
	}

	p.group.Go(func() error {
		p.pending.Add(1)
		defer p.pending.Add(-1)
		return task(p.ctx)
	})
	p.submitted.Add(1)
	p.logger.WithField("in_flight", p.pending.Load()).Debug("Submitted task to pool")
	return nil
}

// Drain waits for every submitted task and returns the first error. The pool
// is closed afterwards.
func (p *Pool) Drain() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	err := p.group.Wait()
	p.logger.WithFields(logrus.Fields{
		"tasks":  p.submitted.Load(),
		"failed": err != nil,
	}).Debug("Pool drained")
	return err
}

// Context is cancelled when a task fails or the parent context is done.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Concurrency returns the maximum number of tasks running at once.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Len returns the number of tasks currently running.
func (p *Pool) Len() int {
	return int(p.pending.Load())
}

// Submitted returns the number of tasks accepted so far.
func (p *Pool) Submitted() int {
	return int(p.submitted.Load())
}

// IsClosed returns whether the pool has been drained
func (p *Pool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
