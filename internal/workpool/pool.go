// ABOUTME: Fixed-size worker pool with a bounded queue and caller-runs overflow
// ABOUTME: A full queue makes Submit run the task on the submitting goroutine

// Package workpool runs background tasks on a fixed number of workers.
//
// Submit never drops work and never blocks on a full queue: when the queue is
// at capacity the task runs synchronously on the caller, which slows the
// producer down instead of losing the task.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("workpool: closed")

// Task is a unit of work.
type Task func()

// Config sizes a pool.
type Config struct {
	Name      string
	Workers   int
	QueueSize int
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Queued    int
	Submitted uint64
	CallerRan uint64
	Panics    uint64
}

// Pool is a bounded worker pool.
type Pool struct {
	name   string
	queue  chan Task
	group  errgroup.Group
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{} // closed once every worker has exited

	submitted atomic.Uint64
	callerRan atomic.Uint64
	panics    atomic.Uint64

	// OnCallerRuns, if set, is called each time a task overflows to the caller.
	OnCallerRuns func()
}

// New starts a pool with cfg.Workers goroutines.
func New(cfg Config) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workpool %q: workers must be positive, got %d", cfg.Name, cfg.Workers)
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("workpool %q: queue size must not be negative, got %d", cfg.Name, cfg.QueueSize)
	}

	p := &Pool{
		name:   cfg.Name,
		queue:  make(chan Task, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "workpool", "pool", cfg.Name),
	}
	for range cfg.Workers {
		p.group.Go(func() error {
			for task := range p.queue {
				p.run(task)
			}
			return nil
		})
	}
	return p, nil
}

// Submit queues task, or runs it on the caller when the queue is full.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.submitted.Add(1)
	select {
	case p.queue <- task:
		p.mu.RUnlock()
		return nil
	default:
	}
	p.mu.RUnlock()

	p.callerRan.Add(1)
	if p.OnCallerRuns != nil {
		p.OnCallerRuns()
	}
	p.logger.Debug("queue full, running task on caller")
	p.run(task)
	return nil
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		CallerRan: p.callerRan.Load(),
		Panics:    p.panics.Load(),
	}
}

// Name returns the configured pool name.
func (p *Pool) Name() string { return p.name }

// Close stops accepting tasks, drains the queue and waits for workers.
func (p *Pool) Close() {
	_ = p.Shutdown(context.Background())
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish or for ctx to end, whichever comes first. Workers left running when
// ctx ends keep draining in the background.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
		go func() {
			_ = p.group.Wait()
			close(p.done)
		}()
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("shutdown deadline reached with tasks still running", "queued", len(p.queue))
		return ctx.Err()
	}
}
