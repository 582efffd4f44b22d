// ABOUTME: In-process Broker with buffered per-queue channels
// ABOUTME: Used by tests and single-node deployments without Redis

package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultMemoryQueueSize is the per-queue buffer used by NewMemory.
const DefaultMemoryQueueSize = 1024

type memoryQueue struct {
	pattern string
	ch      chan Delivery
}

// Memory is an in-process Broker. Publish blocks when a bound queue's buffer
// is full until the consumer catches up or ctx ends.
type Memory struct {
	mu     sync.RWMutex
	queues map[string]*memoryQueue
	size   int
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

// NewMemory creates an in-process broker. queueSize <= 0 uses DefaultMemoryQueueSize.
func NewMemory(queueSize int) *Memory {
	if queueSize <= 0 {
		queueSize = DefaultMemoryQueueSize
	}
	return &Memory{
		queues: make(map[string]*memoryQueue),
		size:   queueSize,
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "broker", "driver", "memory"),
	}
}

// Declare implements Broker. Redeclaring a queue keeps its buffered messages
// and rebinds it to pattern.
func (m *Memory) Declare(_ context.Context, queue, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if q, ok := m.queues[queue]; ok {
		q.pattern = pattern
		return nil
	}
	m.queues[queue] = &memoryQueue{pattern: pattern, ch: make(chan Delivery, m.size)}
	return nil
}

// Publish implements Broker.
func (m *Memory) Publish(ctx context.Context, routingKey string, body []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	var targets []chan Delivery
	for _, q := range m.queues {
		if MatchTopic(q.pattern, routingKey) {
			targets = append(targets, q.ch)
		}
	}
	m.mu.RUnlock()

	d := Delivery{ID: uuid.NewString(), RoutingKey: routingKey, Body: body}
	for _, ch := range targets {
		select {
		case ch <- d:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrClosed
		}
	}
	return nil
}

// Subscribe implements Broker.
func (m *Memory) Subscribe(ctx context.Context, queue, pattern string, h Handler) error {
	if err := m.Declare(ctx, queue, pattern); err != nil {
		return err
	}
	m.mu.RLock()
	ch := m.queues[queue].ch
	m.mu.RUnlock()

	m.logger.Info("consuming", "queue", queue, "pattern", pattern)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		case d := <-ch:
			h(ctx, d)
		}
	}
}

// Pending returns the number of undelivered messages in queue.
func (m *Memory) Pending(queue string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if q, ok := m.queues[queue]; ok {
		return len(q.ch)
	}
	return 0
}

// Ping implements Broker.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Broker.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

var _ Broker = (*Memory)(nil)
