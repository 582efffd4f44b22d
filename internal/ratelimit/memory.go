// ABOUTME: In-process Limiter backed by a mutex-guarded map
// ABOUTME: Clears every daily counter on the first call after the day changes

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Limiter. The zero value is not usable; use NewMemory.
type Memory struct {
	opts options

	mu       sync.Mutex
	day      string
	lastCall map[string]time.Time
	calls    map[string]int
}

// NewMemory creates an in-process limiter.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		opts:     o,
		day:      o.day(o.now()),
		lastCall: make(map[string]time.Time),
		calls:    make(map[string]int),
	}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, roomID, agentID string) bool {
	now := m.opts.now()
	k := key(roomID, agentID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateLocked(now)

	if last, ok := m.lastCall[k]; ok && now.Sub(last) < m.opts.cooldown {
		return false
	}
	return m.calls[k] < m.opts.quota
}

// Consume implements Limiter.
func (m *Memory) Consume(_ context.Context, roomID, agentID string) {
	now := m.opts.now()
	k := key(roomID, agentID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateLocked(now)

	m.lastCall[k] = now
	m.calls[k]++
}

// rotateLocked clears all daily counters when the day has changed.
// Cooldown timestamps are kept.
func (m *Memory) rotateLocked(now time.Time) {
	today := m.opts.day(now)
	if today != m.day {
		m.day = today
		clear(m.calls)
	}
}

var _ Limiter = (*Memory)(nil)
