package workpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Name: "x", Workers: 0, QueueSize: 1})
	assert.Error(t, err)

	_, err = New(Config{Name: "x", Workers: 1, QueueSize: -1})
	assert.Error(t, err)
}

func TestSubmit_RunsAllTasks(t *testing.T) {
	p, err := New(Config{Name: "test", Workers: 4, QueueSize: 16})
	require.NoError(t, err)

	var n atomic.Int32
	for range 100 {
		require.NoError(t, p.Submit(func() { n.Add(1) }))
	}
	p.Close()

	assert.Equal(t, int32(100), n.Load())
	assert.Equal(t, uint64(100), p.Stats().Submitted)
}

func TestSubmit_CallerRunsWhenSaturated(t *testing.T) {
	p, err := New(Config{Name: "tiny", Workers: 1, QueueSize: 1})
	require.NoError(t, err)
	defer p.Close()

	var hooks atomic.Int32
	p.OnCallerRuns = func() { hooks.Add(1) }

	release := make(chan struct{})
	started := make(chan struct{})

	// Occupy the only worker
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// Fill the queue
	require.NoError(t, p.Submit(func() {}))

	// Next task must run on this goroutine before Submit returns
	var ranInline bool
	require.NoError(t, p.Submit(func() { ranInline = true }))
	assert.True(t, ranInline)
	assert.Equal(t, uint64(1), p.Stats().CallerRan)
	assert.Equal(t, int32(1), hooks.Load())

	close(release)
}

func TestSubmit_RecoversPanics(t *testing.T) {
	p, err := New(Config{Name: "panicky", Workers: 1, QueueSize: 4})
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { panic("boom") }))
	require.NoError(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	p.Close()
	assert.Equal(t, uint64(1), p.Stats().Panics)
}

func TestSubmit_AfterClose(t *testing.T) {
	p, err := New(Config{Name: "closed", Workers: 1, QueueSize: 1})
	require.NoError(t, err)
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Submit(func() {}), ErrClosed)
}

func TestClose_DrainsQueue(t *testing.T) {
	p, err := New(Config{Name: "drain", Workers: 1, QueueSize: 50})
	require.NoError(t, err)

	var n atomic.Int32
	for range 50 {
		require.NoError(t, p.Submit(func() {
			time.Sleep(time.Millisecond)
			n.Add(1)
		}))
	}
	p.Close()
	assert.Equal(t, int32(50), n.Load())
}

func TestShutdown_BoundedByContext(t *testing.T) {
	p, err := New(Config{Name: "test", Workers: 1, QueueSize: 1})
	require.NoError(t, err)

	release := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, p.Submit(func() {}), ErrClosed)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()), "a later call waits for the stragglers")
}
