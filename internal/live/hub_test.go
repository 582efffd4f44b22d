// ABOUTME: Tests for the destination hub used for live delivery
// ABOUTME: Covers subscribe, send, isolation, slow consumers, cancellation and close

package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDestinations(t *testing.T) {
	assert.Equal(t, "/topic/rooms/r1", RoomDestination("r1"))
	assert.Equal(t, "/topic/chat-notify/u1", NotifyDestination("u1"))

	prefix, id, ok := ParseDestination("/topic/rooms/r1")
	assert.True(t, ok)
	assert.Equal(t, RoomPrefix, prefix)
	assert.Equal(t, "r1", id)

	_, _, ok = ParseDestination("/topic/rooms/")
	assert.False(t, ok)
	_, _, ok = ParseDestination("/topic/rooms/r1/extra")
	assert.False(t, ok)
	_, _, ok = ParseDestination("/queue/whatever")
	assert.False(t, ok)
}

func TestHub_SubscribersReceiveFrames(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ch1, _ := h.Subscribe(t.Context(), "/topic/rooms/r1")
	ch2, _ := h.Subscribe(t.Context(), "/topic/rooms/r1")

	require.NoError(t, h.Send("/topic/rooms/r1", []byte(`{"content":"hi"}`)))

	for _, ch := range []<-chan Frame{ch1, ch2} {
		select {
		case f := <-ch:
			assert.Equal(t, "/topic/rooms/r1", f.Destination)
			assert.JSONEq(t, `{"content":"hi"}`, string(f.Payload))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
}

func TestHub_DestinationsAreIsolated(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ch, _ := h.Subscribe(t.Context(), "/topic/rooms/r1")
	require.NoError(t, h.Send("/topic/rooms/r2", []byte(`{}`)))

	select {
	case <-ch:
		t.Fatal("received a frame for another destination")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowConsumerDoesNotBlockSend(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	_, _ = h.Subscribe(t.Context(), "/topic/rooms/r1") // never read
	fast, _ := h.Subscribe(t.Context(), "/topic/rooms/r1")

	done := make(chan struct{})
	go func() {
		for range 200 {
			_ = h.Send("/topic/rooms/r1", []byte(`{}`))
		}
		close(done)
	}()

	received := 0
	for {
		select {
		case <-fast:
			received++
		case <-done:
			assert.Greater(t, received+len(fast), 0)
			return
		case <-time.After(time.Second):
			t.Fatal("Send blocked on a slow subscriber")
		}
	}
}

func TestHub_ContextCancellationCleansUp(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Subscribe(ctx, "/topic/chat-notify/u1")
	assert.Equal(t, 1, h.Subscribers("/topic/chat-notify/u1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Equal(t, 0, h.Subscribers("/topic/chat-notify/u1"))
}

func TestHub_Close(t *testing.T) {
	h := NewHub(nil)

	ch, _ := h.Subscribe(t.Context(), "/topic/rooms/r1")
	h.Close()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, h.Send("/topic/rooms/r1", nil), ErrClosed)

	late, _ := h.Subscribe(t.Context(), "/topic/rooms/r1")
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestHub_ConcurrentSendAndSubscribe(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			ch, _ := h.Subscribe(ctx, "/topic/rooms/r1")
			cancel()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				_ = h.Send("/topic/rooms/r1", []byte(`{}`))
			}
		}()
	}
	wg.Wait()
}

func TestHub_AttachDeliversInSendOrder(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	var mu sync.Mutex
	var got []string
	record := func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, f.Destination)
	}

	ctx, cancel := context.WithCancel(t.Context())
	h.Attach(ctx, "/topic/rooms/r1", record)
	h.Attach(ctx, "/topic/chat-notify/u1", record)

	require.NoError(t, h.Send("/topic/rooms/r1", nil))
	require.NoError(t, h.Send("/topic/chat-notify/u1", nil))
	require.NoError(t, h.Send("/topic/rooms/r1", nil))

	mu.Lock()
	assert.Equal(t, []string{"/topic/rooms/r1", "/topic/chat-notify/u1", "/topic/rooms/r1"}, got)
	mu.Unlock()

	cancel()
	require.Eventually(t, func() bool {
		return h.Subscribers("/topic/rooms/r1") == 0 && h.Subscribers("/topic/chat-notify/u1") == 0
	}, time.Second, 10*time.Millisecond)
}
