// ABOUTME: In-memory fan-out of live frames to subscribers of a destination
// ABOUTME: Destinations are room topics and per-member notification topics

package live

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Destination prefixes.
const (
	RoomPrefix   = "/topic/rooms/"
	NotifyPrefix = "/topic/chat-notify/"
)

// subscriberBufferSize is the frame buffer for each subscriber.
const subscriberBufferSize = 64

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("live: hub closed")

// RoomDestination is where every viewer of a room receives its messages.
func RoomDestination(roomID string) string {
	return RoomPrefix + roomID
}

// NotifyDestination is a member's personal notification channel.
func NotifyDestination(memberID string) string {
	return NotifyPrefix + memberID
}

// ParseDestination splits a destination into its prefix and ID.
func ParseDestination(dest string) (prefix, id string, ok bool) {
	for _, p := range []string{RoomPrefix, NotifyPrefix} {
		if rest, found := strings.CutPrefix(dest, p); found && rest != "" && !strings.Contains(rest, "/") {
			return p, rest, true
		}
	}
	return "", "", false
}

// Frame is one payload delivered on a destination.
type Frame struct {
	Destination string
	Payload     []byte
}

// Sender delivers a payload to whoever is subscribed to a destination.
type Sender interface {
	Send(destination string, payload []byte) error
}

// Hub provides in-memory pub/sub keyed by destination. Send never blocks:
// frames are dropped for subscribers that are not keeping up.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // destination -> subID -> sub
	closed      bool
	logger      *slog.Logger
}

type subscriber struct {
	deliver func(Frame)
	close   func() // nil for attached callbacks
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]*subscriber),
		logger:      logger.With("component", "live"),
	}
}

// Subscribe registers for frames on destination. The subscription ends when
// ctx is cancelled or Unsubscribe is called; the channel is then closed.
func (h *Hub) Subscribe(ctx context.Context, destination string) (<-chan Frame, string) {
	ch := make(chan Frame, subscriberBufferSize)
	sub := &subscriber{
		deliver: func(f Frame) {
			select {
			case ch <- f:
			default:
				h.logger.Debug("dropped frame for slow subscriber", "destination", f.Destination)
			}
		},
		close: func() { close(ch) },
	}
	subID, ok := h.add(ctx, destination, sub)
	if !ok {
		close(ch)
	}
	return ch, subID
}

// Attach registers deliver for frames on destination until ctx is cancelled
// or Unsubscribe is called. deliver runs on the sending goroutine and must not
// block. A session that attaches several destinations with the same deliver
// sees frames in the order they were sent.
func (h *Hub) Attach(ctx context.Context, destination string, deliver func(Frame)) string {
	subID, _ := h.add(ctx, destination, &subscriber{deliver: deliver})
	return subID
}

func (h *Hub) add(ctx context.Context, destination string, sub *subscriber) (string, bool) {
	subID := uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return subID, false
	}
	if _, ok := h.subscribers[destination]; !ok {
		h.subscribers[destination] = make(map[string]*subscriber)
	}
	h.subscribers[destination][subID] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "destination", destination, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(destination, subID)
	}()
	return subID, true
}

// Send implements Sender.
func (h *Hub) Send(destination string, payload []byte) error {
	// Delivery happens under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	frame := Frame{Destination: destination, Payload: payload}
	for _, sub := range h.subscribers[destination] {
		sub.deliver(frame)
	}
	return nil
}

// Subscribers returns the number of live subscriptions on destination.
func (h *Hub) Subscribers(destination string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[destination])
}

// Unsubscribe removes a subscription and closes its channel, if it has one.
func (h *Hub) Unsubscribe(destination, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[destination]
	if !ok {
		return
	}
	sub, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	if sub.close != nil {
		sub.close()
	}
	if len(subs) == 0 {
		delete(h.subscribers, destination)
	}

	h.logger.Debug("subscriber removed", "destination", destination, "sub_id", subID)
}

// Close ends every subscription. Later Sends return ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for dest, subs := range h.subscribers {
		for subID, sub := range subs {
			if sub.close != nil {
				sub.close()
			}
			delete(subs, subID)
		}
		delete(h.subscribers, dest)
	}
}

var _ Sender = (*Hub)(nil)
