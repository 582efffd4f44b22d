// ABOUTME: Consumes room message deliveries and fans them out to live viewers
// ABOUTME: Broadcasts to the room, bumps unread counters and notifies each other member

package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/broker"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/live"
	"github.com/2389/coven-chat/internal/metrics"
)

// RoomState is what the bridge reads and updates per delivery.
type RoomState interface {
	BumpUnread(ctx context.Context, roomID, senderID string) (int64, error)
	ListMembers(ctx context.Context, roomID string) ([]string, error)
}

// Bridge turns broker deliveries into live frames. Deliveries are handled
// one at a time; every step logs its own failure and the rest still run.
type Bridge struct {
	state  RoomState
	sender live.Sender
	seen   *dedupe.Cache
	logger *slog.Logger
}

// NewBridge creates a bridge. seen may be nil to disable duplicate suppression.
func NewBridge(state RoomState, sender live.Sender, seen *dedupe.Cache, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		state:  state,
		sender: sender,
		seen:   seen,
		logger: logger.With("component", "bridge"),
	}
}

// Run consumes the bridge queue until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, br broker.Broker) error {
	return br.Subscribe(ctx, BridgeQueue, RoomPattern, b.Handle)
}

// Handle processes one delivery. It never fails: the delivery is always
// acknowledged by the caller afterwards.
func (b *Bridge) Handle(ctx context.Context, d broker.Delivery) {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		metrics.BridgeDeliveries.WithLabelValues("malformed").Inc()
		b.logger.Warn("dropping malformed delivery",
			"routing_key", d.RoutingKey,
			"delivery_id", d.ID,
			"error", err)
		return
	}

	roomID, ok := resolveRoom(env, d.RoutingKey)
	if !ok {
		metrics.BridgeDeliveries.WithLabelValues("no_room").Inc()
		b.logger.Warn("dropping delivery without room",
			"routing_key", d.RoutingKey,
			"message_id", env.MessageID)
		return
	}
	env.RoomID = roomID

	if b.seen != nil {
		key := env.MessageID
		if key == "" {
			key = d.ID
		}
		if !b.seen.Claim(key) {
			metrics.BridgeDeliveries.WithLabelValues("duplicate").Inc()
			b.logger.Debug("skipping redelivered message", "room_id", roomID, "message_id", key)
			return
		}
	}

	logger := b.logger.With("room_id", roomID, "message_id", env.MessageID)

	if err := b.sender.Send(live.RoomDestination(roomID), d.Body); err != nil {
		metrics.BridgeStepFailures.WithLabelValues("broadcast").Inc()
		logger.Warn("room broadcast failed", "error", err)
	}

	if _, err := b.state.BumpUnread(ctx, roomID, env.Sender); err != nil {
		metrics.BridgeStepFailures.WithLabelValues("unread").Inc()
		logger.Warn("unread bump failed", "error", err)
	}

	b.notifyMembers(ctx, logger, env)
	metrics.BridgeDeliveries.WithLabelValues("delivered").Inc()
}

func (b *Bridge) notifyMembers(ctx context.Context, logger *slog.Logger, env Envelope) {
	members, err := b.state.ListMembers(ctx, env.RoomID)
	if err != nil {
		metrics.BridgeStepFailures.WithLabelValues("members").Inc()
		logger.Warn("listing members failed", "error", err)
		return
	}

	createdAt := env.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	body, err := json.Marshal(Notification{
		Type:         NotificationMessage,
		RoomID:       env.RoomID,
		SenderUserID: env.Sender,
		Sender:       env.Sender,
		Username:     env.Username,
		Preview:      Preview(env.Content, PreviewLength),
		CreatedAt:    createdAt.UnixMilli(),
	})
	if err != nil {
		logger.Error("encoding notification", "error", err)
		return
	}

	for _, member := range members {
		if member == "" || member == env.Sender {
			continue
		}
		if err := b.sender.Send(live.NotifyDestination(member), body); err != nil {
			metrics.BridgeStepFailures.WithLabelValues("notify").Inc()
			logger.Warn("member notification failed", "member_id", member, "error", err)
			continue
		}
		metrics.NotificationsSent.Inc()
	}
}

// resolveRoom prefers the payload's room and falls back to the routing key.
func resolveRoom(env Envelope, routingKey string) (string, bool) {
	if room := strings.TrimSpace(env.RoomID); room != "" {
		return room, true
	}
	return RoomFromRoutingKey(routingKey)
}
