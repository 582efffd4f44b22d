// ABOUTME: Hands persisted messages to the broker on a background pool
// ABOUTME: Publish failures are logged and counted, never returned to the sender

package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/2389/coven-chat/internal/broker"
	"github.com/2389/coven-chat/internal/metrics"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/workpool"
)

const defaultPublishTimeout = 5 * time.Second

// Submitter runs tasks in the background.
type Submitter interface {
	Submit(task workpool.Task) error
}

// Publisher publishes message envelopes under the room's routing key.
type Publisher struct {
	broker  broker.Broker
	pool    Submitter
	timeout time.Duration
	logger  *slog.Logger
}

// NewPublisher creates a publisher. A zero timeout uses five seconds.
func NewPublisher(b broker.Broker, pool Submitter, timeout time.Duration, logger *slog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		broker:  b,
		pool:    pool,
		timeout: timeout,
		logger:  logger.With("component", "fanout"),
	}
}

// PublishAsync schedules publication of msg and returns immediately, unless
// the pool is saturated, in which case the publish runs on the caller.
func (p *Publisher) PublishAsync(msg *store.Message) {
	env := NewEnvelope(msg)
	if err := p.pool.Submit(func() { p.publish(env) }); err != nil {
		metrics.BrokerPublishes.WithLabelValues("error").Inc()
		p.logger.Warn("publish not scheduled",
			"room_id", env.RoomID,
			"message_id", env.MessageID,
			"error", err)
	}
}

func (p *Publisher) publish(env Envelope) {
	routingKey := RoutingKey(env.RoomID)
	body, err := json.Marshal(env)
	if err != nil {
		metrics.BrokerPublishes.WithLabelValues("error").Inc()
		p.logger.Error("encoding envelope", "message_id", env.MessageID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.broker.Publish(ctx, routingKey, body); err != nil {
		metrics.BrokerPublishes.WithLabelValues("error").Inc()
		p.logger.Warn("broker publish failed",
			"room_id", env.RoomID,
			"message_id", env.MessageID,
			"routing_key", routingKey,
			"error", err)
		return
	}
	metrics.BrokerPublishes.WithLabelValues("ok").Inc()
	p.logger.Debug("published", "room_id", env.RoomID, "message_id", env.MessageID)
}
