// ABOUTME: Redis Streams Broker: one stream carries every routing key, queues are consumer groups
// ABOUTME: Consumers replay their own pending entries on start, then read new entries

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stream field names.
const (
	fieldRoutingKey = "rk"
	fieldBody       = "body"
)

// RedisConfig configures the Redis Streams broker.
type RedisConfig struct {
	// Stream is the stream all messages are appended to.
	Stream string
	// Consumer names this process within each consumer group. It must be
	// stable across restarts for pending entries to be replayed.
	Consumer string
	// MaxLen approximately caps the stream length. Zero disables trimming.
	MaxLen int64
	// Block is how long a read waits for new entries.
	Block time.Duration
	// BatchSize is the number of entries read per call.
	BatchSize int64
}

// Redis is a Broker on Redis Streams. A queue is a consumer group on the
// stream; its pattern filters entries on the consumer side, and entries that
// do not match are acknowledged without being handled.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	logger *slog.Logger
}

// NewRedis creates a broker on an existing client.
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Stream == "" {
		cfg.Stream = "chat.events"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "gateway"
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &Redis{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "broker", "driver", "redis", "stream", cfg.Stream),
	}
}

// DialRedis parses a redis:// URL, connects and pings.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// Declare implements Broker by creating the consumer group at the stream tail.
func (r *Redis) Declare(ctx context.Context, queue, pattern string) error {
	err := r.client.XGroupCreateMkStream(ctx, r.cfg.Stream, queue, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s: %w", queue, err)
	}
	return nil
}

// Publish implements Broker.
func (r *Redis) Publish(ctx context.Context, routingKey string, body []byte) error {
	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]any{
			fieldRoutingKey: routingKey,
			fieldBody:       body,
		},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", routingKey, err)
	}
	return nil
}

// Subscribe implements Broker.
func (r *Redis) Subscribe(ctx context.Context, queue, pattern string, h Handler) error {
	if err := r.Declare(ctx, queue, pattern); err != nil {
		return err
	}
	logger := r.logger.With("queue", queue, "consumer", r.cfg.Consumer)
	logger.Info("consuming", "pattern", pattern)

	// "0" replays entries delivered to this consumer but never acknowledged.
	cursor := "0"
	backoff := 100 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    queue,
			Consumer: r.cfg.Consumer,
			Streams:  []string{r.cfg.Stream, cursor},
			Count:    r.cfg.BatchSize,
			Block:    r.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("read failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = 100 * time.Millisecond

		n := 0
		for _, s := range streams {
			for _, msg := range s.Messages {
				n++
				r.dispatch(ctx, logger, queue, pattern, msg, h)
			}
		}
		if cursor == "0" && n == 0 {
			logger.Debug("pending entries replayed")
			cursor = ">"
		}
	}
}

func (r *Redis) dispatch(ctx context.Context, logger *slog.Logger, queue, pattern string, msg redis.XMessage, h Handler) {
	routingKey, _ := msg.Values[fieldRoutingKey].(string)
	body, _ := msg.Values[fieldBody].(string)

	// Trimmed entries come back from the pending list with no fields.
	if routingKey != "" && MatchTopic(pattern, routingKey) {
		h(ctx, Delivery{ID: msg.ID, RoutingKey: routingKey, Body: []byte(body)})
	}

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.client.XAck(ackCtx, r.cfg.Stream, queue, msg.ID).Err(); err != nil {
		logger.Warn("ack failed", "entry_id", msg.ID, "error", err)
	}
}

// Ping implements Broker.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Broker. The client is owned by the caller and stays open.
func (r *Redis) Close() error {
	return nil
}

var _ Broker = (*Redis)(nil)
