// ABOUTME: Redis-backed Limiter so gateway replicas share one call budget
// ABOUTME: Stores the last call time and a per-day counter keyed by room and agent

package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chat:ai:ratelimit:"

// Redis is a Limiter whose state lives in Redis. Daily counters are keyed by
// date, so a day change starts from zero without an explicit sweep.
type Redis struct {
	client *redis.Client
	opts   options
	logger *slog.Logger
}

// NewRedis creates a limiter on an existing client.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	return &Redis{
		client: client,
		opts:   buildOptions(opts),
		logger: slog.Default().With("component", "ratelimit"),
	}
}

func (r *Redis) lastKey(k string) string {
	return redisKeyPrefix + "last:" + k
}

func (r *Redis) dayKey(k string, now time.Time) string {
	return redisKeyPrefix + "day:" + r.opts.day(now) + ":" + k
}

// Allow implements Limiter. Redis errors fail closed.
func (r *Redis) Allow(ctx context.Context, roomID, agentID string) bool {
	now := r.opts.now()
	k := key(roomID, agentID)

	pipe := r.client.Pipeline()
	lastCmd := pipe.Get(ctx, r.lastKey(k))
	countCmd := pipe.Get(ctx, r.dayKey(k, now))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn("rate limit lookup failed", "room_id", roomID, "agent_id", agentID, "error", err)
		return false
	}

	if last, err := lastCmd.Int64(); err == nil {
		if now.Sub(time.UnixMilli(last)) < r.opts.cooldown {
			return false
		}
	}

	count, err := countCmd.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false
	}
	return count < r.opts.quota
}

// Consume implements Limiter.
func (r *Redis) Consume(ctx context.Context, roomID, agentID string) {
	now := r.opts.now()
	k := key(roomID, agentID)
	dayKey := r.dayKey(k, now)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.lastKey(k), strconv.FormatInt(now.UnixMilli(), 10), 2*r.opts.cooldown+time.Minute)
	pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("rate limit consume failed", "room_id", roomID, "agent_id", agentID, "error", err)
	}
}

var _ Limiter = (*Redis)(nil)
