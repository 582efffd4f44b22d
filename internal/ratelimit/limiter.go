// ABOUTME: Limiter interface and shared options for per-room, per-agent call gating
// ABOUTME: Defaults are a 2.5s cooldown and 200 calls per day in Asia/Seoul

package ratelimit

import (
	"context"
	"strconv"
	"time"

	_ "time/tzdata" // day boundaries must not depend on the host zoneinfo
)

// Defaults applied when an option is not given.
const (
	DefaultCooldown   = 2500 * time.Millisecond
	DefaultDailyQuota = 200
	DefaultZone       = "Asia/Seoul"
)

// Limiter decides whether an agent may answer in a room right now.
type Limiter interface {
	// Allow reports whether both the cooldown and the daily quota permit a call.
	Allow(ctx context.Context, roomID, agentID string) bool
	// Consume records a successful call.
	Consume(ctx context.Context, roomID, agentID string)
}

type options struct {
	cooldown time.Duration
	quota    int
	loc      *time.Location
	now      func() time.Time
}

// Option configures a limiter.
type Option func(*options)

// WithCooldown sets the minimum gap between consumed calls.
func WithCooldown(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.cooldown = d
		}
	}
}

// WithDailyQuota sets the number of calls allowed per calendar day.
func WithDailyQuota(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.quota = n
		}
	}
}

// WithLocation sets the zone whose midnight resets the daily quota.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		cooldown: DefaultCooldown,
		quota:    DefaultDailyQuota,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loc == nil {
		// tzdata is embedded, so this cannot fail for DefaultZone.
		o.loc, _ = time.LoadLocation(DefaultZone)
	}
	return o
}

// LoadLocation resolves a zone name, falling back to DefaultZone when empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	return time.LoadLocation(name)
}

func (o options) day(t time.Time) string {
	return t.In(o.loc).Format("20060102")
}

// key length-prefixes the room so IDs that contain ':' cannot collide.
func key(roomID, agentID string) string {
	return strconv.Itoa(len(roomID)) + ":" + roomID + ":" + agentID
}
