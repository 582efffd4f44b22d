// ABOUTME: Loads recent room messages as agent context with a hard deadline
// ABOUTME: Await returns an empty context on timeout or error instead of failing

package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/coven-chat/internal/metrics"
	"github.com/2389/coven-chat/internal/store"
)

// Context assembly defaults.
const (
	DefaultContextTimeout = 2 * time.Second
	DefaultContextSize    = 20
)

// HistorySource provides a room's recent messages, oldest first.
type HistorySource interface {
	History(ctx context.Context, roomID string, limit int, before *time.Time) ([]*store.Message, error)
}

// AssemblerConfig tunes an Assembler. Zero values use the defaults.
type AssemblerConfig struct {
	Timeout time.Duration
	Size    int
}

// Assembler builds agent context from room history.
type Assembler struct {
	source  HistorySource
	timeout time.Duration
	size    int
	logger  *slog.Logger
}

// NewAssembler creates an Assembler reading from source.
func NewAssembler(source HistorySource, cfg AssemblerConfig, logger *slog.Logger) *Assembler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultContextTimeout
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultContextSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		source:  source,
		timeout: cfg.Timeout,
		size:    cfg.Size,
		logger:  logger.With("component", "context"),
	}
}

// BuildAsync starts loading context for roomID and returns without waiting.
// The returned Future's deadline is the moment of the call plus the timeout.
func (a *Assembler) BuildAsync(roomID string) *Future {
	return a.BuildAsyncAt(roomID, time.Now())
}

// BuildAsyncAt is BuildAsync with the deadline counted from receivedAt, the
// moment the triggering message arrived.
func (a *Assembler) BuildAsyncAt(roomID string, receivedAt time.Time) *Future {
	deadline := receivedAt.Add(a.timeout)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	f := &Future{
		roomID:   roomID,
		deadline: deadline,
		done:     make(chan struct{}),
		logger:   a.logger,
	}

	go func() {
		defer close(f.done)
		defer cancel()

		msgs, err := a.source.History(ctx, roomID, a.size, nil)
		if err != nil {
			f.err = err
			return
		}
		f.lines = Render(msgs)
	}()

	return f
}

// Render formats messages as "<display name>: <content>" lines.
func Render(msgs []*store.Message) []string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		name := m.DisplayName
		if name == "" {
			name = m.Sender
		}
		lines = append(lines, name+": "+m.Content)
	}
	return lines
}

// Future is pending agent context. It may be awaited by many goroutines.
type Future struct {
	roomID   string
	deadline time.Time
	done     chan struct{}
	lines    []string
	err      error
	logger   *slog.Logger
}

// Deadline reports when Await stops waiting.
func (f *Future) Deadline() time.Time {
	return f.deadline
}

// Await returns the context lines, or an empty slice when the deadline
// passes, loading failed, or ctx ends first.
func (f *Future) Await(ctx context.Context) []string {
	timer := time.NewTimer(time.Until(f.deadline))
	defer timer.Stop()

	select {
	case <-f.done:
		if f.err != nil {
			f.logger.Warn("context unavailable", "room_id", f.roomID, "error", f.err)
			return []string{}
		}
		return f.lines
	case <-timer.C:
		metrics.ContextTimeouts.Inc()
		f.logger.Warn("context timed out", "room_id", f.roomID)
		return []string{}
	case <-ctx.Done():
		return []string{}
	}
}
