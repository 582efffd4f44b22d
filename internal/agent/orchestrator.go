// ABOUTME: Dispatches agent replies for messages that mention @ai
// ABOUTME: Each attached agent runs as its own pool task; failures stay inside their branch

package agent

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/metrics"
	"github.com/2389/coven-chat/internal/ratelimit"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/workpool"
)

// DefaultLLMTimeout bounds one completion call.
const DefaultLLMTimeout = 60 * time.Second

// lookupTimeout bounds store reads made outside any request.
const lookupTimeout = 5 * time.Second

// Outcome is how one agent branch ended.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeThrottled Outcome = "throttled"
	OutcomeDeclined  Outcome = "declined"
	OutcomeFailed    Outcome = "failed"
	OutcomeMissing   Outcome = "missing"
	OutcomeCanceled  Outcome = "canceled"
)

// Directory resolves which agents a room has and who they are.
type Directory interface {
	ListRoomAgents(ctx context.Context, roomID string) ([]string, error)
	GetAgent(ctx context.Context, id string) (*store.AgentProfile, error)
}

// ReplyStore persists agent replies.
type ReplyStore interface {
	CreateMessage(ctx context.Context, roomID, id, sender, displayName, content string) (*store.Message, error)
}

// ReplyPublisher fans a persisted reply out to viewers.
type ReplyPublisher interface {
	PublishAsync(msg *store.Message)
}

// Submitter runs tasks in the background.
type Submitter interface {
	Submit(task workpool.Task) error
}

// Config wires an Orchestrator.
type Config struct {
	Directory  Directory
	Replies    ReplyStore
	Publisher  ReplyPublisher
	Limiter    ratelimit.Limiter
	Completer  Completer
	Assembler  *Assembler
	Pool       Submitter
	LLMTimeout time.Duration
	Logger     *slog.Logger
}

// Orchestrator runs agent replies for mentioning messages.
type Orchestrator struct {
	directory  Directory
	replies    ReplyStore
	publisher  ReplyPublisher
	limiter    ratelimit.Limiter
	completer  Completer
	assembler  *Assembler
	pool       Submitter
	llmTimeout time.Duration
	logger     *slog.Logger

	// root is canceled by Stop; every store read and LLM call derives from it.
	root context.Context
	stop context.CancelFunc
}

// NewOrchestrator validates cfg and creates an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Directory == nil:
		return nil, errors.New("agent: directory is required")
	case cfg.Replies == nil:
		return nil, errors.New("agent: reply store is required")
	case cfg.Publisher == nil:
		return nil, errors.New("agent: publisher is required")
	case cfg.Limiter == nil:
		return nil, errors.New("agent: limiter is required")
	case cfg.Completer == nil:
		return nil, errors.New("agent: completer is required")
	case cfg.Assembler == nil:
		return nil, errors.New("agent: assembler is required")
	case cfg.Pool == nil:
		return nil, errors.New("agent: pool is required")
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	root, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		root:       root,
		stop:       stop,
		directory:  cfg.Directory,
		replies:    cfg.Replies,
		publisher:  cfg.Publisher,
		limiter:    cfg.Limiter,
		completer:  cfg.Completer,
		assembler:  cfg.Assembler,
		pool:       cfg.Pool,
		llmTimeout: cfg.LLMTimeout,
		logger:     cfg.Logger.With("component", "orchestrator"),
	}, nil
}

// Trigger is a human message that mentioned the agents.
type Trigger struct {
	RoomID string
	// Text is the message with the mention already stripped.
	Text string
	// AgentIDs are the room's attached agents when the caller already knows
	// them. Nil makes the orchestrator look them up.
	AgentIDs []string
	// ReceivedAt is when the message arrived. Context loading gives up
	// a fixed time after it. Zero means now.
	ReceivedAt time.Time
}

// OnHumanMessage starts replies from every agent attached to the trigger's
// room. It returns at once.
func (o *Orchestrator) OnHumanMessage(t Trigger) *Run {
	run := newRun(t.RoomID)
	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = time.Now()
	}

	// One context load is shared by every branch; its deadline runs from
	// receipt, not from when a worker picks the message up.
	future := o.assembler.BuildAsyncAt(t.RoomID, t.ReceivedAt)

	if len(t.AgentIDs) > 0 {
		o.dispatch(run, t.AgentIDs, t.Text, future)
		return run
	}

	run.wg.Add(1)
	if err := o.pool.Submit(func() {
		defer run.wg.Done()
		o.resolve(run, t.Text, future)
	}); err != nil {
		run.wg.Done()
		o.logger.Warn("orchestration not scheduled", "room_id", t.RoomID, "error", err)
	}
	return run
}

// Stop cancels in-flight lookups and completions. Branches cut short this
// way end as OutcomeCanceled.
func (o *Orchestrator) Stop() {
	o.stop()
}

// resolve looks up the room's agents and dispatches them.
func (o *Orchestrator) resolve(run *Run, text string, future *Future) {
	ctx, cancel := context.WithTimeout(o.root, lookupTimeout)
	agentIDs, err := o.directory.ListRoomAgents(ctx, run.RoomID)
	cancel()
	if err != nil {
		o.logger.Warn("listing room agents failed", "room_id", run.RoomID, "error", err)
		return
	}
	if len(agentIDs) == 0 {
		o.logger.Debug("no agents attached", "room_id", run.RoomID)
		return
	}
	o.dispatch(run, agentIDs, text, future)
}

// dispatch submits one branch per agent.
func (o *Orchestrator) dispatch(run *Run, agentIDs []string, text string, future *Future) {
	for _, agentID := range agentIDs {
		run.wg.Add(1)
		err := o.pool.Submit(func() {
			defer run.wg.Done()
			o.branch(run, agentID, text, future)
		})
		if err == nil {
			continue
		}
		run.wg.Done()
		if errors.Is(err, workpool.ErrClosed) {
			run.record(agentID, OutcomeCanceled)
			metrics.AgentOutcomes.WithLabelValues(string(OutcomeCanceled)).Inc()
			o.logger.Info("agent branch skipped at shutdown", "room_id", run.RoomID, "agent_id", agentID)
			continue
		}
		run.record(agentID, OutcomeFailed)
		metrics.AgentOutcomes.WithLabelValues(string(OutcomeFailed)).Inc()
		o.logger.Warn("agent branch not scheduled", "room_id", run.RoomID, "agent_id", agentID, "error", err)
	}
}

func (o *Orchestrator) branch(run *Run, agentID, text string, future *Future) {
	outcome := OutcomeFailed
	defer func() {
		if outcome == OutcomeFailed && o.root.Err() != nil {
			outcome = OutcomeCanceled
		}
		run.record(agentID, outcome)
		metrics.AgentOutcomes.WithLabelValues(string(outcome)).Inc()
	}()

	roomID := run.RoomID
	logger := o.logger.With("room_id", roomID, "agent_id", agentID)

	ctx, cancel := context.WithTimeout(o.root, lookupTimeout)
	profile, err := o.directory.GetAgent(ctx, agentID)
	cancel()
	if err != nil {
		if o.root.Err() != nil {
			return
		}
		outcome = OutcomeMissing
		logger.Warn("agent profile unavailable", "error", err)
		return
	}

	if !o.limiter.Allow(o.root, roomID, agentID) {
		if o.root.Err() != nil {
			return
		}
		outcome = OutcomeThrottled
		logger.Debug("agent throttled")
		return
	}

	history := future.Await(o.root)

	callCtx, cancelCall := context.WithTimeout(o.root, o.llmTimeout)
	start := time.Now()
	reply, err := o.completer.Complete(callCtx, profile.Persona, history, text, profile.Temperature, profile.TopP)
	cancelCall()
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn("agent completion failed", "error", err)
		return
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		outcome = OutcomeDeclined
		logger.Debug("agent declined to answer")
		return
	}

	ctx, cancel = context.WithTimeout(context.Background(), lookupTimeout)
	msg, err := o.replies.CreateMessage(ctx, roomID, uuid.NewString(), profile.ID, profile.Name, reply)
	cancel()
	if err != nil {
		logger.Warn("storing agent reply failed", "error", err)
		return
	}
	metrics.MessagesCreated.WithLabelValues("agent").Inc()

	o.publisher.PublishAsync(msg)
	o.limiter.Consume(context.Background(), roomID, agentID)

	outcome = OutcomeDelivered
	logger.Info("agent replied", "message_id", msg.ID)
}

// Run tracks the branches started for one human message.
type Run struct {
	RoomID string

	wg       sync.WaitGroup
	mu       sync.Mutex
	outcomes map[string]Outcome
}

func newRun(roomID string) *Run {
	return &Run{RoomID: roomID, outcomes: make(map[string]Outcome)}
}

func (r *Run) record(agentID string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[agentID] = outcome
}

// Wait blocks until every branch has ended.
func (r *Run) Wait() {
	r.wg.Wait()
}

// WaitContext is Wait bounded by ctx.
func (r *Run) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcomes returns each agent's outcome so far, keyed by agent ID.
func (r *Run) Outcomes() map[string]Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.outcomes)
}
