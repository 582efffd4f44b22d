// ABOUTME: Gateway wires the chat core together and runs the HTTP server and bridge consumer
// ABOUTME: Owns the store, broker, pools and live hub and shuts them down in dependency order

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/agent"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/broker"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/fanout"
	"github.com/2389/coven-chat/internal/live"
	"github.com/2389/coven-chat/internal/llm"
	"github.com/2389/coven-chat/internal/metrics"
	"github.com/2389/coven-chat/internal/ratelimit"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/workpool"
)

const setupTimeout = 10 * time.Second

// Gateway is one chat-gateway process.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	store        store.Store
	redis        *redis.Client
	broker       broker.Broker
	hub          *live.Hub
	dedupe       *dedupe.Cache
	fanoutPool   *workpool.Pool
	agentPool    *workpool.Pool
	publisher    *fanout.Publisher
	bridge       *fanout.Bridge
	verifier     *auth.JWTVerifier
	service      *conversation.Service
	orchestrator *agent.Orchestrator
	httpServer   *http.Server
	orchestrate  bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option overrides a collaborator New would otherwise build from config.
type Option func(*options)

type options struct {
	store     store.Store
	broker    broker.Broker
	completer agent.Completer
}

// WithStore uses s instead of opening database.path.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithBroker uses b instead of the configured broker driver.
func WithBroker(b broker.Broker) Option {
	return func(o *options) { o.broker = b }
}

// WithCompleter enables agent replies through c regardless of llm settings.
func WithCompleter(c agent.Completer) Option {
	return func(o *options) { o.completer = c }
}

// New builds a gateway from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (gw *Gateway, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	gw = &Gateway{config: cfg, logger: logger.With("component", "gateway")}
	partial := gw
	defer func() {
		if err != nil {
			partial.closeResources(context.Background())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	if err := gw.initStore(o.store); err != nil {
		return nil, err
	}
	if err := gw.seedCatalog(ctx); err != nil {
		return nil, err
	}
	if err := gw.initBroker(ctx, o.broker); err != nil {
		return nil, err
	}

	gw.fanoutPool, err = newPool("fanout", cfg.Pools.Fanout)
	if err != nil {
		return nil, err
	}
	gw.agentPool, err = newPool("agents", cfg.Pools.Agents)
	if err != nil {
		return nil, err
	}

	gw.hub = live.NewHub(logger)
	gw.dedupe = dedupe.New(dedupe.Config{TTL: cfg.Broker.DedupeTTL, MaxEntries: cfg.Broker.DedupeSize})
	gw.publisher = fanout.NewPublisher(gw.broker, gw.fanoutPool, cfg.Broker.PublishTimeout, logger)
	gw.bridge = fanout.NewBridge(gw.store, gw.hub, gw.dedupe, logger)
	gw.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	orch, err := gw.initOrchestrator(o.completer)
	if err != nil {
		return nil, err
	}
	if orch != nil {
		gw.orchestrator = orch
		gw.orchestrate = true
		gw.service = conversation.New(gw.store, gw.publisher, orch, logger)
	} else {
		gw.service = conversation.New(gw.store, gw.publisher, nil, logger)
	}

	gw.httpServer = &http.Server{
		Handler:           gw.newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

func (g *Gateway) initStore(s store.Store) error {
	if s != nil {
		g.store = s
		return nil
	}
	sqlStore, err := store.NewSQLiteStore(g.config.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	g.store = sqlStore
	return nil
}

// seedCatalog applies the configured agent catalog, if any.
func (g *Gateway) seedCatalog(ctx context.Context) error {
	path := g.config.Agents.Catalog
	if path == "" {
		return nil
	}
	catalog, err := agent.LoadCatalog(path)
	if err != nil {
		return err
	}
	if err := catalog.Apply(ctx, g.store); err != nil {
		return fmt.Errorf("applying catalog: %w", err)
	}
	g.logger.Info("agent catalog applied", "path", path, "agents", len(catalog.Agents), "rooms", len(catalog.Rooms))
	return nil
}

// initBroker connects the broker and declares the bridge queue so that
// messages published before the consumer starts are retained.
func (g *Gateway) initBroker(ctx context.Context, b broker.Broker) error {
	cfg := g.config.Broker
	needRedis := (b == nil && cfg.Driver == config.DriverRedis) ||
		g.config.RateLimit.Driver == config.DriverRedis
	if needRedis {
		client, err := broker.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		g.redis = client
	}

	switch {
	case b != nil:
		g.broker = b
	case cfg.Driver == config.DriverRedis:
		g.broker = broker.NewRedis(g.redis, broker.RedisConfig{Stream: cfg.Stream, Consumer: cfg.Consumer})
	default:
		g.broker = broker.NewMemory(cfg.QueueSize)
	}

	if err := g.broker.Declare(ctx, fanout.BridgeQueue, fanout.RoomPattern); err != nil {
		return fmt.Errorf("declaring bridge queue: %w", err)
	}
	g.logger.Info("broker ready", "driver", cfg.Driver, "queue", fanout.BridgeQueue)
	return nil
}

func newPool(name string, cfg config.PoolConfig) (*workpool.Pool, error) {
	p, err := workpool.New(workpool.Config{Name: name, Workers: cfg.Workers, QueueSize: cfg.QueueSize})
	if err != nil {
		return nil, err
	}
	p.OnCallerRuns = func() { metrics.PoolCallerRuns.WithLabelValues(name).Inc() }
	return p, nil
}

// initOrchestrator returns nil when no completion backend is available.
func (g *Gateway) initOrchestrator(completer agent.Completer) (*agent.Orchestrator, error) {
	cfg := g.config
	if completer == nil {
		if !cfg.LLM.Enabled() {
			g.logger.Warn("no llm configured, @ai mentions will not be answered")
			return nil, nil
		}
		completer = llm.NewOpenAI(llm.Config{
			APIKey:     cfg.LLM.APIKey,
			BaseURL:    cfg.LLM.BaseURL,
			Model:      cfg.LLM.Model,
			MaxTokens:  cfg.LLM.MaxTokens,
			MaxRetries: cfg.LLM.MaxRetries,
		})
	}

	loc, err := ratelimit.LoadLocation(cfg.RateLimit.Timezone)
	if err != nil {
		return nil, err
	}
	limitOpts := []ratelimit.Option{
		ratelimit.WithCooldown(cfg.RateLimit.Cooldown),
		ratelimit.WithDailyQuota(cfg.RateLimit.DailyQuota),
		ratelimit.WithLocation(loc),
	}
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Driver == config.DriverRedis {
		limiter = ratelimit.NewRedis(g.redis, limitOpts...)
	} else {
		limiter = ratelimit.NewMemory(limitOpts...)
	}

	return agent.NewOrchestrator(agent.Config{
		Directory: g.store,
		Replies:   g.store,
		Publisher: g.publisher,
		Limiter:   limiter,
		Completer: completer,
		Assembler: agent.NewAssembler(g.store, agent.AssemblerConfig{
			Timeout: cfg.Agents.ContextTimeout,
			Size:    cfg.Agents.ContextSize,
		}, g.logger),
		Pool:       g.agentPool,
		LLMTimeout: cfg.LLM.Timeout,
		Logger:     g.logger,
	})
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Service returns the conversation service.
func (g *Gateway) Service() *conversation.Service {
	return g.service
}

// Run starts the HTTP server and the bridge consumer and blocks until ctx is
// canceled or either fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		g.logger.Info("bridge consuming", "queue", fanout.BridgeQueue, "pattern", fanout.RoomPattern)
		if err := g.bridge.Run(gctx, g.broker); err != nil && gctx.Err() == nil {
			return fmt.Errorf("bridge: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		g.dedupe.Run(gctx)
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return group.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, drains the pools and releases resources.
// Later calls return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		errs = append(errs, g.closeResources(ctx)...)

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
	})
	return g.shutdownErr
}

// closeResources releases everything New may have opened. Agent work drains
// first because it feeds the fanout pool, which feeds the broker. Draining is
// bounded by ctx; agent calls still running then are canceled.
func (g *Gateway) closeResources(ctx context.Context) []error {
	var errs []error
	if g.agentPool != nil {
		if err := g.agentPool.Shutdown(ctx); err != nil {
			g.logger.Warn("agent work outlived shutdown timeout, canceling", "error", err)
			if g.orchestrator != nil {
				g.orchestrator.Stop()
			}
			g.agentPool.Close()
		}
	}
	if g.orchestrator != nil {
		g.orchestrator.Stop()
	}
	if g.fanoutPool != nil {
		// Agent draining may have used up ctx. Each publish is already
		// bounded by the publish timeout, so allow one more of those.
		drainCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			drainCtx, cancel = context.WithTimeout(context.Background(), g.config.Broker.PublishTimeout)
			defer cancel()
		}
		if err := g.fanoutPool.Shutdown(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("fanout drain: %w", err))
		}
	}
	if g.hub != nil {
		g.hub.Close()
	}
	if g.broker != nil {
		errs = appendCloseError(errs, "broker close", g.broker.Close())
	}
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
