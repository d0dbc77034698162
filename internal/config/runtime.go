package config

import (
	"context"
	"fmt"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/agentpool"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/chatengine"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway/providers"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/protection"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/roundtable"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/router"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/scheduler"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore/postgres"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/swarm"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/toolsregistry"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// Runtime is the single composition root holding every long-lived
// dependency the server command needs, built once at startup and torn
// down in reverse order.
type Runtime struct {
	Config *Config

	Store   sessionstore.Store
	Gateway *llmgateway.Gateway
	Tools   *toolsregistry.Registry
	Tracker *router.Tracker
	Pool    *agentpool.Pool

	Scheduler  *scheduler.Scheduler
	Heartbeat  *scheduler.HeartbeatMonitor
	Chat       *chatengine.Engine
	Roundtable *roundtable.Coordinator
	Swarm      *swarm.Coordinator

	Locks       *protection.SessionLocks
	RateLimiter *protection.RateLimiter
}

// NewRuntime wires every subsystem from cfg. Callers are responsible for
// calling Close when done.
func NewRuntime(ctx context.Context, cfg *Config) (*Runtime, error) {
	store, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}

	catalog, err := llmgateway.LoadCatalog(cfg.LLM.CatalogPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load model catalog: %w", err)
	}

	gatewayProviders := buildProviders(cfg)
	gateway := llmgateway.NewGateway(catalog, gatewayProviders)

	tools := toolsregistry.New()
	tracker := router.NewTracker(store)
	pool := agentpool.New(store, gateway, tracker)

	if err := seedAgents(ctx, store, cfg.Agents); err != nil {
		store.Close()
		return nil, fmt.Errorf("seed agents: %w", err)
	}
	if err := pool.LoadAll(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("hydrate agent pool: %w", err)
	}

	lookup := func(agentID string) (models.AgentState, bool) {
		agents, err := store.LoadAgents(ctx)
		if err != nil {
			return models.AgentState{}, false
		}
		for _, a := range agents {
			if a.AgentID == agentID {
				return a, true
			}
		}
		return models.AgentState{}, false
	}

	rateLimiter := buildRateLimiter(cfg)
	chat := chatengine.New(store, gateway, tools, lookup).WithRateLimiter(rateLimiter)

	caller := roundtable.AgentCallerFunc(func(ctx context.Context, agentID, prompt string) (string, error) {
		res, err := pool.ProcessWith(ctx, agentID, prompt, agentpool.ProcessOptions{ContextWindow: cfg.Session.AgentContextLimit})
		if err != nil {
			return "", err
		}
		return res.Content, nil
	})
	rt := roundtable.New(store, caller, tracker)

	swarmCaller := swarm.AgentCallerFunc(func(ctx context.Context, agentID, prompt string) (string, error) {
		res, err := pool.ProcessWith(ctx, agentID, prompt, agentpool.ProcessOptions{ContextWindow: cfg.Session.AgentContextLimit})
		if err != nil {
			return "", err
		}
		return res.Content, nil
	})
	sw := swarm.New(store, swarmCaller, tracker)

	sched := scheduler.New(store, pool, tools,
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
	)
	heartbeat := scheduler.NewHeartbeatMonitor(store, gateway,
		scheduler.WithHeartbeatTick(cfg.Heartbeat.TickInterval),
	)

	return &Runtime{
		Config:      cfg,
		Store:       store,
		Gateway:     gateway,
		Tools:       tools,
		Tracker:     tracker,
		Pool:        pool,
		Scheduler:   sched,
		Heartbeat:   heartbeat,
		Chat:        chat,
		Roundtable:  rt,
		Swarm:       sw,
		Locks:       protection.NewSessionLocks(),
		RateLimiter: rateLimiter,
	}, nil
}

// Start begins the scheduler's tick loop and the heartbeat sweep.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	r.Heartbeat.Start(ctx)
	return nil
}

// Close tears down every subsystem in reverse order of construction.
func (r *Runtime) Close(ctx context.Context) error {
	r.Heartbeat.Stop()
	if err := r.Scheduler.Stop(ctx); err != nil {
		return err
	}
	return r.Store.Close()
}

func buildProviders(cfg *Config) map[string]llmgateway.Provider {
	out := make(map[string]llmgateway.Provider)
	if cfg.LLM.BaseURL != "" {
		out["litellm"] = providers.NewOpenAICompatibleProvider(cfg.LLM.MasterKey, cfg.LLM.BaseURL)
	}
	return out
}

func seedAgents(ctx context.Context, store sessionstore.AgentStore, agents []AgentConfig) error {
	for _, a := range agents {
		enabled := true
		if a.Enabled != nil {
			enabled = *a.Enabled
		}
		state := models.AgentState{
			AgentID:        a.AgentID,
			DisplayName:    a.DisplayName,
			AgentType:      a.AgentType,
			Model:          a.Model,
			FallbackModel:  a.FallbackModel,
			ParentAgentID:  a.ParentAgentID,
			Enabled:        enabled,
			Status:         models.AgentIdle,
			PheromoneScore: models.ColdStartPheromoneScore,
			Skills:         a.Skills,
		}
		if a.FocusType != "" {
			focus := models.FocusType(a.FocusType)
			state.FocusType = &focus
		}
		if err := store.SaveAgent(ctx, state); err != nil {
			return fmt.Errorf("seed agent %s: %w", a.AgentID, err)
		}
	}
	return nil
}

func buildRateLimiter(cfg *Config) *protection.RateLimiter {
	defaultLimit := protection.AgentLimit{PerMinute: cfg.Session.SessionPerMinute}
	return protection.NewRateLimiter(map[string]protection.AgentLimit{}, defaultLimit)
}
