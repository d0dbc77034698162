package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// Heartbeat defaults: one beat per agent every 5 minutes, every 30
// seconds for "main". "main" is the single always-on
// agent id every deployment is expected to register.
const (
	DefaultHeartbeatInterval = 5 * time.Minute
	MainHeartbeatInterval    = 30 * time.Second
	MainAgentID              = "main"
	missedBeatThreshold      = 3
)

// AgentStore is the narrow slice of sessionstore.AgentStore the heartbeat
// monitor needs.
type AgentStore interface {
	LoadAgents(ctx context.Context) ([]models.AgentState, error)
	SaveAgent(ctx context.Context, agent models.AgentState) error
}

// GatewayHealth reports whether the LLM gateway's circuit breaker
// currently allows calls. Satisfied by *llmgateway.Gateway.
type GatewayHealth interface {
	Healthy() bool
}

// HeartbeatMonitor beats every registered agent on its own interval,
// writing last_active_at and demoting an agent to AgentError after
// missedBeatThreshold consecutive missed beats.
type HeartbeatMonitor struct {
	store   AgentStore
	gateway GatewayHealth
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration

	mu       sync.Mutex
	lastBeat map[string]time.Time
	missed   map[string]int
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// HeartbeatOption configures a HeartbeatMonitor.
type HeartbeatOption func(*HeartbeatMonitor)

func WithHeartbeatLogger(l *slog.Logger) HeartbeatOption {
	return func(m *HeartbeatMonitor) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithHeartbeatNow(now func() time.Time) HeartbeatOption {
	return func(m *HeartbeatMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

func WithHeartbeatTick(d time.Duration) HeartbeatOption {
	return func(m *HeartbeatMonitor) {
		if d > 0 {
			m.tickInterval = d
		}
	}
}

// NewHeartbeatMonitor builds a monitor. gateway may be nil (treated as
// always healthy) for deployments without a configured LLM gateway.
func NewHeartbeatMonitor(store AgentStore, gateway GatewayHealth, opts ...HeartbeatOption) *HeartbeatMonitor {
	m := &HeartbeatMonitor{
		store:        store,
		gateway:      gateway,
		logger:       slog.Default().With("component", "heartbeat"),
		now:          time.Now,
		tickInterval: time.Second,
		lastBeat:     make(map[string]time.Time),
		missed:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func intervalFor(agentID string) time.Duration {
	if agentID == MainAgentID {
		return MainHeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

// Start begins the background sweep loop.
func (m *HeartbeatMonitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.stop = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.sweep(runCtx)
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
	m.wg.Wait()
}

func (m *HeartbeatMonitor) sweep(ctx context.Context) {
	agents, err := m.store.LoadAgents(ctx)
	if err != nil {
		m.logger.Warn("heartbeat: load agents failed", "error", err)
		return
	}
	now := m.now()
	for _, agent := range agents {
		if !agent.Enabled || agent.Status == models.AgentTerminated {
			continue
		}
		interval := intervalFor(agent.AgentID)

		m.mu.Lock()
		last, seen := m.lastBeat[agent.AgentID]
		due := !seen || now.Sub(last) >= interval
		if due {
			m.lastBeat[agent.AgentID] = now
		}
		m.mu.Unlock()
		if !due {
			continue
		}
		m.beat(ctx, agent, now)
	}
}

func (m *HeartbeatMonitor) beat(ctx context.Context, agent models.AgentState, now time.Time) {
	healthy := m.gateway == nil || m.gateway.Healthy()

	m.mu.Lock()
	if healthy {
		m.missed[agent.AgentID] = 0
	} else {
		m.missed[agent.AgentID]++
	}
	missed := m.missed[agent.AgentID]
	m.mu.Unlock()

	agent.LastActiveAt = now
	if missed >= missedBeatThreshold {
		agent.Status = models.AgentError
	}
	if err := m.store.SaveAgent(ctx, agent); err != nil {
		m.logger.Warn("heartbeat: save agent failed", "agent_id", agent.AgentID, "error", err)
	}
}
