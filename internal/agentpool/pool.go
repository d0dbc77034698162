// Package agentpool holds the bounded set of runtime agent handles:
// each handle wraps an AgentState, a conversation
// context, and a reference to the LLM gateway, dispatched through a
// pool-wide semaphore.
package agentpool

import (
	"context"
	"sync"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/router"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// MaxPoolSize caps both resident handles and concurrent ProcessWith calls.
const MaxPoolSize = 5

// consecutiveFailureLimit transitions an agent busy -> error.
const consecutiveFailureLimit = 3

// AgentStore persists AgentState rows; satisfied by a sessionstore adapter.
type AgentStore interface {
	LoadAgents(ctx context.Context) ([]models.AgentState, error)
	SaveAgent(ctx context.Context, agent models.AgentState) error
}

// ProcessOptions customizes one RuntimeAgent.process call.
type ProcessOptions struct {
	SystemPrompt string
	ContextWindow int // default 50
	Tools        []llmgateway.ToolSpec
}

// ProcessResult is a RuntimeAgent.process outcome.
type ProcessResult struct {
	AgentID      string
	Content      string
	Thinking     string
	ToolCalls    []llmgateway.ToolCall
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	LatencyMS    int64
	Err          error
}

// Handle is one in-memory runtime agent: its durable state, its rolling
// conversation context, and a mutex guarding reads and writes of both.
type Handle struct {
	mu      sync.Mutex
	state   models.AgentState
	context []llmgateway.CompletionMessage
}

// Pool is the bounded runtime agent set.
type Pool struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	sem     chan struct{}
	store   AgentStore
	gateway *llmgateway.Gateway
	tracker *router.Tracker
	now     func() time.Time
}

// New builds an empty Pool bound to a store, gateway, and score tracker.
func New(store AgentStore, gateway *llmgateway.Gateway, tracker *router.Tracker) *Pool {
	return &Pool{
		handles: make(map[string]*Handle),
		sem:     make(chan struct{}, MaxPoolSize),
		store:   store,
		gateway: gateway,
		tracker: tracker,
		now:     time.Now,
	}
}

// LoadAll hydrates handles from AgentState rows.
func (p *Pool) LoadAll(ctx context.Context) error {
	agents, err := p.store.LoadAgents(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range agents {
		p.handles[a.AgentID] = &Handle{state: a}
	}
	return nil
}

// Spawn inserts or upserts an AgentState, failing if the pool is full and
// the agent is not already present.
func (p *Pool) Spawn(ctx context.Context, agent models.AgentState) error {
	p.mu.Lock()
	if _, exists := p.handles[agent.AgentID]; !exists && len(p.handles) >= MaxPoolSize {
		p.mu.Unlock()
		return errs.New(errs.KindAgent, errs.CodePoolFull, "agent pool is at capacity (%d)", MaxPoolSize)
	}
	if agent.Status == "" {
		agent.Status = models.AgentIdle
	}
	p.handles[agent.AgentID] = &Handle{state: agent}
	p.mu.Unlock()

	return p.store.SaveAgent(ctx, agent)
}

// Terminate cancels any in-flight work tracking for agentID, marks it
// disabled, persists, and removes it from the pool.
func (p *Pool) Terminate(ctx context.Context, agentID string) error {
	p.mu.Lock()
	h, ok := p.handles[agentID]
	if !ok {
		p.mu.Unlock()
		return errs.New(errs.KindAgent, "agent-not-found", "no agent %q in pool", agentID)
	}
	delete(p.handles, agentID)
	p.mu.Unlock()

	h.mu.Lock()
	h.state.Status = models.AgentDisabled
	h.state.CurrentTask = ""
	snapshot := h.state
	h.mu.Unlock()

	return p.store.SaveAgent(ctx, snapshot)
}

// Get returns the in-memory handle's current state, or false if absent.
func (p *Pool) Get(agentID string) (models.AgentState, bool) {
	p.mu.RLock()
	h, ok := p.handles[agentID]
	p.mu.RUnlock()
	if !ok {
		return models.AgentState{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, true
}

// StatusSummary is the pool-wide status projection.
type StatusSummary struct {
	CountsByStatus map[models.AgentStatus]int
	PerAgent       map[string]models.AgentStatus
}

// Status reports the pool-wide and per-agent status breakdown.
func (p *Pool) Status() StatusSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	summary := StatusSummary{
		CountsByStatus: make(map[models.AgentStatus]int),
		PerAgent:       make(map[string]models.AgentStatus),
	}
	for id, h := range p.handles {
		h.mu.Lock()
		status := h.state.Status
		h.mu.Unlock()
		summary.CountsByStatus[status]++
		summary.PerAgent[id] = status
	}
	return summary
}

// ProcessWith acquires the pool-wide semaphore and runs the agent's
// process state machine.
func (p *Pool) ProcessWith(ctx context.Context, agentID, message string, opts ProcessOptions) (ProcessResult, error) {
	p.mu.RLock()
	h, ok := p.handles[agentID]
	p.mu.RUnlock()
	if !ok {
		return ProcessResult{}, errs.New(errs.KindAgent, "agent-not-found", "no agent %q in pool", agentID)
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ProcessResult{}, ctx.Err()
	}
	defer func() { <-p.sem }()

	return p.process(ctx, h, message, opts)
}

// ParallelTask is one run_parallel batch entry.
type ParallelTask struct {
	AgentID string
	Message string
	Opts    ProcessOptions
}

// RunParallel fans out ProcessWith calls; a task error produces an error
// result in that slot rather than failing the batch.
func (p *Pool) RunParallel(ctx context.Context, tasks []ParallelTask) []ProcessResult {
	results := make([]ProcessResult, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, task := range tasks {
		go func(i int, task ParallelTask) {
			defer wg.Done()
			res, err := p.ProcessWith(ctx, task.AgentID, task.Message, task.Opts)
			if err != nil {
				res.AgentID = task.AgentID
				res.Err = err
			}
			results[i] = res
		}(i, task)
	}
	wg.Wait()
	return results
}

func defaultContextWindow(n int) int {
	if n <= 0 {
		return models.DefaultContextWindow
	}
	return n
}

// process runs one message through one agent's state machine.
func (p *Pool) process(ctx context.Context, h *Handle, message string, opts ProcessOptions) (ProcessResult, error) {
	h.mu.Lock()
	if h.state.Status == models.AgentDisabled {
		agentID := h.state.AgentID
		h.mu.Unlock()
		return ProcessResult{}, errs.New(errs.KindAgent, errs.CodeDisabledAgent, "agent %q is disabled", agentID)
	}

	h.state.Status = models.AgentBusy
	h.state.CurrentTask = truncate(message, 200)
	h.context = append(h.context, llmgateway.CompletionMessage{Role: "user", Content: message})

	window := defaultContextWindow(opts.ContextWindow)
	outbound := buildOutbound(opts.SystemPrompt, h.context, window)
	model := h.state.Model
	agentID := h.state.AgentID
	h.mu.Unlock()

	start := p.now()
	resp, err := p.gateway.Complete(ctx, llmgateway.CompletionRequest{
		Model:     model,
		Messages:  outbound,
		Tools:     opts.Tools,
		MaxTokens: 4096,
	})
	latency := p.now().Sub(start)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.state.ConsecutiveFailures++
		h.state.CurrentTask = ""
		if h.state.ConsecutiveFailures >= consecutiveFailureLimit {
			h.state.Status = models.AgentError
		} else {
			h.state.Status = models.AgentIdle
		}
		if p.tracker != nil {
			_, _ = p.tracker.UpdateScores(ctx, agentID, false, latency.Milliseconds(), 0)
		}
		return ProcessResult{AgentID: agentID, Err: err}, err
	}

	h.context = append(h.context, llmgateway.CompletionMessage{Role: "assistant", Content: resp.Content})
	h.state.ConsecutiveFailures = 0
	h.state.LastActiveAt = p.now()
	h.state.Status = models.AgentIdle
	h.state.CurrentTask = ""

	if p.tracker != nil {
		_, _ = p.tracker.UpdateScores(ctx, agentID, true, latency.Milliseconds(), 0)
	}

	return ProcessResult{
		AgentID:      agentID,
		Content:      resp.Content,
		Thinking:     resp.Thinking,
		ToolCalls:    resp.ToolCalls,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		LatencyMS:    latency.Milliseconds(),
	}, nil
}

func buildOutbound(systemPrompt string, context []llmgateway.CompletionMessage, window int) []llmgateway.CompletionMessage {
	var out []llmgateway.CompletionMessage
	if systemPrompt != "" {
		out = append(out, llmgateway.CompletionMessage{Role: "system", Content: systemPrompt})
	}
	start := 0
	if len(context) > window {
		start = len(context) - window
	}
	return append(out, context[start:]...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
