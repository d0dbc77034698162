// Package llmgateway is the thin adapter around the external LLM
// service: resolve a model alias through a catalog,
// apply a per-instance circuit breaker, dispatch to a provider, and
// extract inline "thinking" content from the response.
package llmgateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
)

// CompletionMessage is one entry in a completion request's message list.
type CompletionMessage struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
	ToolCallID string
}

// ToolCall mirrors models.ToolCall without importing pkg/models, keeping
// this package's wire contract independent of the persistence model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec is an OpenAI-style function-calling tool declaration.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// CompletionRequest is the gateway's complete()/stream() input.
type CompletionRequest struct {
	Model          string
	Messages       []CompletionMessage
	Temperature    float64
	MaxTokens      int
	Tools          []ToolSpec
	EnableThinking bool
}

// FinishReason enumerates why a completion stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// CompletionResponse is the gateway's complete() output. Thinking and
// ToolCalls are explicit optional fields.
type CompletionResponse struct {
	Content      string
	Thinking     string
	ToolCalls    []ToolCall
	Model        string
	InputTokens  int
	OutputTokens int
	FinishReason FinishReason
}

// CompletionChunk is one increment of a streamed response.
type CompletionChunk struct {
	ContentDelta  string
	ThinkingDelta string
	ToolCalls     []ToolCall
	FinishReason  FinishReason
	Final         *CompletionResponse // set only on the terminal chunk
}

// Provider is the contract a concrete LLM backend implements: a blocking
// Complete and a chunked Stream. Providers are the boundary where the
// external service is reached (see internal/llmgateway/providers).
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Stream(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
}

// breakerState is the per-gateway circuit breaker.
type breakerState struct {
	mu                  sync.Mutex
	consecutiveFailures int
	openUntil           time.Time
}

const circuitBreakerThreshold = 5
const circuitBreakerCooldown = 30 * time.Second

func (b *breakerState) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consecutiveFailures < circuitBreakerThreshold {
		return true
	}
	if now.After(b.openUntil) {
		// Cooldown expired: allow a trial call and reset the streak so a
		// single success closes the breaker again.
		b.consecutiveFailures = 0
		return true
	}
	return false
}

func (b *breakerState) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

func (b *breakerState) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	if b.consecutiveFailures >= circuitBreakerThreshold {
		b.openUntil = now.Add(circuitBreakerCooldown)
	}
}

// Gateway resolves a model alias, applies the circuit breaker, dispatches
// to the matching provider, and extracts thinking content.
type Gateway struct {
	catalog   *Catalog
	providers map[string]Provider // by catalog entry's Provider field
	breaker   *breakerState
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger (defaults to slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithNow overrides the clock (tests only).
func WithNow(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// NewGateway builds a Gateway over a model catalog and a set of providers
// keyed by the catalog's `provider` field (e.g. "anthropic", "openai").
func NewGateway(catalog *Catalog, providers map[string]Provider, opts ...Option) *Gateway {
	g := &Gateway{
		catalog:   catalog,
		providers: providers,
		breaker:   &breakerState{},
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Healthy reports whether the circuit breaker currently allows calls. Used
// by the heartbeat subsystem's liveness check.
func (g *Gateway) Healthy() bool {
	return g.breaker.allow(g.now())
}

// Complete resolves req.Model through the catalog, enforces the circuit
// breaker, calls the provider, and extracts thinking content.
func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if !g.breaker.allow(g.now()) {
		return nil, errs.New(errs.KindLLM, errs.CodeCircuitOpen, "llm gateway circuit is open")
	}

	entry, provider, err := g.resolve(req.Model)
	if err != nil {
		g.breaker.recordFailure(g.now())
		return nil, err
	}
	req.Model = entry.Model

	resp, err := provider.Complete(ctx, req)
	if err != nil {
		g.breaker.recordFailure(g.now())
		return nil, errs.Wrap(errs.KindLLM, "provider-error", err)
	}
	g.breaker.recordSuccess()

	extractThinking(resp)
	return resp, nil
}

// Stream is the streaming counterpart of Complete. The circuit breaker is
// checked once up front; individual chunk failures are the caller's
// concern (the channel simply closes on provider error).
func (g *Gateway) Stream(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	if !g.breaker.allow(g.now()) {
		return nil, errs.New(errs.KindLLM, errs.CodeCircuitOpen, "llm gateway circuit is open")
	}

	entry, provider, err := g.resolve(req.Model)
	if err != nil {
		g.breaker.recordFailure(g.now())
		return nil, err
	}
	req.Model = entry.Model

	upstream, err := provider.Stream(ctx, req)
	if err != nil {
		g.breaker.recordFailure(g.now())
		return nil, errs.Wrap(errs.KindLLM, "provider-error", err)
	}

	out := make(chan CompletionChunk)
	go func() {
		defer close(out)
		failed := false
		for chunk := range upstream {
			if chunk.Final != nil {
				extractThinking(chunk.Final)
			} else if chunk.ThinkingDelta == "" && chunk.ContentDelta != "" {
				chunk.ContentDelta, chunk.ThinkingDelta = stripThinkTags(chunk.ContentDelta)
			}
			if chunk.FinishReason == FinishError {
				failed = true
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if failed {
			g.breaker.recordFailure(g.now())
		} else {
			g.breaker.recordSuccess()
		}
	}()
	return out, nil
}

func (g *Gateway) resolve(alias string) (CatalogEntry, Provider, error) {
	entry, ok := g.catalog.Resolve(alias)
	if !ok {
		return CatalogEntry{}, nil, errs.New(errs.KindLLM, "unknown-model", "no catalog entry for model alias %q", alias)
	}
	provider, ok := g.providers[entry.Provider]
	if !ok {
		return CatalogEntry{}, nil, errs.New(errs.KindLLM, "unknown-provider", "no provider registered for %q", entry.Provider)
	}
	return entry, provider, nil
}
