// Package chatengine runs a full non-streaming chat turn (context
// assembly -> LLM -> tool loop -> persist), session CRUD, and
// auto-titling. It composes contextpack, llmgateway, toolsregistry,
// router (for the LLM error fallback chain), and protection in turn
// order.
package chatengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/contextpack"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/observability"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/protection"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/router"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/toolsregistry"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// MaxToolLoopIterations and PerToolFailureCap bound the tool-calling
// loop within one turn.
const (
	MaxToolLoopIterations = 10
	PerToolFailureCap     = 3
	dedupWindow           = 5 * time.Second
)

// Engine runs chat turns and owns session CRUD.
type Engine struct {
	store   sessionstore.Store
	gateway *llmgateway.Gateway
	tools   *toolsregistry.Registry
	lookup  router.AgentLookup
	locks   *protection.SessionLocks
	limiter *protection.RateLimiter
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time // "sessionID|content" -> last-seen time, for dedup guard
}

// New builds an Engine. lookup resolves an agent by id for the LLM
// fallback chain.
func New(store sessionstore.Store, gateway *llmgateway.Gateway, tools *toolsregistry.Registry, lookup router.AgentLookup) *Engine {
	return &Engine{
		store:  store,
		gateway: gateway,
		tools:  tools,
		lookup: lookup,
		locks:  protection.NewSessionLocks(),
		logger: slog.Default(),
		now:    time.Now,
		recent: make(map[string]time.Time),
	}
}

// WithLogger overrides the structured logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine { e.logger = l; return e }

// WithRateLimiter enables the sliding-window rate limits on every turn.
// Nil (the default) disables rate limiting.
func (e *Engine) WithRateLimiter(l *protection.RateLimiter) *Engine { e.limiter = l; return e }

// preflight runs the protection checks shared by SendMessage and
// StreamMessage: dedup, rate limits, validation/sanitization, injection
// logging, and the session size cap. Returns the cleaned content.
func (e *Engine) preflight(sess *models.Session, sessionID, content string) (string, error) {
	if e.isDuplicate(sessionID, content) {
		return "", errs.New(errs.KindValidation, "duplicate-message", "identical message submitted within %s", dedupWindow)
	}
	if e.limiter != nil {
		if err := e.limiter.Allow(sessionID, sess.AgentID); err != nil {
			return "", err
		}
	}
	cleaned, err := protection.Validate(models.RoleUser, content)
	if err != nil {
		return "", err
	}
	protection.DetectInjection(sessionID, cleaned, func(sessionID, pattern, _ string) {
		e.logger.Warn("possible prompt injection", "session_id", sessionID, "pattern", pattern)
	})
	if err := protection.CheckSessionSize(sess.MessageCount); err != nil {
		return "", err
	}
	return cleaned, nil
}

// Result is send_message's return value.
type Result struct {
	MessageID    string
	Content      string
	Thinking     string
	ToolCalls    []models.ToolCall
	ToolResults  []models.ToolResult
	Model        string
	TokensIn     int
	TokensOut    int
	Cost         float64
	LatencyMS    int64
	FinishReason llmgateway.FinishReason
}

// SendMessage runs one full chat turn.
func (e *Engine) SendMessage(ctx context.Context, sessionID, content string, enableThinking, enableTools bool) (*Result, error) {
	unlock := e.locks.Acquire(sessionID)
	defer unlock()

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errs.New(errs.KindSession, errs.CodeSessionNotFound, "session %q not found", sessionID)
	}
	ctx, span := observability.StartTurnSpan(ctx, sessionID, sess.AgentID)
	defer span.End()

	cleaned, err := e.preflight(sess, sessionID, content)
	if err != nil {
		return nil, err
	}

	now := e.now()
	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   cleaned,
		CreatedAt: now,
	}
	if err := e.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, errs.Wrap(errs.KindSession, "persist-user-message", err)
	}

	history, err := e.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, errs.Wrap(errs.KindSession, "load-history", err)
	}

	outbound, err := e.buildOutbound(sess, history)
	if err != nil {
		var ee *errs.EngineError
		if !errors.As(err, &ee) || ee.Kind != errs.KindContext {
			return nil, err
		}
		// Budget exhausted by pinned messages alone is a documented
		// boundary case: proceed with whatever contextpack
		// still returned rather than failing the turn.
	}

	toolFailures := map[string]int{}
	var toolSpecs []llmgateway.ToolSpec
	if enableTools && e.tools != nil {
		toolSpecs = e.tools.Schemas()
	}

	var (
		lastResp      *llmgateway.CompletionResponse
		totalLatency  time.Duration
		toolIterations int
		allToolCalls   []models.ToolCall
		allToolResults []models.ToolResult
	)

	model := sess.Model
	temperature := 0.7
	if sess.Temperature != nil {
		temperature = *sess.Temperature
	}
	maxTokens := sess.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	for iter := 0; iter < MaxToolLoopIterations; iter++ {
		req := llmgateway.CompletionRequest{
			Model:          model,
			Messages:       toCompletionMessages(outbound),
			Temperature:    temperature,
			MaxTokens:      maxTokens,
			Tools:          toolSpecs,
			EnableThinking: enableThinking,
		}

		resp, latency, err := e.completeWithFallback(ctx, sess.AgentID, req)
		if err != nil {
			return nil, errs.Wrap(errs.KindLLM, "completion-failed", err)
		}
		totalLatency += latency
		lastResp = resp

		if resp.FinishReason != llmgateway.FinishToolCalls || len(resp.ToolCalls) == 0 {
			break
		}

		toolIterations++
		assistantMsg := &models.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			Thinking:  resp.Thinking,
			ToolCalls: toModelToolCalls(resp.ToolCalls),
			Model:     resp.Model,
			CreatedAt: e.now(),
		}
		if err := e.store.AppendMessage(ctx, assistantMsg); err != nil {
			return nil, errs.Wrap(errs.KindSession, "persist-assistant-message", err)
		}
		outbound = append(outbound, *assistantMsg)
		allToolCalls = append(allToolCalls, assistantMsg.ToolCalls...)

		for _, tc := range resp.ToolCalls {
			var result *toolsregistry.Result
			if toolFailures[tc.Name] >= PerToolFailureCap {
				result = &toolsregistry.Result{
					ToolCallID: tc.ID,
					Name:       tc.Name,
					Success:    false,
					Content:    fmt.Sprintf(`{"error":"tool %s failed %d times this turn; further calls are refused"}`, tc.Name, PerToolFailureCap),
				}
			} else if e.tools != nil {
				result = e.tools.Dispatch(ctx, tc.ID, tc.Name, []byte(tc.Arguments))
			} else {
				result = &toolsregistry.Result{ToolCallID: tc.ID, Name: tc.Name, Content: `{"error":"no tool registry configured"}`}
			}
			if !result.Success {
				toolFailures[tc.Name]++
			}

			toolMsg := &models.Message{
				ID:         uuid.NewString(),
				SessionID:  sessionID,
				Role:       models.RoleTool,
				Content:    result.Content,
				ToolCallID: tc.ID,
				CreatedAt:  e.now(),
			}
			if err := e.store.AppendMessage(ctx, toolMsg); err != nil {
				return nil, errs.Wrap(errs.KindSession, "persist-tool-message", err)
			}
			outbound = append(outbound, *toolMsg)
			modelResult := models.ToolResult{ToolCallID: result.ToolCallID, Name: result.Name, Content: result.Content, Success: result.Success, DurationMS: result.DurationMS}
			allToolResults = append(allToolResults, modelResult)
		}
	}

	finalMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   lastResp.Content,
		Thinking:  lastResp.Thinking,
		Model:     lastResp.Model,
		TokensIn:  lastResp.InputTokens,
		TokensOut: lastResp.OutputTokens,
		LatencyMS: totalLatency.Milliseconds(),
		CreatedAt: e.now(),
	}
	if err := e.store.AppendMessage(ctx, finalMsg); err != nil {
		return nil, errs.Wrap(errs.KindSession, "persist-final-message", err)
	}

	// Step 7: counter update and auto-title happen in a transaction
	// deliberately separate from message persistence above.
	deltaMessages := 1 + 2*toolIterations
	if err := e.store.UpdateCounters(ctx, sessionID, deltaMessages, int64(lastResp.InputTokens), int64(lastResp.OutputTokens), 0, e.now()); err != nil {
		e.logger.Error("update session counters failed; messages remain persisted", "session_id", sessionID, "err", err)
	}
	if sess.Title == "" {
		title := AutoTitle(cleaned, e.now())
		sess.Title = title
		_ = e.store.UpdateSession(ctx, sess)
	}

	return &Result{
		MessageID:    finalMsg.ID,
		Content:      lastResp.Content,
		Thinking:     lastResp.Thinking,
		ToolCalls:    allToolCalls,
		ToolResults:  allToolResults,
		Model:        lastResp.Model,
		TokensIn:     lastResp.InputTokens,
		TokensOut:    lastResp.OutputTokens,
		LatencyMS:    totalLatency.Milliseconds(),
		FinishReason: lastResp.FinishReason,
	}, nil
}

// isDuplicate is the 5-second identical-message guard.
func (e *Engine) isDuplicate(sessionID, content string) bool {
	key := sessionID + "|" + content
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, t := range e.recent {
		if now.Sub(t) > dedupWindow {
			delete(e.recent, k)
		}
	}
	if last, ok := e.recent[key]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	e.recent[key] = now
	return false
}

// buildOutbound assembles the bounded context and applies
// the tool-ordering cleanup rules before sending to the LLM.
func (e *Engine) buildOutbound(sess *models.Session, history []models.Message) ([]models.Message, error) {
	window := sess.ContextWindow
	if window <= 0 {
		window = models.DefaultContextWindow
	}
	cleaned := contextpack.CleanToolOrdering(history)
	if sess.SystemPrompt != "" {
		hasSystem := len(cleaned) > 0 && cleaned[0].Role == models.RoleSystem
		if !hasSystem {
			sysMsg := models.Message{Role: models.RoleSystem, Content: sess.SystemPrompt, CreatedAt: sess.CreatedAt}
			cleaned = append([]models.Message{sysMsg}, cleaned...)
		}
	}
	assembled, err := contextpack.Assemble(cleaned, contextpack.Options{MaxTokens: estimateBudget(window), Reserve: 1024})
	return assembled, err
}

// estimateBudget approximates a token budget from the session's
// context_window message count for callers that have no model-specific
// limit configured; a production deployment would source this from the
// catalog entry's MaxTokens instead.
func estimateBudget(contextWindow int) int {
	return contextWindow * 400
}

// completeWithFallback calls the gateway, walking the agent's fallback
// chain on error until one model succeeds or the chain is
// exhausted.
func (e *Engine) completeWithFallback(ctx context.Context, agentID string, req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, time.Duration, error) {
	start := e.now()
	resp, err := e.gateway.Complete(ctx, req)
	if err == nil {
		return resp, e.now().Sub(start), nil
	}

	if e.lookup == nil {
		return nil, e.now().Sub(start), err
	}
	chain := router.FallbackChain(agentID, e.lookup)
	var lastErr = err
	for _, step := range chain {
		if step.Model == req.Model {
			continue
		}
		req.Model = step.Model
		resp, err := e.gateway.Complete(ctx, req)
		if err == nil {
			return resp, e.now().Sub(start), nil
		}
		lastErr = err
	}
	return nil, e.now().Sub(start), lastErr
}

func toCompletionMessages(msgs []models.Message) []llmgateway.CompletionMessage {
	out := make([]llmgateway.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := llmgateway.CompletionMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, llmgateway.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: string(tc.Arguments)})
		}
		out = append(out, cm)
	}
	return out
}

func toModelToolCalls(tcs []llmgateway.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, models.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: []byte(tc.Arguments)})
	}
	return out
}

// AutoTitle derives a session title from the first user message: first
// line, trimmed and collapsed, capped at 80 chars; falls back to a
// timestamped default for empty input. Re-titling a session that already
// has a title is a no-op, enforced by the caller only invoking this when
// sess.Title == "".
func AutoTitle(firstUserMessage string, now time.Time) string {
	trimmed := strings.TrimSpace(firstUserMessage)
	if trimmed == "" {
		return fmt.Sprintf("Session %s", now.Format("2006-01-02 15:04"))
	}
	line := trimmed
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return fmt.Sprintf("Session %s", now.Format("2006-01-02 15:04"))
	}
	const maxLen = 80
	runes := []rune(line)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "…"
	}
	return line
}
