// This file implements the streaming half of one chat turn: the same
// validation/persist/tool-loop shape as SendMessage, but driven by the gateway's chunked Stream instead of Complete, forwarding
// every chunk to the caller's emit callback as it arrives.
package chatengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/observability"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/toolsregistry"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// StreamEventType tags one StreamEvent for the transport layer.
type StreamEventType string

const (
	EventStreamStart StreamEventType = "stream_start"
	EventContent     StreamEventType = "content"
	EventThinking    StreamEventType = "thinking"
	EventToolCall    StreamEventType = "tool_call"
	EventToolResult  StreamEventType = "tool_result"
	EventStreamEnd   StreamEventType = "stream_end"
	EventError       StreamEventType = "error"
)

// StreamEvent is one increment forwarded to the transport's emit callback.
type StreamEvent struct {
	Type          StreamEventType
	ContentDelta  string
	ThinkingDelta string
	ToolCall      *models.ToolCall
	ToolResult    *models.ToolResult
	MessageID     string
	FinishReason  llmgateway.FinishReason
	Model         string
	TokensIn      int
	TokensOut     int
	Cost          float64
	Error         string
}

// Emit is the callback the transport layer supplies to receive events in
// arrival order. It must not block for long; the caller owns the
// WebSocket write.
type Emit func(StreamEvent)

// StreamMessage runs one streaming chat turn: same
// guard/validate/persist-user-message prologue as SendMessage, then drives
// the LLM via Stream, falling back to a non-streaming Complete to extract
// structured tool_calls when the stream's finish reason is tool_calls, and
// running the bounded tool loop exactly as SendMessage does.
func (e *Engine) StreamMessage(ctx context.Context, sessionID, content string, enableThinking, enableTools bool, emit Emit) (*Result, error) {
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
	userMsg := &models.Message{ID: uuid.NewString(), SessionID: sessionID, Role: models.RoleUser, Content: cleaned, CreatedAt: now}
	if err := e.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, errs.Wrap(errs.KindSession, "persist-user-message", err)
	}

	history, err := e.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, errs.Wrap(errs.KindSession, "load-history", err)
	}
	outbound, buildErr := e.buildOutbound(sess, history)
	if buildErr != nil {
		if ee, ok := buildErr.(*errs.EngineError); !ok || ee.Kind != errs.KindContext {
			return nil, buildErr
		}
	}

	var toolSpecs []llmgateway.ToolSpec
	if enableTools && e.tools != nil {
		toolSpecs = e.tools.Schemas()
	}
	toolFailures := map[string]int{}

	model := sess.Model
	temperature := 0.7
	if sess.Temperature != nil {
		temperature = *sess.Temperature
	}
	maxTokens := sess.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	emit(StreamEvent{Type: EventStreamStart})

	var (
		totalLatency   time.Duration
		toolIterations int
		allToolCalls   []models.ToolCall
		allToolResults []models.ToolResult
		finalContent   string
		finalThinking  string
		finalModel     string
		finalTokensIn  int
		finalTokensOut int
		finalReason    llmgateway.FinishReason
		finalMsgID     string
	)

	for iter := 0; iter < MaxToolLoopIterations; iter++ {
		req := llmgateway.CompletionRequest{
			Model:          model,
			Messages:       toCompletionMessages(outbound),
			Temperature:    temperature,
			MaxTokens:      maxTokens,
			Tools:          toolSpecs,
			EnableThinking: enableThinking,
		}

		start := e.now()
		resp, err := e.streamOneTurn(ctx, sess.AgentID, req, emit)
		totalLatency += e.now().Sub(start)
		if err != nil {
			emit(StreamEvent{Type: EventError, Error: err.Error()})
			return nil, errs.Wrap(errs.KindLLM, "completion-failed", err)
		}

		finalModel = resp.Model
		finalTokensIn, finalTokensOut = resp.InputTokens, resp.OutputTokens
		finalReason = resp.FinishReason
		finalContent, finalThinking = resp.Content, resp.Thinking

		if resp.FinishReason != llmgateway.FinishToolCalls || len(resp.ToolCalls) == 0 {
			break
		}

		// Fall back to a non-streaming completion to get
		// reliably structured tool_calls before running the tool loop.
		structured, err := e.gateway.Complete(ctx, req)
		if err != nil {
			emit(StreamEvent{Type: EventError, Error: err.Error()})
			return nil, errs.Wrap(errs.KindLLM, "tool-call-fallback-failed", err)
		}

		toolIterations++
		assistantMsg := &models.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			Content:   structured.Content,
			Thinking:  structured.Thinking,
			ToolCalls: toModelToolCalls(structured.ToolCalls),
			Model:     structured.Model,
			CreatedAt: e.now(),
		}
		// Persisted before dispatching tools so results are never
		// orphaned if the connection drops mid-loop.
		if err := e.store.AppendMessage(ctx, assistantMsg); err != nil {
			return nil, errs.Wrap(errs.KindSession, "persist-assistant-message", err)
		}
		outbound = append(outbound, *assistantMsg)
		allToolCalls = append(allToolCalls, assistantMsg.ToolCalls...)
		for _, tc := range assistantMsg.ToolCalls {
			emit(StreamEvent{Type: EventToolCall, ToolCall: &tc})
		}

		for _, tc := range structured.ToolCalls {
			var result *toolsregistry.Result
			if toolFailures[tc.Name] >= PerToolFailureCap {
				result = &toolsregistry.Result{
					ToolCallID: tc.ID, Name: tc.Name, Success: false,
					Content: fmt.Sprintf(`{"error":"tool %s failed %d times this turn; further calls are refused"}`, tc.Name, PerToolFailureCap),
				}
			} else if e.tools != nil {
				result = e.tools.Dispatch(ctx, tc.ID, tc.Name, []byte(tc.Arguments))
			} else {
				result = &toolsregistry.Result{ToolCallID: tc.ID, Name: tc.Name, Content: `{"error":"no tool registry configured"}`}
			}
			if !result.Success {
				toolFailures[tc.Name]++
			}
			toolMsg := &models.Message{ID: uuid.NewString(), SessionID: sessionID, Role: models.RoleTool, Content: result.Content, ToolCallID: tc.ID, CreatedAt: e.now()}
			if err := e.store.AppendMessage(ctx, toolMsg); err != nil {
				return nil, errs.Wrap(errs.KindSession, "persist-tool-message", err)
			}
			outbound = append(outbound, *toolMsg)
			modelResult := models.ToolResult{ToolCallID: result.ToolCallID, Name: result.Name, Content: result.Content, Success: result.Success, DurationMS: result.DurationMS}
			allToolResults = append(allToolResults, modelResult)
			emit(StreamEvent{Type: EventToolResult, ToolResult: &modelResult})
		}
	}

	finalMsg := &models.Message{
		ID: uuid.NewString(), SessionID: sessionID, Role: models.RoleAssistant,
		Content: finalContent, Thinking: finalThinking, Model: finalModel,
		TokensIn: finalTokensIn, TokensOut: finalTokensOut,
		LatencyMS: totalLatency.Milliseconds(), CreatedAt: e.now(),
	}
	if err := e.store.AppendMessage(ctx, finalMsg); err != nil {
		return nil, errs.Wrap(errs.KindSession, "persist-final-message", err)
	}
	finalMsgID = finalMsg.ID

	deltaMessages := 1 + 2*toolIterations
	if err := e.store.UpdateCounters(ctx, sessionID, deltaMessages, int64(finalTokensIn), int64(finalTokensOut), 0, e.now()); err != nil {
		e.logger.Error("update session counters failed; messages remain persisted", "session_id", sessionID, "err", err)
	}
	if sess.Title == "" {
		sess.Title = AutoTitle(cleaned, e.now())
		_ = e.store.UpdateSession(ctx, sess)
	}

	emit(StreamEvent{
		Type: EventStreamEnd, MessageID: finalMsgID, FinishReason: finalReason,
		Model: finalModel, TokensIn: finalTokensIn, TokensOut: finalTokensOut,
	})

	return &Result{
		MessageID: finalMsgID, Content: finalContent, Thinking: finalThinking,
		ToolCalls: allToolCalls, ToolResults: allToolResults, Model: finalModel,
		TokensIn: finalTokensIn, TokensOut: finalTokensOut, LatencyMS: totalLatency.Milliseconds(),
		FinishReason: finalReason,
	}, nil
}

// streamOneTurn drives one Stream call to completion, forwarding content
// and thinking deltas to emit, and returns the terminal CompletionResponse.
// On a closed channel with no terminal chunk (cancellation mid-stream),
// whatever content accumulated is returned so it can still be persisted.
func (e *Engine) streamOneTurn(ctx context.Context, agentID string, req llmgateway.CompletionRequest, emit Emit) (*llmgateway.CompletionResponse, error) {
	chunks, err := e.gateway.Stream(ctx, req)
	if err != nil {
		if e.lookup == nil {
			return nil, err
		}
		resp, _, fallbackErr := e.completeWithFallback(ctx, agentID, req)
		if fallbackErr != nil {
			return nil, fallbackErr
		}
		emit(StreamEvent{Type: EventContent, ContentDelta: resp.Content})
		return resp, nil
	}

	var accContent, accThinking string
	var last *llmgateway.CompletionResponse
	for chunk := range chunks {
		if chunk.ContentDelta != "" {
			accContent += chunk.ContentDelta
			emit(StreamEvent{Type: EventContent, ContentDelta: chunk.ContentDelta})
		}
		if chunk.ThinkingDelta != "" {
			accThinking += chunk.ThinkingDelta
			emit(StreamEvent{Type: EventThinking, ThinkingDelta: chunk.ThinkingDelta})
		}
		if chunk.Final != nil {
			last = chunk.Final
		}
	}
	if last == nil {
		return &llmgateway.CompletionResponse{Content: accContent, Thinking: accThinking, FinishReason: llmgateway.FinishStop}, nil
	}
	if last.Content == "" {
		last.Content = accContent
	}
	if last.Thinking == "" {
		last.Thinking = accThinking
	}
	return last, nil
}
