package chatengine

import (
	"context"
	"testing"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore/memory"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

type streamingStubProvider struct {
	chunks      []llmgateway.CompletionChunk
	toolResp    *llmgateway.CompletionResponse
	completeErr error
}

func (p *streamingStubProvider) Complete(ctx context.Context, req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
	if p.completeErr != nil {
		return nil, p.completeErr
	}
	return p.toolResp, nil
}

func (p *streamingStubProvider) Stream(ctx context.Context, req llmgateway.CompletionRequest) (<-chan llmgateway.CompletionChunk, error) {
	out := make(chan llmgateway.CompletionChunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func newStreamingTestEngine(t *testing.T, provider *streamingStubProvider) (*Engine, *models.Session) {
	t.Helper()
	store := memory.New()
	catalog := llmgateway.NewCatalog(map[string]llmgateway.CatalogEntry{"test-model": {Provider: "stub", Model: "test-model"}})
	gw := llmgateway.NewGateway(catalog, map[string]llmgateway.Provider{"stub": provider})
	lookup := func(agentID string) (models.AgentState, bool) { return models.AgentState{}, false }
	engine := New(store, gw, nil, lookup)

	now := time.Now()
	sess := &models.Session{AgentID: "main", Type: models.SessionChat, Model: "test-model", ContextWindow: 50, Status: models.SessionActive, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return engine, sess
}

func TestStreamMessage_SimpleTurn(t *testing.T) {
	provider := &streamingStubProvider{
		chunks: []llmgateway.CompletionChunk{
			{ContentDelta: "hel"},
			{ContentDelta: "lo"},
			{Final: &llmgateway.CompletionResponse{Content: "hello", Model: "test-model", FinishReason: llmgateway.FinishStop}},
		},
	}
	engine, sess := newStreamingTestEngine(t, provider)

	var events []StreamEvent
	res, err := engine.StreamMessage(context.Background(), sess.ID, "hi", false, false, func(e StreamEvent) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if res.Content != "hello" {
		t.Fatalf("unexpected final content: %q", res.Content)
	}

	var sawStart, sawEnd bool
	var deltas string
	for _, e := range events {
		switch e.Type {
		case EventStreamStart:
			sawStart = true
		case EventStreamEnd:
			sawEnd = true
		case EventContent:
			deltas += e.ContentDelta
		}
	}
	if !sawStart || !sawEnd {
		t.Fatalf("expected stream_start and stream_end events, got %+v", events)
	}
	if deltas != "hello" {
		t.Fatalf("expected concatenated deltas %q, got %q", "hello", deltas)
	}
}

func TestStreamMessage_ToolCallFallback(t *testing.T) {
	provider := &streamingStubProvider{
		chunks: []llmgateway.CompletionChunk{
			{Final: &llmgateway.CompletionResponse{
				FinishReason: llmgateway.FinishToolCalls,
				ToolCalls:    []llmgateway.ToolCall{{ID: "call-1", Name: "noop", Arguments: "{}"}},
			}},
		},
		toolResp: &llmgateway.CompletionResponse{
			Content: "", Model: "test-model", FinishReason: llmgateway.FinishToolCalls,
			ToolCalls: []llmgateway.ToolCall{{ID: "call-1", Name: "noop", Arguments: "{}"}},
		},
	}
	engine, sess := newStreamingTestEngine(t, provider)

	var gotEnd bool
	_, err := engine.StreamMessage(context.Background(), sess.ID, "call a tool", false, true, func(e StreamEvent) {
		if e.Type == EventStreamEnd {
			gotEnd = true
		}
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if !gotEnd {
		t.Fatal("expected a stream_end event even when the first turn requested tool calls")
	}
}
