package chatengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore/memory"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/toolsregistry"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

type stubProvider struct {
	responses []*llmgateway.CompletionResponse
	calls     int
}

func (p *stubProvider) Complete(ctx context.Context, req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
	r := p.responses[p.calls]
	if p.calls < len(p.responses)-1 {
		p.calls++
	}
	return r, nil
}

func (p *stubProvider) Stream(ctx context.Context, req llmgateway.CompletionRequest) (<-chan llmgateway.CompletionChunk, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, responses []*llmgateway.CompletionResponse) (*Engine, *memory.Store, *models.Session) {
	t.Helper()
	store := memory.New()
	catalog := llmgateway.NewCatalog(map[string]llmgateway.CatalogEntry{
		"test-model": {Provider: "stub", Model: "test-model"},
	})
	gw := llmgateway.NewGateway(catalog, map[string]llmgateway.Provider{"stub": &stubProvider{responses: responses}})
	lookup := func(agentID string) (models.AgentState, bool) { return models.AgentState{}, false }
	engine := New(store, gw, nil, lookup)

	now := time.Now()
	sess := &models.Session{AgentID: "main", Type: models.SessionChat, Model: "test-model", ContextWindow: 50, Status: models.SessionActive, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return engine, store, sess
}

func TestSendMessageSimpleTurn(t *testing.T) {
	engine, store, sess := newTestEngine(t, []*llmgateway.CompletionResponse{
		{Content: "hello back", Model: "test-model", FinishReason: llmgateway.FinishStop},
	})

	res, err := engine.SendMessage(context.Background(), sess.ID, "hi there", false, false)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Content != "hello back" {
		t.Fatalf("unexpected content: %q", res.Content)
	}

	msgs, err := store.GetMessages(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages (user + assistant), got %d", len(msgs))
	}

	got, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "hi there" {
		t.Fatalf("expected auto-title, got %q", got.Title)
	}
}

func TestSendMessageDedupGuard(t *testing.T) {
	engine, _, sess := newTestEngine(t, []*llmgateway.CompletionResponse{
		{Content: "ok", Model: "test-model", FinishReason: llmgateway.FinishStop},
	})

	if _, err := engine.SendMessage(context.Background(), sess.ID, "same", false, false); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := engine.SendMessage(context.Background(), sess.ID, "same", false, false); err == nil {
		t.Fatalf("expected dedup rejection on identical immediate resend")
	}
}

func TestSendMessageSessionNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	if _, err := engine.SendMessage(context.Background(), "missing", "hi", false, false); err == nil {
		t.Fatalf("expected session-not-found error")
	}
}

// repeatingProvider always answers with the same response and counts calls.
type repeatingProvider struct {
	resp  *llmgateway.CompletionResponse
	calls int
}

func (p *repeatingProvider) Complete(ctx context.Context, req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
	p.calls++
	return p.resp, nil
}

func (p *repeatingProvider) Stream(ctx context.Context, req llmgateway.CompletionRequest) (<-chan llmgateway.CompletionChunk, error) {
	return nil, nil
}

func TestToolLoopTerminatesAndCapsFailingTool(t *testing.T) {
	store := memory.New()
	catalog := llmgateway.NewCatalog(map[string]llmgateway.CatalogEntry{
		"test-model": {Provider: "stub", Model: "test-model"},
	})
	provider := &repeatingProvider{resp: &llmgateway.CompletionResponse{
		Content:      "calling the tool again",
		Model:        "test-model",
		FinishReason: llmgateway.FinishToolCalls,
		ToolCalls:    []llmgateway.ToolCall{{ID: "t1", Name: "calc__run", Arguments: "{}"}},
	}}
	gw := llmgateway.NewGateway(catalog, map[string]llmgateway.Provider{"stub": provider})

	invocations := 0
	tools := toolsregistry.New()
	tools.RegisterSkill(toolsregistry.Skill{
		Name: "calc",
		Methods: []toolsregistry.MethodSpec{{
			Name: "run",
			Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
				invocations++
				return "", errors.New("always fails")
			},
		}},
	})

	lookup := func(agentID string) (models.AgentState, bool) { return models.AgentState{}, false }
	engine := New(store, gw, tools, lookup)

	now := time.Now()
	sess := &models.Session{AgentID: "main", Type: models.SessionChat, Model: "test-model", ContextWindow: 50, Status: models.SessionActive, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	res, err := engine.SendMessage(context.Background(), sess.ID, "run the calc", false, true)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if invocations != PerToolFailureCap {
		t.Fatalf("tool invoked %d times, want %d (then refusals)", invocations, PerToolFailureCap)
	}
	if provider.calls > MaxToolLoopIterations {
		t.Fatalf("LLM called %d times, cap is %d", provider.calls, MaxToolLoopIterations)
	}
	if res.MessageID == "" || res.Content != "calling the tool again" {
		t.Fatalf("expected final assistant message persisted with last content, got %+v", res)
	}
	msgs, err := store.GetMessages(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Role != models.RoleAssistant || last.Content != "calling the tool again" {
		t.Fatalf("expected final assistant message last, got role=%s content=%q", last.Role, last.Content)
	}
}

func TestAutoTitleTruncatesAndFallsBack(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	if got := AutoTitle("   ", now); got != "Session 2026-01-02 03:04" {
		t.Fatalf("empty input fallback: %q", got)
	}
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	title := AutoTitle(long, now)
	if len([]rune(title)) != 81 {
		t.Fatalf("expected 80 chars + ellipsis, got %d: %q", len([]rune(title)), title)
	}
}
