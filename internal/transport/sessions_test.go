package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/agentpool"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/auth"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/chatengine"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/config"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/roundtable"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/router"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/scheduler"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore/memory"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/swarm"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/toolsregistry"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

type stubProvider struct{}

func (stubProvider) Complete(ctx context.Context, req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
	return &llmgateway.CompletionResponse{Content: "ok", Model: req.Model, FinishReason: llmgateway.FinishStop}, nil
}

func (stubProvider) Stream(ctx context.Context, req llmgateway.CompletionRequest) (<-chan llmgateway.CompletionChunk, error) {
	out := make(chan llmgateway.CompletionChunk, 1)
	out <- llmgateway.CompletionChunk{Final: &llmgateway.CompletionResponse{Content: "ok", FinishReason: llmgateway.FinishStop}}
	close(out)
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.New()
	catalog := llmgateway.NewCatalog(map[string]llmgateway.CatalogEntry{"test-model": {Provider: "stub", Model: "test-model"}})
	gw := llmgateway.NewGateway(catalog, map[string]llmgateway.Provider{"stub": stubProvider{}})
	tools := toolsregistry.New()
	tracker := router.NewTracker(store)
	pool := agentpool.New(store, gw, tracker)

	lookup := func(agentID string) (models.AgentState, bool) { return models.AgentState{}, false }
	chat := chatengine.New(store, gw, tools, lookup)

	caller := func(ctx context.Context, agentID, message string) (string, error) {
		return "reply from " + agentID, nil
	}
	rt := roundtable.New(store, roundtable.AgentCallerFunc(caller), tracker)
	sw := swarm.New(store, swarm.AgentCallerFunc(caller), tracker)

	sched := scheduler.New(store, pool, tools)

	runtime := &config.Runtime{
		Store:      store,
		Gateway:    gw,
		Tools:      tools,
		Tracker:    tracker,
		Pool:       pool,
		Scheduler:  sched,
		Chat:       chat,
		Roundtable: rt,
		Swarm:      sw,
	}

	authSvc := auth.NewService(auth.Config{}, nil)
	return New(runtime, authSvc, nil)
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetSession(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/engine/chat/sessions", createSessionRequest{
		AgentID: "main", Model: "test-model",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	var created models.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created session: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated session id")
	}

	rec = doRequest(t, handler, http.MethodGet, "/engine/chat/sessions/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestGetSession_NotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/engine/chat/sessions/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSendMessage(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/engine/chat/sessions", createSessionRequest{
		AgentID: "main", Model: "test-model",
	})
	var created models.Session
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doRequest(t, handler, http.MethodPost, "/engine/chat/sessions/"+created.ID+"/messages", sendMessageRequest{
		Content: "hello there",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("send message: status %d body %s", rec.Code, rec.Body.String())
	}
	var result chatengine.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Content != "ok" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
}

func TestCronCRUD(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/engine/cron", models.CronJob{
		Name: "daily-digest", Schedule: "@daily", TargetAgentID: "main",
		PayloadType: models.PayloadPrompt, Payload: map[string]any{"prompt": "summarize"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cron: status %d body %s", rec.Code, rec.Body.String())
	}
	var job models.CronJob
	_ = json.Unmarshal(rec.Body.Bytes(), &job)

	rec = doRequest(t, handler, http.MethodGet, "/engine/cron/"+job.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get cron: status %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/engine/cron/"+job.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete cron: status %d", rec.Code)
	}
}

func TestRoundtableAsyncLifecycle(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/engine/roundtable/async", roundtableRequest{
		Topic: "plan the week", AgentIDs: []string{"a1", "a2"}, Rounds: 1, SynthesizerID: "a1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("async start: status %d body %s", rec.Code, rec.Body.String())
	}
	var started map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil || started["key"] == "" {
		t.Fatalf("expected a run key, got %s", rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = doRequest(t, handler, http.MethodGet, "/engine/roundtable/async/status/"+started["key"], nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status poll: %d body %s", rec.Code, rec.Body.String())
		}
		var run struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if run.Status == "completed" {
			break
		}
		if run.Status == "failed" {
			t.Fatalf("async run failed: %s", run.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("async run did not complete in time (status %q)", run.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAgentStatus(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/engine/agents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("agent status: status %d body %s", rec.Code, rec.Body.String())
	}
}
