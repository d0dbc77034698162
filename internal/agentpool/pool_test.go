package agentpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/router"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

type memStore struct {
	mu     sync.Mutex
	agents map[string]models.AgentState
}

func newMemStore() *memStore { return &memStore{agents: map[string]models.AgentState{}} }

func (s *memStore) LoadAgents(ctx context.Context) ([]models.AgentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AgentState, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) SaveAgent(ctx context.Context, agent models.AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.AgentID] = agent
	return nil
}

type fakeProvider struct {
	fn func(req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error)
}

func (f *fakeProvider) Complete(ctx context.Context, req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
	return f.fn(req)
}
func (f *fakeProvider) Stream(ctx context.Context, req llmgateway.CompletionRequest) (<-chan llmgateway.CompletionChunk, error) {
	ch := make(chan llmgateway.CompletionChunk)
	close(ch)
	return ch, nil
}

func testGateway(fn func(req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error)) *llmgateway.Gateway {
	catalog := llmgateway.NewCatalog(map[string]llmgateway.CatalogEntry{
		"test-model": {Provider: "fake", Model: "test-model"},
	})
	return llmgateway.NewGateway(catalog, map[string]llmgateway.Provider{"fake": &fakeProvider{fn: fn}})
}

func TestSpawnFailsWhenPoolFull(t *testing.T) {
	store := newMemStore()
	pool := New(store, testGateway(nil), nil)
	ctx := context.Background()

	for i := 0; i < MaxPoolSize; i++ {
		id := string(rune('a' + i))
		if err := pool.Spawn(ctx, models.AgentState{AgentID: id, Model: "test-model"}); err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
	}
	if err := pool.Spawn(ctx, models.AgentState{AgentID: "overflow", Model: "test-model"}); err == nil {
		t.Fatalf("expected pool-full error on 6th spawn")
	}
}

func TestProcessWithTransitionsIdleBusyIdle(t *testing.T) {
	store := newMemStore()
	gw := testGateway(func(req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
		return &llmgateway.CompletionResponse{Content: "reply"}, nil
	})
	pool := New(store, gw, nil)
	ctx := context.Background()
	_ = pool.Spawn(ctx, models.AgentState{AgentID: "a1", Model: "test-model", Status: models.AgentIdle})

	result, err := pool.ProcessWith(ctx, "a1", "hello", ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessWith() error = %v", err)
	}
	if result.Content != "reply" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
	state, _ := pool.Get("a1")
	if state.Status != models.AgentIdle {
		t.Fatalf("expected agent back to idle, got %v", state.Status)
	}
	if state.ConsecutiveFailures != 0 {
		t.Fatalf("expected consecutive failures reset, got %d", state.ConsecutiveFailures)
	}
}

func TestProcessWithEntersErrorAfterThreeFailures(t *testing.T) {
	store := newMemStore()
	gw := testGateway(func(req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
		return nil, errors.New("upstream down")
	})
	pool := New(store, gw, nil)
	ctx := context.Background()
	_ = pool.Spawn(ctx, models.AgentState{AgentID: "a1", Model: "test-model", Status: models.AgentIdle})

	for i := 0; i < consecutiveFailureLimit-1; i++ {
		if _, err := pool.ProcessWith(ctx, "a1", "hi", ProcessOptions{}); err == nil {
			t.Fatalf("expected failure at attempt %d", i)
		}
		state, _ := pool.Get("a1")
		if state.Status != models.AgentIdle {
			t.Fatalf("expected idle before reaching failure limit, got %v at attempt %d", state.Status, i)
		}
	}

	if _, err := pool.ProcessWith(ctx, "a1", "hi", ProcessOptions{}); err == nil {
		t.Fatalf("expected failure on final attempt")
	}
	state, _ := pool.Get("a1")
	if state.Status != models.AgentError {
		t.Fatalf("expected error status after %d consecutive failures, got %v", consecutiveFailureLimit, state.Status)
	}
}

func TestProcessWithFailsWhenDisabled(t *testing.T) {
	store := newMemStore()
	pool := New(store, testGateway(nil), nil)
	ctx := context.Background()
	_ = pool.Spawn(ctx, models.AgentState{AgentID: "a1", Model: "test-model", Status: models.AgentDisabled})

	if _, err := pool.ProcessWith(ctx, "a1", "hi", ProcessOptions{}); err == nil {
		t.Fatalf("expected error for disabled agent")
	}
}

func TestTerminateRemovesFromPoolAndMarksDisabled(t *testing.T) {
	store := newMemStore()
	pool := New(store, testGateway(nil), nil)
	ctx := context.Background()
	_ = pool.Spawn(ctx, models.AgentState{AgentID: "a1", Model: "test-model"})

	if err := pool.Terminate(ctx, "a1"); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if _, ok := pool.Get("a1"); ok {
		t.Fatalf("expected agent removed from in-memory pool")
	}
	saved, err := store.LoadAgents(ctx)
	if err != nil || len(saved) != 1 || saved[0].Status != models.AgentDisabled {
		t.Fatalf("expected persisted agent marked disabled, got %+v err=%v", saved, err)
	}
}

// TestRunParallelCapsByPoolSemaphore covers the "never more than
// MaxPoolSize concurrent process() calls" property using a gateway call
// that blocks until released, counting peak concurrency.
func TestRunParallelCapsByPoolSemaphore(t *testing.T) {
	store := newMemStore()
	var mu sync.Mutex
	active, peak := 0, 0
	release := make(chan struct{})

	gw := testGateway(func(req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return &llmgateway.CompletionResponse{Content: "ok"}, nil
	})
	pool := New(store, gw, nil)
	ctx := context.Background()

	tasks := make([]ParallelTask, 0, MaxPoolSize+3)
	for i := 0; i < MaxPoolSize+3; i++ {
		id := "agent-" + string(rune('a'+i))
		_ = pool.Spawn(ctx, models.AgentState{AgentID: id, Model: "test-model"})
		tasks = append(tasks, ParallelTask{AgentID: id, Message: "go"})
	}

	done := make(chan []ProcessResult)
	go func() { done <- pool.RunParallel(ctx, tasks) }()

	time.Sleep(50 * time.Millisecond)
	close(release)
	results := <-done

	if len(results) != len(tasks) {
		t.Fatalf("expected %d results, got %d", len(tasks), len(results))
	}
	mu.Lock()
	defer mu.Unlock()
	if peak > MaxPoolSize {
		t.Fatalf("expected peak concurrency <= %d, got %d", MaxPoolSize, peak)
	}
}

func TestUpdateScoresCalledOnSuccess(t *testing.T) {
	store := newMemStore()
	gw := testGateway(func(req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
		return &llmgateway.CompletionResponse{Content: "ok"}, nil
	})
	tracker := router.NewTracker(nil)
	pool := New(store, gw, tracker)
	ctx := context.Background()
	_ = pool.Spawn(ctx, models.AgentState{AgentID: "a1", Model: "test-model"})

	if _, err := pool.ProcessWith(ctx, "a1", "hi", ProcessOptions{}); err != nil {
		t.Fatalf("ProcessWith() error = %v", err)
	}
	if len(tracker.Records("a1")) != 1 {
		t.Fatalf("expected tracker to record one outcome, got %d", len(tracker.Records("a1")))
	}
}
