package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/agentpool"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore/memory"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/toolsregistry"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

type stubPool struct {
	calls int
	err   error
}

func (p *stubPool) ProcessWith(ctx context.Context, agentID, message string, opts agentpool.ProcessOptions) (agentpool.ProcessResult, error) {
	p.calls++
	if p.err != nil {
		return agentpool.ProcessResult{}, p.err
	}
	return agentpool.ProcessResult{AgentID: agentID, Content: "ok"}, nil
}

type stubTools struct {
	calls int
}

func (t *stubTools) Dispatch(ctx context.Context, toolCallID, name string, rawArgs json.RawMessage) *toolsregistry.Result {
	t.calls++
	return &toolsregistry.Result{ToolCallID: toolCallID, Name: name, Content: "done", Success: true}
}

func TestAddJobComputesNextRunAt(t *testing.T) {
	store := memory.New()
	s := New(store, &stubPool{}, &stubTools{})

	job := &models.CronJob{Name: "test", Schedule: "15m", TargetAgentID: "a1", Enabled: true, PayloadType: models.PayloadPrompt, Payload: map[string]any{"prompt": "hi"}}
	if err := s.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if job.NextRunAt == nil {
		t.Fatalf("expected NextRunAt to be set")
	}
	if job.ID == "" {
		t.Fatalf("expected job ID to be assigned")
	}
}

func TestAddJobRejectsInvalidSchedule(t *testing.T) {
	store := memory.New()
	s := New(store, &stubPool{}, &stubTools{})
	job := &models.CronJob{Name: "bad", Schedule: "not-valid", TargetAgentID: "a1", Enabled: true}
	if err := s.AddJob(context.Background(), job); err == nil {
		t.Fatalf("expected invalid-schedule error")
	}
}

func TestRunJobPromptDispatch(t *testing.T) {
	store := memory.New()
	pool := &stubPool{}
	s := New(store, pool, &stubTools{})

	job := &models.CronJob{Name: "prompt-job", Schedule: "1h", TargetAgentID: "a1", Enabled: true, PayloadType: models.PayloadPrompt, Payload: map[string]any{"prompt": "hi"}}
	if err := s.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := s.TriggerJob(context.Background(), job.ID); err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}
	if pool.calls != 1 {
		t.Fatalf("expected 1 pool call, got %d", pool.calls)
	}

	got, err := s.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.LastStatus != "success" {
		t.Fatalf("expected last_status success, got %q", got.LastStatus)
	}
	if got.RunCount != 1 || got.SuccessCount != 1 {
		t.Fatalf("unexpected counters: run=%d success=%d", got.RunCount, got.SuccessCount)
	}
}

func TestRunJobRetriesThenFails(t *testing.T) {
	store := memory.New()
	pool := &stubPool{err: context.DeadlineExceeded}
	s := New(store, pool, &stubTools{})
	s.retryPolicy.InitialMs = 1 // keep the test fast
	s.retryPolicy.MaxMs = 5

	job := &models.CronJob{Name: "flaky", Schedule: "1h", TargetAgentID: "a1", Enabled: true, PayloadType: models.PayloadPrompt, Payload: map[string]any{"prompt": "hi"}, RetryCount: 2}
	if err := s.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := s.TriggerJob(context.Background(), job.ID); err == nil {
		t.Fatalf("expected failure after exhausting retries")
	}
	if pool.calls != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", pool.calls)
	}

	got, _ := s.GetJob(context.Background(), job.ID)
	if got.LastStatus != "failed" || got.FailCount != 1 {
		t.Fatalf("unexpected job state: status=%q fail_count=%d", got.LastStatus, got.FailCount)
	}
}

func TestRunDueSkipsWhenSemaphoreFull(t *testing.T) {
	store := memory.New()
	s := New(store, &stubPool{}, &stubTools{})
	for i := 0; i < MaxConcurrentJobs; i++ {
		s.sem <- struct{}{}
	}
	defer func() {
		for i := 0; i < MaxConcurrentJobs; i++ {
			<-s.sem
		}
	}()

	past := time.Now().Add(-time.Minute)
	job := &models.CronJob{Name: "due", Schedule: "1h", TargetAgentID: "a1", Enabled: true, PayloadType: models.PayloadPrompt, Payload: map[string]any{"prompt": "hi"}}
	if err := s.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	job.NextRunAt = &past
	if err := s.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	s.runDue(context.Background())
	execs, err := s.Executions(context.Background(), job.ID, 0, 0)
	if err != nil {
		t.Fatalf("Executions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != ExecutionSkipped {
		t.Fatalf("expected 1 skipped execution, got %+v", execs)
	}
}
