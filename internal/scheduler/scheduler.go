// Package scheduler fires cron/interval triggers,
// dispatching through the same agent-pool/tool-registry path as
// interactive chat, with a bounded concurrent-execution cap, per-job
// retry with exponential backoff, and a heartbeat subsystem.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/agentpool"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/backoff"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/toolsregistry"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// MaxConcurrentJobs is the scheduler-wide semaphore capacity; fires
// beyond it are skipped, not queued.
const MaxConcurrentJobs = 5

const (
	defaultMaxDurationSeconds = 300
	defaultTickInterval       = time.Second
	defaultRetryBaseMs        = 5000
	defaultRetryMaxMs         = 300000
)

// AgentDispatcher runs a prompt job through the agent pool.
type AgentDispatcher interface {
	ProcessWith(ctx context.Context, agentID, message string, opts agentpool.ProcessOptions) (agentpool.ProcessResult, error)
}

// ToolDispatcher runs a skill job through the tool registry.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, toolCallID, name string, rawArgs json.RawMessage) *toolsregistry.Result
}

// MetricsHook receives scheduler concurrency events. Satisfied by
// observability.SchedulerGauges; nil disables metrics.
type MetricsHook interface {
	JobStarted()
	JobFinished()
	FireSkipped()
}

// Scheduler owns the cron job table and its tick loop.
type Scheduler struct {
	store sessionstore.CronStore
	pool  AgentDispatcher
	tools ToolDispatcher
	execs ExecutionStore

	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration
	retryPolicy  backoff.BackoffPolicy
	metrics      MetricsHook

	sem chan struct{}

	mu       sync.Mutex
	triggers map[string]Trigger
	started  bool
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

func WithExecutionStore(es ExecutionStore) Option {
	return func(s *Scheduler) {
		if es != nil {
			s.execs = es
		}
	}
}

func WithRetryPolicy(p backoff.BackoffPolicy) Option {
	return func(s *Scheduler) { s.retryPolicy = p }
}

func WithMetricsHook(h MetricsHook) Option {
	return func(s *Scheduler) { s.metrics = h }
}

// New builds a Scheduler. store is the durable CronJob table; pool and
// tools dispatch `prompt` and `skill` payload jobs respectively.
func New(store sessionstore.CronStore, pool AgentDispatcher, tools ToolDispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		pool:         pool,
		tools:        tools,
		execs:        NewMemoryExecutionStore(),
		logger:       slog.Default().With("component", "scheduler"),
		now:          time.Now,
		tickInterval: defaultTickInterval,
		retryPolicy:  backoff.BackoffPolicy{InitialMs: defaultRetryBaseMs, MaxMs: defaultRetryMaxMs, Factor: 2, Jitter: 0.1},
		sem:          make(chan struct{}, MaxConcurrentJobs),
		triggers:     make(map[string]Trigger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetMetricsHook attaches a metrics hook after construction; the serve
// command calls this once the Prometheus registry is known. Must be set
// before Start.
func (s *Scheduler) SetMetricsHook(h MetricsHook) { s.metrics = h }

// AddJob validates the schedule, computes the first next_run_at, and
// creates the job row.
func (s *Scheduler) AddJob(ctx context.Context, job *models.CronJob) error {
	trigger, err := ParseSchedule(job.Schedule)
	if err != nil {
		return errs.Wrap(errs.KindScheduler, errs.CodeInvalidSchedule, err)
	}
	if job.MaxDurationSec == 0 {
		job.MaxDurationSec = defaultMaxDurationSeconds
	}
	if job.MaxDurationSec < models.MinMaxDurationSeconds || job.MaxDurationSec > models.MaxMaxDurationSeconds {
		return errs.New(errs.KindValidation, "invalid-max-duration", "max_duration_seconds must be %d-%d", models.MinMaxDurationSeconds, models.MaxMaxDurationSeconds)
	}
	if job.RetryCount < models.MinRetryCount || job.RetryCount > models.MaxRetryCount {
		return errs.New(errs.KindValidation, "invalid-retry-count", "retry_count must be %d-%d", models.MinRetryCount, models.MaxRetryCount)
	}
	next := trigger.Next(s.now())
	job.NextRunAt = &next

	if err := s.store.CreateCronJob(ctx, job); err != nil {
		return errs.Wrap(errs.KindScheduler, "create-cron-job", err)
	}
	s.mu.Lock()
	s.triggers[job.ID] = trigger
	s.mu.Unlock()
	return nil
}

// UpdateJob re-validates the schedule (if changed) and persists the job.
func (s *Scheduler) UpdateJob(ctx context.Context, job *models.CronJob) error {
	trigger, err := ParseSchedule(job.Schedule)
	if err != nil {
		return errs.Wrap(errs.KindScheduler, errs.CodeInvalidSchedule, err)
	}
	if err := s.store.UpdateCronJob(ctx, job); err != nil {
		return errs.Wrap(errs.KindScheduler, "update-cron-job", err)
	}
	s.mu.Lock()
	s.triggers[job.ID] = trigger
	s.mu.Unlock()
	return nil
}

// RemoveJob deletes the job row and its trigger cache entry.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	if err := s.store.DeleteCronJob(ctx, id); err != nil {
		return errs.Wrap(errs.KindScheduler, "delete-cron-job", err)
	}
	s.mu.Lock()
	delete(s.triggers, id)
	s.mu.Unlock()
	return nil
}

// GetJob returns a single job.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*models.CronJob, error) {
	return s.store.GetCronJob(ctx, id)
}

// ListJobs returns every configured job.
func (s *Scheduler) ListJobs(ctx context.Context) ([]*models.CronJob, error) {
	return s.store.ListCronJobs(ctx)
}

// Executions returns execution history for a job (empty jobID lists all).
func (s *Scheduler) Executions(ctx context.Context, jobID string, limit, offset int) ([]*Execution, error) {
	return s.execs.List(ctx, jobID, limit, offset)
}

// TriggerJob runs a specific job immediately, outside its schedule.
func (s *Scheduler) TriggerJob(ctx context.Context, id string) error {
	job, err := s.store.GetCronJob(ctx, id)
	if err != nil {
		return errs.Wrap(errs.KindScheduler, "cron-job-not-found", err)
	}
	return s.runJob(ctx, job)
}

// Start loads every job's trigger and begins the tick loop. It returns
// once the loop goroutine is running; Stop or ctx cancellation ends it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.mu.Unlock()

	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		return errs.Wrap(errs.KindScheduler, "list-cron-jobs", err)
	}
	s.mu.Lock()
	for _, job := range jobs {
		if trigger, err := ParseSchedule(job.Schedule); err == nil {
			s.triggers[job.ID] = trigger
		} else {
			s.logger.Warn("cron job has invalid schedule", "id", job.ID, "error", err)
		}
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.runDue(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the tick loop and waits for in-flight jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runDue finds every enabled, due job and fires it, respecting the
// scheduler-wide concurrency cap.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		s.logger.Warn("list cron jobs failed", "error", err)
		return
	}
	for _, job := range jobs {
		job := job
		if !job.Enabled || job.NextRunAt == nil || now.Before(*job.NextRunAt) {
			continue
		}
		select {
		case s.sem <- struct{}{}:
		default:
			if s.metrics != nil {
				s.metrics.FireSkipped()
			}
			s.recordSkip(ctx, job.ID, now)
			continue
		}
		if s.metrics != nil {
			s.metrics.JobStarted()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer func() {
				if s.metrics != nil {
					s.metrics.JobFinished()
				}
			}()
			if err := s.runJob(ctx, job); err != nil {
				s.logger.Warn("cron job failed", "id", job.ID, "error", err)
			}
		}()
	}
}

func (s *Scheduler) recordSkip(ctx context.Context, jobID string, now time.Time) {
	_ = s.execs.Create(ctx, &Execution{ID: uuid.NewString(), JobID: jobID, Status: ExecutionSkipped, StartedAt: now, CompletedAt: now})
}

// runJob executes one fire of a job, retrying per its RetryCount with
// exponential backoff, and advances its next_run_at.
func (s *Scheduler) runJob(ctx context.Context, job *models.CronJob) error {
	start := s.now()
	exec := &Execution{ID: uuid.NewString(), JobID: job.ID, Status: ExecutionRunning, StartedAt: start}
	_ = s.execs.Create(ctx, exec)

	var lastErr error
	attempts := job.RetryCount + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		jobCtx, cancel := context.WithTimeout(ctx, time.Duration(job.MaxDurationSec)*time.Second)
		lastErr = s.dispatch(jobCtx, job)
		cancel()
		if lastErr == nil {
			break
		}
		if attempt < attempts {
			wait := backoff.ComputeBackoff(s.retryPolicy, attempt)
			if err := backoff.SleepWithContext(ctx, wait); err != nil {
				lastErr = err
				attempt = attempts
			}
			exec.Retry = attempt
		}
	}

	finished := s.now()
	duration := finished.Sub(start)
	job.LastRunAt = &start
	job.LastDurationMS = duration.Milliseconds()
	job.RunCount++
	if lastErr != nil {
		job.LastStatus = "failed"
		job.LastError = lastErr.Error()
		job.FailCount++
		exec.Status = ExecutionFailed
		exec.Error = lastErr.Error()
	} else {
		job.LastStatus = "success"
		job.LastError = ""
		job.SuccessCount++
		exec.Status = ExecutionSucceeded
	}
	exec.CompletedAt = finished
	exec.Duration = duration
	_ = s.execs.Update(ctx, exec)

	s.mu.Lock()
	trigger, ok := s.triggers[job.ID]
	s.mu.Unlock()
	if ok {
		next := trigger.Next(finished)
		job.NextRunAt = &next
	}
	if err := s.store.UpdateCronJob(ctx, job); err != nil {
		s.logger.Warn("cron job state persist failed", "id", job.ID, "error", err)
	}
	return lastErr
}

// dispatch routes one job fire by payload_type.
func (s *Scheduler) dispatch(ctx context.Context, job *models.CronJob) error {
	if strings.TrimSpace(job.TargetAgentID) == "" && job.PayloadType != models.PayloadSkill {
		return errs.New(errs.KindScheduler, "scheduler-error", "job %s missing target agent", job.ID)
	}
	switch job.PayloadType {
	case models.PayloadPrompt:
		if s.pool == nil {
			return errs.New(errs.KindScheduler, "scheduler-error", "no agent dispatcher configured")
		}
		prompt, _ := job.Payload["prompt"].(string)
		if strings.TrimSpace(prompt) == "" {
			return errs.New(errs.KindValidation, "invalid-payload", "prompt job missing prompt text")
		}
		_, err := s.pool.ProcessWith(ctx, job.TargetAgentID, prompt, agentpool.ProcessOptions{})
		return err
	case models.PayloadSkill:
		if s.tools == nil {
			return errs.New(errs.KindScheduler, "scheduler-error", "no tool dispatcher configured")
		}
		name, _ := job.Payload["skill"].(string)
		if strings.TrimSpace(name) == "" {
			return errs.New(errs.KindValidation, "invalid-payload", "skill job missing skill name")
		}
		args, err := json.Marshal(job.Payload["arguments"])
		if err != nil {
			return errs.Wrap(errs.KindValidation, "invalid-payload", err)
		}
		result := s.tools.Dispatch(ctx, uuid.NewString(), name, args)
		if !result.Success {
			return fmt.Errorf("skill %s failed: %s", name, result.Content)
		}
		return nil
	case models.PayloadPipeline:
		return errs.New(errs.KindScheduler, "scheduler-error", "pipeline jobs are out of scope for this runtime")
	default:
		return errs.New(errs.KindScheduler, "scheduler-error", "unsupported payload type %q", job.PayloadType)
	}
}
