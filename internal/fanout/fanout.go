// Package fanout is the structured-concurrency fan-out primitive shared by
// the Roundtable (C10) and Swarm (C11) coordination protocols: run N
// agents in parallel, each bounded by a per-agent timeout, the whole
// batch bounded by a total deadline, collecting partial results rather
// than failing all-or-nothing.
package fanout

import (
	"context"
	"sync"
	"time"
)

// Result is one participant's outcome. Timeout and Err are mutually
// exclusive with a non-empty Content in practice, but both are surfaced
// so callers can render "[agent timed out]"/"[agent error]" markers.
type Result struct {
	AgentID string
	Content string
	Err     error
	Timeout bool
	Latency time.Duration
}

// Task is one participant to run.
type Task struct {
	AgentID string
	Run     func(ctx context.Context) (string, error)
}

// Run executes every task concurrently, each individually bounded by
// perAgentTimeout, with the whole batch bounded by ctx (the caller
// derives ctx from the remaining total-timeout budget). Results preserve
// task order. A per-task panic is not recovered here; callers are
// expected to keep Run bodies panic-free.
func Run(ctx context.Context, tasks []Task, perAgentTimeout time.Duration) []Result {
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, task := range tasks {
		go func(i int, task Task) {
			defer wg.Done()
			results[i] = runOne(ctx, task, perAgentTimeout)
		}(i, task)
	}
	wg.Wait()
	return results
}

func runOne(ctx context.Context, task Task, perAgentTimeout time.Duration) Result {
	taskCtx := ctx
	var cancel context.CancelFunc
	if perAgentTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, perAgentTimeout)
		defer cancel()
	}

	start := time.Now()
	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		content, err := task.Run(taskCtx)
		done <- outcome{content: content, err: err}
	}()

	select {
	case o := <-done:
		return Result{AgentID: task.AgentID, Content: o.content, Err: o.err, Latency: time.Since(start)}
	case <-taskCtx.Done():
		return Result{AgentID: task.AgentID, Err: taskCtx.Err(), Timeout: true, Latency: time.Since(start)}
	}
}
