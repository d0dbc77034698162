// Package toolsregistry builds an OpenAI-style function-calling schema
// list from a skill registry and dispatches tool calls against it.
// Tool names are `<skill>__<method>`; failures and
// timeouts are reported as a result value, never as a propagated error.
package toolsregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
)

// DefaultTimeout bounds one tool dispatch.
const DefaultTimeout = 300 * time.Second

// MaxToolNameLength bounds a skill/method pair name.
const MaxToolNameLength = 256

// MethodSpec describes one invokable method on a skill.
type MethodSpec struct {
	Name        string
	Description string
	Schema      map[string]any
	Invoke      func(ctx context.Context, args json.RawMessage) (string, error)
}

// Skill groups related methods under one manifest name.
type Skill struct {
	Name    string
	Methods []MethodSpec
}

// Result is the tool registry's dispatch outcome.
type Result struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
}

type registeredMethod struct {
	skill  string
	method MethodSpec
}

// Registry is the thread-safe skill/method dispatch table.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]registeredMethod // keyed by "<skill>__<method>"
	timeout time.Duration
	now     func() time.Time
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		methods: make(map[string]registeredMethod),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
}

// toolName joins a skill and method into the wire-facing tool name.
func toolName(skill, method string) string {
	return skill + "__" + method
}

// RegisterSkill adds every method of a skill manifest to the registry.
func (r *Registry) RegisterSkill(skill Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range skill.Methods {
		r.methods[toolName(skill.Name, m.Name)] = registeredMethod{skill: skill.Name, method: m}
	}
}

// UnregisterSkill removes every method belonging to a skill name.
func (r *Registry) UnregisterSkill(skill string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := skill + "__"
	for name := range r.methods {
		if strings.HasPrefix(name, prefix) {
			delete(r.methods, name)
		}
	}
}

// Schemas builds the OpenAI-style function-calling tool list for every
// registered method, for passing to the LLM gateway.
func (r *Registry) Schemas() []llmgateway.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llmgateway.ToolSpec, 0, len(r.methods))
	for name, rm := range r.methods {
		out = append(out, llmgateway.ToolSpec{
			Name:        name,
			Description: rm.method.Description,
			Schema:      rm.method.Schema,
		})
	}
	return out
}

// parseArguments parses a tool call's JSON arguments, falling back to
// {"input": raw} on parse failure.
func parseArguments(raw json.RawMessage) json.RawMessage {
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err == nil {
		return raw
	}
	wrapped, err := json.Marshal(map[string]string{"input": string(raw)})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}

func errorContent(format string, args ...any) string {
	b, _ := json.Marshal(map[string]string{"error": fmt.Sprintf(format, args...)})
	return string(b)
}

// Dispatch resolves name to a (skill, method), invokes it with a timeout,
// and returns a Result. It never returns a non-nil error: all failures are
// reported via Result.Success=false with an error JSON in Content.
func (r *Registry) Dispatch(ctx context.Context, toolCallID, name string, rawArgs json.RawMessage) *Result {
	start := r.now()
	result := &Result{ToolCallID: toolCallID, Name: name}

	if len(name) > MaxToolNameLength {
		result.Content = errorContent("tool name exceeds maximum length of %d characters", MaxToolNameLength)
		result.DurationMS = r.now().Sub(start).Milliseconds()
		return result
	}

	r.mu.RLock()
	rm, ok := r.methods[name]
	r.mu.RUnlock()
	if !ok {
		result.Content = errorContent("tool not found: %s", name)
		result.DurationMS = r.now().Sub(start).Milliseconds()
		return result
	}

	args := parseArguments(rawArgs)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		content, err := rm.method.Invoke(callCtx, args)
		done <- outcome{content: content, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			result.Content = errorContent("%s", o.err.Error())
		} else {
			result.Content = o.content
			result.Success = true
		}
	case <-callCtx.Done():
		result.Content = errorContent("tool %s timed out after %s", name, r.timeout)
	}

	result.DurationMS = r.now().Sub(start).Milliseconds()
	return result
}
