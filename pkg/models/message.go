// Package models holds the shared persistence-facing data model for the
// Aria runtime: sessions, messages, agent state, performance records, and
// cron jobs. These types are passed by value/pointer across every
// component and are the only contract between the in-memory and SQL-backed
// stores.
package models

import (
	"encoding/json"
	"time"
)

// SessionType distinguishes the coordination protocol that owns a session.
type SessionType string

const (
	SessionChat       SessionType = "chat"
	SessionRoundtable SessionType = "roundtable"
	SessionSwarm      SessionType = "swarm"
	SessionCron       SessionType = "cron"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Role identifies the author of a message, including the synthetic
// per-round/per-iteration roles used by the coordination protocols.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleFunction  Role = "function"
	RoleSynthesis Role = "synthesis"
	RoleConsensus Role = "consensus"
)

// RoundRole builds the role string for a roundtable turn in round r.
func RoundRole(r int) Role { return Role("round-" + itoa(r)) }

// SwarmRole builds the role string for a swarm vote in iteration i.
func SwarmRole(i int) Role { return Role("swarm-" + itoa(i)) }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Session is a conversation owned by one agent (or, for roundtable/swarm,
// a coordination run). Counters are eventually consistent with the
// message table; they are updated in a transaction separate from message
// persistence (see chatengine).
type Session struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id"`
	Type           SessionType    `json:"type"`
	Title          string         `json:"title,omitempty"`
	Model          string         `json:"model,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ContextWindow  int            `json:"context_window"`
	SystemPrompt   string         `json:"system_prompt,omitempty"`
	Status         SessionStatus  `json:"status"`
	MessageCount   int            `json:"message_count"`
	TotalTokens    int64          `json:"total_tokens"`
	TotalCost      float64        `json:"total_cost"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
}

// DefaultContextWindow is the per-session DB default, distinct from
// AGENT_CONTEXT_LIMIT, the in-memory agent-pool bound.
const DefaultContextWindow = 50

// ToolCall is one function-call request emitted by the LLM.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of dispatching a ToolCall to the tool registry.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
}

// Message is one turn in a session.
//
// Invariants (enforced by contextpack and session protection, not by this
// type): every tool message's ToolCallID matches a ToolCalls[i].ID on an
// assistant message earlier in the same session; synthesis/consensus
// messages appear at most once per coordination session.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Thinking    string         `json:"thinking,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	Model       string         `json:"model,omitempty"`
	TokensIn    int            `json:"tokens_input,omitempty"`
	TokensOut   int            `json:"tokens_output,omitempty"`
	Cost        float64        `json:"cost,omitempty"`
	LatencyMS   int64          `json:"latency_ms,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FocusType is an agent's specialty tag used for specialty-match scoring.
type FocusType string

const (
	FocusSocial   FocusType = "social"
	FocusDevops   FocusType = "devops"
	FocusAnalysis FocusType = "analysis"
	FocusCreative FocusType = "creative"
	FocusResearch FocusType = "research"
)

// AgentStatus is an agent's runtime state.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentError      AgentStatus = "error"
	AgentDisabled   AgentStatus = "disabled"
	AgentTerminated AgentStatus = "terminated"
)

// AgentState is a registered agent's durable record.
type AgentState struct {
	AgentID             string         `json:"agent_id"`
	DisplayName         string         `json:"display_name"`
	AgentType           string         `json:"agent_type"`
	FocusType           *FocusType     `json:"focus_type,omitempty"`
	Model               string         `json:"model"`
	FallbackModel       string         `json:"fallback_model,omitempty"`
	ParentAgentID       string         `json:"parent_agent_id,omitempty"`
	Enabled             bool           `json:"enabled"`
	Status              AgentStatus    `json:"status"`
	PheromoneScore      float64        `json:"pheromone_score"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	CurrentSessionID    string         `json:"current_session_id,omitempty"`
	CurrentTask         string         `json:"current_task,omitempty"`
	LastActiveAt        time.Time      `json:"last_active_at"`
	Skills              []string       `json:"skills,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// ColdStartPheromoneScore is the neutral default for an agent with no
// performance records.
const ColdStartPheromoneScore = 0.5

// PerformanceRecord is one outcome sample for an agent, used only to
// recompute the persisted PheromoneScore. Never itself the source of truth.
type PerformanceRecord struct {
	Success    bool      `json:"success"`
	SpeedScore float64   `json:"speed_score"`
	CostScore  float64   `json:"cost_score"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
	TaskType   string    `json:"task_type,omitempty"`
}

// MaxPerformanceRecords bounds the in-memory ring buffer per agent.
const MaxPerformanceRecords = 200

// PayloadType selects how the scheduler dispatches a CronJob.
type PayloadType string

const (
	PayloadPrompt   PayloadType = "prompt"
	PayloadSkill    PayloadType = "skill"
	PayloadPipeline PayloadType = "pipeline"
)

// SessionMode controls how a cron job's session is scoped across firings.
type SessionMode string

const (
	SessionIsolated  SessionMode = "isolated"
	SessionShared    SessionMode = "shared"
	SessionPersistent SessionMode = "persistent"
)

// CronJob is a scheduled trigger that dispatches through the same agent
// pool path as interactive chat.
type CronJob struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Schedule          string         `json:"schedule"`
	TargetAgentID     string         `json:"target_agent_id"`
	Enabled           bool           `json:"enabled"`
	PayloadType       PayloadType    `json:"payload_type"`
	Payload           map[string]any `json:"payload"`
	SessionMode       SessionMode    `json:"session_mode"`
	MaxDurationSec    int            `json:"max_duration_seconds"`
	RetryCount        int            `json:"retry_count"`
	LastRunAt         *time.Time     `json:"last_run_at,omitempty"`
	LastStatus        string         `json:"last_status,omitempty"`
	LastDurationMS    int64          `json:"last_duration_ms,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
	NextRunAt         *time.Time     `json:"next_run_at,omitempty"`
	RunCount          int64          `json:"run_count"`
	SuccessCount      int64          `json:"success_count"`
	FailCount         int64          `json:"fail_count"`
}

// CronJob field bounds.
const (
	MinMaxDurationSeconds = 10
	MaxMaxDurationSeconds = 3600
	MinRetryCount         = 0
	MaxRetryCount         = 5
)
