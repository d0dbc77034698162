// Package roundtable implements the structured multi-agent coordination
// protocol: N agents run K fixed rounds over a shared
// transcript (a "stigmergy trail" of prior turns), then a designated
// synthesizer produces a final answer.
package roundtable

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/fanout"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/observability"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// Protocol bounds.
const (
	MinAgents           = 2
	MaxAgents           = 10
	MaxRounds           = 10
	DefaultAgentTimeout = 60 * time.Second
	DefaultTotalTimeout = 300 * time.Second
	trimLen             = 300
)

// AgentCaller dispatches one prompt to one agent and returns its raw
// response, decoupling this package from agentpool/chatengine.
type AgentCaller interface {
	Call(ctx context.Context, agentID, prompt string) (string, error)
}

// AgentCallerFunc adapts a function to an AgentCaller.
type AgentCallerFunc func(ctx context.Context, agentID, prompt string) (string, error)

func (f AgentCallerFunc) Call(ctx context.Context, agentID, prompt string) (string, error) {
	return f(ctx, agentID, prompt)
}

// ScoreUpdater records a participant's performance after the run
// completes.
type ScoreUpdater interface {
	UpdateScores(ctx context.Context, agentID string, success bool, durationMS int64, tokenCost float64) (float64, error)
}

// Options configures one Discuss call.
type Options struct {
	Rounds          int
	SynthesizerID   string
	AgentTimeout    time.Duration
	TotalTimeout    time.Duration
	OnTurn          func(turn models.Message) // invoked after each persisted turn (used by the WS streamer)
}

// Turn is one round's contribution.
type Turn struct {
	AgentID string
	Round   int
	Content string
	Err     error
	Timeout bool
}

// Result is Discuss's return value.
type Result struct {
	SessionID string
	Turns     []Turn
	Synthesis string
}

// Coordinator runs Roundtable discussions.
type Coordinator struct {
	store  sessionstore.Store
	caller AgentCaller
	scores ScoreUpdater
	now    func() time.Time
}

// New builds a Coordinator.
func New(store sessionstore.Store, caller AgentCaller, scores ScoreUpdater) *Coordinator {
	return &Coordinator{store: store, caller: caller, scores: scores, now: time.Now}
}

func phaseLabel(round int) string {
	switch {
	case round == 1:
		return "EXPLORE"
	case round == 2:
		return "WORK"
	default:
		return "VALIDATE"
	}
}

func trim(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// Discuss runs the full protocol: creates a roundtable
// session, runs `rounds` fixed rounds of parallel agent turns over a
// shared transcript, then synthesizes a final answer.
func (c *Coordinator) Discuss(ctx context.Context, topic string, agentIDs []string, opts Options) (*Result, error) {
	if len(agentIDs) < MinAgents || len(agentIDs) > MaxAgents {
		return nil, errs.New(errs.KindValidation, "invalid-agent-count", "roundtable requires %d-%d agents, got %d", MinAgents, MaxAgents, len(agentIDs))
	}
	if opts.Rounds < 1 || opts.Rounds > MaxRounds {
		return nil, errs.New(errs.KindValidation, "invalid-round-count", "roundtable requires 1-%d rounds, got %d", MaxRounds, opts.Rounds)
	}
	agentTimeout := opts.AgentTimeout
	if agentTimeout <= 0 {
		agentTimeout = DefaultAgentTimeout
	}
	totalTimeout := opts.TotalTimeout
	if totalTimeout <= 0 {
		totalTimeout = DefaultTotalTimeout
	}

	now := c.now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		AgentID:   opts.SynthesizerID,
		Type:      models.SessionRoundtable,
		Title:     "Roundtable: " + trim(topic, 80),
		Status:    models.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, errs.Wrap(errs.KindSession, "create-roundtable-session", err)
	}
	ctx, span := observability.StartCoordinationSpan(ctx, "roundtable", sess.ID, len(agentIDs))
	defer span.End()

	deadline := now.Add(totalTimeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var allTurns []Turn
	var transcript []string
	durationsByAgent := map[string][]time.Duration{}

	for round := 1; round <= opts.Rounds; round++ {
		if runCtx.Err() != nil {
			break
		}
		prompt := buildRoundPrompt(topic, round, agentIDs, transcript)

		tasks := make([]fanout.Task, len(agentIDs))
		for i, agentID := range agentIDs {
			agentID := agentID
			tasks[i] = fanout.Task{
				AgentID: agentID,
				Run: func(ctx context.Context) (string, error) {
					return c.caller.Call(ctx, agentID, prompt)
				},
			}
		}

		results := fanout.Run(runCtx, tasks, agentTimeout)
		for _, r := range results {
			turn := Turn{AgentID: r.AgentID, Round: round, Content: r.Content, Err: r.Err, Timeout: r.Timeout}
			content := turn.Content
			switch {
			case r.Timeout:
				content = fmt.Sprintf("[%s timed out]", r.AgentID)
			case r.Err != nil:
				content = fmt.Sprintf("[%s error]", r.AgentID)
			default:
				durationsByAgent[r.AgentID] = append(durationsByAgent[r.AgentID], r.Latency)
			}
			turn.Content = content
			allTurns = append(allTurns, turn)
			transcript = append(transcript, fmt.Sprintf("[%s round %d] %s", r.AgentID, round, trim(content, trimLen)))

			msg := models.Message{
				ID:        uuid.NewString(),
				SessionID: sess.ID,
				Role:      models.RoundRole(round),
				Content:   content,
				Metadata:  map[string]any{"agent_id": r.AgentID},
				CreatedAt: c.now(),
			}
			if err := c.store.AppendMessage(ctx, &msg); err != nil {
				return nil, errs.Wrap(errs.KindSession, "persist-roundtable-turn", err)
			}
			if opts.OnTurn != nil {
				opts.OnTurn(msg)
			}
		}
	}

	synthesis := c.synthesize(runCtx, sess.ID, topic, opts.SynthesizerID, transcript, allTurns)

	if c.scores != nil {
		for agentID, durations := range durationsByAgent {
			var sum time.Duration
			for _, d := range durations {
				sum += d
			}
			avg := sum / time.Duration(len(durations))
			_, _ = c.scores.UpdateScores(ctx, agentID, true, avg.Milliseconds(), 0)
		}
	}

	ended := c.now()
	sess.Status = models.SessionEnded
	sess.EndedAt = &ended
	sess.UpdatedAt = ended
	_ = c.store.UpdateSession(ctx, sess)

	return &Result{SessionID: sess.ID, Turns: allTurns, Synthesis: synthesis}, nil
}

func buildRoundPrompt(topic string, round int, agentIDs []string, transcript []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Roundtable phase %s (round %d) on: %s\n", phaseLabel(round), round, topic)
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(agentIDs, ", "))
	if len(transcript) > 0 {
		b.WriteString("Prior turns:\n")
		for _, t := range transcript {
			b.WriteString(t)
			b.WriteByte('\n')
		}
	}
	b.WriteString("Contribute your perspective for this round.")
	return b.String()
}

// synthesize runs the closing synthesis turn, falling back to a
// deterministic banner-and-concatenation on synthesizer failure.
func (c *Coordinator) synthesize(ctx context.Context, sessionID, topic, synthesizerID string, transcript []string, turns []Turn) string {
	prompt := fmt.Sprintf(
		"Synthesize this roundtable discussion on %q into a coherent, actionable answer. "+
			"Highlight agreements and resolve conflicts.\n\n%s", topic, strings.Join(transcript, "\n"))

	content, err := c.caller.Call(ctx, synthesizerID, prompt)
	if err != nil || strings.TrimSpace(content) == "" {
		content = fallbackSynthesis(turns)
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleSynthesis,
		Content:   content,
		CreatedAt: c.now(),
	}
	_ = c.store.AppendMessage(ctx, msg)
	return content
}

// fallbackSynthesis concatenates the last round's turns behind a banner
// when the synthesizer itself fails.
func fallbackSynthesis(turns []Turn) string {
	if len(turns) == 0 {
		return "[synthesis unavailable: no turns recorded]"
	}
	lastRound := turns[len(turns)-1].Round
	var b strings.Builder
	b.WriteString("[synthesizer unavailable — raw final-round turns follow]\n")
	for _, t := range turns {
		if t.Round != lastRound {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.AgentID, t.Content)
	}
	return b.String()
}
