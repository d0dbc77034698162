package roundtable

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore/memory"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

func callerFunc(f func(ctx context.Context, agentID, prompt string) (string, error)) AgentCaller {
	return AgentCallerFunc(f)
}

func TestDiscussTwoRoundsSynthesizes(t *testing.T) {
	store := memory.New()
	caller := callerFunc(func(ctx context.Context, agentID, prompt string) (string, error) {
		if agentID == "synth" {
			return "final answer", nil
		}
		return agentID + " says something", nil
	})

	c := New(store, caller, nil)
	res, err := c.Discuss(context.Background(), "topic", []string{"a1", "a2"}, Options{
		Rounds:        2,
		SynthesizerID: "synth",
	})
	if err != nil {
		t.Fatalf("Discuss: %v", err)
	}
	if len(res.Turns) != 4 {
		t.Fatalf("expected 4 turns (2 agents x 2 rounds), got %d", len(res.Turns))
	}
	if res.Synthesis != "final answer" {
		t.Fatalf("unexpected synthesis: %q", res.Synthesis)
	}

	msgs, err := store.GetMessages(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	// 4 round turns + 1 synthesis
	if len(msgs) != 5 {
		t.Fatalf("expected 5 persisted messages, got %d", len(msgs))
	}

	sess, err := store.GetSession(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != models.SessionEnded {
		t.Fatalf("expected session ended, got %s", sess.Status)
	}
}

type countingScores struct {
	updates map[string]int
}

func (c *countingScores) UpdateScores(ctx context.Context, agentID string, success bool, durationMS int64, tokenCost float64) (float64, error) {
	if c.updates == nil {
		c.updates = map[string]int{}
	}
	c.updates[agentID]++
	return 0.5, nil
}

func TestDiscussThreeByThreeUpdatesEachParticipantOnce(t *testing.T) {
	store := memory.New()
	caller := callerFunc(func(ctx context.Context, agentID, prompt string) (string, error) {
		return agentID + " on caching", nil
	})
	scores := &countingScores{}

	c := New(store, caller, scores)
	res, err := c.Discuss(context.Background(), "Design a caching strategy", []string{"a1", "a2", "a3"}, Options{
		Rounds:        3,
		SynthesizerID: "a1",
	})
	if err != nil {
		t.Fatalf("Discuss: %v", err)
	}
	if len(res.Turns) != 9 {
		t.Fatalf("expected 9 turns (3 agents x 3 rounds), got %d", len(res.Turns))
	}
	if res.Synthesis == "" {
		t.Fatalf("expected non-empty synthesis")
	}
	for _, id := range []string{"a1", "a2", "a3"} {
		if scores.updates[id] != 1 {
			t.Fatalf("expected exactly one score update for %s, got %d", id, scores.updates[id])
		}
	}
}

func TestDiscussRejectsOutOfBoundAgentCount(t *testing.T) {
	store := memory.New()
	caller := callerFunc(func(ctx context.Context, agentID, prompt string) (string, error) { return "x", nil })
	c := New(store, caller, nil)

	if _, err := c.Discuss(context.Background(), "t", []string{"only-one"}, Options{Rounds: 1, SynthesizerID: "s"}); err == nil {
		t.Fatalf("expected error for < MinAgents")
	}
}

func TestDiscussFallsBackWhenSynthesizerFails(t *testing.T) {
	store := memory.New()
	caller := callerFunc(func(ctx context.Context, agentID, prompt string) (string, error) {
		if agentID == "synth" {
			return "", context.DeadlineExceeded
		}
		return "contribution from " + agentID, nil
	})

	c := New(store, caller, nil)
	res, err := c.Discuss(context.Background(), "t", []string{"a1", "a2"}, Options{Rounds: 1, SynthesizerID: "synth", AgentTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Discuss: %v", err)
	}
	if !strings.Contains(res.Synthesis, "synthesizer unavailable") {
		t.Fatalf("expected fallback synthesis banner, got %q", res.Synthesis)
	}
}
