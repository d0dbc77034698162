package sessionstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore/memory"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

func TestExtractKeywordsDropsStopwordsAndCapsAtFive(t *testing.T) {
	got := sessionstore.ExtractKeywords("What is the deployment status of the docker container for the staging cluster environment today?")
	if len(got) != 5 {
		t.Fatalf("expected 5 keywords, got %d: %v", len(got), got)
	}
	for _, k := range got {
		if k == "the" || k == "is" || k == "what" {
			t.Fatalf("stopword %q survived extraction", k)
		}
	}
}

func TestRecallFallsBackToKeywordsAndTrimsToBudget(t *testing.T) {
	store := memory.New()
	now := time.Now()
	sess := &models.Session{ID: "s1", AgentID: "main", Type: models.SessionChat, Status: models.SessionActive, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i, content := range []string{
		"we deployed the docker container yesterday",
		"docker build pipeline notes and follow-ups from the review",
		"unrelated chatter about lunch",
	} {
		msg := &models.Message{ID: string(rune('a' + i)), SessionID: "s1", Role: models.RoleUser, Content: content, CreatedAt: now.Add(time.Duration(i) * time.Second)}
		if err := store.AppendMessage(context.Background(), msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	// memory store reports VectorSearchSupported() == false, forcing the
	// keyword fallback even though an embedding is supplied.
	msgs, err := sessionstore.Recall(context.Background(), store, "main", "docker deployment", []float32{0.1}, 10, 16)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected the 16-token budget to keep exactly one match, got %d", len(msgs))
	}
}

func TestRecallEmptyQueryReturnsNothing(t *testing.T) {
	store := memory.New()
	msgs, err := sessionstore.Recall(context.Background(), store, "main", "the of and", nil, 10, 0)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no results for stopword-only query, got %d", len(msgs))
	}
}
