package router

import (
	"context"
	"testing"
)

type fakePersister struct {
	scores map[string]float64
}

func (f *fakePersister) PersistPheromoneScore(_ context.Context, agentID string, score float64) error {
	if f.scores == nil {
		f.scores = map[string]float64{}
	}
	f.scores[agentID] = score
	return nil
}

// TestUpdateScoresRoundTrip: repeated successes push the score high,
// subsequent failures pull it back down.
func TestUpdateScoresRoundTrip(t *testing.T) {
	p := &fakePersister{}
	tr := NewTracker(p)
	ctx := context.Background()

	var score float64
	var err error
	for i := 0; i < 3; i++ {
		score, err = tr.UpdateScores(ctx, "x", true, 0, 0)
		if err != nil {
			t.Fatalf("UpdateScores() error = %v", err)
		}
	}
	if score <= 0.9 {
		t.Fatalf("after 3 successes, score = %v, want > 0.9", score)
	}
	if p.scores["x"] != score {
		t.Fatalf("persisted score %v != returned score %v", p.scores["x"], score)
	}

	prev := score
	for i := 0; i < 3; i++ {
		score, err = tr.UpdateScores(ctx, "x", false, 30000, 1)
		if err != nil {
			t.Fatalf("UpdateScores() error = %v", err)
		}
	}
	if score >= prev {
		t.Fatalf("after 3 failures, score = %v, want < previous %v", score, prev)
	}
}
