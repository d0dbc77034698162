package router

import (
	"context"
	"sync"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/scoring"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// ScorePersister writes a recomputed pheromone score for an agent back to
// the durable store. The router never owns durable storage itself; it only owns the
// transient ring buffer and calls this on every update.
type ScorePersister interface {
	PersistPheromoneScore(ctx context.Context, agentID string, score float64) error
}

// Tracker owns the per-agent in-memory performance ring buffer referenced
// nowhere else; the durable pheromone score is derived from it.
// Readers see a consistent snapshot because updates replace the slice
// reference rather than mutate it in place.
type Tracker struct {
	mu        sync.RWMutex
	records   map[string][]models.PerformanceRecord
	persister ScorePersister
	now       func() time.Time
}

// NewTracker builds a Tracker. persister may be nil for pure in-memory use
// (tests); now defaults to time.Now.
func NewTracker(persister ScorePersister) *Tracker {
	return &Tracker{
		records:   make(map[string][]models.PerformanceRecord),
		persister: persister,
		now:       time.Now,
	}
}

// Records returns a snapshot of an agent's performance records.
func (t *Tracker) Records(agentID string) []models.PerformanceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records[agentID]
}

// UpdateScores appends a new performance record, trims the ring buffer,
// and recomputes the pheromone score under the tracker lock, then persists
// the score after releasing it. Returns the recomputed score.
func (t *Tracker) UpdateScores(ctx context.Context, agentID string, success bool, durationMS int64, tokenCost float64) (float64, error) {
	rec := scoring.NewPerformanceRecord(success, durationMS, tokenCost, t.now())

	t.mu.Lock()
	updated := append(append([]models.PerformanceRecord{}, t.records[agentID]...), rec)
	updated = scoring.TrimRingBuffer(updated)
	t.records[agentID] = updated
	score := scoring.PheromoneScoreAt(updated, t.now())
	t.mu.Unlock()

	if t.persister != nil {
		if err := t.persister.PersistPheromoneScore(ctx, agentID, score); err != nil {
			return score, err
		}
	}
	return score, nil
}

// Candidates builds router Candidate values for a set of agent states
// using this tracker's current in-memory records.
func (t *Tracker) Candidates(agents []models.AgentState) []Candidate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Candidate, 0, len(agents))
	for _, a := range agents {
		out = append(out, Candidate{Agent: a, Records: t.records[a.AgentID]})
	}
	return out
}
