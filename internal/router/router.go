// Package router implements pheromone-weighted agent dispatch: given a
// message and a candidate set of agents, pick the
// best match by a fixed-weight combination of pheromone, specialty, load,
// and recency scores.
package router

import (
	"sort"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/scoring"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// Fixed combination weights for the four routing signals.
const (
	WeightPheromone = 0.35
	WeightSpecialty = 0.30
	WeightLoad      = 0.20
	WeightRecency   = 0.15
)

// Candidate is the router's view of one agent: its durable state plus its
// in-memory performance ring buffer (owned by the router).
type Candidate struct {
	Agent   models.AgentState
	Records []models.PerformanceRecord
}

// ScoreBreakdown is returned by Explain for operability: the per-factor
// scores behind a routing decision.
type ScoreBreakdown struct {
	AgentID    string
	Pheromone  float64
	Specialty  float64
	Load       float64
	Recency    float64
	Combined   float64
}

func combine(b ScoreBreakdown) float64 {
	return WeightPheromone*b.Pheromone +
		WeightSpecialty*b.Specialty +
		WeightLoad*b.Load +
		WeightRecency*b.Recency
}

func scoreCandidate(message string, c Candidate) ScoreBreakdown {
	b := ScoreBreakdown{
		AgentID:   c.Agent.AgentID,
		Pheromone: c.Agent.PheromoneScore,
		Specialty: scoring.SpecialtyMatch(message, c.Agent.FocusType),
		Load:      scoring.LoadScore(c.Agent.Status, c.Agent.ConsecutiveFailures),
		Recency:   scoring.RecencyScore(c.Records, 10),
	}
	b.Combined = combine(b)
	return b
}

// Route picks the best-matching candidate for message. candidates must be
// the agents eligible for this message; Route never returns an agent
// outside that set.
func Route(message string, candidates []Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", errs.New(errs.KindAgent, errs.CodeNoCandidates, "no candidate agents supplied")
	}
	if len(candidates) == 1 {
		return candidates[0].Agent.AgentID, nil
	}

	best := scoreCandidate(message, candidates[0])
	for _, c := range candidates[1:] {
		b := scoreCandidate(message, c)
		if b.Combined > best.Combined {
			best = b
		}
	}
	return best.AgentID, nil
}

// Explain returns the full score breakdown for every candidate, sorted by
// combined score descending, for diagnostics and tests.
func Explain(message string, candidates []Candidate) []ScoreBreakdown {
	out := make([]ScoreBreakdown, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, scoreCandidate(message, c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Combined > out[j].Combined })
	return out
}

// FallbackStep is one hop in an agent's model fallback chain.
type FallbackStep struct {
	AgentID string
	Model   string
}

// AgentLookup resolves an agent by id for chain walking; returns
// (state, true) or (zero, false) if unknown.
type AgentLookup func(agentID string) (models.AgentState, bool)

// FallbackChain walks model -> fallback_model -> parent.model ->
// parent.fallback_model -> ... guarding against cycles. The chat engine
// walks the chain on LLM error.
func FallbackChain(agentID string, lookup AgentLookup) []FallbackStep {
	visited := map[string]bool{}
	var chain []FallbackStep

	current, ok := lookup(agentID)
	if !ok {
		return chain
	}

	for {
		if visited[current.AgentID] {
			break
		}
		visited[current.AgentID] = true

		if current.Model != "" {
			chain = append(chain, FallbackStep{AgentID: current.AgentID, Model: current.Model})
		}
		if current.FallbackModel != "" {
			chain = append(chain, FallbackStep{AgentID: current.AgentID, Model: current.FallbackModel})
		}

		if current.ParentAgentID == "" {
			break
		}
		parent, ok := lookup(current.ParentAgentID)
		if !ok {
			break
		}
		current = parent
	}

	return chain
}
