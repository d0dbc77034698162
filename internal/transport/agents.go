// Route handlers for agent pool status and pheromone-score metrics.
package transport

import (
	"net/http"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
)

func (s *Server) agentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Pool.Status())
}

func (s *Server) agentMetricsAll(w http.ResponseWriter, r *http.Request) {
	status := s.rt.Pool.Status()
	out := make(map[string]any, len(status.PerAgent))
	for agentID := range status.PerAgent {
		agent, ok := s.rt.Pool.Get(agentID)
		if !ok {
			continue
		}
		out[agentID] = map[string]any{
			"status":               agent.Status,
			"pheromone_score":      agent.PheromoneScore,
			"consecutive_failures": agent.ConsecutiveFailures,
			"records":              s.rt.Tracker.Records(agentID),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) agentMetricsOne(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	agent, ok := s.rt.Pool.Get(agentID)
	if !ok {
		writeError(w, errs.New(errs.KindAgent, errs.CodeDisabledAgent, "agent %q not found", agentID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":   agent,
		"records": s.rt.Tracker.Records(agentID),
	})
}

func (s *Server) agentHistory(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	writeJSON(w, http.StatusOK, s.rt.Tracker.Records(agentID))
}

// agentRecall is the cross-session recall path: vector
// similarity when the store supports it, keyword fallback otherwise,
// results trimmed to a token budget.
func (s *Server) agentRecall(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeBadRequest(w, "q is required")
		return
	}
	msgs, err := sessionstore.Recall(r.Context(), s.rt.Store, agentID, query, nil,
		atoiOr(q.Get("limit"), 10), atoiOr(q.Get("token_budget"), 2000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
