// Route handlers for Roundtable/Swarm runs: synchronous endpoints that
// block until Discuss/Converge returns, and async endpoints that answer
// 202 with a poll key plus a status endpoint for that key. The WebSocket
// variants that stream intermediate turns live in ws_roundtable.go.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/roundtable"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/swarm"
)

type roundtableRequest struct {
	Topic         string   `json:"topic"`
	AgentIDs      []string `json:"agent_ids"`
	Rounds        int      `json:"rounds,omitempty"`
	SynthesizerID string   `json:"synthesizer_id,omitempty"`
	AgentTimeoutS int      `json:"agent_timeout_seconds,omitempty"`
	TotalTimeoutS int      `json:"total_timeout_seconds,omitempty"`
}

func (s *Server) runRoundtable(w http.ResponseWriter, r *http.Request) {
	var req roundtableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Topic == "" || len(req.AgentIDs) == 0 {
		writeBadRequest(w, "topic and agent_ids are required")
		return
	}
	opts := roundtable.Options{
		Rounds:        req.Rounds,
		SynthesizerID: req.SynthesizerID,
		AgentTimeout:  durationOr(req.AgentTimeoutS, 30*time.Second),
		TotalTimeout:  durationOr(req.TotalTimeoutS, 5*time.Minute),
	}
	result, err := s.rt.Roundtable.Discuss(r.Context(), req.Topic, req.AgentIDs, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type swarmRequest struct {
	Topic             string   `json:"topic"`
	AgentIDs          []string `json:"agent_ids"`
	MaxIterations     int      `json:"max_iterations,omitempty"`
	ConvergenceThresh float64  `json:"convergence_threshold,omitempty"`
	AgentTimeoutS     int      `json:"agent_timeout_seconds,omitempty"`
	TotalTimeoutS     int      `json:"total_timeout_seconds,omitempty"`
}

func (s *Server) runSwarm(w http.ResponseWriter, r *http.Request) {
	var req swarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Topic == "" || len(req.AgentIDs) == 0 {
		writeBadRequest(w, "topic and agent_ids are required")
		return
	}
	opts := swarm.Options{
		MaxIterations:        req.MaxIterations,
		ConvergenceThreshold: req.ConvergenceThresh,
		AgentTimeout:         durationOr(req.AgentTimeoutS, 30*time.Second),
		TotalTimeout:         durationOr(req.TotalTimeoutS, 10*time.Minute),
	}
	result, err := s.rt.Swarm.Converge(r.Context(), req.Topic, req.AgentIDs, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// asyncRun tracks one background Roundtable/Swarm execution started by the
// /async endpoints. Completed runs stay until the process exits; callers
// poll /engine/roundtable/async/status/{key}.
type asyncRun struct {
	Key    string `json:"key"`
	Status string `json:"status"` // "running" | "completed" | "failed"
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type asyncRuns struct {
	mu   sync.Mutex
	runs map[string]*asyncRun
}

func (a *asyncRuns) start() string {
	key := uuid.NewString()
	a.mu.Lock()
	if a.runs == nil {
		a.runs = make(map[string]*asyncRun)
	}
	a.runs[key] = &asyncRun{Key: key, Status: "running"}
	a.mu.Unlock()
	return key
}

func (a *asyncRuns) finish(key string, result any, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	run := a.runs[key]
	if run == nil {
		return
	}
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		return
	}
	run.Status = "completed"
	run.Result = result
}

func (a *asyncRuns) get(key string) (asyncRun, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	run, ok := a.runs[key]
	if !ok {
		return asyncRun{}, false
	}
	return *run, true
}

func (s *Server) runRoundtableAsync(w http.ResponseWriter, r *http.Request) {
	var req roundtableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Topic == "" || len(req.AgentIDs) == 0 {
		writeBadRequest(w, "topic and agent_ids are required")
		return
	}
	opts := roundtable.Options{
		Rounds:        req.Rounds,
		SynthesizerID: req.SynthesizerID,
		AgentTimeout:  durationOr(req.AgentTimeoutS, 30*time.Second),
		TotalTimeout:  durationOr(req.TotalTimeoutS, 5*time.Minute),
	}
	key := s.async.start()
	go func() {
		result, err := s.rt.Roundtable.Discuss(context.Background(), req.Topic, req.AgentIDs, opts)
		s.async.finish(key, result, err)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"key": key})
}

func (s *Server) runSwarmAsync(w http.ResponseWriter, r *http.Request) {
	var req swarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Topic == "" || len(req.AgentIDs) == 0 {
		writeBadRequest(w, "topic and agent_ids are required")
		return
	}
	opts := swarm.Options{
		MaxIterations:        req.MaxIterations,
		ConvergenceThreshold: req.ConvergenceThresh,
		AgentTimeout:         durationOr(req.AgentTimeoutS, 30*time.Second),
		TotalTimeout:         durationOr(req.TotalTimeoutS, 10*time.Minute),
	}
	key := s.async.start()
	go func() {
		result, err := s.rt.Swarm.Converge(context.Background(), req.Topic, req.AgentIDs, opts)
		s.async.finish(key, result, err)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"key": key})
}

func (s *Server) asyncRunStatus(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	run, ok := s.async.get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "unknown run key"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// getCoordinationSession and getCoordinationTurns read back the session
// and transcript a Roundtable/Swarm run persisted, so a client that only
// has the session_id (e.g. from a WS stream_end event) can replay it.
func (s *Server) getCoordinationSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	sess, err := s.rt.Store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) getCoordinationTurns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	messages, err := s.rt.Store.GetMessages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func durationOr(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}
