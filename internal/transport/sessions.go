// Route handlers for session CRUD and chat message turns.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

type createSessionRequest struct {
	AgentID       string             `json:"agent_id"`
	Type          models.SessionType `json:"type"`
	Model         string             `json:"model"`
	SystemPrompt  string             `json:"system_prompt,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	MaxTokens     int                `json:"max_tokens,omitempty"`
	ContextWindow int                `json:"context_window,omitempty"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.AgentID == "" || req.Model == "" {
		writeBadRequest(w, "agent_id and model are required")
		return
	}
	window := req.ContextWindow
	if window <= 0 {
		window = models.DefaultContextWindow
	}
	now := time.Now()
	sess := &models.Session{
		ID:            uuid.NewString(),
		AgentID:       req.AgentID,
		Type:          req.Type,
		Model:         req.Model,
		SystemPrompt:  req.SystemPrompt,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		ContextWindow: window,
		Status:        models.SessionActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sess.Type == "" {
		sess.Type = models.SessionChat
	}
	if err := s.rt.Store.CreateSession(r.Context(), sess); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.rt.Store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, errs.New(errs.KindSession, errs.CodeSessionNotFound, "session %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if search := q.Get("q"); search != "" {
		sessions, err := s.rt.Store.SearchSessions(r.Context(), search, atoiOr(q.Get("limit"), 50))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": len(sessions)})
		return
	}
	filter := sessionstore.ListFilter{
		AgentID: q.Get("agent_id"),
		Type:    models.SessionType(q.Get("type")),
		Status:  models.SessionStatus(q.Get("status")),
		Limit:   atoiOr(q.Get("limit"), 50),
		Offset:  atoiOr(q.Get("offset"), 0),
	}
	sessions, total, err := s.rt.Store.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
}

type sendMessageRequest struct {
	Content        string `json:"content"`
	EnableThinking bool   `json:"enable_thinking,omitempty"`
	EnableTools    bool   `json:"enable_tools,omitempty"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Content == "" {
		writeBadRequest(w, "content is required")
		return
	}
	res, err := s.rt.Chat.SendMessage(r.Context(), id, req.Content, req.EnableThinking, req.EnableTools)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.rt.Store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, errs.New(errs.KindSession, errs.CodeSessionNotFound, "session %q not found", id))
		return
	}
	now := time.Now()
	sess.Status = models.SessionEnded
	sess.EndedAt = &now
	sess.UpdatedAt = now
	if err := s.rt.Store.UpdateSession(r.Context(), sess); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.rt.Store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, errs.New(errs.KindSession, errs.CodeSessionNotFound, "session %q not found", id))
		return
	}
	messages, err := s.rt.Store.GetMessages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "jsonl":
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", `attachment; filename="session-`+id+`.jsonl"`)
		enc := json.NewEncoder(w)
		_ = enc.Encode(sess)
		for _, m := range messages {
			_ = enc.Encode(m)
		}
	case "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="session-`+id+`.md"`)
		title := sess.Title
		if title == "" {
			title = "Session " + sess.ID
		}
		fmt.Fprintf(w, "# %s\n\n", title)
		for _, m := range messages {
			fmt.Fprintf(w, "## %s — %s\n\n%s\n\n", m.Role, m.CreatedAt.Format(time.RFC3339), m.Content)
		}
	default:
		writeBadRequest(w, "format must be jsonl or markdown")
	}
}

func (s *Server) archiveSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.rt.Store.ArchiveSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cleanupSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ghostAfter := time.Duration(atoiOr(q.Get("ghost_minutes"), 15)) * time.Minute
	idleAfter := time.Duration(atoiOr(q.Get("days"), 7)) * 24 * time.Hour
	dryRun := q.Get("dry_run") == "true"

	now := time.Now()
	if dryRun {
		ghosts, archived, err := s.countPrunable(r, ghostAfter, idleAfter, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ghosts_pruned": ghosts, "sessions_archived": archived, "dry_run": true})
		return
	}

	ghosts, err := s.rt.Store.PruneGhosts(r.Context(), ghostAfter, now)
	if err != nil {
		writeError(w, err)
		return
	}
	archived, err := s.rt.Store.PruneIdle(r.Context(), idleAfter, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ghosts_pruned": ghosts, "sessions_archived": archived})
}

// countPrunable reports what a cleanup would touch without mutating,
// using the sessions' own counters rather than the prune paths.
func (s *Server) countPrunable(r *http.Request, ghostAfter, idleAfter time.Duration, now time.Time) (int, int, error) {
	sessions, _, err := s.rt.Store.ListSessions(r.Context(), sessionstore.ListFilter{})
	if err != nil {
		return 0, 0, err
	}
	ghostCutoff := now.Add(-ghostAfter)
	idleCutoff := now.Add(-idleAfter)
	ghosts, idle := 0, 0
	for _, sess := range sessions {
		if sess.MessageCount == 0 && sess.CreatedAt.Before(ghostCutoff) {
			ghosts++
			continue
		}
		if sess.UpdatedAt.Before(idleCutoff) {
			idle++
		}
	}
	return ghosts, idle, nil
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
