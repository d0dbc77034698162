// Package memory implements sessionstore.Store entirely in process
// memory: the counterpart to the Postgres adapter, and the store every
// package test in this repo runs against.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// Store is the in-memory sessionstore.Store implementation.
type Store struct {
	mu sync.RWMutex

	sessions    map[string]*models.Session
	messages    map[string][]models.Message // by session id, in append order
	archSession map[string]*models.Session
	archMsgs    map[string][]models.Message

	agents map[string]models.AgentState
	crons  map[string]*models.CronJob
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		sessions:    make(map[string]*models.Session),
		messages:    make(map[string][]models.Message),
		archSession: make(map[string]*models.Session),
		archMsgs:    make(map[string][]models.Message),
		agents:      make(map[string]models.AgentState),
		crons:       make(map[string]*models.CronJob),
	}
}

func (s *Store) Close() error { return nil }

// --- SessionStore ---

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess == nil {
		return sessionstore.ErrNotFound
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return sessionstore.ErrAlreadyExists
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sessionstore.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.ID == "" {
		return sessionstore.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; !exists {
		return sessionstore.ErrNotFound
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; !exists {
		return sessionstore.ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) ListSessions(ctx context.Context, f sessionstore.ListFilter) ([]*models.Session, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.Session
	for _, sess := range s.sessions {
		if f.AgentID != "" && sess.AgentID != f.AgentID {
			continue
		}
		if f.Type != "" && sess.Type != f.Type {
			continue
		}
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		cp := *sess
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	total := len(matched)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if f.Limit > 0 && offset+f.Limit < end {
		end = offset + f.Limit
	}
	return matched[offset:end], total, nil
}

func (s *Store) UpdateCounters(ctx context.Context, sessionID string, deltaMessages int, deltaTokensIn, deltaTokensOut int64, deltaCost float64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return sessionstore.ErrNotFound
	}
	sess.MessageCount += deltaMessages
	sess.TotalTokens += deltaTokensIn + deltaTokensOut
	sess.TotalCost += deltaCost
	sess.UpdatedAt = now
	return nil
}

func (s *Store) SearchSessions(ctx context.Context, query string, limit int) ([]*models.Session, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		hit := q == "" || strings.Contains(strings.ToLower(sess.Title), q)
		if !hit {
			for _, m := range s.messages[sess.ID] {
				if strings.Contains(strings.ToLower(m.Content), q) {
					hit = true
					break
				}
			}
		}
		if hit {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ArchiveSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return sessionstore.ErrNotFound
	}
	cp := *sess
	s.archSession[id] = &cp
	s.archMsgs[id] = append([]models.Message{}, s.messages[id]...)
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) GetArchivedSession(ctx context.Context, id string) (*models.Session, []models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.archSession[id]
	if !ok {
		return nil, nil, sessionstore.ErrNotFound
	}
	cp := *sess
	return &cp, append([]models.Message{}, s.archMsgs[id]...), nil
}

func (s *Store) PruneGhosts(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-olderThan)
	n := 0
	for id, sess := range s.sessions {
		if len(s.messages[id]) == 0 && sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) PruneIdle(ctx context.Context, idleFor time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-idleFor)
	s.mu.RLock()
	var stale []string
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if err := s.ArchiveSession(ctx, id); err == nil {
			n++
		}
	}
	return n, nil
}

// --- MessageStore ---

func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	if m == nil || m.SessionID == "" {
		return sessionstore.ErrNotFound
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return sessionstore.ErrNotFound
	}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], *m)
	return nil
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, sessionstore.ErrNotFound
	}
	return append([]models.Message{}, s.messages[sessionID]...), nil
}

// VectorSearchSupported is always false for the in-memory adapter; this
// is the branch that triggers the keyword-search fallback in Recall.
func (s *Store) VectorSearchSupported() bool { return false }

func (s *Store) SemanticSearch(ctx context.Context, agentID string, queryEmbedding []float32, limit int) ([]models.Message, error) {
	return nil, nil
}

// KeywordSearch does an ILIKE-equivalent substring match across an agent's
// sessions, backing the keyword fallback of cross-session recall.
func (s *Store) KeywordSearch(ctx context.Context, agentID string, keywords []string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for id, sess := range s.sessions {
		if agentID != "" && sess.AgentID != agentID {
			continue
		}
		for _, m := range s.messages[id] {
			lower := strings.ToLower(m.Content)
			for _, kw := range keywords {
				if kw == "" {
					continue
				}
				if strings.Contains(lower, strings.ToLower(kw)) {
					out = append(out, m)
					break
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- AgentStore ---

func (s *Store) LoadAgents(ctx context.Context) ([]models.AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AgentState, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *Store) SaveAgent(ctx context.Context, agent models.AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.AgentID] = agent
	return nil
}

func (s *Store) PersistPheromoneScore(ctx context.Context, agentID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return sessionstore.ErrNotFound
	}
	a.PheromoneScore = score
	s.agents[agentID] = a
	return nil
}

// --- CronStore ---

func (s *Store) CreateCronJob(ctx context.Context, j *models.CronJob) error {
	if j == nil {
		return sessionstore.ErrNotFound
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.crons[j.ID]; exists {
		return sessionstore.ErrAlreadyExists
	}
	cp := *j
	s.crons[j.ID] = &cp
	return nil
}

func (s *Store) GetCronJob(ctx context.Context, id string) (*models.CronJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.crons[id]
	if !ok {
		return nil, sessionstore.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) UpdateCronJob(ctx context.Context, j *models.CronJob) error {
	if j == nil || j.ID == "" {
		return sessionstore.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.crons[j.ID]; !exists {
		return sessionstore.ErrNotFound
	}
	cp := *j
	s.crons[j.ID] = &cp
	return nil
}

func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.crons[id]; !exists {
		return sessionstore.ErrNotFound
	}
	delete(s.crons, id)
	return nil
}

func (s *Store) ListCronJobs(ctx context.Context) ([]*models.CronJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CronJob, 0, len(s.crons))
	for _, j := range s.crons {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
