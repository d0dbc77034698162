// Package postgres is the production sessionstore.Store adapter: schema
// `engine` with tables `agent_state`, `chat_sessions`, `chat_messages`
// (+ `*_archive` mirrors) and `cron_jobs`, including the trigram search
// and ivfflat vector index the query paths rely on.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// Store is the pgx-backed sessionstore.Store implementation.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an already-constructed pool (tests, shared pools).
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return sessionstore.ErrNotFound
	}
	return err
}

// --- Sessions ---

const sessionColumns = `id, agent_id, type, title, model, temperature, max_tokens, context_window,
	system_prompt, status, message_count, total_tokens, total_cost, metadata, created_at, updated_at, ended_at`

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO engine.chat_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		sess.ID, sess.AgentID, sess.Type, sess.Title, sess.Model, sess.Temperature, sess.MaxTokens,
		sess.ContextWindow, sess.SystemPrompt, sess.Status, sess.MessageCount, sess.TotalTokens,
		sess.TotalCost, meta, sess.CreatedAt, sess.UpdatedAt, sess.EndedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var sess models.Session
	var meta []byte
	if err := row.Scan(&sess.ID, &sess.AgentID, &sess.Type, &sess.Title, &sess.Model, &sess.Temperature,
		&sess.MaxTokens, &sess.ContextWindow, &sess.SystemPrompt, &sess.Status, &sess.MessageCount,
		&sess.TotalTokens, &sess.TotalCost, &meta, &sess.CreatedAt, &sess.UpdatedAt, &sess.EndedAt); err != nil {
		return nil, translateErr(err)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &sess.Metadata)
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM engine.chat_sessions WHERE id=$1`, id)
	return scanSession(row)
}

func (s *Store) UpdateSession(ctx context.Context, sess *models.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE engine.chat_sessions SET title=$2, model=$3, temperature=$4, max_tokens=$5,
			context_window=$6, system_prompt=$7, status=$8, message_count=$9, total_tokens=$10,
			total_cost=$11, metadata=$12, updated_at=$13, ended_at=$14
		WHERE id=$1`,
		sess.ID, sess.Title, sess.Model, sess.Temperature, sess.MaxTokens, sess.ContextWindow,
		sess.SystemPrompt, sess.Status, sess.MessageCount, sess.TotalTokens, sess.TotalCost, meta,
		sess.UpdatedAt, sess.EndedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM engine.chat_sessions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, f sessionstore.ListFilter) ([]*models.Session, int, error) {
	where := "WHERE ($1 = '' OR agent_id = $1) AND ($2 = '' OR type = $2) AND ($3 = '' OR status = $3)"
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM engine.chat_sessions `+where,
		f.AgentID, string(f.Type), string(f.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM engine.chat_sessions `+where+`
		ORDER BY updated_at DESC LIMIT $4 OFFSET $5`,
		f.AgentID, string(f.Type), string(f.Status), limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sess)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateCounters(ctx context.Context, sessionID string, deltaMessages int, deltaTokensIn, deltaTokensOut int64, deltaCost float64, now time.Time) error {
	// Deliberately its own statement/transaction: never composed with message inserts so a counter-update
	// deadlock can't roll back message persistence.
	tag, err := s.pool.Exec(ctx, `
		UPDATE engine.chat_sessions
		SET message_count = message_count + $2,
			total_tokens = total_tokens + $3,
			total_cost = total_cost + $4,
			updated_at = $5
		WHERE id = $1`,
		sessionID, deltaMessages, deltaTokensIn+deltaTokensOut, deltaCost, now)
	if err != nil {
		return fmt.Errorf("update session counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

// SearchSessions uses the trigram GIN index on chat_sessions.title and
// chat_messages.content.
func (s *Store) SearchSessions(ctx context.Context, query string, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT `+prefixColumns("cs", sessionColumns)+`
		FROM engine.chat_sessions cs
		LEFT JOIN engine.chat_messages cm ON cm.session_id = cs.id
		WHERE cs.title ILIKE '%' || $1 || '%' OR cm.content ILIKE '%' || $1 || '%'
		ORDER BY cs.updated_at DESC LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func prefixColumns(alias, cols string) string {
	// cheap helper: the column list has no commas inside identifiers, so a
	// naive split+join is safe here.
	out := alias + "."
	for _, r := range cols {
		out += string(r)
		if r == ',' {
			out += " " + alias + "."
		}
	}
	return out
}

func (s *Store) ArchiveSession(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO engine.chat_sessions_archive SELECT * FROM engine.chat_sessions WHERE id=$1`, id); err != nil {
		return fmt.Errorf("copy session to archive: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO engine.chat_messages_archive SELECT * FROM engine.chat_messages WHERE session_id=$1`, id); err != nil {
		return fmt.Errorf("copy messages to archive: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM engine.chat_messages WHERE session_id=$1`, id); err != nil {
		return fmt.Errorf("delete working messages: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM engine.chat_sessions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete working session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *Store) GetArchivedSession(ctx context.Context, id string) (*models.Session, []models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM engine.chat_sessions_archive WHERE id=$1`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.queryMessages(ctx, `SELECT `+messageColumns+` FROM engine.chat_messages_archive WHERE session_id=$1 ORDER BY created_at`, id)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

func (s *Store) PruneGhosts(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM engine.chat_sessions cs
		WHERE cs.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM engine.chat_messages cm WHERE cm.session_id = cs.id)`,
		now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune ghosts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) PruneIdle(ctx context.Context, idleFor time.Duration, now time.Time) (int, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM engine.chat_sessions WHERE updated_at < $1`, now.Add(-idleFor))
	if err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	n := 0
	for _, id := range ids {
		if err := s.ArchiveSession(ctx, id); err == nil {
			n++
		}
	}
	return n, nil
}

// --- Messages ---

const messageColumns = `id, session_id, role, content, thinking, tool_calls, tool_results, tool_call_id,
	model, tokens_input, tokens_output, cost, latency_ms, metadata, embedding, created_at`

func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(m.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool results: %w", err)
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO engine.chat_messages (`+messageColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		m.ID, m.SessionID, m.Role, m.Content, m.Thinking, toolCalls, toolResults, m.ToolCallID,
		m.Model, m.TokensIn, m.TokensOut, m.Cost, m.LatencyMS, meta, m.Embedding, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	var toolCalls, toolResults, meta []byte
	if err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Thinking, &toolCalls, &toolResults,
		&m.ToolCallID, &m.Model, &m.TokensIn, &m.TokensOut, &m.Cost, &m.LatencyMS, &meta, &m.Embedding,
		&m.CreatedAt); err != nil {
		return models.Message{}, translateErr(err)
	}
	_ = json.Unmarshal(toolCalls, &m.ToolCalls)
	_ = json.Unmarshal(toolResults, &m.ToolResults)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &m.Metadata)
	}
	return m, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM engine.chat_messages WHERE session_id=$1 ORDER BY created_at`, sessionID)
}

func (s *Store) VectorSearchSupported() bool { return true }

// SemanticSearch uses the ivfflat cosine index on chat_messages.embedding
// from the schema migration.
func (s *Store) SemanticSearch(ctx context.Context, agentID string, queryEmbedding []float32, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM engine.chat_messages cm
		JOIN engine.chat_sessions cs ON cs.id = cm.session_id
		WHERE cs.agent_id = $1 AND cm.embedding IS NOT NULL
		ORDER BY cm.embedding <=> $2 LIMIT $3`, agentID, queryEmbedding, limit)
}

// KeywordSearch is the recall fallback path used when an agent
// has no embedded messages yet.
func (s *Store) KeywordSearch(ctx context.Context, agentID string, keywords []string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(keywords) == 0 {
		return nil, nil
	}
	pattern := "%" + keywords[0]
	for _, k := range keywords[1:] {
		pattern += "%" + k
	}
	pattern += "%"
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM engine.chat_messages cm
		JOIN engine.chat_sessions cs ON cs.id = cm.session_id
		WHERE cs.agent_id = $1 AND cm.content ILIKE $2
		ORDER BY cm.created_at DESC LIMIT $3`, agentID, pattern, limit)
}

// --- Agents ---

func (s *Store) LoadAgents(ctx context.Context) ([]models.AgentState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, display_name, agent_type, focus_type, model, fallback_model, parent_agent_id,
			enabled, status, pheromone_score, consecutive_failures, current_session_id, current_task,
			last_active_at, skills, metadata
		FROM engine.agent_state`)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	defer rows.Close()

	var out []models.AgentState
	for rows.Next() {
		var a models.AgentState
		var focus *models.FocusType
		var meta []byte
		if err := rows.Scan(&a.AgentID, &a.DisplayName, &a.AgentType, &focus, &a.Model, &a.FallbackModel,
			&a.ParentAgentID, &a.Enabled, &a.Status, &a.PheromoneScore, &a.ConsecutiveFailures,
			&a.CurrentSessionID, &a.CurrentTask, &a.LastActiveAt, &a.Skills, &meta); err != nil {
			return nil, err
		}
		a.FocusType = focus
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &a.Metadata)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveAgent(ctx context.Context, agent models.AgentState) error {
	meta, err := json.Marshal(agent.Metadata)
	if err != nil {
		return fmt.Errorf("marshal agent metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO engine.agent_state (agent_id, display_name, agent_type, focus_type, model,
			fallback_model, parent_agent_id, enabled, status, pheromone_score, consecutive_failures,
			current_session_id, current_task, last_active_at, skills, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (agent_id) DO UPDATE SET
			display_name=$2, agent_type=$3, focus_type=$4, model=$5, fallback_model=$6,
			parent_agent_id=$7, enabled=$8, status=$9, pheromone_score=$10, consecutive_failures=$11,
			current_session_id=$12, current_task=$13, last_active_at=$14, skills=$15, metadata=$16`,
		agent.AgentID, agent.DisplayName, agent.AgentType, agent.FocusType, agent.Model, agent.FallbackModel,
		agent.ParentAgentID, agent.Enabled, agent.Status, agent.PheromoneScore, agent.ConsecutiveFailures,
		agent.CurrentSessionID, agent.CurrentTask, agent.LastActiveAt, agent.Skills, meta)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) PersistPheromoneScore(ctx context.Context, agentID string, score float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE engine.agent_state SET pheromone_score=$2 WHERE agent_id=$1`, agentID, score)
	if err != nil {
		return fmt.Errorf("persist pheromone score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

// --- Cron jobs ---

const cronColumns = `id, name, schedule, target_agent_id, enabled, payload_type, payload, session_mode,
	max_duration_seconds, retry_count, last_run_at, last_status, last_duration_ms, last_error,
	next_run_at, run_count, success_count, fail_count`

func (s *Store) CreateCronJob(ctx context.Context, j *models.CronJob) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO engine.cron_jobs (`+cronColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		j.ID, j.Name, j.Schedule, j.TargetAgentID, j.Enabled, j.PayloadType, payload, j.SessionMode,
		j.MaxDurationSec, j.RetryCount, j.LastRunAt, j.LastStatus, j.LastDurationMS, j.LastError,
		j.NextRunAt, j.RunCount, j.SuccessCount, j.FailCount)
	if err != nil {
		return fmt.Errorf("create cron job: %w", err)
	}
	return nil
}

func scanCronJob(row pgx.Row) (*models.CronJob, error) {
	var j models.CronJob
	var payload []byte
	if err := row.Scan(&j.ID, &j.Name, &j.Schedule, &j.TargetAgentID, &j.Enabled, &j.PayloadType,
		&payload, &j.SessionMode, &j.MaxDurationSec, &j.RetryCount, &j.LastRunAt, &j.LastStatus,
		&j.LastDurationMS, &j.LastError, &j.NextRunAt, &j.RunCount, &j.SuccessCount, &j.FailCount); err != nil {
		return nil, translateErr(err)
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &j.Payload)
	}
	return &j, nil
}

func (s *Store) GetCronJob(ctx context.Context, id string) (*models.CronJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cronColumns+` FROM engine.cron_jobs WHERE id=$1`, id)
	return scanCronJob(row)
}

func (s *Store) UpdateCronJob(ctx context.Context, j *models.CronJob) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE engine.cron_jobs SET name=$2, schedule=$3, target_agent_id=$4, enabled=$5,
			payload_type=$6, payload=$7, session_mode=$8, max_duration_seconds=$9, retry_count=$10,
			last_run_at=$11, last_status=$12, last_duration_ms=$13, last_error=$14, next_run_at=$15,
			run_count=$16, success_count=$17, fail_count=$18
		WHERE id=$1`,
		j.ID, j.Name, j.Schedule, j.TargetAgentID, j.Enabled, j.PayloadType, payload, j.SessionMode,
		j.MaxDurationSec, j.RetryCount, j.LastRunAt, j.LastStatus, j.LastDurationMS, j.LastError,
		j.NextRunAt, j.RunCount, j.SuccessCount, j.FailCount)
	if err != nil {
		return fmt.Errorf("update cron job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM engine.cron_jobs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete cron job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

func (s *Store) ListCronJobs(ctx context.Context) ([]*models.CronJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cronColumns+` FROM engine.cron_jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()
	var out []*models.CronJob
	for rows.Next() {
		j, err := scanCronJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
