// Package sessionstore defines the runtime's persistence contract
// (sessions, messages, agent state, and cron jobs) behind narrow
// per-entity interfaces, with two adapters: an in-memory one
// (sessionstore/memory) for tests and a Postgres one
// (sessionstore/postgres) for production.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// Sentinel errors shared by every adapter.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ListFilter narrows Store.ListSessions (paginated,
// filterable by agent_id/type/status...)").
type ListFilter struct {
	AgentID string
	Type    models.SessionType
	Status  models.SessionStatus
	Limit   int
	Offset  int
}

// SessionStore is the session CRUD + search + lifecycle surface.
// §4.13.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, f ListFilter) ([]*models.Session, int, error)

	// UpdateCounters runs in its own transaction, deliberately separate
	// from message persistence.
	UpdateCounters(ctx context.Context, sessionID string, deltaMessages int, deltaTokensIn, deltaTokensOut int64, deltaCost float64, now time.Time) error

	// SearchSessions does a trigram/ILIKE substring search over title and
	// message content.
	SearchSessions(ctx context.Context, query string, limit int) ([]*models.Session, error)

	// ArchiveSession physically copies the session and all its messages to
	// the archive tables in one transaction, then deletes the working
	// copy. The archive is physical, not a status flag.
	ArchiveSession(ctx context.Context, id string) error
	GetArchivedSession(ctx context.Context, id string) (*models.Session, []models.Message, error)

	// PruneGhosts deletes sessions with zero messages older than
	// olderThan.
	PruneGhosts(ctx context.Context, olderThan time.Duration, now time.Time) (int, error)

	// PruneIdle archives every session whose UpdatedAt is older than
	// idleFor.
	PruneIdle(ctx context.Context, idleFor time.Duration, now time.Time) (int, error)
}

// MessageStore is message persistence and cross-session recall.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *models.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]models.Message, error)

	// VectorSearchSupported reports whether SemanticSearch can use a real
	// embedding index. The in-memory adapter reports false, which is what
	// triggers the keyword fallback.
	VectorSearchSupported() bool
	SemanticSearch(ctx context.Context, agentID string, queryEmbedding []float32, limit int) ([]models.Message, error)
	KeywordSearch(ctx context.Context, agentID string, keywords []string, limit int) ([]models.Message, error)
}

// AgentStore persists AgentState rows; satisfies agentpool.AgentStore and
// router.ScorePersister.
type AgentStore interface {
	LoadAgents(ctx context.Context) ([]models.AgentState, error)
	SaveAgent(ctx context.Context, agent models.AgentState) error
	PersistPheromoneScore(ctx context.Context, agentID string, score float64) error
}

// CronStore is CronJob CRUD.
type CronStore interface {
	CreateCronJob(ctx context.Context, j *models.CronJob) error
	GetCronJob(ctx context.Context, id string) (*models.CronJob, error)
	UpdateCronJob(ctx context.Context, j *models.CronJob) error
	DeleteCronJob(ctx context.Context, id string) error
	ListCronJobs(ctx context.Context) ([]*models.CronJob, error)
}

// Store is the full persistence surface the runtime depends on.
type Store interface {
	SessionStore
	MessageStore
	AgentStore
	CronStore

	Close() error
}
