// Package protection implements the pre-flight checks applied before any
// message insertion: role/length validation, sanitization,
// prompt-injection logging, sliding-window rate limits, a session size
// cap, and per-session exclusivity.
package protection

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// MaxMessageLength and MinMessageLength bound content length.
const (
	MinMessageLength = 1
	MaxMessageLength = 100_000
)

// MaxSessionMessages caps one session's message count.
const MaxSessionMessages = 500

var allowedRoles = map[models.Role]bool{
	models.RoleUser:      true,
	models.RoleAssistant: true,
	models.RoleSystem:    true,
	models.RoleTool:      true,
	models.RoleFunction:  true,
}

// injectionPatterns are logged on match, never blocking.
var injectionPatterns = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard prior instructions",
	"you are now",
	"system prompt:",
	"### system",
	"<|system|>",
}

// InjectionLogger receives a flagged message for logging/auditing; never
// blocks the turn.
type InjectionLogger func(sessionID, pattern, content string)

// Validate runs the role/length checks and
// sanitization, returning the cleaned content.
func Validate(role models.Role, content string) (string, error) {
	if !allowedRoles[role] {
		return "", errs.New(errs.KindValidation, "invalid-role", "role %q is not permitted", role)
	}
	cleaned := sanitize(content)
	if len(cleaned) < MinMessageLength {
		return "", errs.New(errs.KindValidation, "content-too-short", "message content must not be empty")
	}
	if len(cleaned) > MaxMessageLength {
		return "", errs.New(errs.KindValidation, "content-too-long", "message content exceeds %d characters", MaxMessageLength)
	}
	return cleaned, nil
}

// sanitize strips control characters (keeping \n \t \r), trims whitespace,
// and drops invalid UTF-8 runes.
func sanitize(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if r == unicode.ReplacementChar {
			continue
		}
		if r == '\n' || r == '\t' || r == '\r' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// DetectInjection scans content against the known prompt-injection
// pattern set and logs (never blocks) on a match.
func DetectInjection(sessionID, content string, log InjectionLogger) {
	if log == nil {
		return
	}
	lower := strings.ToLower(content)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lower, pattern) {
			log(sessionID, pattern, content)
		}
	}
}

// slidingWindow counts events within a fixed duration using a timestamp
// queue, trimmed lazily on each check.
type slidingWindow struct {
	window time.Duration
	limit  int
	times  []time.Time
}

func (w *slidingWindow) allow(now time.Time) (bool, time.Duration) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	w.times = w.times[i:]

	if len(w.times) >= w.limit {
		retryAfter := w.times[0].Add(w.window).Sub(now)
		return false, retryAfter
	}
	w.times = append(w.times, now)
	return true, 0
}

type sessionWindows struct {
	mu     sync.Mutex
	minute slidingWindow
	hour   slidingWindow
}

// AgentLimit configures a per-agent rate beyond the default.
type AgentLimit struct {
	PerMinute int
}

// RateLimiter enforces the sliding-window rate limits: per
// session (20/min, 200/hour) and per agent (a default limit, 15/min when
// unset, with optional per-agent-ID overrides).
type RateLimiter struct {
	mu           sync.Mutex
	sessions     map[string]*sessionWindows
	agentWindows map[string]*sessionWindows
	agentLimits  map[string]AgentLimit
	defaultAgent AgentLimit
	now          func() time.Time
}

// DefaultSessionPerMinute and DefaultSessionPerHour are the session-wide
// sliding-window limits.
const (
	DefaultSessionPerMinute = 20
	DefaultSessionPerHour   = 200
)

// NewRateLimiter builds a RateLimiter with per-agent overrides
// (e.g. {"main": {PerMinute: 30}}) and a default for unlisted agents.
func NewRateLimiter(agentLimits map[string]AgentLimit, defaultAgent AgentLimit) *RateLimiter {
	if defaultAgent.PerMinute <= 0 {
		defaultAgent.PerMinute = 15
	}
	return &RateLimiter{
		sessions:     make(map[string]*sessionWindows),
		agentWindows: make(map[string]*sessionWindows),
		agentLimits:  agentLimits,
		defaultAgent: defaultAgent,
		now:          time.Now,
	}
}

func (r *RateLimiter) sessionBucket(sessionID string) *sessionWindows {
	r.mu.Lock()
	defer r.mu.Unlock()
	sw, ok := r.sessions[sessionID]
	if !ok {
		sw = &sessionWindows{
			minute: slidingWindow{window: time.Minute, limit: DefaultSessionPerMinute},
			hour:   slidingWindow{window: time.Hour, limit: DefaultSessionPerHour},
		}
		r.sessions[sessionID] = sw
	}
	return sw
}

func (r *RateLimiter) agentBucket(agentID string) *sessionWindows {
	r.mu.Lock()
	defer r.mu.Unlock()
	sw, ok := r.agentWindows[agentID]
	if !ok {
		limit := r.defaultAgent
		if al, ok := r.agentLimits[agentID]; ok {
			limit = al
		}
		sw = &sessionWindows{minute: slidingWindow{window: time.Minute, limit: limit.PerMinute}}
		r.agentWindows[agentID] = sw
	}
	return sw
}

// Allow checks the session and agent sliding windows, returning an
// EngineError with a retry_after hint on breach.
func (r *RateLimiter) Allow(sessionID, agentID string) error {
	now := r.now()

	sessBucket := r.sessionBucket(sessionID)
	sessBucket.mu.Lock()
	okMin, waitMin := sessBucket.minute.allow(now)
	var okHour bool
	var waitHour time.Duration
	if okMin {
		okHour, waitHour = sessBucket.hour.allow(now)
		if !okHour {
			// undo the minute-window reservation since the turn is rejected.
			sessBucket.minute.times = sessBucket.minute.times[:len(sessBucket.minute.times)-1]
		}
	}
	sessBucket.mu.Unlock()

	if !okMin {
		return errs.RateLimited("session-rate-limited", int(waitMin.Seconds())+1)
	}
	if !okHour {
		return errs.RateLimited("session-rate-limited", int(waitHour.Seconds())+1)
	}

	if agentID == "" {
		return nil
	}
	agentBucket := r.agentBucket(agentID)
	agentBucket.mu.Lock()
	okAgent, waitAgent := agentBucket.minute.allow(now)
	agentBucket.mu.Unlock()
	if !okAgent {
		return errs.RateLimited("agent-rate-limited", int(waitAgent.Seconds())+1)
	}
	return nil
}

// CheckSessionSize enforces the 500-message session size cap.
func CheckSessionSize(currentCount int) error {
	if currentCount >= MaxSessionMessages {
		return errs.New(errs.KindSessionFull, errs.CodeSessionFull, "session has reached the %d message cap", MaxSessionMessages)
	}
	return nil
}

// SessionLocks grants per-session advisory exclusivity while mutating a
// session. In-process only; a DB advisory lock keyed by session-id hash
// slots in behind the same interface for multi-process deployments.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionLocks builds an empty lock table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks sessionID's mutex, creating it on first use, and returns
// an unlock function.
func (s *SessionLocks) Acquire(sessionID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
