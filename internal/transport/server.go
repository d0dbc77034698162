package transport

import (
	"log/slog"
	"net/http"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/auth"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/config"
)

// Server is the REST + WebSocket transport surface.
type Server struct {
	rt     *config.Runtime
	auth   *auth.Service
	logger *slog.Logger
	async  asyncRuns
}

// New builds a Server over an already-wired Runtime.
func New(rt *config.Runtime, authSvc *auth.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{rt: rt, auth: authSvc, logger: logger}
}

// Handler builds the routed http.Handler, with API-key/JWT auth applied
// per-route via internal/auth's Middleware (user-level for most routes,
// admin-level for destructive cron/session-cleanup operations).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	user := auth.Middleware(s.auth, false, s.logger)
	admin := auth.Middleware(s.auth, true, s.logger)

	mux.Handle("POST /engine/chat/sessions", user(http.HandlerFunc(s.createSession)))
	mux.Handle("GET /engine/chat/sessions", user(http.HandlerFunc(s.listSessions)))
	mux.Handle("GET /engine/chat/sessions/{id}", user(http.HandlerFunc(s.getSession)))
	mux.Handle("POST /engine/chat/sessions/{id}/messages", user(http.HandlerFunc(s.sendMessage)))
	mux.Handle("DELETE /engine/chat/sessions/{id}", user(http.HandlerFunc(s.endSession)))
	mux.Handle("GET /engine/chat/sessions/{id}/export", user(http.HandlerFunc(s.exportSession)))

	mux.Handle("GET /engine/sessions", user(http.HandlerFunc(s.listSessions)))
	mux.Handle("POST /engine/sessions/{id}/archive", admin(http.HandlerFunc(s.archiveSession)))
	mux.Handle("POST /engine/sessions/cleanup", admin(http.HandlerFunc(s.cleanupSessions)))

	mux.Handle("GET /engine/agents", user(http.HandlerFunc(s.agentStatus)))
	mux.Handle("GET /engine/agents/metrics", user(http.HandlerFunc(s.agentMetricsAll)))
	mux.Handle("GET /engine/agents/{id}", user(http.HandlerFunc(s.agentMetricsOne)))
	mux.Handle("GET /engine/agents/{id}/history", user(http.HandlerFunc(s.agentHistory)))
	mux.Handle("GET /engine/agents/{id}/recall", user(http.HandlerFunc(s.agentRecall)))

	mux.Handle("POST /engine/roundtable", user(http.HandlerFunc(s.runRoundtable)))
	mux.Handle("POST /engine/roundtable/async", user(http.HandlerFunc(s.runRoundtableAsync)))
	mux.Handle("GET /engine/roundtable/async/status/{key}", user(http.HandlerFunc(s.asyncRunStatus)))
	mux.Handle("GET /engine/roundtable/{session_id}", user(http.HandlerFunc(s.getCoordinationSession)))
	mux.Handle("GET /engine/roundtable/{session_id}/turns", user(http.HandlerFunc(s.getCoordinationTurns)))
	mux.Handle("POST /engine/roundtable/swarm", user(http.HandlerFunc(s.runSwarm)))
	mux.Handle("POST /engine/roundtable/swarm/async", user(http.HandlerFunc(s.runSwarmAsync)))

	mux.Handle("GET /engine/cron", user(http.HandlerFunc(s.listCronJobs)))
	mux.Handle("POST /engine/cron", admin(http.HandlerFunc(s.createCronJob)))
	mux.Handle("GET /engine/cron/{id}", user(http.HandlerFunc(s.getCronJob)))
	mux.Handle("PUT /engine/cron/{id}", admin(http.HandlerFunc(s.updateCronJob)))
	mux.Handle("DELETE /engine/cron/{id}", admin(http.HandlerFunc(s.deleteCronJob)))
	mux.Handle("POST /engine/cron/{id}/trigger", admin(http.HandlerFunc(s.triggerCronJob)))
	mux.Handle("GET /engine/cron/{id}/history", user(http.HandlerFunc(s.cronJobHistory)))
	mux.Handle("GET /engine/cron/{id}/status", user(http.HandlerFunc(s.cronJobStatus)))

	mux.Handle("GET /healthz", http.HandlerFunc(s.healthz))

	mux.Handle("/ws/chat/", http.HandlerFunc(s.handleChatWS))
	mux.Handle("/ws/roundtable", http.HandlerFunc(s.handleCoordinationWS))

	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
