// Package transport is the REST + WebSocket surface over net/http's
// ServeMux (Go 1.22 method+path patterns) and gorilla/websocket, wiring
// the engine's route list to the domain components (chatengine,
// agentpool, roundtable, swarm, scheduler, sessionstore) behind a
// config.Runtime.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
)

// writeJSON writes v as a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an EngineError kind to its HTTP status and emits the
// {"detail": "..."} error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ee *errs.EngineError
	if errors.As(err, &ee) {
		switch ee.Kind {
		case errs.KindValidation:
			status = http.StatusBadRequest
		case errs.KindSession:
			if ee.Code == errs.CodeSessionNotFound {
				status = http.StatusNotFound
			} else {
				status = http.StatusConflict
			}
		case errs.KindAgent:
			switch ee.Code {
			case errs.CodePoolFull, errs.CodeDuplicateSpawn:
				status = http.StatusConflict
			default:
				status = http.StatusBadRequest
			}
		case errs.KindScheduler:
			status = http.StatusBadRequest
		case errs.KindRateLimit:
			status = http.StatusTooManyRequests
			if ee.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(ee.RetryAfter))
			}
		case errs.KindSessionFull:
			status = http.StatusConflict
		case errs.KindLLM:
			status = http.StatusBadGateway
		case errs.KindTool, errs.KindContext:
			status = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": msg})
}
