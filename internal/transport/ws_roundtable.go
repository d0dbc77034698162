// WebSocket streaming for Roundtable/Swarm runs: the
// client opens one connection, submits a single start frame, and receives
// one frame per turn/iteration as the coordinator progresses, followed by
// a final result frame.
package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/roundtable"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/swarm"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

type coordinationStartFrame struct {
	Protocol          string   `json:"protocol"` // "roundtable" or "swarm"
	Topic             string   `json:"topic"`
	AgentIDs          []string `json:"agent_ids"`
	Rounds            int      `json:"rounds,omitempty"`
	SynthesizerID     string   `json:"synthesizer_id,omitempty"`
	MaxIterations     int      `json:"max_iterations,omitempty"`
	ConvergenceThresh float64  `json:"convergence_threshold,omitempty"`
}

type coordinationFrame struct {
	Type   string `json:"type"`
	Turn   any    `json:"turn,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleCoordinationWS(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(requestAPIKey(r), false); err != nil {
		conn, upErr := wsUpgrader.Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(wsCloseAuthFailed, "invalid api key"),
			time.Now().Add(wsWriteWait))
		conn.Close()
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	var writeMu chatWriteMutex
	done := make(chan struct{})
	go keepalive(conn, &writeMu, done)
	defer close(done)

	var start coordinationStartFrame
	if err := conn.ReadJSON(&start); err != nil {
		return
	}
	if start.Topic == "" || len(start.AgentIDs) == 0 {
		writeMu.writeJSON(conn, coordinationFrame{Type: "error", Error: "topic and agent_ids are required"})
		return
	}

	switch start.Protocol {
	case "swarm":
		opts := swarm.Options{
			MaxIterations:        start.MaxIterations,
			ConvergenceThreshold: start.ConvergenceThresh,
			AgentTimeout:         30 * time.Second,
			TotalTimeout:         10 * time.Minute,
			OnIteration: func(it swarm.Iteration) {
				writeMu.writeJSON(conn, coordinationFrame{Type: "iteration", Turn: it})
			},
		}
		result, err := s.rt.Swarm.Converge(r.Context(), start.Topic, start.AgentIDs, opts)
		if err != nil {
			writeMu.writeJSON(conn, coordinationFrame{Type: "error", Error: err.Error()})
			return
		}
		writeMu.writeJSON(conn, coordinationFrame{Type: "result", Result: result})
	default:
		opts := roundtable.Options{
			Rounds:        start.Rounds,
			SynthesizerID: start.SynthesizerID,
			AgentTimeout:  30 * time.Second,
			TotalTimeout:  5 * time.Minute,
			OnTurn: func(turn models.Message) {
				writeMu.writeJSON(conn, coordinationFrame{Type: "turn", Turn: turn})
			},
		}
		result, err := s.rt.Roundtable.Discuss(r.Context(), start.Topic, start.AgentIDs, opts)
		if err != nil {
			writeMu.writeJSON(conn, coordinationFrame{Type: "error", Error: err.Error()})
			return
		}
		writeMu.writeJSON(conn, coordinationFrame{Type: "result", Result: result})
	}
}
