package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/docmark/internal/task"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced on the REST endpoints; the status
		// stream carries no sensitive payload beyond the task id the
		// client already holds.
		return true
	},
}

// watchTaskHandler streams status snapshots for one task over a
// WebSocket until the task reaches a terminal state or the client
// disconnects.
func (s *Server) watchTaskHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "task", id, "remote_addr", r.RemoteAddr)
	s.streamTaskStatus(conn, id)
}

// streamTaskStatus polls the task registry and pushes a snapshot to the
// client whenever it changes.
func (s *Server) streamTaskStatus(conn *websocket.Conn, id string) {
	// Drain client frames so pongs and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("received").Inc()
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()
	pollTicker := time.NewTicker(s.wsPoll)
	defer pollTicker.Stop()

	var last StatusResponse
	sent := false
	for {
		snap, err := s.tasks.Status(id)
		if err != nil {
			if errors.Is(err, task.ErrNotFound) {
				s.sendWatchError(conn, "task not found")
			}
			return
		}

		resp := statusResponse(snap)
		if !sent || resp != last {
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("sent").Inc()
			last = resp
			sent = true
		}
		if snap.Status.Terminal() {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"), deadline)
			return
		}

		select {
		case <-done:
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-pollTicker.C:
		}
	}
}

func (s *Server) sendWatchError(conn *websocket.Conn, message string) {
	if err := conn.WriteJSON(ErrorResponse{Error: message}); err != nil {
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}
