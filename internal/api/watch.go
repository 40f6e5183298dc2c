package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teamplayer/imsms-demo/internal/models"
)

const watchWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// watchHandler handles GET /api/demo/watch/{sessionId}. It streams a status snapshot
// whenever the session changes and closes once the session reaches a terminal status,
// is removed, or the server shuts down.
func (s *Server) watchHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	if _, err := s.orch.Session(id); err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(msgSessionNotFound))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.watchHandler: websocket upgrade failed", "sessionID", id, "error", err)
		return
	}
	defer conn.Close()
	slog.Debug("Server.watchHandler: watch opened", "sessionID", id)

	// The reader only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	var last []byte
	for {
		sess, err := s.orch.Session(id)
		if errors.Is(err, models.ErrSessionNotFound) {
			s.closeWatch(conn, websocket.CloseNormalClosure, msgSessionNotFound)
			return
		}
		if err != nil {
			slog.Error("Server.watchHandler: session read failed", "sessionID", id, "error", err)
			s.closeWatch(conn, websocket.CloseInternalServerErr, msgInternalError)
			return
		}

		payload, err := json.Marshal(models.StatusResponse{Success: true, Session: sess})
		if err != nil {
			slog.Error("Server.watchHandler: failed to marshal snapshot", "sessionID", id, "error", err)
			s.closeWatch(conn, websocket.CloseInternalServerErr, msgInternalError)
			return
		}
		if !bytes.Equal(payload, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("Server.watchHandler: write failed", "sessionID", id, "error", err)
				return
			}
			last = payload
		}
		if sess.Status.IsTerminal() {
			s.closeWatch(conn, websocket.CloseNormalClosure, string(sess.Status))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			slog.Debug("Server.watchHandler: client closed watch", "sessionID", id)
			return
		case <-s.closing:
			s.closeWatch(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func (s *Server) closeWatch(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteTimeout)); err != nil {
		slog.Debug("Server.closeWatch: close frame not sent", "error", err)
	}
}
