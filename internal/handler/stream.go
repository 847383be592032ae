package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/session"
)

// streamCheckInterval is how often an open stream checks that its session
// is still the live one.
var streamCheckInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamMessage is sent back to the recognizer client.
type streamMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleEmotionStream accepts a websocket of JSON emotion samples and queues
// them on the user's feed under the session that was live at upgrade time.
// The connection must be opened while a session is running; the server
// closes it once that session ends or is replaced.
func (h *Handler) handleEmotionStream(w http.ResponseWriter, r *http.Request) {
	c := h.coach(r)
	ticket, ok := c.Engine().Current()
	if !ok {
		writeError(w, session.ErrNotActive)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(streamMessage{Type: "connected", SessionID: ticket.SessionID}); err != nil {
		slog.Warn("failed to send connected message", "error", err)
		return
	}

	done := make(chan struct{})
	defer close(done)
	go watchStream(conn, c.Engine(), ticket, done)

	feed := c.Feed()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("emotion stream closed unexpectedly", "session_id", ticket.SessionID, "error", err)
			}
			return
		}

		var sample model.EmotionSample
		if err := json.Unmarshal(data, &sample); err != nil {
			h.streamError(conn, "invalid sample: "+err.Error())
			continue
		}
		if err := sample.Validate(); err != nil {
			h.streamError(conn, err.Error())
			continue
		}
		if sample.Timestamp == 0 {
			sample.Timestamp = time.Now().UnixMilli()
		}
		switch err := feed.Push(ticket, sample); {
		case err == nil:
		case errors.Is(err, session.ErrFeedFull):
			h.streamError(conn, "feed is full, sample dropped")
		default:
			h.streamError(conn, err.Error())
			closeStream(conn, "session ended")
			return
		}
	}
}

// watchStream closes conn once ticket no longer names the live session.
func watchStream(conn *websocket.Conn, engine *session.Engine, ticket session.Ticket, done <-chan struct{}) {
	tick := time.NewTicker(streamCheckInterval)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case <-tick.C:
			if cur, ok := engine.Current(); !ok || cur != ticket {
				closeStream(conn, "session ended")
				conn.Close()
				return
			}
		}
	}
}

func closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		slog.Debug("failed to send close frame", "error", err)
	}
}

func (h *Handler) streamError(conn *websocket.Conn, msg string) {
	if err := conn.WriteJSON(streamMessage{Type: "error", Error: msg}); err != nil {
		slog.Debug("failed to write stream error", "error", err)
	}
}
