package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/twinelabs/twine/internal/models"
	"github.com/twinelabs/twine/internal/relay"
	"github.com/twinelabs/twine/internal/telemetry"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may go silent before it is
	// considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound client frames.
	maxMessageSize = 4096

	// sendQueueSize buffers live messages per connection, including those
	// arriving while replay is still being written.
	sendQueueSize = 256
)

// frame is the JSON wire format in both directions.
type frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Room      string `json:"room,omitempty"`
	Payload   string `json:"payload,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

func replayFrame(msg *models.Message) frame {
	return frame{
		Type:      "replay",
		Room:      msg.Room,
		Payload:   msg.Payload,
		CreatedAt: msg.CreatedAt.UnixMilli(),
	}
}

func liveFrame(msg *models.Message) frame {
	return frame{
		Type:      "message",
		Room:      msg.Room,
		Payload:   msg.Payload,
		CreatedAt: msg.CreatedAt.UnixMilli(),
	}
}

// conn is one WebSocket connection. Live messages funnel through the send
// channel and a single writer goroutine, so wire order is always session
// frame, replay frames, then live frames.
type conn struct {
	ws   *websocket.Conn
	send chan frame
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		send: make(chan frame, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Deliver queues a live message. A full queue means the client cannot keep
// up; the connection is dropped and the client recovers by replay on its
// next reconnect.
func (c *conn) Deliver(msg *models.Message) {
	select {
	case c.send <- liveFrame(msg):
	case <-c.done:
	default:
		telemetry.GetMetrics().SlowClientsDroppedTotal.Add(context.Background(), 1)
		c.shutdown()
	}
}

func (c *conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
}

// writeFrame writes synchronously. Only used before the write pump starts.
func (c *conn) writeFrame(f frame) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

// handleWS runs the connection lifecycle: classify, join, replay, live.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			sessionID = cookie.Value
		}
	}

	cls := s.classifier.Classify(room, sessionID, r.URL.Query().Get("watermark"), time.Now())

	metrics := telemetry.GetMetrics()
	if cls.Kind == relay.FirstConnect {
		metrics.FirstConnectsTotal.Add(r.Context(), 1)
	} else {
		metrics.ReconnectsTotal.Add(r.Context(), 1)
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newConn(ws)
	defer func() {
		c.shutdown()
		_ = ws.Close()
	}()

	metrics.ActiveConnections.Add(r.Context(), 1)
	defer metrics.ActiveConnections.Add(context.Background(), -1)

	logger.Info().
		Str("room", room).
		Str("session_id", cls.Session.ID).
		Str("classification", cls.Kind.String()).
		Msg("websocket connected")

	// Join before any frame is written: live traffic buffers in the send
	// queue until the write pump starts, so replay still precedes live on
	// the wire.
	if err := s.hub.Join(room, c); err != nil {
		logger.Error().Err(err).Str("room", room).Msg("room join failed")
		return
	}
	defer s.hub.Leave(room, c)

	// The read pump starts before replay: a peer disconnect is only
	// observable by reading the socket, and it has to close done so a
	// replay in progress abandons its history queries.
	go s.readPump(c, logger, cls.Session.ID)

	if cls.Kind == relay.FirstConnect {
		if err := c.writeFrame(frame{Type: "session", SessionID: cls.Session.ID}); err != nil {
			logger.Debug().Err(err).Msg("session frame write failed")
			return
		}
	} else {
		if !s.replay(r.Context(), c, room, cls) {
			return
		}
	}

	c.writePump()
}

// replay writes the missed history to the connection. A history query
// failure skips replay and lets the connection go live; the client's
// watermark is untouched, so the gap is recoverable on the next reconnect.
// Returns false when the connection is no longer usable.
func (s *Server) replay(ctx context.Context, c *conn, room string, cls relay.Classification) bool {
	logger := zerolog.Ctx(ctx)

	replayCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	started := time.Now()
	msgs, err := s.replayer.Replay(replayCtx, room, cls.Watermark)
	if err != nil {
		if replayCtx.Err() != nil {
			return false
		}
		logger.Warn().Err(err).Str("room", room).Msg("replay failed, continuing live")
		return true
	}

	for i := range msgs {
		if err := c.writeFrame(replayFrame(&msgs[i])); err != nil {
			logger.Debug().Err(err).Msg("replay frame write failed")
			return false
		}
	}

	metrics := telemetry.GetMetrics()
	metrics.MessagesReplayedTotal.Add(ctx, int64(len(msgs)))
	metrics.ReplayDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	logger.Debug().
		Int("count", len(msgs)).
		Int64("watermark", cls.Watermark.UnixMilli()).
		Msg("replay complete")

	return true
}

// writePump is the single writer for live frames and pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump consumes client frames. Only logout is meaningful; a logout
// forgets the session so the next connect starts fresh. Ordinary
// disconnects keep the session registered.
func (s *Server) readPump(c *conn, logger *zerolog.Logger, sessionID string) {
	defer c.shutdown()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Debug().Err(err).Msg("ignoring undecodable client frame")
			continue
		}

		switch f.Type {
		case "logout":
			s.registry.Forget(sessionID)
			logger.Info().Str("session_id", sessionID).Msg("session logged out")
		default:
			logger.Debug().Str("type", f.Type).Msg("ignoring client frame")
		}
	}
}
