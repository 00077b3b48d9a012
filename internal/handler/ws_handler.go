package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/kmoran/regionwars/internal/auth"
	"github.com/kmoran/regionwars/internal/service"
	"github.com/kmoran/regionwars/pkg/conquest"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second // must be less than pongWait
	maxMsgSize  = 16384
	sendBufSize = 256

	// Sustained and burst inbound message limits per connection.
	msgRate  = 10
	msgBurst = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS handled by middleware; tighten in production
	},
}

// WSHandler owns the WebSocket surface: connection lifecycle and the
// join/ready/commands/leave protocol.
type WSHandler struct {
	hub      *Hub
	sessions *service.SessionService
	turns    *service.TurnService
	tokens   *auth.TokenManager
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *Hub, sessions *service.SessionService, turns *service.TurnService, tokens *auth.TokenManager) *WSHandler {
	return &WSHandler{hub: hub, sessions: sessions, turns: turns, tokens: tokens}
}

// ServeWS handles GET /api/v1/ws: upgrades and starts the pumps. The
// client joins a game with its first message.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSConn{
		conn:    conn,
		limiter: rate.NewLimiter(msgRate, msgBurst),
		send:    make(chan []byte, sendBufSize),
	}
	h.hub.Register(client)

	go h.writePump(client)
	go h.readPump(client)

	log.Info().Str("remote", r.RemoteAddr).Int("total", h.hub.ConnectionCount()).
		Msg("WebSocket client connected")
}

// readPump reads, validates, and dispatches client messages.
func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		if c.playerID != "" {
			h.sessions.Disconnect(c.gameID, conquest.PlayerID(c.playerID))
		}
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Str("playerId", c.playerID).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("playerId", c.playerID).
					Msg("WebSocket unexpected close")
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendEvent(WSEvent{Type: EventError, Data: map[string]string{
				"error": "too many messages, slow down",
			}})
			continue
		}

		msg, err := parseClientMessage(raw)
		if err != nil {
			c.sendEvent(WSEvent{Type: EventError, Data: map[string]string{
				"error": err.Error(),
			}})
			continue
		}

		switch msg.Action {
		case "join":
			h.handleJoin(c, msg)
		case "ready":
			h.handleReady(c)
		case "commands":
			h.handleCommands(c, msg)
		case "leave":
			h.handleLeave(c)
			return
		}
	}
}

func (h *WSHandler) handleJoin(c *WSConn, msg *clientMessage) {
	if c.playerID != "" {
		c.sendError(service.ErrAlreadyJoined)
		return
	}

	// A valid session token for this game reclaims the old seat.
	var resumeID string
	if msg.Token != "" {
		claims, err := h.tokens.Validate(msg.Token)
		if err != nil || claims.GameID != msg.GameID {
			c.sendError(auth.ErrInvalidToken)
			return
		}
		resumeID = claims.PlayerID
	}

	name := msg.Name
	if name == "" {
		name = "anonymous"
	}
	game, playerID, err := h.sessions.Connect(msg.GameID, name, conquest.PlayerID(resumeID))
	if err != nil {
		c.sendError(err)
		return
	}

	c.gameID = game.ID
	c.playerID = string(playerID)
	h.hub.JoinRoom(c, game.ID)

	token, err := h.tokens.Issue(game.ID, string(playerID))
	if err != nil {
		log.Error().Err(err).Str("gameId", game.ID).Msg("Failed to issue session token")
	}
	c.sendEvent(WSEvent{Type: EventWelcome, GameID: game.ID, Data: map[string]any{
		"player_id": playerID,
		"token":     token,
	}})

	if snap, err := h.sessions.Snapshot(game.ID); err == nil {
		c.sendEvent(WSEvent{Type: EventState, GameID: game.ID, Data: snap})
	}
}

func (h *WSHandler) handleReady(c *WSConn) {
	if c.playerID == "" {
		c.sendError(service.ErrNotInGame)
		return
	}
	if err := h.turns.MarkReady(c.gameID, conquest.PlayerID(c.playerID)); err != nil {
		c.sendError(err)
	}
}

func (h *WSHandler) handleCommands(c *WSConn, msg *clientMessage) {
	if c.playerID == "" {
		c.sendError(service.ErrNotInGame)
		return
	}
	accepted, dropped, err := h.turns.SubmitCommands(c.gameID, conquest.PlayerID(c.playerID), msg.commandBatch())
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendEvent(WSEvent{Type: EventCommandsAccepted, GameID: c.gameID, Data: map[string]int{
		"accepted": accepted,
		"dropped":  dropped,
	}})
}

func (h *WSHandler) handleLeave(c *WSConn) {
	if c.playerID == "" {
		return
	}
	if err := h.sessions.Remove(c.gameID, conquest.PlayerID(c.playerID)); err != nil {
		log.Error().Err(err).Str("gameId", c.gameID).
			Str("playerId", c.playerID).Msg("Failed to remove player")
	}
	h.hub.LeaveRoom(c)
	c.playerID = ""
	c.gameID = ""
}

func (c *WSConn) sendError(err error) {
	c.sendEvent(WSEvent{Type: EventError, Data: map[string]string{"error": err.Error()}})
}

// writePump writes queued messages and keeps the connection alive with
// pings.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into the same write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
