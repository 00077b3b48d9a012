package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Event types sent over WebSocket.
const (
	EventWelcome          = "welcome"
	EventState            = "state"
	EventTurnStarted      = "turn_started"
	EventTurnResolved     = "turn_resolved"
	EventRequestCommands  = "request_commands"
	EventPlayerJoined     = "player_joined"
	EventPlayerLeft       = "player_left"
	EventPlayerReady      = "player_ready"
	EventGameEnded        = "game_ended"
	EventCommandsAccepted = "commands_accepted"
	EventError            = "error"
)

// WSEvent is the envelope for all server-to-client messages.
type WSEvent struct {
	Type   string `json:"type"`
	GameID string `json:"game_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// WSConn is one client connection. gameID and playerID are set by a
// successful join and never change afterwards.
type WSConn struct {
	conn     *websocket.Conn
	gameID   string
	playerID string
	limiter  *rate.Limiter
	send     chan []byte
}

// sendEvent queues an event on this connection, dropping it when the
// client cannot keep up.
func (c *WSConn) sendEvent(ev WSEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal WebSocket event")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("playerId", c.playerID).Str("type", ev.Type).
			Msg("Dropping WebSocket message, buffer full")
	}
}

// Hub tracks connections and per-game rooms.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	rooms       map[string]map[*WSConn]bool // gameID -> connections
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		rooms:       make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

// Unregister removes a connection from the hub and its room.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	delete(h.connections, c)
	h.leaveRoomLocked(c)
	close(c.send)
}

// JoinRoom puts a connection into a game's room.
func (h *Hub) JoinRoom(c *WSConn, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[gameID] == nil {
		h.rooms[gameID] = make(map[*WSConn]bool)
	}
	h.rooms[gameID][c] = true
}

// LeaveRoom takes a connection out of its game's room.
func (h *Hub) LeaveRoom(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(c)
}

func (h *Hub) leaveRoomLocked(c *WSConn) {
	if c.gameID == "" {
		return
	}
	if room, ok := h.rooms[c.gameID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.gameID)
		}
	}
}

// BroadcastGameEvent implements service.Broadcaster: every connection in
// the game's room receives the event.
func (h *Hub) BroadcastGameEvent(gameID string, event string, data any) {
	raw, err := json.Marshal(WSEvent{Type: event, GameID: gameID, Data: data})
	if err != nil {
		log.Error().Err(err).Str("gameId", gameID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[gameID] {
		select {
		case c.send <- raw:
		default:
			log.Warn().Str("playerId", c.playerID).Str("gameId", gameID).
				Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomSize returns the number of connections watching a game.
func (h *Hub) RoomSize(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[gameID])
}
