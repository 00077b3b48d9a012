package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kmoran/regionwars/internal/mapgen"
	"github.com/kmoran/regionwars/internal/repository"
	"github.com/kmoran/regionwars/internal/service"
)

// GameHandler handles the REST side of the API: game discovery, creation,
// and turn history. Live play happens over the WebSocket.
type GameHandler struct {
	sessions *service.SessionService
	archive  repository.TurnArchive
}

// NewGameHandler creates a GameHandler. archive may be nil when no turn
// store is configured; the history endpoints then report 404.
func NewGameHandler(sessions *service.SessionService, archive repository.TurnArchive) *GameHandler {
	return &GameHandler{sessions: sessions, archive: archive}
}

// CreateGame handles POST /api/v1/games
func (h *GameHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string          `json:"name"`
		TurnTimeMillis int64           `json:"turn_time_millis,omitempty"`
		Map            *mapgen.Options `json:"map,omitempty"`
		Bots           int             `json:"bots,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Bots < 0 {
		writeError(w, http.StatusBadRequest, "bots must not be negative")
		return
	}

	turnDuration := service.DefaultTurnDuration
	if req.TurnTimeMillis > 0 {
		turnDuration = time.Duration(req.TurnTimeMillis) * time.Millisecond
	}
	opts := mapgen.DefaultOptions()
	if req.Map != nil {
		opts = *req.Map
	}

	game, err := h.sessions.CreateGame(req.Name, turnDuration, opts, req.Bots)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.sessions.GameInfo(game.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// ListGames handles GET /api/v1/games
func (h *GameHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	games := h.sessions.ListGames()
	if games == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// GetGame handles GET /api/v1/games/{id}
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.GameInfo(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrGameNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetState handles GET /api/v1/games/{id}/state
func (h *GameHandler) GetState(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.sessions.Snapshot(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrGameNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// ListTurns handles GET /api/v1/games/{id}/turns
func (h *GameHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	if _, err := h.sessions.GameInfo(gameID); err != nil {
		if errors.Is(err, service.ErrGameNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "turn history is not configured")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := h.archive.ListTurns(r.Context(), gameID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if turns == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

// GetTurn handles GET /api/v1/games/{id}/turns/{turn}
func (h *GameHandler) GetTurn(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	// Turn numbers are zero-based: the opening turn archives as 0.
	turn, err := strconv.Atoi(r.PathValue("turn"))
	if err != nil || turn < 0 {
		writeError(w, http.StatusBadRequest, "turn must be a non-negative integer")
		return
	}
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "turn history is not configured")
		return
	}

	rec, err := h.archive.GetTurn(r.Context(), gameID, turn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "turn not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
