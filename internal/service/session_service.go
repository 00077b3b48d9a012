package service

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kmoran/regionwars/internal/mapgen"
	"github.com/kmoran/regionwars/internal/model"
	"github.com/kmoran/regionwars/pkg/conquest"
)

var (
	ErrGameFinished     = errors.New("game is finished")
	ErrAlreadyJoined    = errors.New("already joined this game")
	ErrNoStartingRegion = errors.New("no free region left for a new player")
	ErrUnknownPlayer    = errors.New("unknown player")
)

// StartingUnits is the force a new player lands with.
const StartingUnits = 12

// DefaultTurnDuration applies when a game is created without an explicit
// turn deadline.
const DefaultTurnDuration = 30 * time.Second

// SessionService owns game lifecycle and player membership: creating
// games, seating players on starting regions, reconnects, and removal.
type SessionService struct {
	registry    *Registry
	broadcaster Broadcaster
	turns       *TurnService
	rng         *rand.Rand
}

// NewSessionService creates a SessionService.
func NewSessionService(registry *Registry, broadcaster Broadcaster, turns *TurnService) *SessionService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &SessionService{
		registry:    registry,
		broadcaster: broadcaster,
		turns:       turns,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSeed makes starting-region assignment reproducible in tests.
func (s *SessionService) SetSeed(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// CreateGame builds a fresh board and registers a waiting game. Bots
// are seated immediately; the game goes active on the first connect.
func (s *SessionService) CreateGame(name string, turnDuration time.Duration, opts mapgen.Options, botCount int) (*Game, error) {
	state, err := mapgen.NewState(opts)
	if err != nil {
		return nil, fmt.Errorf("build map: %w", err)
	}

	g := &Game{
		ID:           newID(),
		Name:         name,
		CreatedAt:    time.Now(),
		TurnDuration: turnDuration,
		MapOptions:   opts,
		Rules:        conquest.DefaultRules(),
		status:       model.StatusWaiting,
		state:        state,
		players:      make(map[conquest.PlayerID]*player),
		staged:       make(map[conquest.PlayerID][]conquest.StagedCommand),
		waitingOn:    make(map[conquest.PlayerID]bool),
		ready:        make(map[conquest.PlayerID]bool),
		defaults:     make(map[conquest.RegionID]conquest.StagedCommand),
	}

	for i := 1; i <= botCount; i++ {
		id := conquest.PlayerID(newID())
		if err := s.seatLocked(g, id, fmt.Sprintf("Bot %d", i), true); err != nil {
			return nil, fmt.Errorf("seat bot %d: %w", i, err)
		}
	}

	s.registry.add(g)
	log.Info().Str("gameId", g.ID).Str("name", name).
		Int("regions", len(state.Regions)).Int("bots", botCount).
		Msg("Game created")
	return g, nil
}

// Connect seats a new player, or brings a known player back online when
// playerID names an existing seat. First connect activates the game.
func (s *SessionService) Connect(gameID, name string, playerID conquest.PlayerID) (*Game, conquest.PlayerID, error) {
	g := s.registry.Get(gameID)
	if g == nil {
		return nil, "", ErrGameNotFound
	}

	g.mu.Lock()
	if g.status == model.StatusFinished {
		g.mu.Unlock()
		return nil, "", ErrGameFinished
	}

	if playerID != "" {
		p, ok := g.players[playerID]
		if !ok {
			g.mu.Unlock()
			return nil, "", ErrUnknownPlayer
		}
		p.online = true
		name := p.name
		g.mu.Unlock()
		s.broadcaster.BroadcastGameEvent(g.ID, "player_joined", map[string]any{
			"player_id": playerID,
			"name":      name,
			"rejoined":  true,
		})
		return g, playerID, nil
	}

	playerID = conquest.PlayerID(newID())
	if err := s.seatLocked(g, playerID, name, false); err != nil {
		g.mu.Unlock()
		return nil, "", err
	}
	g.players[playerID].online = true

	activated := false
	if g.status == model.StatusWaiting {
		g.status = model.StatusActive
		activated = true
	} else {
		// Joining mid-turn: the new player is expected to submit.
		g.waitingOn[playerID] = true
	}
	g.mu.Unlock()

	log.Info().Str("gameId", g.ID).Str("playerId", string(playerID)).
		Str("name", name).Bool("activated", activated).Msg("Player connected")

	s.broadcaster.BroadcastGameEvent(g.ID, "player_joined", map[string]any{
		"player_id": playerID,
		"name":      name,
	})
	if activated {
		s.turns.StartTurn(g)
	}
	return g, playerID, nil
}

// seatLocked assigns a starting region and initial force. Caller holds
// mu (or owns the game exclusively during creation).
func (s *SessionService) seatLocked(g *Game, id conquest.PlayerID, name string, bot bool) error {
	if _, ok := g.players[id]; ok {
		return ErrAlreadyJoined
	}

	var free []conquest.RegionID
	for i := range g.state.Regions {
		r := &g.state.Regions[i]
		if r.Passable() && !r.Occupied() && !g.state.Plans[r.ID] {
			free = append(free, r.ID)
		}
	}
	if len(free) == 0 {
		return ErrNoStartingRegion
	}

	home := free[s.rng.Intn(len(free))]
	if err := g.state.SpawnUnits(home, id, StartingUnits); err != nil {
		return err
	}
	g.players[id] = &player{
		id:       id,
		name:     name,
		bot:      bot,
		joinedAt: time.Now(),
	}
	return nil
}

// Disconnect marks a player offline. Their seat and holdings survive
// for a later reconnect, but the current turn stops waiting for them.
func (s *SessionService) Disconnect(gameID string, playerID conquest.PlayerID) {
	g := s.registry.Get(gameID)
	if g == nil {
		return
	}

	g.mu.Lock()
	p, ok := g.players[playerID]
	if !ok {
		g.mu.Unlock()
		return
	}
	p.online = false
	delete(g.waitingOn, playerID)

	log.Info().Str("gameId", g.ID).Str("playerId", string(playerID)).
		Msg("Player disconnected")

	s.broadcaster.BroadcastGameEvent(g.ID, "player_left", map[string]any{
		"player_id": playerID,
		"name":      p.name,
	})
	if g.status == model.StatusActive {
		s.turns.finishOrUnlock(g)
	} else {
		g.mu.Unlock()
	}
	s.evictIfAbandoned(g)
}

// Remove strips a player from the game entirely: owned regions empty
// out to unowned, the seat is gone, and the session token is useless.
func (s *SessionService) Remove(gameID string, playerID conquest.PlayerID) error {
	g := s.registry.Get(gameID)
	if g == nil {
		return ErrGameNotFound
	}

	g.mu.Lock()
	p, ok := g.players[playerID]
	if !ok {
		g.mu.Unlock()
		return ErrUnknownPlayer
	}
	delete(g.players, playerID)
	delete(g.waitingOn, playerID)
	delete(g.staged, playerID)
	delete(g.ready, playerID)
	for origin, sc := range g.defaults {
		if sc.Player == playerID {
			delete(g.defaults, origin)
		}
	}
	g.state.RemovePlayer(playerID)

	log.Info().Str("gameId", g.ID).Str("playerId", string(playerID)).
		Msg("Player removed")

	s.broadcaster.BroadcastGameEvent(g.ID, "player_left", map[string]any{
		"player_id": playerID,
		"name":      p.name,
		"removed":   true,
	})
	if g.status == model.StatusActive {
		s.turns.finishOrUnlock(g)
	} else {
		g.mu.Unlock()
	}
	s.evictIfAbandoned(g)
	return nil
}

// evictIfAbandoned drops a finished game from the registry once no
// human player is connected to it anymore.
func (s *SessionService) evictIfAbandoned(g *Game) {
	g.mu.Lock()
	abandoned := g.status == model.StatusFinished
	if abandoned {
		for _, p := range g.players {
			if !p.bot && p.online {
				abandoned = false
				break
			}
		}
	}
	g.mu.Unlock()
	if abandoned {
		s.registry.remove(g.ID)
		log.Info().Str("gameId", g.ID).Msg("Abandoned finished game evicted")
	}
}

// GameInfo returns the lobby view of one game.
func (s *SessionService) GameInfo(gameID string) (*model.GameInfo, error) {
	g := s.registry.Get(gameID)
	if g == nil {
		return nil, ErrGameNotFound
	}
	g.mu.Lock()
	info := g.infoLocked(true)
	g.mu.Unlock()
	return &info, nil
}

// ListGames returns the lobby view of every registered game.
func (s *SessionService) ListGames() []model.GameInfo {
	games := s.registry.List()
	out := make([]model.GameInfo, 0, len(games))
	for _, g := range games {
		g.mu.Lock()
		out = append(out, g.infoLocked(false))
		g.mu.Unlock()
	}
	return out
}

// Snapshot returns the current world view of one game.
func (s *SessionService) Snapshot(gameID string) (*model.Snapshot, error) {
	g := s.registry.Get(gameID)
	if g == nil {
		return nil, ErrGameNotFound
	}
	g.mu.Lock()
	snap := g.snapshotLocked()
	g.mu.Unlock()
	return &snap, nil
}
