package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kmoran/regionwars/internal/model"
	"github.com/kmoran/regionwars/internal/repository"
	"github.com/kmoran/regionwars/pkg/conquest"
)

var (
	ErrGameNotFound        = errors.New("game not found")
	ErrGameNotActive       = errors.New("game is not active")
	ErrNotInGame           = errors.New("you are not in this game")
	ErrDuplicateSubmission = errors.New("commands already submitted this turn")
)

// CommandPlanner decides a full turn's commands for one player. Bots
// implement it; the planner sees a private clone of the state.
type CommandPlanner interface {
	PlanCommands(state *conquest.GameState, player conquest.PlayerID) []conquest.Command
}

// TurnService runs the submit/deadline/resolve cycle for every game in
// the registry. Both the deadline timer and the last submission can
// trigger resolution; the per-turn guard on the game makes it happen
// exactly once.
type TurnService struct {
	registry    *Registry
	broadcaster Broadcaster
	archive     repository.TurnArchive // optional
	mirror      repository.StateMirror // optional
	planner     CommandPlanner         // optional, drives bot players

	// botDelay spaces bot submissions out from turn start, so bot-only
	// games advance at a readable pace instead of spinning.
	botDelay time.Duration
}

// NewTurnService creates a TurnService. Archive, mirror, and planner may
// be nil.
func NewTurnService(registry *Registry, broadcaster Broadcaster, archive repository.TurnArchive, mirror repository.StateMirror) *TurnService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &TurnService{
		registry:    registry,
		broadcaster: broadcaster,
		archive:     archive,
		mirror:      mirror,
		botDelay:    500 * time.Millisecond,
	}
}

// SetPlanner configures the strategy used for bot players.
func (s *TurnService) SetPlanner(p CommandPlanner) { s.planner = p }

// SetBotDelay overrides the pause before bot submissions each turn.
func (s *TurnService) SetBotDelay(d time.Duration) { s.botDelay = d }

// SubmitCommands stages a player's full batch for the current turn.
// A second submission in the same turn is rejected whole; invalid
// commands within an accepted batch are dropped individually. When the
// last awaited player submits, the turn resolves immediately.
func (s *TurnService) SubmitCommands(gameID string, playerID conquest.PlayerID, cmds []conquest.Command) (accepted, dropped int, err error) {
	g := s.registry.Get(gameID)
	if g == nil {
		return 0, 0, ErrGameNotFound
	}

	g.mu.Lock()
	if g.status != model.StatusActive {
		g.mu.Unlock()
		return 0, 0, ErrGameNotActive
	}
	if _, ok := g.players[playerID]; !ok {
		g.mu.Unlock()
		return 0, 0, ErrNotInGame
	}
	if _, dup := g.staged[playerID]; dup {
		g.mu.Unlock()
		return 0, 0, ErrDuplicateSubmission
	}

	staged, droppedCount := conquest.StageBatch(g.state, playerID, cmds)
	g.staged[playerID] = staged
	delete(g.waitingOn, playerID)

	log.Debug().Str("gameId", g.ID).Str("playerId", string(playerID)).
		Int("accepted", len(staged)).Int("dropped", droppedCount).
		Int("turn", g.state.TurnCount).Msg("Commands staged")

	s.finishOrUnlock(g)
	return len(staged), droppedCount, nil
}

// MarkReady records that a player submits nothing this turn. Their units
// stand fast (or keep feeding construction via carried defaults).
func (s *TurnService) MarkReady(gameID string, playerID conquest.PlayerID) error {
	g := s.registry.Get(gameID)
	if g == nil {
		return ErrGameNotFound
	}

	g.mu.Lock()
	if g.status != model.StatusActive {
		g.mu.Unlock()
		return ErrGameNotActive
	}
	if _, ok := g.players[playerID]; !ok {
		g.mu.Unlock()
		return ErrNotInGame
	}
	g.ready[playerID] = true
	delete(g.waitingOn, playerID)

	s.broadcaster.BroadcastGameEvent(g.ID, "player_ready", map[string]any{
		"player_id": playerID,
	})
	s.finishOrUnlock(g)
	return nil
}

// StartTurn opens the first turn of a game that just went active.
func (s *TurnService) StartTurn(g *Game) {
	g.mu.Lock()
	s.beginTurnLocked(g)
	turn := g.state.TurnCount
	deadline := g.deadline
	g.mu.Unlock()

	s.broadcastTurnStarted(g, turn, deadline)
	s.scheduleBots(g)
}

// finishOrUnlock resolves the turn if nobody is awaited anymore, then
// releases the game lock either way.
func (s *TurnService) finishOrUnlock(g *Game) {
	if len(g.waitingOn) > 0 || g.status != model.StatusActive {
		g.mu.Unlock()
		return
	}
	s.resolveAndContinue(g)
}

// handleDeadline fires when a turn's timer expires. Players who never
// submitted get a last request_commands, then the turn resolves with
// stand-fast defaults.
func (s *TurnService) handleDeadline(gameID string, turn int) {
	g := s.registry.Get(gameID)
	if g == nil {
		return
	}

	g.mu.Lock()
	if g.status != model.StatusActive || g.state.TurnCount != turn {
		// Already resolved by the submission path.
		g.mu.Unlock()
		return
	}
	stragglers := g.waitingOnLocked()

	log.Info().Str("gameId", g.ID).Int("turn", turn).
		Int("stragglers", len(stragglers)).Msg("Turn deadline reached")

	s.broadcaster.BroadcastGameEvent(g.ID, "request_commands", map[string]any{
		"turn":       turn,
		"waiting_on": stragglers,
	})
	s.resolveAndContinue(g)
}

// resolveAndContinue resolves the current turn, opens the next one, and
// performs all post-resolution I/O outside the lock. Caller holds mu;
// it is released here.
func (s *TurnService) resolveAndContinue(g *Game) {
	// At-most-once per turn: the deadline timer and the final
	// submission can both reach this point.
	if g.resolvingTurn > g.state.TurnCount {
		g.mu.Unlock()
		return
	}
	g.resolvingTurn = g.state.TurnCount + 1
	if g.timer != nil {
		g.timer.Stop()
	}

	turn := g.state.TurnCount
	commands := s.collectCommandsLocked(g)
	report := conquest.ResolveTurn(g.state, commands, g.Rules)
	g.defaults = nextDefaults(g.state, commands)

	if err := g.state.CheckInvariants(); err != nil {
		log.Error().Err(err).Str("gameId", g.ID).Int("turn", turn).
			Msg("State invariant violated after resolution")
	}

	finished := s.checkVictoryLocked(g)

	rec := buildTurnRecord(g, turn, commands, report)
	var deadline time.Time
	if !finished {
		s.beginTurnLocked(g)
		deadline = g.deadline
	}
	snap := g.snapshotLocked()
	winner := s.winnerLocked(g)
	g.mu.Unlock()

	log.Info().Str("gameId", g.ID).Int("turn", turn).
		Int("commands", len(commands)).
		Int("attacks", len(report.Attacks)).
		Int("contests", len(report.Contests)).
		Msg("Turn resolved")

	s.broadcaster.BroadcastGameEvent(g.ID, "turn_resolved", map[string]any{
		"turn":   turn,
		"report": report,
	})
	s.broadcaster.BroadcastGameEvent(g.ID, "state", snap)
	if finished {
		s.broadcaster.BroadcastGameEvent(g.ID, "game_ended", map[string]any{
			"winner": winner,
		})
	} else {
		s.broadcastTurnStarted(g, turn+1, deadline)
	}

	go s.persistTurn(g.ID, rec, snap, report)
	if !finished {
		s.scheduleBots(g)
	}
}

// beginTurnLocked opens a fresh turn: clears submissions, rebuilds the
// awaited set from online players and bots, arms the deadline timer.
// Caller holds mu.
func (s *TurnService) beginTurnLocked(g *Game) {
	g.staged = make(map[conquest.PlayerID][]conquest.StagedCommand)
	g.ready = make(map[conquest.PlayerID]bool)
	g.waitingOn = make(map[conquest.PlayerID]bool)
	for id, p := range g.players {
		if p.bot || p.online {
			g.waitingOn[id] = true
		}
	}
	g.deadline = time.Now().Add(g.TurnDuration)

	turn := g.state.TurnCount
	gameID := g.ID
	g.timer = time.AfterFunc(g.TurnDuration, func() {
		s.handleDeadline(gameID, turn)
	})
}

// collectCommandsLocked assembles the turn's command stream in a
// deterministic order: players ascending, each batch in submission
// order. Silent players fall back to their carried build defaults.
// Caller holds mu.
func (s *TurnService) collectCommandsLocked(g *Game) []conquest.StagedCommand {
	ids := make([]conquest.PlayerID, 0, len(g.players))
	for id := range g.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var out []conquest.StagedCommand
	for _, id := range ids {
		batch, submitted := g.staged[id]
		if submitted {
			out = append(out, batch...)
			continue
		}
		origins := make([]conquest.RegionID, 0, len(g.defaults))
		for origin, sc := range g.defaults {
			if sc.Player == id {
				origins = append(origins, origin)
			}
		}
		sort.Slice(origins, func(a, b int) bool { return origins[a] < origins[b] })
		for _, origin := range origins {
			// Revalidate: the origin may have changed hands.
			sc, err := conquest.ValidateCommand(g.state, id, g.defaults[origin].Command)
			if err != nil || sc.Kind != conquest.CommandMove {
				continue
			}
			out = append(out, sc)
		}
	}
	return out
}

// nextDefaults keeps move commands that fed a still-active construction
// site, so silent players keep building next turn.
func nextDefaults(state *conquest.GameState, commands []conquest.StagedCommand) map[conquest.RegionID]conquest.StagedCommand {
	defaults := make(map[conquest.RegionID]conquest.StagedCommand)
	for _, sc := range commands {
		if sc.Kind != conquest.CommandMove {
			continue
		}
		feeds := false
		for _, t := range sc.Targets {
			if state.Plans[t] {
				feeds = true
				break
			}
		}
		if !feeds {
			continue
		}
		origin, err := state.Region(sc.Origin)
		if err != nil || origin.Owner != sc.Player {
			continue
		}
		defaults[sc.Origin] = sc
	}
	return defaults
}

// checkVictoryLocked finishes the game when at most one of several
// participants still holds units. Caller holds mu.
func (s *TurnService) checkVictoryLocked(g *Game) bool {
	if len(g.players) < 2 {
		return false
	}
	alive := 0
	for id := range g.players {
		if g.state.PlayerIsAlive(id) {
			alive++
		}
	}
	if alive > 1 {
		return false
	}
	now := time.Now()
	g.status = model.StatusFinished
	g.finishedAt = &now
	return true
}

// winnerLocked returns the last player holding units, if the game is
// finished. Caller holds mu.
func (s *TurnService) winnerLocked(g *Game) conquest.PlayerID {
	if g.status != model.StatusFinished {
		return conquest.Unowned
	}
	for _, id := range sortedPlayerIDs(g) {
		if g.state.PlayerIsAlive(id) {
			return id
		}
	}
	return conquest.Unowned
}

func sortedPlayerIDs(g *Game) []conquest.PlayerID {
	ids := make([]conquest.PlayerID, 0, len(g.players))
	for id := range g.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func buildTurnRecord(g *Game, turn int, commands []conquest.StagedCommand, report *conquest.TurnReport) model.TurnRecord {
	rec := model.TurnRecord{
		GameID:     g.ID,
		Turn:       turn,
		ResolvedAt: time.Now(),
	}
	if b, err := json.Marshal(g.state); err == nil {
		rec.State = b
	}
	if len(commands) > 0 {
		if b, err := json.Marshal(commands); err == nil {
			rec.Commands = b
		}
	}
	if b, err := json.Marshal(report); err == nil {
		rec.Report = b
	}
	return rec
}

// persistTurn writes the archive row and refreshes the mirror. Both are
// best-effort: the simulation never blocks on storage.
func (s *TurnService) persistTurn(gameID string, rec model.TurnRecord, snap model.Snapshot, report *conquest.TurnReport) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.archive != nil {
		if err := s.archive.RecordTurn(ctx, rec); err != nil {
			log.Error().Err(err).Str("gameId", gameID).Int("turn", rec.Turn).
				Msg("Failed to archive turn")
		}
	}
	if s.mirror != nil {
		if err := s.mirror.SetSnapshot(ctx, gameID, snap); err != nil {
			log.Error().Err(err).Str("gameId", gameID).Msg("Failed to mirror snapshot")
		}
		if err := s.mirror.PublishEvent(ctx, gameID, "turn_resolved", report); err != nil {
			log.Error().Err(err).Str("gameId", gameID).Msg("Failed to publish turn event")
		}
	}
}

func (s *TurnService) broadcastTurnStarted(g *Game, turn int, deadline time.Time) {
	s.broadcaster.BroadcastGameEvent(g.ID, "turn_started", map[string]any{
		"turn":             turn,
		"turn_time_millis": g.TurnDuration.Milliseconds(),
		"deadline":         deadline,
	})
}

// scheduleBots queues a bot planning pass for the current turn. The
// pass runs off the submission path so a bot's own submission never
// re-enters resolution on the same stack.
func (s *TurnService) scheduleBots(g *Game) {
	if s.planner == nil {
		return
	}
	time.AfterFunc(s.botDelay, func() { s.runBots(g) })
}

// runBots plans and submits commands for every bot player. Each bot
// works on a private clone of the state.
func (s *TurnService) runBots(g *Game) {
	if s.planner == nil {
		return
	}
	g.mu.Lock()
	if g.status != model.StatusActive {
		g.mu.Unlock()
		return
	}
	state := g.state.Clone()
	var bots []conquest.PlayerID
	for id, p := range g.players {
		if p.bot && g.waitingOn[id] {
			bots = append(bots, id)
		}
	}
	g.mu.Unlock()

	sort.Slice(bots, func(a, b int) bool { return bots[a] < bots[b] })
	for _, id := range bots {
		cmds := s.planner.PlanCommands(state, id)
		if _, _, err := s.SubmitCommands(g.ID, id, cmds); err != nil &&
			!errors.Is(err, ErrDuplicateSubmission) && !errors.Is(err, ErrGameNotActive) {
			log.Error().Err(err).Str("gameId", g.ID).Str("playerId", string(id)).
				Msg("Bot submission failed")
		}
	}
}
