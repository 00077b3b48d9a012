package service

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/kmoran/regionwars/internal/mapgen"
	"github.com/kmoran/regionwars/internal/model"
	"github.com/kmoran/regionwars/pkg/conquest"
)

// player is the per-participant bookkeeping attached to a Game.
type player struct {
	id       conquest.PlayerID
	name     string
	bot      bool
	online   bool
	joinedAt time.Time
}

// Game is one running match. Everything below mu is guarded by it; the
// engine state is only ever touched with the lock held, so resolution
// and command staging form a single mutual-exclusion domain.
type Game struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	TurnDuration time.Duration
	MapOptions   mapgen.Options
	Rules        conquest.Rules

	mu         sync.Mutex
	status     string
	finishedAt *time.Time
	state      *conquest.GameState
	players    map[conquest.PlayerID]*player
	staged     map[conquest.PlayerID][]conquest.StagedCommand
	waitingOn  map[conquest.PlayerID]bool
	ready      map[conquest.PlayerID]bool

	// defaults carries build-supporting commands forward: a player who
	// stays silent keeps feeding an in-progress construction site
	// instead of abandoning it.
	defaults map[conquest.RegionID]conquest.StagedCommand
	timer      *time.Timer
	deadline   time.Time

	// resolvingTurn guards against double resolution when the deadline
	// timer and the last submission race: whichever path wins marks the
	// turn, the loser sees the mark and backs off.
	resolvingTurn int
}

// snapshotLocked builds the broadcast/API view. Caller holds mu.
func (g *Game) snapshotLocked() model.Snapshot {
	st := g.state.Clone()

	plans := make([]conquest.RegionID, 0, len(st.Plans))
	for id := range st.Plans {
		plans = append(plans, id)
	}
	sort.Slice(plans, func(a, b int) bool { return plans[a] < plans[b] })

	snap := model.Snapshot{
		GameID:  g.ID,
		Turn:    st.TurnCount,
		Regions: st.Regions,
		Plans:   plans,
		Players: g.playersLocked(),
	}
	if !g.deadline.IsZero() {
		d := g.deadline
		snap.Deadline = &d
	}
	for _, id := range g.waitingOnLocked() {
		snap.WaitingOn = append(snap.WaitingOn, id)
	}
	return snap
}

// playersLocked lists participants in join order. Caller holds mu.
func (g *Game) playersLocked() []model.Player {
	out := make([]model.Player, 0, len(g.players))
	for _, p := range g.players {
		out = append(out, model.Player{
			ID:       p.id,
			Name:     p.name,
			IsBot:    p.bot,
			Online:   p.online,
			Ready:    g.ready[p.id],
			Regions:  len(g.state.RegionsOf(p.id)),
			Units:    g.state.UnitCount(p.id),
			JoinedAt: p.joinedAt,
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].JoinedAt.Equal(out[b].JoinedAt) {
			return out[a].JoinedAt.Before(out[b].JoinedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// waitingOnLocked lists players the current turn still waits for,
// ascending. Caller holds mu.
func (g *Game) waitingOnLocked() []conquest.PlayerID {
	ids := make([]conquest.PlayerID, 0, len(g.waitingOn))
	for id := range g.waitingOn {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// infoLocked builds the lobby view. Caller holds mu.
func (g *Game) infoLocked(withPlayers bool) model.GameInfo {
	info := model.GameInfo{
		ID:           g.ID,
		Name:         g.Name,
		Status:       g.status,
		TurnCount:    g.state.TurnCount,
		TurnDuration: g.TurnDuration.String(),
		MapWidth:     g.MapOptions.Width,
		MapHeight:    g.MapOptions.Height,
		CreatedAt:    g.CreatedAt,
		FinishedAt:   g.finishedAt,
	}
	if withPlayers {
		info.Players = g.playersLocked()
	}
	return info
}

// Registry holds the live games. It is owned by the server composition
// root and handed to services; there are no package-level game tables.
type Registry struct {
	mu    sync.RWMutex
	games map[string]*Game
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]*Game)}
}

// Get returns the game with the given id, or nil.
func (r *Registry) Get(id string) *Game {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.games[id]
}

// List returns all games sorted by creation time, newest first.
func (r *Registry) List() []*Game {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, g)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func (r *Registry) add(g *Game) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.ID] = g
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.games, id)
}

// newID returns a random 16-hex-char identifier.
func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
