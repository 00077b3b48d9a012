package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kmoran/regionwars/internal/mapgen"
	"github.com/kmoran/regionwars/internal/model"
	"github.com/kmoran/regionwars/pkg/conquest"
)

type harness struct {
	registry *Registry
	bcast    *recordingBroadcaster
	archive  *mockArchive
	mirror   *mockMirror
	turns    *TurnService
	sessions *SessionService
}

func newHarness() *harness {
	h := &harness{
		registry: NewRegistry(),
		bcast:    &recordingBroadcaster{},
		archive:  &mockArchive{},
		mirror:   newMockMirror(),
	}
	h.turns = NewTurnService(h.registry, h.bcast, h.archive, h.mirror)
	h.turns.SetBotDelay(0)
	h.sessions = NewSessionService(h.registry, h.bcast, h.turns)
	h.sessions.SetSeed(1)
	return h
}

func defaultMap() mapgen.Options {
	return mapgen.Options{Width: 8, Height: 8, Seed: 1, WaterFraction: 0}
}

// duelGame builds a hand-laid two-region board with both players seated
// and the first turn open.
func duelGame(t *testing.T, h *harness, units1, units2 int) *Game {
	t.Helper()
	regions := []conquest.Region{
		{ID: 0, Connected: []conquest.RegionID{1}},
		{ID: 1, Connected: []conquest.RegionID{0}},
	}
	state, err := conquest.NewGameState(regions)
	if err != nil {
		t.Fatalf("NewGameState: %v", err)
	}
	if units1 > 0 {
		state.SpawnUnits(0, "p1", units1)
	}
	if units2 > 0 {
		state.SpawnUnits(1, "p2", units2)
	}

	g := &Game{
		ID:           "duel",
		Name:         "duel",
		CreatedAt:    time.Now(),
		TurnDuration: time.Hour,
		Rules:        conquest.DefaultRules(),
		status:       model.StatusActive,
		state:        state,
		players: map[conquest.PlayerID]*player{
			"p1": {id: "p1", name: "one", online: true, joinedAt: time.Now()},
			"p2": {id: "p2", name: "two", online: true, joinedAt: time.Now()},
		},
		staged:    make(map[conquest.PlayerID][]conquest.StagedCommand),
		waitingOn: make(map[conquest.PlayerID]bool),
		ready:     make(map[conquest.PlayerID]bool),
		defaults:  make(map[conquest.RegionID]conquest.StagedCommand),
	}
	h.registry.add(g)
	h.turns.StartTurn(g)
	return g
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubmitTriggersResolution(t *testing.T) {
	h := newHarness()
	g, err := h.sessions.CreateGame("solo", time.Hour, defaultMap(), 0)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	_, pid, err := h.sessions.Connect(g.ID, "ana", "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, _, err := h.turns.SubmitCommands(g.ID, pid, nil); err != nil {
		t.Fatalf("SubmitCommands: %v", err)
	}

	snap, err := h.sessions.Snapshot(g.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Turn != 1 {
		t.Errorf("turn = %d, want 1", snap.Turn)
	}
	if got := h.bcast.count("turn_resolved"); got != 1 {
		t.Errorf("turn_resolved events = %d, want 1", got)
	}
	if got := h.bcast.count("turn_started"); got != 2 {
		t.Errorf("turn_started events = %d, want 2", got)
	}

	waitFor(t, "archive never received the turn", func() bool {
		return h.archive.recorded() == 1
	})
	waitFor(t, "mirror never received the snapshot", func() bool {
		h.mirror.mu.Lock()
		defer h.mirror.mu.Unlock()
		_, ok := h.mirror.snapshots[g.ID]
		return ok
	})
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	h := newHarness()
	g := duelGame(t, h, 12, 12)

	if _, _, err := h.turns.SubmitCommands(g.ID, "p1", nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, _, err := h.turns.SubmitCommands(g.ID, "p1", []conquest.Command{{Origin: 0}})
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Errorf("second submit err = %v, want ErrDuplicateSubmission", err)
	}

	// The first batch survives rejection of the second.
	snap, _ := h.sessions.Snapshot(g.ID)
	if snap.Turn != 0 {
		t.Errorf("turn = %d, want 0 while p2 is awaited", snap.Turn)
	}
}

func TestMarkReadyResolves(t *testing.T) {
	h := newHarness()
	g := duelGame(t, h, 12, 12)

	if err := h.turns.MarkReady(g.ID, "p1"); err != nil {
		t.Fatalf("MarkReady p1: %v", err)
	}
	if err := h.turns.MarkReady(g.ID, "p2"); err != nil {
		t.Fatalf("MarkReady p2: %v", err)
	}

	snap, _ := h.sessions.Snapshot(g.ID)
	if snap.Turn != 1 {
		t.Errorf("turn = %d, want 1", snap.Turn)
	}
	// Everyone stood fast: board unchanged.
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.state.Regions[0].Units) != 12 || len(g.state.Regions[1].Units) != 12 {
		t.Errorf("units moved on stand-fast turn")
	}
}

func TestDeadlineResolvesWithStandFast(t *testing.T) {
	h := newHarness()
	g, err := h.sessions.CreateGame("slow", 50*time.Millisecond, defaultMap(), 0)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, _, err := h.sessions.Connect(g.ID, "ana", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, "deadline never resolved the turn", func() bool {
		snap, err := h.sessions.Snapshot(g.ID)
		return err == nil && snap.Turn >= 1
	})
	if got := h.bcast.count("request_commands"); got == 0 {
		t.Error("no request_commands sent before deadline resolution")
	}
}

func TestConcurrentSubmitAndDeadlineResolveOnce(t *testing.T) {
	h := newHarness()
	g, err := h.sessions.CreateGame("race", 2*time.Millisecond, defaultMap(), 0)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	_, p1, err := h.sessions.Connect(g.ID, "ana", "")
	if err != nil {
		t.Fatalf("Connect ana: %v", err)
	}
	_, p2, err := h.sessions.Connect(g.ID, "ben", "")
	if err != nil {
		t.Fatalf("Connect ben: %v", err)
	}

	// Hammer submissions from both players while the short deadline
	// fires on its own. Every resolution must happen exactly once, no
	// matter which trigger wins.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, pid := range []conquest.PlayerID{p1, p2} {
		wg.Add(1)
		go func(pid conquest.PlayerID) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _, err := h.turns.SubmitCommands(g.ID, pid, nil)
				if err != nil && !errors.Is(err, ErrDuplicateSubmission) && !errors.Is(err, ErrGameNotActive) {
					t.Errorf("SubmitCommands(%s): %v", pid, err)
					return
				}
			}
		}(pid)
	}

	waitFor(t, "turns never advanced under contention", func() bool {
		snap, err := h.sessions.Snapshot(g.ID)
		return err == nil && snap.Turn >= 8
	})
	close(stop)
	wg.Wait()

	// One turn_resolved per resolved turn: the count can only sit
	// between the turn numbers observed around it.
	before, err := h.sessions.Snapshot(g.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	resolved := h.bcast.count("turn_resolved")
	after, err := h.sessions.Snapshot(g.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if resolved < before.Turn || resolved > after.Turn {
		t.Errorf("turn_resolved events = %d, want between %d and %d", resolved, before.Turn, after.Turn)
	}
}

func TestEliminationEndsGame(t *testing.T) {
	h := newHarness()
	g := duelGame(t, h, 12, 2)

	if err := h.turns.MarkReady(g.ID, "p2"); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if _, _, err := h.turns.SubmitCommands(g.ID, "p1", []conquest.Command{
		{Origin: 0, Targets: []conquest.RegionID{1}},
	}); err != nil {
		t.Fatalf("SubmitCommands: %v", err)
	}

	info, err := h.sessions.GameInfo(g.ID)
	if err != nil {
		t.Fatalf("GameInfo: %v", err)
	}
	if info.Status != model.StatusFinished {
		t.Errorf("status = %q, want finished", info.Status)
	}
	if got := h.bcast.count("game_ended"); got != 1 {
		t.Errorf("game_ended events = %d, want 1", got)
	}

	_, _, err = h.turns.SubmitCommands(g.ID, "p1", nil)
	if !errors.Is(err, ErrGameNotActive) {
		t.Errorf("submit after end err = %v, want ErrGameNotActive", err)
	}
}

func TestBuildDefaultsCarryOver(t *testing.T) {
	h := newHarness()

	regions := []conquest.Region{
		{ID: 0, Connected: []conquest.RegionID{1}},
		{ID: 1, Connected: []conquest.RegionID{0}},
	}
	state, err := conquest.NewGameState(regions)
	if err != nil {
		t.Fatalf("NewGameState: %v", err)
	}
	state.SpawnUnits(0, "p1", 12)

	g := &Game{
		ID:           "site",
		Name:         "site",
		CreatedAt:    time.Now(),
		TurnDuration: time.Hour,
		Rules:        conquest.DefaultRules(),
		status:       model.StatusActive,
		state:        state,
		players: map[conquest.PlayerID]*player{
			"p1": {id: "p1", name: "one", online: true, joinedAt: time.Now()},
		},
		staged:    make(map[conquest.PlayerID][]conquest.StagedCommand),
		waitingOn: make(map[conquest.PlayerID]bool),
		ready:     make(map[conquest.PlayerID]bool),
		defaults:  make(map[conquest.RegionID]conquest.StagedCommand),
	}
	h.registry.add(g)
	h.turns.StartTurn(g)

	// Claim the site and feed it.
	if _, _, err := h.turns.SubmitCommands(g.ID, "p1", []conquest.Command{
		{Origin: 1},
		{Origin: 0, Targets: []conquest.RegionID{1}},
	}); err != nil {
		t.Fatalf("SubmitCommands: %v", err)
	}

	g.mu.Lock()
	after1 := g.state.Regions[1].Building
	g.mu.Unlock()
	if want := 12.0 / 36.0; after1 != want {
		t.Fatalf("building after turn 1 = %v, want %v", after1, want)
	}

	// Silence on the next turn keeps the crew building.
	if err := h.turns.MarkReady(g.ID, "p1"); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}

	g.mu.Lock()
	after2 := g.state.Regions[1].Building
	g.mu.Unlock()
	if want := 24.0 / 36.0; after2 != want {
		t.Errorf("building after silent turn = %v, want %v", after2, want)
	}
}

func TestSubmitErrors(t *testing.T) {
	h := newHarness()
	g := duelGame(t, h, 12, 12)

	if _, _, err := h.turns.SubmitCommands("missing", "p1", nil); !errors.Is(err, ErrGameNotFound) {
		t.Errorf("unknown game err = %v, want ErrGameNotFound", err)
	}
	if _, _, err := h.turns.SubmitCommands(g.ID, "ghost", nil); !errors.Is(err, ErrNotInGame) {
		t.Errorf("unknown player err = %v, want ErrNotInGame", err)
	}
	if err := h.turns.MarkReady("missing", "p1"); !errors.Is(err, ErrGameNotFound) {
		t.Errorf("MarkReady unknown game err = %v, want ErrGameNotFound", err)
	}
}
