package conquest

import (
	"reflect"
	"testing"
)

// lineState builds a passable west-east strip of n regions where region
// i connects to i-1 and i+1.
func lineState(t *testing.T, n int) *GameState {
	t.Helper()
	regions := make([]Region, n)
	for i := range regions {
		regions[i] = Region{
			ID:       RegionID(i),
			Position: [2]float64{float64(i), 0},
			Terrain:  0,
		}
		if i > 0 {
			regions[i].Connected = append(regions[i].Connected, RegionID(i-1))
		}
		if i < n-1 {
			regions[i].Connected = append(regions[i].Connected, RegionID(i+1))
		}
	}
	gs, err := NewGameState(regions)
	if err != nil {
		t.Fatalf("NewGameState: %v", err)
	}
	return gs
}

func regionUnits(gs *GameState, id RegionID) int {
	return len(gs.Regions[id].Units)
}

func mustStage(t *testing.T, gs *GameState, player PlayerID, cmds []Command) []StagedCommand {
	t.Helper()
	staged, dropped := StageBatch(gs, player, cmds)
	if dropped != 0 {
		t.Fatalf("StageBatch dropped %d commands", dropped)
	}
	return staged
}

func TestResolveAttackClearsDefender(t *testing.T) {
	gs := lineState(t, 2)
	gs.SpawnUnits(0, "alice", 12)
	gs.SpawnUnits(1, "bob", 6)

	staged := mustStage(t, gs, "alice", []Command{{Origin: 0, Targets: []RegionID{1}}})
	report := ResolveTurn(gs, staged, DefaultRules())

	if len(report.Attacks) != 1 {
		t.Fatalf("attacks = %d, want 1", len(report.Attacks))
	}
	atk := report.Attacks[0]
	if atk.Damage != 6 || atk.Killed != 6 || !atk.Cleared {
		t.Errorf("attack = %+v, want damage 6, killed 6, cleared", atk)
	}
	// Attackers hold position rather than advancing.
	if got := regionUnits(gs, 0); got != 12 {
		t.Errorf("origin units = %d, want 12", got)
	}
	if gs.Regions[1].Occupied() || gs.Regions[1].Owner != Unowned {
		t.Errorf("defender region = %+v, want empty and unowned", gs.Regions[1])
	}
	if err := gs.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestResolvePartialAttackLeavesSurvivors(t *testing.T) {
	gs := lineState(t, 2)
	gs.SpawnUnits(0, "alice", 6)
	gs.SpawnUnits(1, "bob", 12)
	oldest := gs.Regions[1].Units[0]

	staged := mustStage(t, gs, "alice", []Command{{Origin: 0, Targets: []RegionID{1}}})
	ResolveTurn(gs, staged, DefaultRules())

	// ceil(6/2) = 3 fatalities, oldest units first.
	if got := regionUnits(gs, 1); got != 9 {
		t.Errorf("defender units = %d, want 9", got)
	}
	if gs.Regions[1].Owner != "bob" {
		t.Errorf("defender owner = %q, want bob", gs.Regions[1].Owner)
	}
	for _, u := range gs.Regions[1].Units {
		if u == oldest {
			t.Errorf("oldest unit %d survived, want it culled first", oldest)
		}
	}
}

func TestResolveBuildProgress(t *testing.T) {
	gs := lineState(t, 2)
	gs.SpawnUnits(0, "alice", 12)

	staged := mustStage(t, gs, "alice", []Command{
		{Origin: 1},                         // claim the empty site
		{Origin: 0, Targets: []RegionID{1}}, // send builders
	})
	report := ResolveTurn(gs, staged, DefaultRules())

	if len(report.Builds) != 1 {
		t.Fatalf("builds = %d, want 1", len(report.Builds))
	}
	want := 12.0 / 36.0
	if got := gs.Regions[1].Building; got != want {
		t.Errorf("building = %v, want %v", got, want)
	}
	// Builders stay home and the site stays unowned.
	if got := regionUnits(gs, 0); got != 12 {
		t.Errorf("origin units = %d, want 12", got)
	}
	if gs.Regions[1].Occupied() {
		t.Errorf("site occupied, want empty")
	}
	if !gs.Plans[1] {
		t.Errorf("plan not persisted for in-progress site")
	}
}

func TestResolveBuildCompletes(t *testing.T) {
	gs := lineState(t, 2)
	gs.SpawnUnits(0, "alice", 36)
	gs.Plans[1] = true

	staged := mustStage(t, gs, "alice", []Command{{Origin: 0, Targets: []RegionID{1}}})
	report := ResolveTurn(gs, staged, DefaultRules())

	if gs.Regions[1].Building != 1 {
		t.Errorf("building = %v, want 1", gs.Regions[1].Building)
	}
	if len(report.Builds) != 1 || !report.Builds[0].Completed {
		t.Errorf("builds = %+v, want one completed event", report.Builds)
	}
	if gs.Plans[1] {
		t.Errorf("completed site still planned")
	}
}

func TestResolveContestLargestArmyWins(t *testing.T) {
	gs := lineState(t, 3)
	gs.SpawnUnits(0, "alice", 5)
	gs.SpawnUnits(2, "bob", 3)

	staged := mustStage(t, gs, "alice", []Command{{Origin: 0, Targets: []RegionID{1}}})
	staged = append(staged, mustStage(t, gs, "bob", []Command{{Origin: 2, Targets: []RegionID{1}}})...)
	report := ResolveTurn(gs, staged, DefaultRules())

	if len(report.Contests) != 1 {
		t.Fatalf("contests = %d, want 1", len(report.Contests))
	}
	c := report.Contests[0]
	if c.Winner != "alice" || c.Losses != 3 || c.Destroyed != 3 {
		t.Errorf("contest = %+v, want alice winning at cost 3", c)
	}
	if got := regionUnits(gs, 1); got != 2 {
		t.Errorf("contested region units = %d, want 2", got)
	}
	if gs.Regions[1].Owner != "alice" {
		t.Errorf("contested region owner = %q, want alice", gs.Regions[1].Owner)
	}
}

func TestResolveContestTieAnnihilates(t *testing.T) {
	// Two equal armies meet on empty ground: the first-arrived army wins
	// the contest but pays losses equal to the tied runner-up, so the
	// region ends the turn empty.
	gs := lineState(t, 3)
	gs.SpawnUnits(0, "alice", 4)
	gs.SpawnUnits(2, "bob", 4)

	staged := mustStage(t, gs, "alice", []Command{{Origin: 0, Targets: []RegionID{1}}})
	staged = append(staged, mustStage(t, gs, "bob", []Command{{Origin: 2, Targets: []RegionID{1}}})...)
	report := ResolveTurn(gs, staged, DefaultRules())

	if len(report.Contests) != 1 {
		t.Fatalf("contests = %d, want 1", len(report.Contests))
	}
	c := report.Contests[0]
	if c.Winner != "alice" || c.Losses != 4 || c.Destroyed != 4 {
		t.Errorf("contest = %+v, want alice winning at full cost", c)
	}
	if got := regionUnits(gs, 1); got != 0 {
		t.Errorf("units after tie = %d, want 0", got)
	}
	if gs.Regions[1].Owner != Unowned {
		t.Errorf("owner after tie = %q, want unowned", gs.Regions[1].Owner)
	}
}

func TestResolveSplitFairness(t *testing.T) {
	gs := lineState(t, 3)
	gs.SpawnUnits(1, "alice", 7)

	staged := mustStage(t, gs, "alice", []Command{
		{Origin: 1, Targets: []RegionID{0, 1, 2}},
	})
	ResolveTurn(gs, staged, DefaultRules())

	// 7 into 3 parts, larger first: 3, 2, 2.
	if got := regionUnits(gs, 0); got != 3 {
		t.Errorf("first target units = %d, want 3", got)
	}
	if got := regionUnits(gs, 1); got != 2 {
		t.Errorf("second target units = %d, want 2", got)
	}
	if got := regionUnits(gs, 2); got != 2 {
		t.Errorf("third target units = %d, want 2", got)
	}
	for i := 0; i < 3; i++ {
		if gs.Regions[i].Owner != "alice" {
			t.Errorf("region %d owner = %q, want alice", i, gs.Regions[i].Owner)
		}
	}
}

func TestResolveDeterministicReplay(t *testing.T) {
	gs := lineState(t, 5)
	gs.SpawnUnits(0, "alice", 9)
	gs.SpawnUnits(2, "bob", 7)
	gs.SpawnUnits(4, "carol", 11)
	gs.Plans[3] = true

	cmds := mustStage(t, gs, "alice", []Command{{Origin: 0, Targets: []RegionID{1, 0}}})
	cmds = append(cmds, mustStage(t, gs, "bob", []Command{{Origin: 2, Targets: []RegionID{1, 3}}})...)
	cmds = append(cmds, mustStage(t, gs, "carol", []Command{{Origin: 4, Targets: []RegionID{3}}})...)

	replay := gs.Clone()
	ResolveTurn(gs, cmds, DefaultRules())
	ResolveTurn(replay, cmds, DefaultRules())

	if !reflect.DeepEqual(gs, replay) {
		t.Fatalf("replay diverged:\n got %+v\nwant %+v", replay, gs)
	}
}

func TestResolveConservesUnitsWithoutCombat(t *testing.T) {
	gs := lineState(t, 4)
	gs.SpawnUnits(0, "alice", 8)
	gs.SpawnUnits(3, "bob", 5)
	before := gs.TotalUnits()

	staged := mustStage(t, gs, "alice", []Command{{Origin: 0, Targets: []RegionID{1}}})
	staged = append(staged, mustStage(t, gs, "bob", []Command{{Origin: 3, Targets: []RegionID{2}}})...)
	ResolveTurn(gs, staged, DefaultRules())

	if after := gs.TotalUnits(); after != before {
		t.Errorf("total units = %d, want %d", after, before)
	}
	if err := gs.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestResolveMergingArrivalsKeepUnitsDistinct(t *testing.T) {
	// Two friendly forces converge on the same region while part of the
	// first stands fast. The merge at the meeting point must not bleed
	// into the stand-fast group's units.
	gs := lineState(t, 3)
	gs.SpawnUnits(0, "alice", 9)
	gs.SpawnUnits(2, "alice", 4)
	before := gs.TotalUnits()

	staged := mustStage(t, gs, "alice", []Command{
		{Origin: 0, Targets: []RegionID{1, 0}},
		{Origin: 2, Targets: []RegionID{1}},
	})
	ResolveTurn(gs, staged, DefaultRules())

	if err := gs.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if got := regionUnits(gs, 0); got != 4 {
		t.Errorf("stand-fast units = %d, want 4", got)
	}
	if got := regionUnits(gs, 1); got != 9 {
		t.Errorf("merged units = %d, want 9", got)
	}
	if gs.Regions[2].Occupied() || gs.Regions[2].Owner != Unowned {
		t.Errorf("vacated region = %+v, want empty and unowned", gs.Regions[2])
	}
	if after := gs.TotalUnits(); after != before {
		t.Errorf("total units = %d, want %d", after, before)
	}
}

func TestResolveSpawnAtCompletedBuilding(t *testing.T) {
	gs := lineState(t, 1)
	gs.SpawnUnits(0, "alice", 18)
	gs.Regions[0].Building = 1

	report := ResolveTurn(gs, nil, DefaultRules())

	if len(report.Spawns) != 1 {
		t.Fatalf("spawns = %d, want 1", len(report.Spawns))
	}
	if got := regionUnits(gs, 0); got != 19 {
		t.Errorf("units = %d, want 19", got)
	}
}

func TestResolveNoSpawnBelowThreshold(t *testing.T) {
	gs := lineState(t, 1)
	gs.SpawnUnits(0, "alice", 17)
	gs.Regions[0].Building = 1

	report := ResolveTurn(gs, nil, DefaultRules())
	if len(report.Spawns) != 0 {
		t.Errorf("spawns = %d, want 0", len(report.Spawns))
	}
}

func TestResolveCullOverpopulation(t *testing.T) {
	gs := lineState(t, 1)
	gs.SpawnUnits(0, "alice", 40)
	oldest := gs.Regions[0].Units[0]

	report := ResolveTurn(gs, nil, DefaultRules())

	// 4 over capacity, ceil(4/2) = 2 removed from the front.
	if len(report.Culls) != 1 || report.Culls[0].Removed != 2 {
		t.Fatalf("culls = %+v, want one event removing 2", report.Culls)
	}
	if got := regionUnits(gs, 0); got != 38 {
		t.Errorf("units = %d, want 38", got)
	}
	for _, u := range gs.Regions[0].Units {
		if u == oldest {
			t.Errorf("oldest unit %d survived culling", oldest)
		}
	}
}

func TestResolveRivalBuildersShareSite(t *testing.T) {
	// An unowned site draws builders from two factions. Nobody attacks
	// it (it has no defenders to attack), so both contributions accrue.
	gs := lineState(t, 3)
	gs.SpawnUnits(0, "alice", 12)
	gs.SpawnUnits(2, "bob", 12)
	gs.Plans[1] = true

	cmds := mustStage(t, gs, "alice", []Command{{Origin: 0, Targets: []RegionID{1}}})
	cmds = append(cmds, mustStage(t, gs, "bob", []Command{{Origin: 2, Targets: []RegionID{1}}})...)
	ResolveTurn(gs, cmds, DefaultRules())

	want := 24.0 / 36.0
	if got := gs.Regions[1].Building; got != want {
		t.Errorf("building = %v, want %v", got, want)
	}
	// Both crews stay home.
	if regionUnits(gs, 0) != 12 || regionUnits(gs, 2) != 12 {
		t.Errorf("builder counts = %d, %d, want 12, 12", regionUnits(gs, 0), regionUnits(gs, 2))
	}
}

func TestEvenSplit(t *testing.T) {
	cases := []struct {
		n, k int
		want []int
	}{
		{7, 3, []int{3, 2, 2}},
		{6, 3, []int{2, 2, 2}},
		{1, 3, []int{1, 0, 0}},
		{0, 2, []int{0, 0}},
		{5, 1, []int{5}},
	}
	for _, c := range cases {
		if got := evenSplit(c.n, c.k); !reflect.DeepEqual(got, c.want) {
			t.Errorf("evenSplit(%d, %d) = %v, want %v", c.n, c.k, got, c.want)
		}
	}
}
