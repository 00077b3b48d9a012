package conquest

import "sort"

// Rules holds the tuning constants shared by the interaction, spawning,
// and culling phases.
type Rules struct {
	// TileCapacity is the maximum unit count a region sustains.
	TileCapacity int `json:"tile_capacity"`
	// UnitCoefficient is the combat and overpopulation damage divisor.
	UnitCoefficient int `json:"unit_coefficient"`
}

// DefaultRules returns the standard tuning.
func DefaultRules() Rules {
	return Rules{TileCapacity: 36, UnitCoefficient: 2}
}

// SpawnThreshold is the unit count a fully built region needs before it
// produces a new unit each turn.
func (r Rules) SpawnThreshold() int {
	return r.TileCapacity / r.UnitCoefficient
}

// TurnReport records everything that happened during one turn
// resolution, for logging, archival, and broadcast.
type TurnReport struct {
	Turn     int            `json:"turn"`
	Attacks  []AttackEvent  `json:"attacks,omitempty"`
	Builds   []BuildEvent   `json:"builds,omitempty"`
	Contests []ContestEvent `json:"contests,omitempty"`
	Spawns   []SpawnEvent   `json:"spawns,omitempty"`
	Culls    []CullEvent    `json:"culls,omitempty"`
}

// AttackEvent describes combat damage dealt to one defending region.
type AttackEvent struct {
	Region    RegionID `json:"region"`
	Attackers int      `json:"attackers"`
	Damage    int      `json:"damage"`
	Killed    int      `json:"killed"`
	Cleared   bool     `json:"cleared"` // defender lost every unit
}

// BuildEvent describes construction progress at one site.
type BuildEvent struct {
	Site      RegionID `json:"site"`
	Progress  float64  `json:"progress"`
	Completed bool     `json:"completed"`
}

// ContestEvent describes multiple factions arriving at the same region.
type ContestEvent struct {
	Region    RegionID `json:"region"`
	Winner    PlayerID `json:"winner"`
	Losses    int      `json:"losses"`    // units the winner paid
	Destroyed int      `json:"destroyed"` // units of defeated factions
}

// SpawnEvent describes a unit produced by a completed building.
type SpawnEvent struct {
	Region RegionID `json:"region"`
	Unit   UnitID   `json:"unit"`
}

// CullEvent describes overpopulation losses at one region.
type CullEvent struct {
	Region  RegionID `json:"region"`
	Removed int      `json:"removed"`
}

// group is one turn-scoped partition of a region's units, bound to a
// single destination and disposition. Groups never outlive a
// ResolveTurn call.
type group struct {
	owner  PlayerID
	origin RegionID
	dest   RegionID
	units  []UnitID
	attack bool
	build  bool
}

// resolver carries the phase-local accumulators for one turn. All
// per-phase reads go against the pre-turn snapshot arrays so that no
// region's phase-k mutation is visible to another region's phase-k
// computation.
type resolver struct {
	gs    *GameState
	rules Rules

	plans map[RegionID]bool

	snapOwner    []PlayerID
	snapOccupied []bool

	groups       [][]group
	attackCount  []int
	attacked     []bool
	pendingBuild []float64
	inbound      [][]group

	report *TurnReport
}

// ResolveTurn advances the world by one turn. Commands must have been
// staged against the state being resolved; they are consumed here.
// Resolution is deterministic: identical state and commands produce an
// identical resulting state, independent of map iteration order.
func ResolveTurn(gs *GameState, commands []StagedCommand, rules Rules) *TurnReport {
	r := &resolver{
		gs:           gs,
		rules:        rules,
		plans:        make(map[RegionID]bool, len(gs.Plans)),
		snapOwner:    make([]PlayerID, len(gs.Regions)),
		snapOccupied: make([]bool, len(gs.Regions)),
		groups:       make([][]group, len(gs.Regions)),
		attackCount:  make([]int, len(gs.Regions)),
		attacked:     make([]bool, len(gs.Regions)),
		pendingBuild: make([]float64, len(gs.Regions)),
		inbound:      make([][]group, len(gs.Regions)),
		report:       &TurnReport{Turn: gs.TurnCount},
	}

	for id := range gs.Plans {
		r.plans[id] = gs.Plans[id]
	}
	for i := range gs.Regions {
		r.snapOwner[i] = gs.Regions[i].Owner
		r.snapOccupied[i] = gs.Regions[i].Occupied()
	}

	moves := r.acceptCommands(commands)

	r.formGroups(moves)
	r.interact()
	r.applyFatalities()
	r.move()
	r.receive()
	r.commitBuilding()
	r.spawn()
	r.cull()
	r.persistPlans()

	gs.TurnCount++
	return r.report
}

// acceptCommands separates claims from movement commands. Claims extend
// the effective plan set for this turn; movement commands are indexed by
// origin in ascending order.
func (r *resolver) acceptCommands(commands []StagedCommand) map[RegionID]StagedCommand {
	moves := make(map[RegionID]StagedCommand, len(commands))
	for _, sc := range commands {
		switch sc.Kind {
		case CommandClaim:
			// Only still-unowned sites can be designated.
			if !r.snapOccupied[sc.Origin] {
				r.plans[sc.Origin] = true
			}
		case CommandMove:
			if _, dup := moves[sc.Origin]; !dup {
				moves[sc.Origin] = sc
			}
		}
	}
	return moves
}

// formGroups partitions each occupied region's units into one group per
// target, sized as evenly as possible with larger groups first, in
// target submission order. Regions without a command stand fast.
func (r *resolver) formGroups(moves map[RegionID]StagedCommand) {
	for i := range r.gs.Regions {
		reg := &r.gs.Regions[i]
		if !reg.Occupied() {
			continue
		}
		targets := []RegionID{reg.ID}
		if sc, ok := moves[reg.ID]; ok && len(sc.Targets) > 0 {
			targets = sc.Targets
		}
		sizes := evenSplit(len(reg.Units), len(targets))
		offset := 0
		for gi, t := range targets {
			n := sizes[gi]
			if n == 0 {
				continue
			}
			// Cap the slice so a later append cannot grow into a
			// sibling group's units.
			r.groups[i] = append(r.groups[i], group{
				owner:  reg.Owner,
				origin: reg.ID,
				dest:   t,
				units:  reg.Units[offset : offset+n : offset+n],
			})
			offset += n
		}
	}
}

// interact assigns each group exactly one disposition against the
// pre-turn snapshot: attack an enemy-held destination, contribute to a
// construction site, or queue a move.
func (r *resolver) interact() {
	for i := range r.groups {
		for gi := range r.groups[i] {
			g := &r.groups[i][gi]
			switch {
			case g.dest != g.origin && r.snapOccupied[g.dest] && r.snapOwner[g.dest] != g.owner:
				g.attack = true
				r.attackCount[g.dest] += len(g.units)
				r.attacked[g.dest] = true
			case g.dest != g.origin && r.plans[g.dest]:
				g.build = true
				r.pendingBuild[g.dest] += float64(len(g.units)) / float64(r.rules.TileCapacity)
			}
		}
	}
}

// applyFatalities computes combat damage for every attacked region and
// distributes it across the defender's groups: same even-split rule as
// group formation, largest remainders to the first groups, overflow
// carried forward when a group is smaller than its share. Units die from
// the front of each group (oldest first).
func (r *resolver) applyFatalities() {
	for i := range r.gs.Regions {
		if r.attackCount[i] == 0 {
			continue
		}
		damage := ceilDiv(r.attackCount[i], r.rules.UnitCoefficient)
		groups := r.groups[i]

		killed := 0
		if len(groups) > 0 {
			shares := evenSplit(damage, len(groups))
			carry := 0
			for gi := range groups {
				take := shares[gi] + carry
				if take > len(groups[gi].units) {
					carry = take - len(groups[gi].units)
					take = len(groups[gi].units)
				} else {
					carry = 0
				}
				groups[gi].units = groups[gi].units[take:]
				killed += take
			}
		}

		remaining := 0
		for gi := range groups {
			remaining += len(groups[gi].units)
		}
		r.report.Attacks = append(r.report.Attacks, AttackEvent{
			Region:    RegionID(i),
			Attackers: r.attackCount[i],
			Damage:    damage,
			Killed:    killed,
			Cleared:   remaining == 0,
		})
	}
}

// move sends every surviving non-attack, non-build group (including
// stand-fast self-targets) to its destination's inbound accumulator and
// rebuilds each region's resident units from the groups that stay.
func (r *resolver) move() {
	for i := range r.gs.Regions {
		reg := &r.gs.Regions[i]
		if r.groups[i] == nil {
			continue
		}
		var residents []UnitID
		for gi := range r.groups[i] {
			g := r.groups[i][gi]
			if len(g.units) == 0 {
				continue
			}
			if g.attack || g.build {
				residents = append(residents, g.units...)
				continue
			}
			r.inbound[g.dest] = append(r.inbound[g.dest], g)
		}
		reg.Units = residents
	}
}

// receive merges arriving groups into their destinations. Same-player
// groups concatenate; different players contend under largest-army-wins,
// the winner paying losses equal to the second-largest contender.
// Resident survivors count as the first contending group, so they win
// equal-largest ties.
func (r *resolver) receive() {
	for i := range r.gs.Regions {
		if len(r.inbound[i]) == 0 {
			continue
		}
		reg := &r.gs.Regions[i]

		var contenders []group
		if len(reg.Units) > 0 {
			contenders = append(contenders, group{owner: reg.Owner, units: reg.Units})
		}
		index := make(map[PlayerID]int, len(r.inbound[i])+1)
		for ci := range contenders {
			index[contenders[ci].owner] = ci
		}
		for _, g := range r.inbound[i] {
			if ci, ok := index[g.owner]; ok {
				contenders[ci].units = append(contenders[ci].units, g.units...)
				continue
			}
			index[g.owner] = len(contenders)
			contenders = append(contenders, group{owner: g.owner, units: g.units})
		}

		if len(contenders) == 1 {
			reg.Units = contenders[0].units
			reg.Owner = contenders[0].owner
			continue
		}

		// Largest army wins; equal-largest ties go to the
		// first-encountered contender.
		winner := 0
		for ci := 1; ci < len(contenders); ci++ {
			if len(contenders[ci].units) > len(contenders[winner].units) {
				winner = ci
			}
		}
		second := 0
		destroyed := 0
		for ci := range contenders {
			if ci == winner {
				continue
			}
			destroyed += len(contenders[ci].units)
			if len(contenders[ci].units) > second {
				second = len(contenders[ci].units)
			}
		}

		survivors := contenders[winner].units
		losses := second
		if losses > len(survivors) {
			losses = len(survivors)
		}
		survivors = survivors[losses:]

		reg.Units = survivors
		if len(survivors) > 0 {
			reg.Owner = contenders[winner].owner
		} else {
			reg.Owner = Unowned
		}
		r.report.Contests = append(r.report.Contests, ContestEvent{
			Region:    reg.ID,
			Winner:    contenders[winner].owner,
			Losses:    losses,
			Destroyed: destroyed,
		})
	}

	// Regions whose groups all died or left end the turn unowned.
	for i := range r.gs.Regions {
		if len(r.gs.Regions[i].Units) == 0 {
			r.gs.Regions[i].Owner = Unowned
		}
	}
}

// commitBuilding applies accumulated construction progress. A site that
// was attacked or changed owner this turn accumulates nothing.
func (r *resolver) commitBuilding() {
	for i := range r.pendingBuild {
		if r.pendingBuild[i] == 0 {
			continue
		}
		reg := &r.gs.Regions[i]
		if r.attacked[i] || reg.Owner != r.snapOwner[i] {
			continue
		}
		progress := reg.Building + r.pendingBuild[i]
		if progress > 1 {
			progress = 1
		}
		reg.Building = progress
		r.report.Builds = append(r.report.Builds, BuildEvent{
			Site:      reg.ID,
			Progress:  progress,
			Completed: progress >= 1,
		})
	}
}

// spawn grants one fresh unit to every fully built, sufficiently
// populated region.
func (r *resolver) spawn() {
	for i := range r.gs.Regions {
		reg := &r.gs.Regions[i]
		if reg.Building < 1 || len(reg.Units) < r.rules.SpawnThreshold() {
			continue
		}
		id := r.gs.newUnit()
		reg.Units = append(reg.Units, id)
		r.report.Spawns = append(r.report.Spawns, SpawnEvent{Region: reg.ID, Unit: id})
	}
}

// cull removes overpopulation losses from the front of each region's
// unit list (oldest units die first).
func (r *resolver) cull() {
	for i := range r.gs.Regions {
		reg := &r.gs.Regions[i]
		excess := len(reg.Units) - r.rules.TileCapacity
		if excess <= 0 {
			continue
		}
		removed := ceilDiv(excess, r.rules.UnitCoefficient)
		reg.Units = reg.Units[removed:]
		if len(reg.Units) == 0 {
			reg.Owner = Unowned
		}
		r.report.Culls = append(r.report.Culls, CullEvent{Region: reg.ID, Removed: removed})
	}
}

// persistPlans carries in-progress construction sites into the next
// turn. Completed, occupied, or attacked sites drop out.
func (r *resolver) persistPlans() {
	next := make(map[RegionID]bool)
	ids := make([]RegionID, 0, len(r.plans))
	for id := range r.plans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	for _, id := range ids {
		reg := &r.gs.Regions[id]
		if reg.Building >= 1 || reg.Occupied() || r.attacked[id] {
			continue
		}
		next[id] = true
	}
	r.gs.Plans = next
}

// evenSplit divides n into k parts whose sizes differ by at most one,
// larger parts first. Sum of parts is always n.
func evenSplit(n, k int) []int {
	if k <= 0 {
		return nil
	}
	parts := make([]int, k)
	base, rem := n/k, n%k
	for i := range parts {
		parts[i] = base
		if i < rem {
			parts[i]++
		}
	}
	return parts
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
