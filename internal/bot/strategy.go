// Package bot provides built-in players. A strategy is a pure function
// of the game state: same board, same commands. Bots go through the
// same submission path as humans.
package bot

import (
	"sort"

	"github.com/kmoran/regionwars/pkg/conquest"
)

// HeuristicStrategy plays greedy territorial expansion: attack adjacent
// enemies it clearly outnumbers, claim and feed adjacent empty regions,
// and shuffle idle interior forces toward the border.
type HeuristicStrategy struct {
	// AttackRatio is the strength multiple required before attacking.
	AttackRatio float64
	// MinGarrison is the force below which a region never acts.
	MinGarrison int
}

// NewHeuristic returns the default tuning.
func NewHeuristic() *HeuristicStrategy {
	return &HeuristicStrategy{AttackRatio: 1.5, MinGarrison: 4}
}

// PlanCommands builds the player's full batch for one turn.
func (h *HeuristicStrategy) PlanCommands(state *conquest.GameState, playerID conquest.PlayerID) []conquest.Command {
	owned := state.RegionsOf(playerID)
	if len(owned) == 0 {
		return nil
	}

	var cmds []conquest.Command
	claimed := make(map[conquest.RegionID]bool)
	for id := range state.Plans {
		claimed[id] = true
	}

	for _, id := range owned {
		region, err := state.Region(id)
		if err != nil {
			continue
		}
		units := len(region.Units)
		if units < h.MinGarrison {
			continue
		}

		if target, ok := h.weakestPrey(state, region, playerID, units); ok {
			// Half attacks, half holds the ground behind it.
			cmds = append(cmds, conquest.Command{
				Origin:  id,
				Targets: []conquest.RegionID{target, id},
			})
			continue
		}

		if site, ok := h.expansionSite(state, region, claimed); ok {
			if !claimed[site] {
				claimed[site] = true
				cmds = append(cmds, conquest.Command{Origin: site})
			}
			cmds = append(cmds, conquest.Command{
				Origin:  id,
				Targets: []conquest.RegionID{site, id},
			})
			continue
		}

		if dest, ok := h.reinforceTarget(state, region, playerID); ok {
			cmds = append(cmds, conquest.Command{
				Origin:  id,
				Targets: []conquest.RegionID{dest, id},
			})
		}
	}
	return cmds
}

// weakestPrey picks the weakest adjacent enemy region the force can
// overwhelm, smallest defender first, ties by ascending id.
func (h *HeuristicStrategy) weakestPrey(state *conquest.GameState, region *conquest.Region, playerID conquest.PlayerID, units int) (conquest.RegionID, bool) {
	best := conquest.RegionID(-1)
	bestUnits := 0
	for _, n := range region.Connected {
		r, err := state.Region(n)
		if err != nil || !r.Occupied() || r.Owner == playerID {
			continue
		}
		defenders := len(r.Units)
		if float64(units) < h.AttackRatio*float64(defenders)*2 {
			// The attacking half must still outnumber the defenders.
			continue
		}
		if best < 0 || defenders < bestUnits {
			best = n
			bestUnits = defenders
		}
	}
	return best, best >= 0
}

// expansionSite picks an adjacent unowned passable region, preferring
// sites already under construction so progress concentrates.
func (h *HeuristicStrategy) expansionSite(state *conquest.GameState, region *conquest.Region, claimed map[conquest.RegionID]bool) (conquest.RegionID, bool) {
	best := conquest.RegionID(-1)
	bestScore := -1.0
	for _, n := range region.Connected {
		r, err := state.Region(n)
		if err != nil || r.Occupied() || !r.Passable() {
			continue
		}
		score := r.Building
		if claimed[n] {
			score += 1
		}
		if score > bestScore {
			best = n
			bestScore = score
		}
	}
	return best, best >= 0
}

// reinforceTarget moves interior forces toward the friendly neighbor
// with the most exposure to enemies or open ground.
func (h *HeuristicStrategy) reinforceTarget(state *conquest.GameState, region *conquest.Region, playerID conquest.PlayerID) (conquest.RegionID, bool) {
	type option struct {
		id       conquest.RegionID
		exposure int
		units    int
	}
	var opts []option
	for _, n := range region.Connected {
		r, err := state.Region(n)
		if err != nil || r.Owner != playerID {
			continue
		}
		exposure := 0
		for _, nn := range r.Connected {
			rr, err := state.Region(nn)
			if err != nil || !rr.Passable() {
				continue
			}
			if !rr.Occupied() || rr.Owner != playerID {
				exposure++
			}
		}
		opts = append(opts, option{id: n, exposure: exposure, units: len(r.Units)})
	}
	if len(opts) == 0 {
		return 0, false
	}
	sort.Slice(opts, func(a, b int) bool {
		if opts[a].exposure != opts[b].exposure {
			return opts[a].exposure > opts[b].exposure
		}
		if opts[a].units != opts[b].units {
			return opts[a].units < opts[b].units
		}
		return opts[a].id < opts[b].id
	})
	if opts[0].exposure == 0 {
		return 0, false
	}
	return opts[0].id, true
}
