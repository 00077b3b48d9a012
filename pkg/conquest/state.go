package conquest

import "fmt"

// GameState is a complete snapshot of the world between turns.
// Transient resolution data (groups, combat tallies, inbound forces)
// never lives here; it is scoped to a single ResolveTurn call.
type GameState struct {
	TurnCount  int    `json:"turn_count"`
	NextUnitID UnitID `json:"next_unit_id"`

	// Regions indexed by RegionID. The set is fixed at construction.
	Regions []Region `json:"regions"`

	// Plans is the set of unowned regions currently designated as
	// construction sites with in-progress building.
	Plans map[RegionID]bool `json:"plans,omitempty"`
}

// NewGameState builds a state over a fixed region list produced by a map
// builder. Region IDs must equal their slice index and adjacencies must
// be symmetric.
func NewGameState(regions []Region) (*GameState, error) {
	for i := range regions {
		r := &regions[i]
		if r.ID != RegionID(i) {
			return nil, fmt.Errorf("region at index %d has id %d", i, r.ID)
		}
		for _, n := range r.Connected {
			if n < 0 || int(n) >= len(regions) {
				return nil, fmt.Errorf("region %d connected to unknown region %d", r.ID, n)
			}
			if !regions[n].ConnectedTo(r.ID) {
				return nil, fmt.Errorf("adjacency %d -> %d has no reverse", r.ID, n)
			}
		}
	}
	return &GameState{
		NextUnitID: 1,
		Regions:    regions,
		Plans:      make(map[RegionID]bool),
	}, nil
}

// Region returns the region with the given ID.
func (gs *GameState) Region(id RegionID) (*Region, error) {
	if id < 0 || int(id) >= len(gs.Regions) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRegion, id)
	}
	return &gs.Regions[id], nil
}

// Neighbors returns the fixed neighbor set of a region.
func (gs *GameState) Neighbors(id RegionID) []RegionID {
	if id < 0 || int(id) >= len(gs.Regions) {
		return nil
	}
	return gs.Regions[id].Connected
}

// AdjacentOrSelf reports whether b is a valid command target for a
// command originating at a.
func (gs *GameState) AdjacentOrSelf(a, b RegionID) bool {
	if a == b {
		return int(a) >= 0 && int(a) < len(gs.Regions)
	}
	if int(a) < 0 || int(a) >= len(gs.Regions) {
		return false
	}
	return gs.Regions[a].ConnectedTo(b)
}

// newUnit issues a fresh, never-reused unit ID.
func (gs *GameState) newUnit() UnitID {
	id := gs.NextUnitID
	gs.NextUnitID++
	return id
}

// SpawnUnits creates n fresh units on the region and assigns ownership.
// Used for initial placement and for mid-game spawning.
func (gs *GameState) SpawnUnits(id RegionID, owner PlayerID, n int) error {
	r, err := gs.Region(id)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		r.Units = append(r.Units, gs.newUnit())
	}
	if len(r.Units) > 0 {
		r.Owner = owner
	}
	return nil
}

// RegionsOf returns the IDs of all regions owned by the player, ascending.
func (gs *GameState) RegionsOf(player PlayerID) []RegionID {
	var ids []RegionID
	for i := range gs.Regions {
		if gs.Regions[i].Owner == player && gs.Regions[i].Occupied() {
			ids = append(ids, gs.Regions[i].ID)
		}
	}
	return ids
}

// UnitCount returns the total number of units owned by the player.
func (gs *GameState) UnitCount(player PlayerID) int {
	count := 0
	for i := range gs.Regions {
		if gs.Regions[i].Owner == player {
			count += len(gs.Regions[i].Units)
		}
	}
	return count
}

// TotalUnits returns the number of units on the board.
func (gs *GameState) TotalUnits() int {
	count := 0
	for i := range gs.Regions {
		count += len(gs.Regions[i].Units)
	}
	return count
}

// PlayerIsAlive reports whether the player still holds any units.
func (gs *GameState) PlayerIsAlive(player PlayerID) bool {
	return gs.UnitCount(player) > 0
}

// RemovePlayer strips a player from the board: every region they own
// becomes unowned and its units are cleared, not transferred.
func (gs *GameState) RemovePlayer(player PlayerID) {
	for i := range gs.Regions {
		if gs.Regions[i].Owner == player {
			gs.Regions[i].Units = nil
			gs.Regions[i].Owner = Unowned
		}
	}
}

// Clone returns a deep copy of the state. Mutations to the clone do not
// affect the original; used by bots evaluating speculative turns and by
// broadcast snapshots taken outside the game lock.
func (gs *GameState) Clone() *GameState {
	c := &GameState{
		TurnCount:  gs.TurnCount,
		NextUnitID: gs.NextUnitID,
	}
	if gs.Regions != nil {
		c.Regions = make([]Region, len(gs.Regions))
		copy(c.Regions, gs.Regions)
		for i := range c.Regions {
			if gs.Regions[i].Units != nil {
				c.Regions[i].Units = make([]UnitID, len(gs.Regions[i].Units))
				copy(c.Regions[i].Units, gs.Regions[i].Units)
			}
			if gs.Regions[i].Connected != nil {
				c.Regions[i].Connected = make([]RegionID, len(gs.Regions[i].Connected))
				copy(c.Regions[i].Connected, gs.Regions[i].Connected)
			}
			if gs.Regions[i].Polygon != nil {
				c.Regions[i].Polygon = make([][2]float64, len(gs.Regions[i].Polygon))
				copy(c.Regions[i].Polygon, gs.Regions[i].Polygon)
			}
		}
	}
	if gs.Plans != nil {
		c.Plans = make(map[RegionID]bool, len(gs.Plans))
		for k, v := range gs.Plans {
			c.Plans[k] = v
		}
	}
	return c
}

// CheckInvariants verifies the structural invariants that must hold
// between turns. Intended for tests and debug builds.
func (gs *GameState) CheckInvariants() error {
	seen := make(map[UnitID]RegionID)
	for i := range gs.Regions {
		r := &gs.Regions[i]
		if r.Occupied() == (r.Owner == Unowned) {
			return fmt.Errorf("region %d: %d units but owner %q", r.ID, len(r.Units), r.Owner)
		}
		if r.Building < 0 || r.Building > 1 {
			return fmt.Errorf("region %d: building %f out of range", r.ID, r.Building)
		}
		for _, u := range r.Units {
			if prev, ok := seen[u]; ok {
				return fmt.Errorf("unit %d present in regions %d and %d", u, prev, r.ID)
			}
			if u >= gs.NextUnitID {
				return fmt.Errorf("unit %d exceeds issued id range", u)
			}
			seen[u] = r.ID
		}
	}
	return nil
}
