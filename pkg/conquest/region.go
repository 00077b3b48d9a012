package conquest

import "errors"

// RegionID identifies a region. Region IDs are array indices assigned
// at map construction time and are stable for the life of a game.
type RegionID int

// UnitID identifies a single unit. Unit IDs are globally unique within
// a game and are never reused.
type UnitID int64

// PlayerID identifies a player faction. The empty string means unowned.
type PlayerID string

// Unowned is the owner of a region with no units on it.
const Unowned PlayerID = ""

// ErrUnknownRegion is returned for region IDs outside the map.
var ErrUnknownRegion = errors.New("unknown region")

// Region is a node in the game's spatial graph: the unit of ownership,
// combat, and construction. Geometry fields are populated by the map
// builder and are read-only to the engine.
type Region struct {
	ID       RegionID     `json:"id"`
	Position [2]float64   `json:"position"`
	Polygon  [][2]float64 `json:"polygon,omitempty"`

	// Terrain height. Negative terrain is impassable water.
	Terrain float64 `json:"terrain"`

	// Connected lists neighboring region IDs, sorted ascending.
	// The relation is symmetric and fixed after map construction.
	Connected []RegionID `json:"connected"`

	// Units present on the region, in arrival order (oldest first).
	Units []UnitID `json:"units"`

	// Owner is non-empty exactly when Units is non-empty.
	Owner PlayerID `json:"owner,omitempty"`

	// Building is construction progress in [0,1]. A region with
	// Building == 1 hosts a completed structure.
	Building float64 `json:"building"`
}

// Occupied reports whether any units are present.
func (r *Region) Occupied() bool { return len(r.Units) > 0 }

// Passable reports whether units can enter the region.
func (r *Region) Passable() bool { return r.Terrain >= 0 }

// ConnectedTo reports whether other is a direct neighbor.
func (r *Region) ConnectedTo(other RegionID) bool {
	for _, id := range r.Connected {
		if id == other {
			return true
		}
	}
	return false
}
