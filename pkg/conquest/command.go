package conquest

import (
	"errors"
	"fmt"
)

// Command orders the units of one origin region toward an ordered list
// of target regions. A command whose origin is unowned designates the
// origin as a construction site instead of moving anything.
type Command struct {
	Origin  RegionID   `json:"origin"`
	Targets []RegionID `json:"targets"`
}

// CommandKind distinguishes movement commands from construction claims.
// The partition depends only on origin ownership at staging time.
type CommandKind int

const (
	CommandMove  CommandKind = iota // origin owned by the player
	CommandClaim                    // origin unowned: designate a site
)

// StagedCommand is a validated command accepted into the current turn.
type StagedCommand struct {
	Command
	Player PlayerID    `json:"player"`
	Kind   CommandKind `json:"kind"`
}

// ErrInvalidCommand is returned for commands that fail ownership,
// adjacency, or terrain checks. Invalid commands within a batch are
// dropped individually; the rest of the batch still stages.
var ErrInvalidCommand = errors.New("invalid command")

// ValidateCommand checks a single command against the current state and
// returns its normalized form: duplicate targets collapsed keeping the
// first occurrence, empty target lists defaulted to the origin.
func ValidateCommand(gs *GameState, player PlayerID, cmd Command) (StagedCommand, error) {
	origin, err := gs.Region(cmd.Origin)
	if err != nil {
		return StagedCommand{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	kind := CommandMove
	if origin.Owner == Unowned {
		kind = CommandClaim
		if !origin.Passable() {
			return StagedCommand{}, fmt.Errorf("%w: region %d is impassable", ErrInvalidCommand, cmd.Origin)
		}
	} else if origin.Owner != player {
		return StagedCommand{}, fmt.Errorf("%w: region %d is owned by another player", ErrInvalidCommand, cmd.Origin)
	}

	targets := make([]RegionID, 0, len(cmd.Targets))
	seen := make(map[RegionID]bool, len(cmd.Targets))
	for _, t := range cmd.Targets {
		if seen[t] {
			continue
		}
		seen[t] = true
		if !gs.AdjacentOrSelf(cmd.Origin, t) {
			return StagedCommand{}, fmt.Errorf("%w: region %d is not adjacent to %d", ErrInvalidCommand, t, cmd.Origin)
		}
		if tr, err := gs.Region(t); err != nil || !tr.Passable() {
			return StagedCommand{}, fmt.Errorf("%w: region %d is impassable", ErrInvalidCommand, t)
		}
		targets = append(targets, t)
	}
	if kind == CommandMove && len(targets) == 0 {
		targets = append(targets, cmd.Origin)
	}

	return StagedCommand{
		Command: Command{Origin: cmd.Origin, Targets: targets},
		Player:  player,
		Kind:    kind,
	}, nil
}

// StageBatch validates a full submission against the pre-batch state.
// The plan-vs-move partition is computed once for the whole batch, so a
// later command never observes the effects of an earlier one. Invalid
// commands and repeated origins are dropped; the accepted subset is
// returned along with the number of dropped commands.
func StageBatch(gs *GameState, player PlayerID, cmds []Command) (accepted []StagedCommand, dropped int) {
	staged := make(map[RegionID]bool, len(cmds))
	for _, cmd := range cmds {
		if staged[cmd.Origin] {
			dropped++
			continue
		}
		sc, err := ValidateCommand(gs, player, cmd)
		if err != nil {
			dropped++
			continue
		}
		staged[cmd.Origin] = true
		accepted = append(accepted, sc)
	}
	return accepted, dropped
}
