package model

import (
	"encoding/json"
	"time"

	"github.com/kmoran/regionwars/pkg/conquest"
)

// Game statuses.
const (
	StatusWaiting  = "waiting"
	StatusActive   = "active"
	StatusFinished = "finished"
)

// GameInfo is the lobby-level view of a match.
type GameInfo struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"` // waiting, active, finished
	TurnCount    int        `json:"turn_count"`
	TurnDuration string     `json:"turn_duration"`
	MapWidth     int        `json:"map_width"`
	MapHeight    int        `json:"map_height"`
	Players      []Player   `json:"players,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Player is a participant in one game.
type Player struct {
	ID       conquest.PlayerID `json:"id"`
	Name     string            `json:"name"`
	IsBot    bool              `json:"is_bot"`
	Online   bool              `json:"online"`
	Ready    bool              `json:"ready"`
	Regions  int               `json:"regions"`
	Units    int               `json:"units"`
	JoinedAt time.Time         `json:"joined_at"`
}

// Snapshot is the full world view broadcast after every resolution and
// served by the read API.
type Snapshot struct {
	GameID    string              `json:"game_id"`
	Turn      int                 `json:"turn"`
	Regions   []conquest.Region   `json:"regions"`
	Plans     []conquest.RegionID `json:"plans,omitempty"`
	Players   []Player            `json:"players"`
	Deadline  *time.Time          `json:"deadline,omitempty"`
	WaitingOn []conquest.PlayerID `json:"waiting_on,omitempty"`
}

// TurnRecord is one archived resolution: the state after the turn, the
// commands that produced it, and the report of what happened.
type TurnRecord struct {
	GameID     string          `json:"game_id"`
	Turn       int             `json:"turn"`
	State      json.RawMessage `json:"state"`
	Commands   json.RawMessage `json:"commands,omitempty"`
	Report     json.RawMessage `json:"report"`
	ResolvedAt time.Time       `json:"resolved_at"`
}
