package repository

import (
	"context"

	"github.com/kmoran/regionwars/internal/model"
)

// TurnArchive records resolved turns for the history API. The archive is
// append-only from the simulation's perspective: live game state is never
// restored from it.
type TurnArchive interface {
	RecordTurn(ctx context.Context, rec model.TurnRecord) error
	ListTurns(ctx context.Context, gameID string, limit int) ([]model.TurnRecord, error)
	GetTurn(ctx context.Context, gameID string, turn int) (*model.TurnRecord, error)
}

// StateMirror pushes the latest snapshot of each game out to external
// observers: the current state under a well-known key plus an event
// stream for each resolution.
type StateMirror interface {
	SetSnapshot(ctx context.Context, gameID string, snapshot model.Snapshot) error
	PublishEvent(ctx context.Context, gameID string, event string, payload any) error
}
