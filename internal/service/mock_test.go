package service

import (
	"context"
	"sync"

	"github.com/kmoran/regionwars/internal/model"
	"github.com/kmoran/regionwars/pkg/conquest"
)

// recordingBroadcaster captures events for assertions. Safe for use
// from timer goroutines.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	GameID string
	Event  string
	Data   any
}

func (b *recordingBroadcaster) BroadcastGameEvent(gameID, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{GameID: gameID, Event: event, Data: data})
}

func (b *recordingBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// mockArchive records turns in memory.
type mockArchive struct {
	mu      sync.Mutex
	records []model.TurnRecord
}

func (a *mockArchive) RecordTurn(_ context.Context, rec model.TurnRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *mockArchive) ListTurns(_ context.Context, gameID string, limit int) ([]model.TurnRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.TurnRecord
	for i := len(a.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if a.records[i].GameID == gameID {
			out = append(out, a.records[i])
		}
	}
	return out, nil
}

func (a *mockArchive) GetTurn(_ context.Context, gameID string, turn int) (*model.TurnRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.records {
		if a.records[i].GameID == gameID && a.records[i].Turn == turn {
			rec := a.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (a *mockArchive) recorded() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// mockMirror records snapshot writes and published events.
type mockMirror struct {
	mu        sync.Mutex
	snapshots map[string]model.Snapshot
	published []string
}

func newMockMirror() *mockMirror {
	return &mockMirror{snapshots: make(map[string]model.Snapshot)}
}

func (m *mockMirror) SetSnapshot(_ context.Context, gameID string, snap model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[gameID] = snap
	return nil
}

func (m *mockMirror) PublishEvent(_ context.Context, gameID, event string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, gameID+":"+event)
	return nil
}

// standFastPlanner submits empty batches: every bot just holds.
type standFastPlanner struct{}

func (standFastPlanner) PlanCommands(*conquest.GameState, conquest.PlayerID) []conquest.Command {
	return nil
}
