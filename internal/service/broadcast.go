package service

// Broadcaster pushes real-time events to every client watching a game.
// The WebSocket hub implements it.
type Broadcaster interface {
	BroadcastGameEvent(gameID string, event string, data any)
}

// NoopBroadcaster discards events; used in tests and headless tools.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastGameEvent(string, string, any) {}
