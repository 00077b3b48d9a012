package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kmoran/regionwars/internal/model"
)

// Key patterns for mirrored game data.
func stateKey(gameID string) string  { return "game:" + gameID + ":state" }
func eventsKey(gameID string) string { return "game:" + gameID + ":events" }

// snapshotTTL bounds how long a dead game's mirror lingers.
const snapshotTTL = 48 * time.Hour

// SetSnapshot stores the latest world view of a game.
func (c *Client) SetSnapshot(ctx context.Context, gameID string, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, stateKey(gameID), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the latest mirrored snapshot, or nil when the
// game is unknown.
func (c *Client) GetSnapshot(ctx context.Context, gameID string) (*model.Snapshot, error) {
	data, err := c.rdb.Get(ctx, stateKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// PublishEvent announces a game event to external subscribers.
func (c *Client) PublishEvent(ctx context.Context, gameID, event string, payload any) error {
	msg, err := json.Marshal(map[string]any{
		"event":   event,
		"game_id": gameID,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.rdb.Publish(ctx, eventsKey(gameID), msg).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
