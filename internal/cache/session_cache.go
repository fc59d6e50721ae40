package cache

import (
	"context"
	"encoding/json"
	"time"

	"tutorcall/internal/model"

	"github.com/redis/go-redis/v9"
)

// SessionCache holds short-lived call-state snapshots used by room status reads.
// Lifecycle writes through after every transition.
type SessionCache interface {
	Set(ctx context.Context, state *model.CallState) error
	Get(ctx context.Context, sessionID string) (*model.CallState, error)
}

type sessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionCache(client *redis.Client, ttl time.Duration) SessionCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &sessionCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *sessionCache) key(sessionID string) string {
	return "callstate:" + sessionID
}

func (c *sessionCache) Set(ctx context.Context, state *model.CallState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(state.SessionID), data, c.ttl).Err()
}

func (c *sessionCache) Get(ctx context.Context, sessionID string) (*model.CallState, error) {
	data, err := c.client.Get(ctx, c.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state model.CallState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}
