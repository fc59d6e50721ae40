package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tutorcall/internal/model"

	"github.com/redis/go-redis/v9"
)

// RoomCache maps room ids to their session. The binding never changes once
// assigned so entries only expire, they are never rewritten.
type RoomCache interface {
	SetMeta(ctx context.Context, meta *model.RoomMeta) error
	GetMeta(ctx context.Context, roomID string) (*model.RoomMeta, error)
}

type roomCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRoomCache creates a new room cache
func NewRoomCache(client *redis.Client, ttl time.Duration) RoomCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &roomCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *roomCache) key(roomID string) string {
	return fmt.Sprintf("callroom:%s", roomID)
}

func (c *roomCache) SetMeta(ctx context.Context, meta *model.RoomMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(meta.RoomID), data, c.ttl).Err()
}

func (c *roomCache) GetMeta(ctx context.Context, roomID string) (*model.RoomMeta, error) {
	data, err := c.client.Get(ctx, c.key(roomID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta model.RoomMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
