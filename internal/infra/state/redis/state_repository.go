// Package redisstate implements the state repository on Redis. Keys are
// namespaced by a configurable prefix so several deployments can share an
// instance.
package redisstate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "cc:"
	}
	return &RedisStateRepository{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStateRepository) activityKey() string {
	return r.keyPrefix + "rooms:last_active"
}

// TouchRoomActivity records the current time for a room as a hash field.
func (r *RedisStateRepository) TouchRoomActivity(ctx context.Context, roomID string) error {
	key := r.activityKey()
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := r.client.HSet(ctx, key, roomID, now).Err(); err != nil {
		return fmt.Errorf("redis: failed to touch activity for room %s on %s: %w", roomID, key, err)
	}
	return nil
}

// ListRoomActivity reads the whole activity hash. Unparseable fields are
// skipped with a warning rather than failing the sweep.
func (r *RedisStateRepository) ListRoomActivity(ctx context.Context) (map[string]time.Time, error) {
	key := r.activityKey()
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list room activity from %s: %w", key, err)
	}
	out := make(map[string]time.Time, len(fields))
	for roomID, raw := range fields {
		ts, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			logrus.WithFields(logrus.Fields{"room_id": roomID, "value": raw}).Warn("redis: skipping unparseable activity timestamp")
			continue
		}
		out[roomID] = time.Unix(ts, 0)
	}
	return out, nil
}

// ClearRoomActivity deletes tracking fields for the given rooms.
func (r *RedisStateRepository) ClearRoomActivity(ctx context.Context, roomIDs []string) error {
	if len(roomIDs) == 0 {
		return nil
	}
	key := r.activityKey()
	if err := r.client.HDel(ctx, key, roomIDs...).Err(); err != nil {
		return fmt.Errorf("redis: failed to clear activity for %d rooms on %s: %w", len(roomIDs), key, err)
	}
	return nil
}
