package person

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// activityKeyPrefix is shared with the worker, which sets these keys
// with a TTL after each completed check-in.
const activityKeyPrefix = "checkin:recent:"

// RedisActivity reads recent-activity flags with a single MGET.
type RedisActivity struct {
	client *redis.Client
}

// NewRedisActivity creates an activity source over the given client.
func NewRedisActivity(client *redis.Client) *RedisActivity {
	return &RedisActivity{client: client}
}

// ActivityKey returns the redis key flagging recent activity for a
// person. Exported for the worker that writes it.
func ActivityKey(personID string) string {
	return activityKeyPrefix + personID
}

// RecentlyActive resolves flags for all ids in one round-trip.
func (r *RedisActivity) RecentlyActive(ctx context.Context, ids []string) (map[string]bool, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ActivityKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	flags := make(map[string]bool, len(ids))
	for i, v := range vals {
		flags[ids[i]] = v != nil
	}
	return flags, nil
}
