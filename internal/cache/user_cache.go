package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/astrodesk/sessiongate/internal/domain/user"
	"github.com/redis/go-redis/v9"
)

const (
	// UserCachePrefix is the prefix for user profile cache keys
	UserCachePrefix = "user:profile:"
	// UserCacheTTL bounds how long a disabled flag or revocation can go unseen if an invalidation is lost
	UserCacheTTL = 5 * time.Minute
)

// UserLookup reads directory entries by subject id
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

// UserCache is a read-through Redis cache in front of the user directory
type UserCache struct {
	client *redis.Client
	repo   UserLookup
	ttl    time.Duration
}

// NewUserCache creates a UserCache backed by repo
func NewUserCache(client *redis.Client, repo UserLookup) *UserCache {
	return &UserCache{client: client, repo: repo, ttl: UserCacheTTL}
}

// GetByID returns the user, using the cache when possible. Cache errors fall
// through to the repository; a missing user is never cached.
func (c *UserCache) GetByID(ctx context.Context, id string) (*user.User, error) {
	cacheKey := UserCachePrefix + id

	cached, err := c.client.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var u user.User
		if err := json.Unmarshal(cached, &u); err == nil {
			slog.Debug("User cache hit", "subject_id", id)
			return &u, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("User cache read failed", "subject_id", id, "error", err)
	}

	slog.Debug("User cache miss, fetching from database", "subject_id", id)

	u, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(u)
	if err == nil {
		if err := c.client.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
			slog.Warn("Failed to store user in Redis cache", "subject_id", id, "error", err)
		}
	}

	return u, nil
}

// Invalidate removes a user from the cache
func (c *UserCache) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, UserCachePrefix+id).Err(); err != nil {
		return err
	}
	slog.Debug("User cache invalidated", "subject_id", id)
	return nil
}
