package authz

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"matricare/identity"
)

// Cache stores resolved MergedUsers keyed by bearer-token digest, so the
// middleware does not hit the profile store on every call. Entries are
// short-lived and dropped on sign-out.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache builds a role cache. A nil client disables caching entirely.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) key(accessToken string) string {
	return "authz:user:" + identity.HashToken(accessToken)
}

// Get returns the cached user for a token, if any. Cache errors are treated
// as misses.
func (c *Cache) Get(ctx context.Context, accessToken string) (MergedUser, bool) {
	if c == nil || c.client == nil {
		return MergedUser{}, false
	}
	raw, err := c.client.Get(ctx, c.key(accessToken)).Bytes()
	if err != nil {
		return MergedUser{}, false
	}
	var user MergedUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return MergedUser{}, false
	}
	return user, true
}

// Set records the resolved user for a token. Best-effort.
func (c *Cache) Set(ctx context.Context, accessToken string, user MergedUser) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(accessToken), raw, c.ttl)
}

// Invalidate drops the cached entry for a token, e.g. on sign-out.
func (c *Cache) Invalidate(ctx context.Context, accessToken string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, c.key(accessToken))
}
