// Package profile resolves author identities for incoming events. Lookups
// are best-effort by design: a display name is cosmetic, so a cache miss
// plus store failure falls back to a truncated user id rather than blocking
// or failing message delivery. Redis fronts Postgres to keep per-event
// lookups cheap.
package profile

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vortex/social-chat/internal/store"
)

const (
	// CachePrefix is the Redis key prefix for cached profiles.
	CachePrefix = "profile:"

	// CacheTTL is how long a cached profile stays valid.
	CacheTTL = 10 * time.Minute
)

// Resolver resolves user profiles with a Redis cache in front of Postgres.
type Resolver struct {
	rdb   *redis.Client
	store *store.Store
}

// NewResolver creates a resolver. The Redis client may be nil; every lookup
// then goes straight to the store.
func NewResolver(rdb *redis.Client, st *store.Store) *Resolver {
	return &Resolver{rdb: rdb, store: st}
}

// Get fetches a profile, preferring the cache. Cache failures are logged
// and treated as misses.
func (r *Resolver) Get(ctx context.Context, userID string) (store.Profile, error) {
	if r.rdb != nil {
		raw, err := r.rdb.Get(ctx, CachePrefix+userID).Bytes()
		if err == nil {
			var p store.Profile
			if err := json.Unmarshal(raw, &p); err == nil && p.ID != "" {
				return p, nil
			}
		} else if err != redis.Nil {
			log.Printf("[profile] cache get %s: %v", userID, err)
		}
	}

	p, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		return store.Profile{}, err
	}

	if r.rdb != nil {
		if raw, err := json.Marshal(p); err == nil {
			if err := r.rdb.Set(ctx, CachePrefix+userID, raw, CacheTTL).Err(); err != nil {
				log.Printf("[profile] cache set %s: %v", userID, err)
			}
		}
	}
	return p, nil
}

// DisplayName returns the best display name available for the user. It
// never fails: lookup errors produce the truncated-id fallback.
func (r *Resolver) DisplayName(ctx context.Context, userID string) string {
	p, err := r.Get(ctx, userID)
	if err != nil || p.Username == "" {
		return Fallback(userID)
	}
	return p.Username
}

// Invalidate drops the cached entry so the next lookup refetches, e.g.
// after an avatar or username change.
func (r *Resolver) Invalidate(ctx context.Context, userID string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, CachePrefix+userID).Err(); err != nil {
		log.Printf("[profile] cache invalidate %s: %v", userID, err)
	}
}

// Fallback is the display substitute when no profile is resolvable: the
// first 8 characters of the user id.
func Fallback(userID string) string {
	if len(userID) > 8 {
		return userID[:8]
	}
	return userID
}
