// Package membership maintains the signed-in user's room list. The cache
// answers "am I a member of room R" from an in-memory snapshot that is
// replaced wholesale on every refresh, never patched, so concurrent readers
// never observe a partially updated list. Staleness is bounded by a periodic
// refresh plus explicit refreshes after membership-changing actions.
package membership

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/jaevor/go-nanoid"

	"github.com/vortex/social-chat/internal/auth"
	"github.com/vortex/social-chat/internal/metrics"
	"github.com/vortex/social-chat/internal/store"
)

// RefreshInterval bounds how stale the snapshot can get without any
// membership-changing action.
const RefreshInterval = 30 * time.Second

// ErrEmptyToken is returned by JoinByToken before any network call when the
// token is blank after trimming.
var ErrEmptyToken = errors.New("membership: empty invite token")

const tokenLen = 8

// newInviteToken generates short lowercase-alphanumeric invite tokens.
var newInviteToken = func() func() string {
	gen, err := gonanoid.CustomASCII("abcdefghijklmnopqrstuvwxyz0123456789", tokenLen)
	if err != nil {
		panic(err)
	}
	return gen
}()

// snapshot is one immutable view of the user's memberships.
type snapshot struct {
	rooms []store.Room
	roles map[string]string // room id -> role
}

// Cache is the room membership cache.
type Cache struct {
	store *store.Store
	auth  *auth.Manager

	mu   sync.RWMutex
	snap snapshot
}

// NewCache creates an empty cache. Call Refresh (or StartRefresher) to
// populate it.
func NewCache(st *store.Store, authMgr *auth.Manager) *Cache {
	return &Cache{
		store: st,
		auth:  authMgr,
		snap:  snapshot{roles: make(map[string]string)},
	}
}

// Refresh fetches the authoritative membership list and replaces the
// snapshot wholesale. A guest session clears the cache.
func (c *Cache) Refresh(ctx context.Context) error {
	sess := c.auth.Current()
	if !sess.Authenticated() {
		c.replace(snapshot{roles: make(map[string]string)})
		return nil
	}

	rooms, members, err := c.store.RoomsFor(ctx, sess.UserID)
	if err != nil {
		metrics.MembershipRefreshes.WithLabelValues("error").Inc()
		return err
	}

	roles := make(map[string]string, len(members))
	for _, m := range members {
		roles[m.RoomID] = m.Role
	}
	c.replace(snapshot{rooms: rooms, roles: roles})
	metrics.MembershipRefreshes.WithLabelValues("ok").Inc()
	return nil
}

func (c *Cache) replace(s snapshot) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// IsMember reports membership against the last-refreshed snapshot. A false
// negative right after joining is tolerated (resolved by the refresh the
// join triggers); false positives cannot happen because the snapshot only
// ever contains rooms a refresh returned.
func (c *Cache) IsMember(roomID string) bool {
	c.mu.RLock()
	_, ok := c.snap.roles[roomID]
	c.mu.RUnlock()
	return ok
}

// Role returns the user's role in the room, if a member.
func (c *Cache) Role(roomID string) (string, bool) {
	c.mu.RLock()
	role, ok := c.snap.roles[roomID]
	c.mu.RUnlock()
	return role, ok
}

// Rooms returns the cached room list in membership insertion order. The
// returned slice is the snapshot's own; callers must not mutate it.
func (c *Cache) Rooms() []store.Room {
	c.mu.RLock()
	rooms := c.snap.rooms
	c.mu.RUnlock()
	return rooms
}

// StartRefresher refreshes the cache every RefreshInterval until ctx is
// cancelled. Background failures are logged and otherwise silent; there is
// no synchronous caller waiting on them.
func (c *Cache) StartRefresher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					log.Printf("[membership] background refresh: %v", err)
				}
			}
		}
	}()
}

// CreateRoom inserts a room with the current user as admin and refreshes
// the cache. Group rooms get a fresh invite token; direct rooms do not.
func (c *Cache) CreateRoom(ctx context.Context, name string, isGroup bool) (store.Room, error) {
	sess := c.auth.Current()
	if !sess.Authenticated() {
		return store.Room{}, auth.ErrNotAuthenticated
	}

	room := store.Room{
		Name:      strings.TrimSpace(name),
		IsGroup:   isGroup,
		CreatedBy: sess.UserID,
	}
	if isGroup {
		room.InviteToken = newInviteToken()
	}

	created, err := c.store.CreateRoom(ctx, room)
	if err != nil {
		return store.Room{}, err
	}

	if err := c.Refresh(ctx); err != nil {
		log.Printf("[membership] refresh after create: %v", err)
	}
	return created, nil
}

// JoinByToken normalizes and redeems an invite token, refreshing the cache
// on success. Returns the joined room's display name. Failure reasons are
// distinguishable: ErrEmptyToken, store.ErrTokenNotFound,
// store.ErrAlreadyMember, auth.ErrNotAuthenticated.
func (c *Cache) JoinByToken(ctx context.Context, token string) (string, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return "", ErrEmptyToken
	}

	sess := c.auth.Current()
	if !sess.Authenticated() {
		return "", auth.ErrNotAuthenticated
	}

	name, err := c.store.RedeemInvite(ctx, token, sess.UserID)
	if err != nil {
		return "", err
	}

	if err := c.Refresh(ctx); err != nil {
		log.Printf("[membership] refresh after join: %v", err)
	}
	return name, nil
}
