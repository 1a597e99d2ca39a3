// Package memory provides an in-process store.Gateway for development and
// tests. Data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/store"
)

var _ store.Gateway = (*Gateway)(nil)

// Gateway keeps users, memberships and messages in maps.
type Gateway struct {
	mu sync.RWMutex

	users    map[int64]store.User
	members  map[int64]map[int64]struct{} // room_id -> user_ids
	messages map[int64][]store.Message    // room_id -> messages in insert order
	nextID   int64
	lastAt   time.Time
	now      func() time.Time
}

// New creates an empty gateway.
func New() *Gateway {
	return &Gateway{
		users:    make(map[int64]store.User),
		members:  make(map[int64]map[int64]struct{}),
		messages: make(map[int64][]store.Message),
		now:      time.Now,
	}
}

// AddUser creates or replaces a user.
func (g *Gateway) AddUser(u store.User) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[u.ID] = u
}

// AddMember records a durable membership of userID in roomID.
func (g *Gateway) AddMember(roomID, userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.members[roomID] == nil {
		g.members[roomID] = make(map[int64]struct{})
	}
	g.members[roomID][userID] = struct{}{}
}

// GetUser implements store.Gateway.
func (g *Gateway) GetUser(_ context.Context, userID int64) (*store.User, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &u, nil
}

// IsMember implements store.Gateway.
func (g *Gateway) IsMember(_ context.Context, userID, roomID int64) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.members[roomID][userID]
	return ok, nil
}

// InsertMessage implements store.Gateway. Ids increase by one per insert and
// timestamps never go backwards.
func (g *Gateway) InsertMessage(_ context.Context, roomID, userID int64, text string) (*store.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, ok := g.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}

	now := g.now().UTC()
	if now.Before(g.lastAt) {
		now = g.lastAt
	}
	g.lastAt = now
	g.nextID++

	msg := store.Message{
		ID:        g.nextID,
		RoomID:    roomID,
		UserID:    userID,
		UserName:  u.Name,
		Text:      text,
		CreatedAt: now,
	}
	g.messages[roomID] = append(g.messages[roomID], msg)

	out := msg
	return &out, nil
}

// RecentMessages implements store.Gateway.
func (g *Gateway) RecentMessages(_ context.Context, roomID int64, limit int) ([]store.Message, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	limit = store.ClampHistoryLimit(limit)
	all := g.messages[roomID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}

	out := make([]store.Message, len(all))
	copy(out, all)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
