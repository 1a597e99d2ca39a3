// Package server coordinates session registration, presence tracking, room
// broadcast, and connection cleanup via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/protocol"
	"github.com/Tyrowin/roomrelay/internal/store"
)

// Hub owns the live connection state: which sessions belong to which user and
// which users are present in which room. All of it is guarded by one RWMutex.
//
// Presence is counted per (room, user): a user stays present while at least
// one of their sessions has joined the room.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	users    map[int64]map[*Session]struct{} // user_id -> open sessions
	rooms    map[int64]map[int64]int         // room_id -> user_id -> joined sessions

	order roomLocks

	register   chan *Session
	unregister chan *Session
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     zerolog.Logger
}

// NewHub creates a Hub. Call Run in its own goroutine before registering
// sessions.
func NewHub(logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[*Session]struct{}),
		users:      make(map[int64]map[*Session]struct{}),
		rooms:      make(map[int64]map[int64]int),
		order:      roomLocks{locks: make(map[int64]*roomLock)},
		register:   make(chan *Session),
		unregister: make(chan *Session),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Context is canceled when the hub shuts down. Frame handling runs under it
// so that work outlives a single connection but not the process.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// Register hands a new session to the run loop, which starts its pumps.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
		s.closeConnection()
	}
}

// Unregister removes a session once its read pump has stopped.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
		h.Disconnect(s)
	}
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return

		case s := <-h.register:
			if s == nil {
				h.logger.Warn().Msg("Received nil session registration; skipping")
				continue
			}
			h.start(s)

		case s := <-h.unregister:
			h.Disconnect(s)
		}
	}
}

func (h *Hub) start(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	count := len(h.sessions)
	h.mu.Unlock()

	s.log().Info().Int("sessions", count).Msg("Session registered")

	if s.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		s.writePump()
	}()
	go func() {
		defer h.wg.Done()
		s.readPump(h.ctx)
	}()
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// authenticate records that s is authenticated as u. It returns false when s
// is already closed or already bound.
func (h *Hub) authenticate(s *Session, u *store.User) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed || s.user != nil {
		return false
	}

	s.user = u
	logger := s.log().With().Int64("user_id", u.ID).Logger()
	s.logger.Store(&logger)

	set := h.users[u.ID]
	if set == nil {
		set = make(map[*Session]struct{})
		h.users[u.ID] = set
	}
	set[s] = struct{}{}
	return true
}

// joinRoom adds roomID to the session's joined set and counts the user as
// present. Joining a room twice is a no-op. It returns false when s is closed.
func (h *Hub) joinRoom(s *Session, roomID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed || s.user == nil {
		return false
	}

	if _, ok := s.rooms[roomID]; ok {
		return true
	}
	s.rooms[roomID] = struct{}{}

	present := h.rooms[roomID]
	if present == nil {
		present = make(map[int64]int)
		h.rooms[roomID] = present
	}
	present[s.user.ID]++
	return true
}

// Disconnect removes s from every registry and closes its outbound channel.
// Rooms the user is no longer present in afterwards receive user_left. It is
// safe to call more than once.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	if s.closed {
		h.mu.Unlock()
		return
	}

	s.closed = true
	delete(h.sessions, s)
	close(s.send)

	user := s.user
	var left []int64
	if user != nil {
		if set := h.users[user.ID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.users, user.ID)
			}
		}

		for roomID := range s.rooms {
			present := h.rooms[roomID]
			if present == nil {
				continue
			}
			present[user.ID]--
			if present[user.ID] > 0 {
				continue
			}
			delete(present, user.ID)
			if len(present) == 0 {
				delete(h.rooms, roomID)
			}
			left = append(left, roomID)
		}
	}
	count := len(h.sessions)
	h.mu.Unlock()

	s.log().Info().Int("sessions", count).Msg("Session disconnected")

	if user == nil {
		return
	}
	for _, roomID := range left {
		h.Broadcast(roomID, encodeFrame(h.logger, protocol.NewUserLeft(roomID, userRef(user))), user.ID)
	}
}

// Broadcast queues payload on every open session of every user present in
// roomID, except sessions of excludeUserID. Pass 0 to exclude nobody.
// Sessions whose buffer is full are skipped. It returns the number of
// sessions the frame was queued on.
func (h *Hub) Broadcast(roomID int64, payload []byte, excludeUserID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for userID := range h.rooms[roomID] {
		if userID == excludeUserID {
			continue
		}
		for s := range h.users[userID] {
			if h.trySendLocked(s, payload) {
				delivered++
			}
		}
	}
	return delivered
}

// Deliver queues payload on a single session.
func (h *Hub) Deliver(s *Session, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.trySendLocked(s, payload)
}

// trySendLocked must be called with h.mu held. Closed sessions are skipped so
// a send never races the close of the channel.
func (h *Hub) trySendLocked(s *Session, payload []byte) bool {
	if s.closed {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		s.log().Warn().Msg("Send buffer full; dropping frame")
		return false
	}
}

// MembersOf returns the ids of users present in roomID.
func (h *Hub) MembersOf(roomID int64) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]int64, 0, len(h.rooms[roomID]))
	for userID := range h.rooms[roomID] {
		out = append(out, userID)
	}
	return out
}

// SessionsFor returns the open sessions bound to userID.
func (h *Hub) SessionsFor(userID int64) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Session, 0, len(h.users[userID]))
	for s := range h.users[userID] {
		out = append(out, s)
	}
	return out
}

// lockRoom serializes message fan-out within one room so that every
// recipient sees the room's messages in the same order. It is never held
// across a store call.
func (h *Hub) lockRoom(roomID int64) func() {
	return h.order.lock(roomID)
}

// shutdownSessions closes every connection. The read pumps then unregister
// their sessions through the fallback path in Unregister.
func (h *Hub) shutdownSessions() {
	h.logger.Info().Msg("Shutting down all session connections")

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if s.conn == nil {
			h.Disconnect(s)
			continue
		}
		s.closeConnection()
	}

	h.logger.Info().Int("sessions", len(sessions)).Msg("Closed session connections")
}

// Shutdown stops the run loop and waits for all pumps to finish or for the
// timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("Initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

type roomLock struct {
	sync.Mutex
	refs int
}

// roomLocks hands out one mutex per room, dropping it when unused.
type roomLocks struct {
	mu    sync.Mutex
	locks map[int64]*roomLock
}

func (l *roomLocks) lock(roomID int64) func() {
	l.mu.Lock()
	rl := l.locks[roomID]
	if rl == nil {
		rl = &roomLock{}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}

// encodeFrame marshals an outbound frame. Frames are plain structs, so an
// error here is a bug and is only logged.
func encodeFrame(logger zerolog.Logger, v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode frame")
		return nil
	}
	return payload
}
