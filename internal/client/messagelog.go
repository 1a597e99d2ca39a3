package client

import (
	"sort"
	"sync"

	"github.com/Tyrowin/roomrelay/internal/protocol"
)

// MessageLog collects chat messages per room, ordered by creation time and
// free of duplicates. History backfill and live broadcasts can deliver the
// same message twice; only the first copy is kept.
type MessageLog struct {
	mu    sync.Mutex
	seen  map[int64]struct{}
	rooms map[int64][]protocol.ChatMessage
}

// NewMessageLog creates an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{
		seen:  make(map[int64]struct{}),
		rooms: make(map[int64][]protocol.ChatMessage),
	}
}

// Add records m under roomID. It returns false if a message with the same id
// was already recorded.
func (l *MessageLog) Add(roomID int64, m protocol.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.seen[m.ID]; dup {
		return false
	}
	l.seen[m.ID] = struct{}{}

	msgs := l.rooms[roomID]
	i := sort.Search(len(msgs), func(i int) bool { return less(m, msgs[i]) })
	msgs = append(msgs, protocol.ChatMessage{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	l.rooms[roomID] = msgs
	return true
}

func less(a, b protocol.ChatMessage) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Room returns a copy of roomID's messages, oldest first.
func (l *MessageLog) Room(roomID int64) []protocol.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]protocol.ChatMessage, len(l.rooms[roomID]))
	copy(out, l.rooms[roomID])
	return out
}

// Len returns the number of distinct messages recorded.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
