// Package store defines the persistence contract the relay depends on:
// user lookup, durable room membership, and chat message storage.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned when no user has the requested id.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoomNotFound is returned when a message references a missing room.
	ErrRoomNotFound = errors.New("room not found")
)

// DefaultHistoryLimit is the number of messages returned for a room history
// request when the caller does not choose one.
const DefaultHistoryLimit = 50

// MaxHistoryLimit caps history requests.
const MaxHistoryLimit = 200

// User is an account known to the chat backend.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Message is a persisted chat message. ID and CreatedAt are assigned by the
// store at insert time; CreatedAt is the ordering key within a room.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Gateway is the persistence collaborator used by the relay.
type Gateway interface {
	// GetUser returns ErrUserNotFound when the id is unknown.
	GetUser(ctx context.Context, userID int64) (*User, error)
	// IsMember reports whether a durable membership record exists.
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
	// InsertMessage stores text and returns it with its assigned id and time.
	InsertMessage(ctx context.Context, roomID, userID int64, text string) (*Message, error)
	// RecentMessages returns up to limit latest messages, oldest first.
	RecentMessages(ctx context.Context, roomID int64, limit int) ([]Message, error)
}

// ClampHistoryLimit maps a requested limit into [1, MaxHistoryLimit],
// using DefaultHistoryLimit for non-positive values.
func ClampHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
