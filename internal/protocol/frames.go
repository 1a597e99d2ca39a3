// Package protocol defines the JSON frames exchanged between chat clients
// and the relay. Every frame is an object with a "type" field.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frame types.
const (
	TypeAuth          = "auth"
	TypeJoin          = "join"
	TypeMessage       = "message"
	TypeTyping        = "typing"
	TypeAuthenticated = "authenticated"
	TypeJoined        = "joined"
	TypeUserJoined    = "user_joined"
	TypeUserLeft      = "user_left"
	TypeError         = "error"
)

// ErrMalformedFrame is returned when a payload is not a JSON object.
var ErrMalformedFrame = errors.New("malformed frame")

// Inbound is a decoded client frame. The concrete type selects the
// transition in the relay's state machine.
type Inbound interface {
	FrameType() string
}

// Auth carries the bearer token of a connection.
type Auth struct {
	Token json.RawMessage `json:"token"`
}

// Join asks to route a room's broadcasts to the connection.
type Join struct {
	RoomID RoomID `json:"roomId"`
}

// Send posts a chat message to a joined room.
type Send struct {
	RoomID  RoomID          `json:"roomId"`
	Message json.RawMessage `json:"message"`
}

// Typing toggles the typing indicator for a joined room.
type Typing struct {
	RoomID   RoomID `json:"roomId"`
	IsTyping Flag   `json:"isTyping"`
}

// Unknown is any frame whose type the relay does not handle.
type Unknown struct {
	Type string
}

func (Auth) FrameType() string      { return TypeAuth }
func (Join) FrameType() string      { return TypeJoin }
func (Send) FrameType() string      { return TypeMessage }
func (Typing) FrameType() string    { return TypeTyping }
func (u Unknown) FrameType() string { return u.Type }

// TokenString returns the token when it is a non-empty JSON string.
// present reports whether any non-empty token value was supplied at all.
func (a Auth) TokenString() (token string, present bool) {
	raw := bytes.TrimSpace(a.Token)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", true
	}
	return token, token != ""
}

// Text returns the message body when it is a JSON string.
func (s Send) Text() (string, bool) {
	var text string
	if len(s.Message) == 0 {
		return "", false
	}
	if err := json.Unmarshal(s.Message, &text); err != nil {
		return "", false
	}
	return text, true
}

// RoomID is a room reference as sent by clients: a JSON integer or a string
// holding a base-10 integer. Decoding never fails; Valid reports whether the
// value was a positive integer.
type RoomID struct {
	ID    int64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RoomID) UnmarshalJSON(b []byte) error {
	r.ID, r.Valid = parseRoomID(bytes.TrimSpace(b))
	return nil
}

func parseRoomID(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}

	var digits string
	switch b[0] {
	case '"':
		if err := json.Unmarshal(b, &digits); err != nil {
			return 0, false
		}
		digits = strings.TrimSpace(digits)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		digits = string(b)
	default:
		return 0, false
	}

	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Flag is true only for the JSON literal true.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(b []byte) error {
	*f = Flag(bytes.Equal(bytes.TrimSpace(b), []byte("true")))
	return nil
}

type envelope struct {
	Type json.RawMessage `json:"type"`
}

// frameType returns the type field when it is a JSON string. Any other
// shape yields "", which no handler accepts.
func (e envelope) frameType() string {
	var t string
	if json.Unmarshal(e.Type, &t) != nil {
		return ""
	}
	return t
}

// Decode parses a client frame. Unrecognised types decode to Unknown.
func Decode(raw []byte) (Inbound, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedFrame
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	var frame Inbound
	var err error
	switch typ := env.frameType(); typ {
	case TypeAuth:
		var f Auth
		err = json.Unmarshal(trimmed, &f)
		frame = f
	case TypeJoin:
		var f Join
		err = json.Unmarshal(trimmed, &f)
		frame = f
	case TypeMessage:
		var f Send
		err = json.Unmarshal(trimmed, &f)
		frame = f
	case TypeTyping:
		var f Typing
		err = json.Unmarshal(trimmed, &f)
		frame = f
	default:
		frame = Unknown{Type: typ}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return frame, nil
}

// User identifies a participant in outbound frames.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// ChatMessage is a persisted message as delivered to room members.
type ChatMessage struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Authenticated confirms a successful auth frame.
type Authenticated struct {
	Type string `json:"type"`
	User User   `json:"user"`
}

// Joined confirms a join to the joining connection.
type Joined struct {
	Type   string `json:"type"`
	RoomID int64  `json:"roomId"`
}

// MessageEvent delivers a persisted message.
type MessageEvent struct {
	Type    string      `json:"type"`
	RoomID  int64       `json:"roomId"`
	Message ChatMessage `json:"message"`
}

// Presence announces user_joined and user_left.
type Presence struct {
	Type   string `json:"type"`
	RoomID int64  `json:"roomId"`
	User   User   `json:"user"`
}

// TypingEvent relays a typing indicator.
type TypingEvent struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"roomId"`
	User     User   `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

// Error reports a failed request.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAuthenticated builds an authenticated frame.
func NewAuthenticated(u User) Authenticated {
	return Authenticated{Type: TypeAuthenticated, User: u}
}

// NewJoined builds a joined frame.
func NewJoined(roomID int64) Joined {
	return Joined{Type: TypeJoined, RoomID: roomID}
}

// NewError builds an error frame.
func NewError(msg string) Error {
	return Error{Type: TypeError, Message: msg}
}

func NewMessageEvent(roomID int64, m ChatMessage) MessageEvent {
	return MessageEvent{Type: TypeMessage, RoomID: roomID, Message: m}
}

func NewUserJoined(roomID int64, u User) Presence {
	return Presence{Type: TypeUserJoined, RoomID: roomID, User: u}
}

func NewUserLeft(roomID int64, u User) Presence {
	return Presence{Type: TypeUserLeft, RoomID: roomID, User: u}
}

func NewTypingEvent(roomID int64, u User, isTyping bool) TypingEvent {
	return TypingEvent{Type: TypeTyping, RoomID: roomID, User: u, IsTyping: isTyping}
}

// Envelope is the generic form of a server frame, used by clients to
// dispatch on Type before decoding the specific payload.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// DecodeEnvelope reads the type of a server frame and keeps the raw bytes.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	env.Raw = append(json.RawMessage(nil), raw...)
	return env, nil
}
