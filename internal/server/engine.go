package server

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/protocol"
	"github.com/Tyrowin/roomrelay/internal/store"
)

// MaxMessageLength is the longest chat message accepted, in characters,
// after surrounding whitespace is trimmed.
const MaxMessageLength = 5000

// Texts carried by error frames.
const (
	errTokenRequired        = "token required"
	errInvalidToken         = "invalid token"
	errUserNotFound         = "user not found"
	errNotAuthenticated     = "not authenticated"
	errAlreadyAuthenticated = "already authenticated"
	errInvalidRoomID        = "invalid room ID"
	errNotMember            = "not a member of this room"
	errInvalidLength        = "invalid message length"
	errNotJoined            = "not joined to this room"
	errSaveFailed           = "failed to save message"
	errUnknownType          = "unknown message type"
	errInternal             = "internal server error"
)

// Engine implements the chat protocol: authentication, room joins, message
// persistence and fan-out, and typing indicators.
type Engine struct {
	hub      *Hub
	verifier *auth.Verifier
	store    store.Gateway
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine that records state in hub.
func NewEngine(hub *Hub, verifier *auth.Verifier, gateway store.Gateway, logger zerolog.Logger) *Engine {
	return &Engine{
		hub:      hub,
		verifier: verifier,
		store:    gateway,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one raw frame from s. It never panics; failures are
// reported to the client as error frames.
func (e *Engine) Handle(ctx context.Context, s *Session, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error().Interface("panic", r).Msg("Recovered from panic while handling frame")
			e.reply(s, protocol.NewError(errInternal))
		}
	}()

	frame, err := protocol.Decode(raw)
	if err != nil {
		s.log().Debug().Err(err).Msg("Discarding malformed frame")
		e.reply(s, protocol.NewError(errInternal))
		return
	}

	user := s.User()
	if user == nil {
		if f, ok := frame.(protocol.Auth); ok {
			e.handleAuth(ctx, s, f)
			return
		}
		e.reply(s, protocol.NewError(errNotAuthenticated))
		return
	}

	switch f := frame.(type) {
	case protocol.Auth:
		e.reply(s, protocol.NewError(errAlreadyAuthenticated))
	case protocol.Join:
		e.handleJoin(ctx, s, user, f)
	case protocol.Send:
		e.handleSend(ctx, s, user, f)
	case protocol.Typing:
		e.handleTyping(s, user, f)
	default:
		e.reply(s, protocol.NewError(errUnknownType))
	}
}

func (e *Engine) handleAuth(ctx context.Context, s *Session, f protocol.Auth) {
	token, present := f.TokenString()
	if !present {
		e.reject(s, errTokenRequired)
		return
	}

	claims, err := e.verifier.Verify(token, e.now())
	if err != nil {
		s.log().Info().Err(err).Msg("Rejected token")
		e.reject(s, errInvalidToken)
		return
	}

	user, err := e.store.GetUser(ctx, claims.UserID)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		s.log().Info().Int64("user_id", claims.UserID).Msg("Token names unknown user")
		e.reject(s, errUserNotFound)
		return
	case err != nil:
		s.log().Error().Err(err).Int64("user_id", claims.UserID).Msg("Failed to load user")
		e.reject(s, errInternal)
		return
	}

	if !e.hub.authenticate(s, user) {
		return
	}

	s.log().Info().Msg("User authenticated")
	e.reply(s, protocol.NewAuthenticated(protocol.User{ID: user.ID, Name: user.Name, Email: user.Email}))
}

func (e *Engine) handleJoin(ctx context.Context, s *Session, user *store.User, f protocol.Join) {
	if !f.RoomID.Valid {
		e.reply(s, protocol.NewError(errInvalidRoomID))
		return
	}
	roomID := f.RoomID.ID

	member, err := e.store.IsMember(ctx, user.ID, roomID)
	if err != nil {
		s.log().Error().Err(err).Int64("room_id", roomID).Msg("Membership check failed")
		member = false
	}
	if !member {
		e.reply(s, protocol.NewError(errNotMember))
		return
	}

	if !e.hub.joinRoom(s, roomID) {
		return
	}

	s.log().Debug().Int64("room_id", roomID).Msg("Joined room")
	e.reply(s, protocol.NewJoined(roomID))
	e.hub.Broadcast(roomID, encodeFrame(e.logger, protocol.NewUserJoined(roomID, userRef(user))), user.ID)
}

func (e *Engine) handleSend(ctx context.Context, s *Session, user *store.User, f protocol.Send) {
	if !f.RoomID.Valid {
		e.reply(s, protocol.NewError(errInvalidRoomID))
		return
	}
	roomID := f.RoomID.ID

	text, ok := f.Text()
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); !ok || n == 0 || n > MaxMessageLength {
		e.reply(s, protocol.NewError(errInvalidLength))
		return
	}

	if !s.Joined(roomID) {
		e.reply(s, protocol.NewError(errNotJoined))
		return
	}

	msg, err := e.store.InsertMessage(ctx, roomID, user.ID, text)
	if err != nil {
		s.log().Error().Err(err).Int64("room_id", roomID).Msg("Failed to save message")
		e.reply(s, protocol.NewError(errSaveFailed))
		return
	}

	event := protocol.NewMessageEvent(roomID, protocol.ChatMessage{
		ID:        msg.ID,
		UserID:    user.ID,
		UserName:  user.Name,
		Message:   msg.Text,
		CreatedAt: msg.CreatedAt,
	})
	unlock := e.hub.lockRoom(roomID)
	defer unlock()
	e.hub.Broadcast(roomID, encodeFrame(e.logger, event), 0)
}

// handleTyping ignores frames for rooms the session has not joined.
func (e *Engine) handleTyping(s *Session, user *store.User, f protocol.Typing) {
	if !f.RoomID.Valid || !s.Joined(f.RoomID.ID) {
		return
	}

	event := protocol.NewTypingEvent(f.RoomID.ID, userRef(user), bool(f.IsTyping))
	e.hub.Broadcast(f.RoomID.ID, encodeFrame(e.logger, event), user.ID)
}

func (e *Engine) reply(s *Session, frame any) {
	e.hub.Deliver(s, encodeFrame(e.logger, frame))
}

// reject sends an error frame and closes the session. The write pump flushes
// queued frames before the close frame.
func (e *Engine) reject(s *Session, text string) {
	e.reply(s, protocol.NewError(text))
	e.hub.Disconnect(s)
}

func userRef(u *store.User) protocol.User {
	return protocol.User{ID: u.ID, Name: u.Name}
}
