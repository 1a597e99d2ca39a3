// Package server manages individual WebSocket sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/store"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
)

// FrameHandler processes one inbound frame for a session. Calls for a given
// session are sequential.
type FrameHandler interface {
	Handle(ctx context.Context, s *Session, raw []byte)
}

// Session is one client connection. It starts unauthenticated and is bound to
// at most one user for its lifetime.
type Session struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	handler FrameHandler
	limiter *frameLimiter
	logger  atomic.Pointer[zerolog.Logger]

	maxMessageSize int64

	// Guarded by hub.mu.
	user   *store.User
	rooms  map[int64]struct{}
	closed bool
}

// SessionConfig carries the per-connection limits.
type SessionConfig struct {
	MaxMessageSize int64
	RateLimit      RateLimitConfig
}

// NewSession creates a Session for conn. conn may be nil, in which case the
// session is driven directly through its handler and outbound channel.
func NewSession(conn *websocket.Conn, hub *Hub, handler FrameHandler, addr string, cfg SessionConfig) *Session {
	id := uuid.NewString()
	if conn != nil && cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	s := &Session{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		handler:        handler,
		limiter:        newFrameLimiter(cfg.RateLimit),
		maxMessageSize: cfg.MaxMessageSize,
		rooms:          make(map[int64]struct{}),
	}
	logger := hub.logger.With().Str("session", id).Str("addr", addr).Logger()
	s.logger.Store(&logger)
	return s
}

// log returns the session logger. It gains a user_id field once the session
// is authenticated.
func (s *Session) log() *zerolog.Logger {
	return s.logger.Load()
}

// Outbound returns the channel of encoded frames queued for the client. It
// is closed when the session is disconnected.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// User returns the authenticated user, or nil before authentication.
func (s *Session) User() *store.User {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.user
}

// Joined reports whether the session has joined roomID.
func (s *Session) Joined(roomID int64) bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Closed reports whether the session has been disconnected.
func (s *Session) Closed() bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.closed
}

func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log().Warn().Err(err).Msg("Error setting initial read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.log().Warn().Err(err).Msg("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError records why the read loop stopped.
func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log().Warn().Int64("max_bytes", s.maxMessageSize).Msg("Frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		s.log().Debug().Err(err).Msg("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.log().Debug().Err(err).Msg("Connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		s.log().Warn().Err(err).Msg("Unexpected WebSocket close")
	default:
		s.log().Debug().Err(err).Msg("WebSocket read error")
	}
}

func (s *Session) checkRateLimit() bool {
	if s.limiter.allow() {
		return true
	}
	s.log().Warn().Msg("Rate limit exceeded; discarding frame")
	return false
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.hub.Unregister(s)
		s.closeConnection()
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		if !s.checkRateLimit() {
			continue
		}

		s.handler.Handle(ctx, s, raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				s.writeClose()
				return
			}
			if !s.write(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !s.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (s *Session) write(messageType int, payload []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log().Debug().Err(err).Msg("Error setting write deadline")
		return false
	}
	if err := s.conn.WriteMessage(messageType, payload); err != nil {
		if !isExpectedCloseError(err) {
			s.log().Warn().Err(err).Int("message_type", messageType).Msg("Error writing to client")
		}
		return false
	}
	return true
}

func (s *Session) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			s.log().Debug().Err(err).Msg("Error writing close message")
		}
	}
}

func (s *Session) closeConnection() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log().Debug().Err(err).Msg("Error closing connection")
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
