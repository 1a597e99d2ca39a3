package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/auth/authtest"
	"github.com/Tyrowin/roomrelay/internal/protocol"
	"github.com/Tyrowin/roomrelay/internal/store"
	"github.com/Tyrowin/roomrelay/internal/store/memory"
)

const (
	annID   int64 = 1
	bobID   int64 = 2
	carlID  int64 = 3
	lobbyID int64 = 10
	otherID int64 = 11
)

// faultyGateway wraps the memory gateway and fails selected calls.
type faultyGateway struct {
	*memory.Gateway

	getUserErr    error
	isMemberErr   error
	insertErr     error
	panicOnInsert bool

	// holdInsertFor parks that user's inserts until release is closed; held
	// is closed once the first one is parked.
	holdInsertFor int64
	held          chan struct{}
	release       chan struct{}
}

func (g *faultyGateway) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	if g.getUserErr != nil {
		return nil, g.getUserErr
	}
	return g.Gateway.GetUser(ctx, userID)
}

func (g *faultyGateway) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	if g.isMemberErr != nil {
		return false, g.isMemberErr
	}
	return g.Gateway.IsMember(ctx, userID, roomID)
}

func (g *faultyGateway) InsertMessage(ctx context.Context, roomID, userID int64, text string) (*store.Message, error) {
	if g.panicOnInsert {
		panic("insert exploded")
	}
	if g.insertErr != nil {
		return nil, g.insertErr
	}
	if g.release != nil && userID == g.holdInsertFor {
		close(g.held)
		<-g.release
	}
	return g.Gateway.InsertMessage(ctx, roomID, userID, text)
}

// fixtureGateway returns users Ann, Bob and Carl. Ann and Bob are members of
// the lobby; Carl is a member of nothing. Ann is also in the other room.
func fixtureGateway() *faultyGateway {
	g := memory.New()
	g.AddUser(store.User{ID: annID, Name: "Ann", Email: "ann@example.com"})
	g.AddUser(store.User{ID: bobID, Name: "Bob", Email: "bob@example.com"})
	g.AddUser(store.User{ID: carlID, Name: "Carl", Email: "carl@example.com"})
	g.AddMember(lobbyID, annID)
	g.AddMember(lobbyID, bobID)
	g.AddMember(otherID, annID)
	return &faultyGateway{Gateway: g}
}

type engineFixture struct {
	hub     *Hub
	engine  *Engine
	gateway *faultyGateway
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	gw := fixtureGateway()
	hub := NewHub(zerolog.Nop())
	engine := NewEngine(hub, auth.NewVerifier(authtest.Secret), gw, zerolog.Nop())
	return &engineFixture{hub: hub, engine: engine, gateway: gw}
}

// connect creates a registered session without a transport.
func (f *engineFixture) connect(t *testing.T) *Session {
	t.Helper()
	s := NewSession(nil, f.hub, f.engine, "test", SessionConfig{})
	f.hub.start(s)
	return s
}

func (f *engineFixture) send(s *Session, frame string) {
	f.engine.Handle(context.Background(), s, []byte(frame))
}

// login connects a session and authenticates it as userID.
func (f *engineFixture) login(t *testing.T, userID int64) *Session {
	t.Helper()
	s := f.connect(t)
	f.send(s, `{"type":"auth","token":"`+authtest.Valid(t, userID)+`"}`)
	requireFrame(t, s, protocol.TypeAuthenticated)
	return s
}

// enter logs userID in and joins roomID, discarding the joined reply.
func (f *engineFixture) enter(t *testing.T, userID, roomID int64) *Session {
	t.Helper()
	s := f.login(t, userID)
	f.join(t, s, roomID)
	return s
}

func (f *engineFixture) join(t *testing.T, s *Session, roomID int64) {
	t.Helper()
	f.send(s, `{"type":"join","roomId":`+itoa(roomID)+`}`)
	requireFrame(t, s, protocol.TypeJoined)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// nextFrame pops the next queued frame without blocking. ok is false when
// nothing is queued; closed is true when the session's channel is closed.
func nextFrame(t *testing.T, s *Session) (env protocol.Envelope, ok, closed bool) {
	t.Helper()
	select {
	case raw, open := <-s.Outbound():
		if !open {
			return protocol.Envelope{}, false, true
		}
		env, err := protocol.DecodeEnvelope(raw)
		require.NoError(t, err)
		return env, true, false
	default:
		return protocol.Envelope{}, false, false
	}
}

func requireFrame(t *testing.T, s *Session, frameType string) protocol.Envelope {
	t.Helper()
	env, ok, closed := nextFrame(t, s)
	require.False(t, closed, "session closed while expecting %q", frameType)
	require.True(t, ok, "no frame queued, expected %q", frameType)
	require.Equal(t, frameType, env.Type, "payload: %s", env.Raw)
	return env
}

func requireError(t *testing.T, s *Session, text string) {
	t.Helper()
	env := requireFrame(t, s, protocol.TypeError)
	var frame protocol.Error
	require.NoError(t, json.Unmarshal(env.Raw, &frame))
	require.Equal(t, text, frame.Message)
}

func requireNoFrame(t *testing.T, s *Session) {
	t.Helper()
	env, ok, closed := nextFrame(t, s)
	require.False(t, closed, "session unexpectedly closed")
	require.False(t, ok, "unexpected frame: %s", env.Raw)
}

func requireClosed(t *testing.T, s *Session) {
	t.Helper()
	_, ok, closed := nextFrame(t, s)
	require.False(t, ok, "expected no further frames")
	require.True(t, closed, "expected session to be closed")
}

func decodeFrame[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Raw, &v))
	return v
}
