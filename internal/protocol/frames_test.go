package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeFrameTypes verifies that each inbound type decodes to its own
// variant and unknown types are kept for error reporting.
func TestDecodeFrameTypes(t *testing.T) {
	tests := []struct {
		raw  string
		want Inbound
	}{
		{raw: `{"type":"auth","token":"abc"}`, want: Auth{Token: json.RawMessage(`"abc"`)}},
		{raw: `{"type":"join","roomId":5}`, want: Join{RoomID: RoomID{ID: 5, Valid: true}}},
		{raw: `{"type":"message","roomId":"6","message":"hi"}`, want: Send{RoomID: RoomID{ID: 6, Valid: true}, Message: json.RawMessage(`"hi"`)}},
		{raw: `{"type":"typing","roomId":7,"isTyping":true}`, want: Typing{RoomID: RoomID{ID: 7, Valid: true}, IsTyping: true}},
		{raw: `{"type":"leave","roomId":7}`, want: Unknown{Type: "leave"}},
		{raw: `{"roomId":7}`, want: Unknown{Type: ""}},
		{raw: `{"type":5}`, want: Unknown{Type: ""}},
		{raw: `{"type":null}`, want: Unknown{Type: ""}},
		{raw: `{"type":["auth"]}`, want: Unknown{Type: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestDecodeMalformed verifies that non-object payloads are rejected.
func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{``, `not json`, `[1,2]`, `"auth"`, `{"type":`} {
		t.Run(raw, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

// TestRoomIDParsing verifies the accepted shapes of roomId.
func TestRoomIDParsing(t *testing.T) {
	tests := []struct {
		raw   string
		id    int64
		valid bool
	}{
		{raw: `12`, id: 12, valid: true},
		{raw: `"12"`, id: 12, valid: true},
		{raw: `" 3 "`, id: 3, valid: true},
		{raw: `0`, valid: false},
		{raw: `-4`, valid: false},
		{raw: `"-4"`, valid: false},
		{raw: `1.5`, valid: false},
		{raw: `"abc"`, valid: false},
		{raw: `""`, valid: false},
		{raw: `null`, valid: false},
		{raw: `true`, valid: false},
		{raw: `{"id":1}`, valid: false},
		{raw: `99999999999999999999`, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			frame, err := Decode([]byte(`{"type":"join","roomId":` + tt.raw + `}`))
			require.NoError(t, err)
			join := frame.(Join)
			assert.Equal(t, tt.valid, join.RoomID.Valid)
			if tt.valid {
				assert.Equal(t, tt.id, join.RoomID.ID)
			}
		})
	}

	frame, err := Decode([]byte(`{"type":"join"}`))
	require.NoError(t, err)
	assert.False(t, frame.(Join).RoomID.Valid, "missing roomId is invalid")
}

// TestTypingFlagIsStrict verifies that only the literal true turns typing on.
func TestTypingFlagIsStrict(t *testing.T) {
	for raw, want := range map[string]bool{
		`true`:   true,
		`false`:  false,
		`"true"`: false,
		`1`:      false,
		`null`:   false,
	} {
		frame, err := Decode([]byte(`{"type":"typing","roomId":1,"isTyping":` + raw + `}`))
		require.NoError(t, err)
		assert.Equal(t, want, bool(frame.(Typing).IsTyping), raw)
	}
}

// TestAuthTokenString covers the token shapes the relay distinguishes.
func TestAuthTokenString(t *testing.T) {
	tests := []struct {
		raw     string
		token   string
		present bool
	}{
		{raw: `{"type":"auth","token":"a.b.c"}`, token: "a.b.c", present: true},
		{raw: `{"type":"auth"}`, present: false},
		{raw: `{"type":"auth","token":null}`, present: false},
		{raw: `{"type":"auth","token":""}`, present: false},
		{raw: `{"type":"auth","token":123}`, present: true},
	}

	for _, tt := range tests {
		frame, err := Decode([]byte(tt.raw))
		require.NoError(t, err)
		token, present := frame.(Auth).TokenString()
		assert.Equal(t, tt.token, token, tt.raw)
		assert.Equal(t, tt.present, present, tt.raw)
	}
}

// TestSendText verifies that only string bodies are accepted.
func TestSendText(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"message","roomId":1,"message":"  hello  "}`))
	require.NoError(t, err)
	text, ok := frame.(Send).Text()
	assert.True(t, ok)
	assert.Equal(t, "  hello  ", text)

	frame, err = Decode([]byte(`{"type":"message","roomId":1,"message":42}`))
	require.NoError(t, err)
	_, ok = frame.(Send).Text()
	assert.False(t, ok)

	frame, err = Decode([]byte(`{"type":"message","roomId":1}`))
	require.NoError(t, err)
	_, ok = frame.(Send).Text()
	assert.False(t, ok)
}

// TestOutboundShapes pins the JSON field names clients depend on.
func TestOutboundShapes(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	user := User{ID: 1, Name: "Ann"}

	tests := []struct {
		frame any
		want  string
	}{
		{NewAuthenticated(User{ID: 1, Name: "Ann", Email: "ann@example.com"}), `{"type":"authenticated","user":{"id":1,"name":"Ann","email":"ann@example.com"}}`},
		{NewJoined(4), `{"type":"joined","roomId":4}`},
		{NewUserJoined(4, user), `{"type":"user_joined","roomId":4,"user":{"id":1,"name":"Ann"}}`},
		{NewUserLeft(4, user), `{"type":"user_left","roomId":4,"user":{"id":1,"name":"Ann"}}`},
		{NewTypingEvent(4, user, true), `{"type":"typing","roomId":4,"user":{"id":1,"name":"Ann"},"isTyping":true}`},
		{NewError("not authenticated"), `{"type":"error","message":"not authenticated"}`},
		{
			NewMessageEvent(4, ChatMessage{ID: 9, UserID: 1, UserName: "Ann", Message: "hi", CreatedAt: created}),
			`{"type":"message","roomId":4,"message":{"id":9,"user_id":1,"user_name":"Ann","message":"hi","created_at":"2026-01-02T03:04:05Z"}}`,
		},
	}

	for _, tt := range tests {
		got, err := json.Marshal(tt.frame)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(got))
	}
}

// TestDecodeEnvelope verifies that clients can dispatch on server frames.
func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"joined","roomId":3}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoined, env.Type)

	var joined Joined
	require.NoError(t, json.Unmarshal(env.Raw, &joined))
	assert.Equal(t, int64(3), joined.RoomID)

	_, err = DecodeEnvelope([]byte(`nope`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
