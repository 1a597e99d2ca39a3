package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/auth/authtest"
)

func getHistory(t *testing.T, r *relay, path, token string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.srv.Routes().ServeHTTP(rec, req)
	return rec.Result(), rec.Body.Bytes()
}

func TestHistoryHandler(t *testing.T) {
	r := startRelay(t, nil)
	ctx := t.Context()
	for i := 1; i <= 5; i++ {
		_, err := r.gateway.InsertMessage(ctx, lobbyID, bobID, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	resp, body := getHistory(t, r, "/rooms/10/messages?limit=3", authtest.Valid(t, annID))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got historyResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, lobbyID, got.RoomID)
	require.Len(t, got.Messages, 3)
	for i, msg := range got.Messages {
		assert.Equal(t, fmt.Sprintf("msg %d", i+3), msg.Message)
		assert.Equal(t, "Bob", msg.UserName)
		assert.Equal(t, bobID, msg.UserID)
		if i > 0 {
			assert.False(t, msg.CreatedAt.Before(got.Messages[i-1].CreatedAt))
		}
	}

	resp, body = getHistory(t, r, "/rooms/10/messages", authtest.Valid(t, annID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Messages, 5)
}

func TestHistoryHandlerEmptyRoom(t *testing.T) {
	r := startRelay(t, nil)

	resp, body := getHistory(t, r, "/rooms/11/messages", authtest.Valid(t, annID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"roomId":11,"messages":[]}`, string(body))
}

func TestHistoryHandlerErrors(t *testing.T) {
	expired := authtest.Token(t, authtest.Secret, annID, time.Now().Add(-time.Minute))

	tests := []struct {
		name   string
		path   string
		token  string
		status int
		error  string
	}{
		{name: "no token", path: "/rooms/10/messages", status: http.StatusUnauthorized, error: errTokenRequired},
		{name: "bad token", path: "/rooms/10/messages", token: "abc", status: http.StatusUnauthorized, error: errInvalidToken},
		{name: "expired token", path: "/rooms/10/messages", token: expired, status: http.StatusUnauthorized, error: errInvalidToken},
		{name: "bad room", path: "/rooms/ten/messages", token: authtest.Valid(t, annID), status: http.StatusBadRequest, error: errInvalidRoomID},
		{name: "zero room", path: "/rooms/0/messages", token: authtest.Valid(t, annID), status: http.StatusBadRequest, error: errInvalidRoomID},
		{name: "bad limit", path: "/rooms/10/messages?limit=many", token: authtest.Valid(t, annID), status: http.StatusBadRequest, error: "invalid limit"},
		{name: "not a member", path: "/rooms/10/messages", token: authtest.Valid(t, carlID), status: http.StatusForbidden, error: errNotMember},
	}

	r := startRelay(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := getHistory(t, r, tt.path, tt.token)
			assert.Equal(t, tt.status, resp.StatusCode)

			var got errorResponse
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.error, got.Error)
		})
	}
}

func TestHistoryHandlerStoreFailure(t *testing.T) {
	r := startRelay(t, nil)
	r.gateway.isMemberErr = errStoreDown

	resp, body := getHistory(t, r, "/rooms/10/messages", authtest.Valid(t, annID))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, string(body), errStoreDown.Error())
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc", token: "abc", ok: true},
		{header: "bearer abc", token: "abc", ok: true},
		{header: "Bearer   abc  ", token: "abc", ok: true},
		{header: "Basic abc", ok: false},
		{header: "Bearer", ok: false},
		{header: "Bearer ", ok: false},
		{header: "", ok: false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", tt.header)
		token, ok := bearerToken(req)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

func TestHistoryHandlerCORS(t *testing.T) {
	r := startRelay(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"https://chat.example.com"}
	})

	preflight := httptest.NewRequest(http.MethodOptions, "/rooms/10/messages", nil)
	preflight.Header.Set("Origin", "https://chat.example.com")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodGet)
	preflight.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	r.srv.Routes().ServeHTTP(rec, preflight)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/rooms/10/messages", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Authorization", "Bearer "+authtest.Valid(t, annID))
	rec = httptest.NewRecorder()
	r.srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://chat.example.com")
	rec = httptest.NewRecorder()
	r.srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
