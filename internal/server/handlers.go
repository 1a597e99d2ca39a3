// Package server exposes HTTP handlers for WebSocket upgrades, health checks,
// and room history.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/protocol"
	"github.com/Tyrowin/roomrelay/internal/store"
)

// WebSocketHandler upgrades GET requests to WebSocket and hands the new
// session to the hub, which starts its pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	session := NewSession(conn, s.hub, s.engine, r.RemoteAddr, s.sessionConfig())
	s.hub.Register(session)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// HealthHandler reports that the server is up and how many sessions are
// connected.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: s.hub.SessionCount()})
}

type historyResponse struct {
	RoomID   int64                  `json:"roomId"`
	Messages []protocol.ChatMessage `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HistoryHandler serves the latest messages of a room, oldest first. The
// caller authenticates with the same token used on the socket and must be a
// durable member of the room.
func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errTokenRequired})
		return
	}

	claims, err := s.verifier.Verify(token, s.engine.now())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errInvalidToken})
		return
	}

	roomID, err := strconv.ParseInt(r.PathValue("roomID"), 10, 64)
	if err != nil || roomID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errInvalidRoomID})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
	}

	ctx := r.Context()
	logger := s.logger.With().Int64("user_id", claims.UserID).Int64("room_id", roomID).Logger()

	member, err := s.store.IsMember(ctx, claims.UserID, roomID)
	if err != nil {
		logger.Error().Err(err).Msg("Membership check failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errInternal})
		return
	}
	if !member {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: errNotMember})
		return
	}

	messages, err := s.store.RecentMessages(ctx, roomID, limit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errInternal})
		return
	}

	out := historyResponse{RoomID: roomID, Messages: make([]protocol.ChatMessage, 0, len(messages))}
	for _, m := range messages {
		out.Messages = append(out.Messages, chatMessage(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func chatMessage(m store.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:        m.ID,
		UserID:    m.UserID,
		UserName:  m.UserName,
		Message:   m.Text,
		CreatedAt: m.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
