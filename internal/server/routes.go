package server

import "net/http"

// Routes returns a ServeMux with the health check, the WebSocket endpoint,
// and the room history endpoint.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)

	history := s.origins.cors(http.HandlerFunc(s.HistoryHandler))
	mux.Handle("GET /rooms/{roomID}/messages", history)
	mux.Handle("OPTIONS /rooms/{roomID}/messages", history)
	return mux
}
