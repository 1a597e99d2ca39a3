// Package server assembles the relay: hub, protocol engine, upgrader, and the
// HTTP surface around them.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/store"
)

// Server holds everything one relay instance needs. Instances share no
// state, so tests can run several side by side.
type Server struct {
	cfg      Config
	hub      *Hub
	engine   *Engine
	verifier *auth.Verifier
	store    store.Gateway
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates a Server backed by gateway. Call StartHub before serving.
func New(cfg Config, gateway store.Gateway, logger zerolog.Logger) *Server {
	hub := NewHub(logger)
	verifier := auth.NewVerifier(cfg.JWTSecret)
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	return &Server{
		cfg:      cfg,
		hub:      hub,
		engine:   NewEngine(hub, verifier, gateway, logger),
		verifier: verifier,
		store:    gateway,
		origins:  origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		logger: logger,
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Engine returns the server's protocol engine.
func (s *Server) Engine() *Engine {
	return s.engine
}

// StartHub runs the hub loop in a separate goroutine.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info().Msg("Hub started and ready to manage WebSocket connections")
}

// Shutdown stops accepting HTTP requests and then closes every session.
func (s *Server) Shutdown(httpServer *http.Server, timeout time.Duration) error {
	var firstErr error
	if httpServer != nil {
		firstErr = ShutdownServer(httpServer, timeout, s.logger)
	}
	if err := s.hub.Shutdown(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Run returns a function for errgroup that serves httpServer until ctx is
// canceled, then shuts down the HTTP server and the hub.
func (s *Server) Run(ctx context.Context, httpServer *http.Server) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- StartServer(httpServer, s.logger)
		}()

		select {
		case <-ctx.Done():
			err := s.Shutdown(httpServer, s.cfg.ShutdownTimeout)
			<-errCh
			return err
		case err := <-errCh:
			if hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout); hubErr != nil {
				s.logger.Warn().Err(hubErr).Msg("Hub shutdown after server exit")
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	}
}

func (s *Server) sessionConfig() SessionConfig {
	return SessionConfig{
		MaxMessageSize: s.cfg.MaxMessageSize,
		RateLimit:      s.cfg.RateLimit,
	}
}
