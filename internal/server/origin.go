// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// originPolicy decides which browser origins may open a socket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   zerolog.Logger
}

func newOriginPolicy(origins []string, logger zerolog.Logger) *originPolicy {
	normalized, allowAll := normalizeOrigins(origins, logger)

	allowed := make(map[string]struct{}, len(normalized))
	for _, origin := range normalized {
		allowed[origin] = struct{}{}
	}

	return &originPolicy{
		allowAll: allowAll,
		allowed:  allowed,
		logger:   logger,
	}
}

func normalizeOrigins(origins []string, logger zerolog.Logger) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn().Str("origin", origin).Msg("Ignoring invalid origin in configuration")
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// allows reports whether a request carrying the given Origin header may
// connect. Non-browser clients send no Origin and are only let through when
// every origin is allowed.
func (p *originPolicy) allows(originHeader string) bool {
	if p.allowAll {
		return true
	}

	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// check is used as the upgrader's CheckOrigin hook.
func (p *originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.allows(origin) {
		return true
	}

	p.logger.Warn().
		Str("origin", origin).
		Str("remote_addr", r.RemoteAddr).
		Msg("Blocked WebSocket connection from disallowed origin")
	return false
}

// cors wraps the HTTP endpoints browsers call directly with the same origin
// policy the upgrader applies.
func (p *originPolicy) cors(h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowOriginFunc: p.allows,
		AllowedMethods:  []string{http.MethodGet},
		AllowedHeaders:  []string{"Authorization"},
		MaxAge:          600,
	})
	return middleware.Handler(h)
}
