// Package auth verifies the HS256 tokens presented by chat clients.
//
// Tokens are issued elsewhere; the relay only checks the signature against
// the shared secret, the optional expiry, and the user_id claim. Verification
// never touches the network and never panics: every failure is returned as
// an error wrapping one of the sentinel values below.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when exp is not after the verification time.
	ErrExpiredToken = errors.New("token has expired")
	// ErrMissingUserID is returned when the payload lacks a positive user_id.
	ErrMissingUserID = errors.New("token has no user_id")
)

// Claims is the payload the relay relies on.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier checks tokens signed with a shared HMAC-SHA256 secret.
type Verifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewVerifier creates a Verifier for the given secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		opts: []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		},
	}
}

// Verify validates token as of now and returns its claims.
func (v *Verifier) Verify(token string, now time.Time) (*Claims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, ErrInvalidToken
	}

	parser := jwt.NewParser(v.opts...)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	// Only exp is enforced; nbf and iat are informational.
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return nil, ErrExpiredToken
	}

	if claims.UserID <= 0 {
		return nil, ErrMissingUserID
	}

	return claims, nil
}
