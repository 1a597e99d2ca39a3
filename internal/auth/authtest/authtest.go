// Package authtest mints tokens for tests.
package authtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Secret is the signing secret used across test suites.
const Secret = "test-secret-key-min-32-bytes-long"

// Token signs an HS256 token for userID that expires at exp. A zero exp
// produces a token without an exp claim.
func Token(t testing.TB, secret string, userID int64, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{"user_id": userID}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// Valid returns a token for userID signed with Secret and valid for an hour.
func Valid(t testing.TB, userID int64) string {
	t.Helper()
	return Token(t, Secret, userID, time.Now().Add(time.Hour))
}
