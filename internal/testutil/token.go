// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"testing"
	"time"

	"slotkeeper/config"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"
)

// ProviderToken signs a bearer token for subject the way the auth service
// issues them, using the configured JWT secret.
func ProviderToken(t testing.TB, subject, email string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.AppConfig.JWTSecret))
	require.NoError(t, err)
	return token
}
