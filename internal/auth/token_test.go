// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid, forged, expired and wrongly-signed tokens

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSecret is a 32-byte secret that meets MinSecretLength.
var testSecret = []byte("toolshed-test-secret-32-bytes!!!")

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newVerifier(t)

	for _, subject := range []string{"alice", "ci-bot", "ops@example.com"} {
		token, err := v.Generate(subject, time.Hour)
		require.NoError(t, err)

		got, err := v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, subject, got)
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate("alice", -time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_Invalid(t *testing.T) {
	v := newVerifier(t)
	other, err := NewJWTVerifier([]byte("a-completely-different-secret-32"))
	require.NoError(t, err)
	forged, err := other.Generate("alice", time.Hour)
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := map[string]string{
		"empty":         "",
		"garbage":       "not-a-jwt-token",
		"malformed":     "header.payload.signature",
		"wrong secret":  forged,
		"hs512":         sign(jwt.SigningMethodHS512, testSecret, jwt.RegisteredClaims{Issuer: Issuer, Subject: "a", ExpiresAt: exp}),
		"wrong issuer":  sign(jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Issuer: "someone-else", Subject: "a", ExpiresAt: exp}),
		"no expiration": sign(jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Issuer: Issuer, Subject: "a"}),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	v := newVerifier(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)

	_, err = v.Generate("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingClaim)
}
