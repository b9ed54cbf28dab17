package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifierAcceptsWellFormedToken(t *testing.T) {
	v := NewVerifier("shared-secret")

	tok := signToken(t, "shared-secret", Claims{
		PhoneNumber: 15555550100,
		Username:    "alice",
	})

	claims, err := v.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, int64(15555550100), claims.PhoneNumber)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	v := NewVerifier("shared-secret")

	tok := signToken(t, "wrong-secret", Claims{Username: "alice"})

	_, err := v.Verify(tok)
	require.Error(t, err)
}

func TestVerifierRejectsAlgNone(t *testing.T) {
	v := NewVerifier("shared-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "alice"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	require.Error(t, err)
}

func TestVerifierRejectsMissingUsername(t *testing.T) {
	v := NewVerifier("shared-secret")

	tok := signToken(t, "shared-secret", Claims{PhoneNumber: 1})

	_, err := v.Verify(tok)
	require.Error(t, err)
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	v := NewVerifier("shared-secret")

	tok := signToken(t, "shared-secret", Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := v.Verify(tok)
	require.Error(t, err)
}
