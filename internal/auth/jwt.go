// Package auth verifies the bearer token presented at the WebSocket
// handshake. Unlike a typical REST API, authentication here happens
// exactly once per connection, not per request: a verified token yields a
// Session that is immutable for the lifetime of the WebSocket.
//
// TOKEN STRUCTURE:
//
// Header:
//
//	{ "alg": "HS256", "typ": "JWT" }
//
// Payload (Claims) — exactly these two fields, camelCase:
//
//	{ "phoneNumber": 15555550100, "username": "alice" }
//
// SECURITY:
//   - Algorithm substitution is rejected by asserting the signing method is
//     HMAC before trusting the secret key comparison (an attacker flipping
//     "alg" to "none" or to an asymmetric scheme must not be accepted).
//   - The secret key is loaded from JWT_SECRET at startup, never hardcoded.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the exact handshake claims this gateway accepts.
type Claims struct {
	PhoneNumber int64  `json:"phoneNumber"`
	Username    string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens presented at handshake time.
type Verifier struct {
	secretKey string
}

// NewVerifier builds a Verifier bound to the HS256 signing secret.
func NewVerifier(secretKey string) *Verifier {
	return &Verifier{secretKey: secretKey}
}

// Verify parses and validates tokenString, returning the claims on
// success. Any failure — expired, malformed, wrong algorithm, bad
// signature — is reported as a single error; the handshake handler maps
// every case uniformly to a 401 with a fixed body, without leaking which
// failure occurred.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("token missing username claim")
	}

	return claims, nil
}
