// Package hashid derives the routing digests and opaque conversation
// identifiers that the gateway uses in place of a server-side ACL table.
package hashid

import (
	"crypto/md5"
	"encoding/base64"
)

// Length is the fixed size of a hashed username token.
const Length = 22

// Hasher turns a username into a stable, salted, truncated digest used both
// as a NATS subject and as a routing slot inside a ConversationID.
//
// Hasher is not a password hash and the digest is not a secret: any client
// that knows a username and the salt can recompute it. The salt is what
// keeps a third party from forging another user's routing token; collision
// resistance against a motivated attacker is not required because the
// digest is not compared in a security-sensitive context by itself (the
// ConversationID layout is).
type Hasher struct {
	serverSecret string
}

// NewHasher builds a Hasher bound to a server secret (CONVERSATION_ID_SECRET).
func NewHasher(serverSecret string) *Hasher {
	return &Hasher{serverSecret: serverSecret}
}

// Hash computes the 22-character routing digest for input.
func (h *Hasher) Hash(input string) string {
	sum := md5.Sum([]byte(input + h.serverSecret))
	encoded := base64.StdEncoding.EncodeToString(sum[:])
	return encoded[:Length]
}
