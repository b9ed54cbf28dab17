package hashid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherDeterministic(t *testing.T) {
	h := NewHasher("salt-value")

	first := h.Hash("alice")
	second := h.Hash("alice")

	assert.Equal(t, first, second)
	assert.Len(t, first, Length)
}

func TestHasherDifferentSecretsDiverge(t *testing.T) {
	a := NewHasher("salt-a")
	b := NewHasher("salt-b")

	assert.NotEqual(t, a.Hash("alice"), b.Hash("alice"))
}

func TestConversationIDRoleOf(t *testing.T) {
	hasher := NewHasher("salt-value")

	id := NewConversationID(hasher, "alice", "bob")

	require.Equal(t, RoleChooser, id.RoleOf(hasher, "alice"))
	require.Equal(t, RoleChoosee, id.RoleOf(hasher, "bob"))
	require.Equal(t, RoleNotInConversation, id.RoleOf(hasher, "carol"))
}

func TestConversationIDSlotsMatchHashes(t *testing.T) {
	hasher := NewHasher("salt-value")

	id := NewConversationID(hasher, "alice", "bob")

	assert.Equal(t, hasher.Hash("alice"), id.ChooserHash())
	assert.Equal(t, hasher.Hash("bob"), id.ChooseeHash())
}

func TestConversationIDRoundTrip(t *testing.T) {
	hasher := NewHasher("salt-value")

	id := NewConversationID(hasher, "alice", "bob")

	parsed, err := ParseConversationID(id.String())
	require.NoError(t, err)

	assert.Equal(t, id.ChooserHash(), parsed.ChooserHash())
	assert.Equal(t, id.ChooseeHash(), parsed.ChooseeHash())
}

func TestParseConversationIDRejectsShortStrings(t *testing.T) {
	_, err := ParseConversationID("too-short")
	assert.Error(t, err)
}
