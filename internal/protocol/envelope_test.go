package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationRoundTrip(t *testing.T) {
	cases := []Operation{
		{Kind: OpMessages, Messages: &QueryMessages{ConversationID: "conv-1", Take: 10, AfterSentAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}},
		{Kind: OpChoose, Choose: &MutationChoose{Content: "hi", ChooseeUsername: "bob"}},
		{Kind: OpSend, Send: &MutationSend{Content: "hi", ConversationID: "conv-1"}},
		{Kind: OpRegisterPresenceChoosee, RegisterPresenceChoosee: &MutationRegisterPresenceChoosee{ConversationID: "conv-1", Leaving: true}},
	}

	for _, original := range cases {
		encoded, err := original.Encode()
		require.NoError(t, err)

		decoded, err := DecodeOperation(encoded)
		require.NoError(t, err)

		assert.Equal(t, original.Kind, decoded.Kind)
	}
}

func TestDecodeOperationRejectsUnknownOp(t *testing.T) {
	_, err := DecodeOperation([]byte(`{"op":"nonsense","d":{}}`))
	assert.Error(t, err)
}

func TestDecodeOperationRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeOperation([]byte("not-json"))
	assert.Error(t, err)
}

func TestResponseEncoding(t *testing.T) {
	errResp := ErrorResponse("boom")
	raw, err := errResp.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"error","d":"boom"}`, string(raw))

	msgResp := MessagesResponse("conv-1", []Message{{Content: "hi", SentAt: time.Unix(0, 0).UTC(), FromChooser: true}})
	raw, err = msgResp.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"op":"messages"`)
}

func TestUserEventRoundTrip(t *testing.T) {
	event := UserEvent{Kind: EventMessage, Message: &EventMessagePayload{
		ConversationID: "conv-1",
		Content:        "hi",
		SentAt:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}

	raw, err := event.MarshalBusPayload()
	require.NoError(t, err)

	decoded, err := DecodeUserEvent(raw)
	require.NoError(t, err)

	require.Equal(t, EventMessage, decoded.Kind)
	assert.Equal(t, "hi", decoded.Message.Content)
}

func TestDecodeUserEventNonFatalOnGarbage(t *testing.T) {
	_, err := DecodeUserEvent([]byte(`{"op":"unknown","d":{}}`))
	assert.Error(t, err)
}
