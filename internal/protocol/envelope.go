// Package protocol implements the gateway's wire codec: the tagged-union
// JSON envelopes exchanged over the WebSocket and carried on the bus.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the outer "op"/"d" shape shared by every inbound and
// outbound value.
type envelope struct {
	Op string          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Message is a single persisted chat message as returned to a client.
type Message struct {
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sentAt"`
	FromChooser bool      `json:"fromChooser"`
}

// --- Inbound: Operation (Query | Mutation), untagged at the wire level ---

// OperationKind discriminates the concrete inbound shape after decoding.
type OperationKind int

const (
	OpMessages OperationKind = iota
	OpChoose
	OpSend
	OpRegisterPresenceChoosee
)

// Operation is the decoded form of any client-to-server request. Exactly
// one of the typed fields is populated, selected by Kind.
type Operation struct {
	Kind OperationKind

	Messages                 *QueryMessages
	Choose                   *MutationChoose
	Send                     *MutationSend
	RegisterPresenceChoosee  *MutationRegisterPresenceChoosee
}

type QueryMessages struct {
	ConversationID string    `json:"conversationId"`
	Take           int8      `json:"take"`
	AfterSentAt    time.Time `json:"afterSentAt"`
}

type MutationChoose struct {
	Content         string `json:"content"`
	ChooseeUsername string `json:"chooseeUsername"`
}

type MutationSend struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
}

type MutationRegisterPresenceChoosee struct {
	ConversationID string `json:"conversationId"`
	Leaving        bool   `json:"leaving"`
}

// DecodeOperation parses a client text frame into an Operation. The
// "Operation" type is an untagged union of Query and Mutation in the
// source model: this decoder dispatches on the inner "op" discriminator,
// which flattens that union to a single level without changing the wire
// format.
func DecodeOperation(raw []byte) (Operation, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Operation{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Op {
	case "messages":
		var d QueryMessages
		if err := json.Unmarshal(env.D, &d); err != nil {
			return Operation{}, fmt.Errorf("decode messages payload: %w", err)
		}
		return Operation{Kind: OpMessages, Messages: &d}, nil
	case "choose":
		var d MutationChoose
		if err := json.Unmarshal(env.D, &d); err != nil {
			return Operation{}, fmt.Errorf("decode choose payload: %w", err)
		}
		return Operation{Kind: OpChoose, Choose: &d}, nil
	case "send":
		var d MutationSend
		if err := json.Unmarshal(env.D, &d); err != nil {
			return Operation{}, fmt.Errorf("decode send payload: %w", err)
		}
		return Operation{Kind: OpSend, Send: &d}, nil
	case "registerPresenceChoosee":
		var d MutationRegisterPresenceChoosee
		if err := json.Unmarshal(env.D, &d); err != nil {
			return Operation{}, fmt.Errorf("decode registerPresenceChoosee payload: %w", err)
		}
		return Operation{Kind: OpRegisterPresenceChoosee, RegisterPresenceChoosee: &d}, nil
	default:
		return Operation{}, fmt.Errorf("unknown operation %q", env.Op)
	}
}

// Encode re-serializes an Operation to its wire form. Used by tests to
// exercise the round-trip property; the live client never needs this path
// since Operation is inbound-only.
func (o Operation) Encode() ([]byte, error) {
	var op string
	var d interface{}

	switch o.Kind {
	case OpMessages:
		op, d = "messages", o.Messages
	case OpChoose:
		op, d = "choose", o.Choose
	case OpSend:
		op, d = "send", o.Send
	case OpRegisterPresenceChoosee:
		op, d = "registerPresenceChoosee", o.RegisterPresenceChoosee
	default:
		return nil, fmt.Errorf("unknown operation kind %d", o.Kind)
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Op: op, D: payload})
}

// --- Outbound: Response, tagged ---

// Response is a synchronous server-to-client reply to an Operation.
type Response struct {
	op       string
	errMsg   string
	messages *ResponseMessages
}

type ResponseMessages struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// ErrorResponse builds a Response.Error.
func ErrorResponse(message string) Response {
	return Response{op: "error", errMsg: message}
}

// MessagesResponse builds a Response.Messages.
func MessagesResponse(conversationID string, messages []Message) Response {
	if messages == nil {
		messages = []Message{}
	}
	return Response{op: "messages", messages: &ResponseMessages{ConversationID: conversationID, Messages: messages}}
}

// Encode serializes a Response to its wire form. This must never fail for
// server-generated values; a failure here is an implementation bug, not a
// runtime condition, and is logged as such by the caller rather than
// forwarded to the client.
func (r Response) Encode() ([]byte, error) {
	var payload interface{}
	switch r.op {
	case "error":
		payload = r.errMsg
	case "messages":
		payload = r.messages
	default:
		return nil, fmt.Errorf("response has no op set")
	}

	d, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Op: r.op, D: d})
}

// --- Bus-carried: UserEvent, tagged, re-emitted to the client as a Notification ---

// UserEventKind discriminates the concrete bus event shape.
type UserEventKind int

const (
	EventChosen UserEventKind = iota
	EventMessage
	EventChooseePresence
)

// UserEvent is a server-originated event carried on the bus, addressed to
// a single UsernameHash subject.
type UserEvent struct {
	Kind             UserEventKind
	Chosen           *EventChosenPayload
	Message          *EventMessagePayload
	ChooseePresence  *EventChooseePresencePayload
}

type EventChosenPayload struct {
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
}

type EventMessagePayload struct {
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
}

type EventChooseePresencePayload struct {
	ConversationID string    `json:"conversationId"`
	Leaving        bool      `json:"leaving"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (e UserEvent) wireOp() (string, interface{}, error) {
	switch e.Kind {
	case EventChosen:
		return "chosen", e.Chosen, nil
	case EventMessage:
		return "message", e.Message, nil
	case EventChooseePresence:
		return "chooseePresence", e.ChooseePresence, nil
	default:
		return "", nil, fmt.Errorf("unknown user event kind %d", e.Kind)
	}
}

// MarshalBusPayload encodes the event for transport on the bus. The bus
// payload is the same tagged JSON shape as the client-facing Notification:
// the source re-emits UserEvent transparently rather than double-wrapping
// it, so there is no separate Notification struct here, only this shared
// encoding path used both for the bus and for the final client send.
func (e UserEvent) MarshalBusPayload() ([]byte, error) {
	op, d, err := e.wireOp()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Op: op, D: payload})
}

// DecodeUserEvent decodes a bus payload back into a UserEvent. Invalid
// payloads are the caller's concern (non-fatal: bus content is outside any
// single client's control).
func DecodeUserEvent(raw []byte) (UserEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return UserEvent{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Op {
	case "chosen":
		var d EventChosenPayload
		if err := json.Unmarshal(env.D, &d); err != nil {
			return UserEvent{}, fmt.Errorf("decode chosen payload: %w", err)
		}
		return UserEvent{Kind: EventChosen, Chosen: &d}, nil
	case "message":
		var d EventMessagePayload
		if err := json.Unmarshal(env.D, &d); err != nil {
			return UserEvent{}, fmt.Errorf("decode message payload: %w", err)
		}
		return UserEvent{Kind: EventMessage, Message: &d}, nil
	case "chooseePresence":
		var d EventChooseePresencePayload
		if err := json.Unmarshal(env.D, &d); err != nil {
			return UserEvent{}, fmt.Errorf("decode chooseePresence payload: %w", err)
		}
		return UserEvent{Kind: EventChooseePresence, ChooseePresence: &d}, nil
	default:
		return UserEvent{}, fmt.Errorf("unknown user event %q", env.Op)
	}
}

// EncodeNotification renders a UserEvent as the client-facing Notification
// frame. It is the identical wire shape to MarshalBusPayload; the name is
// kept distinct because the two call sites (bus publish vs. client send)
// reason about different failure modes (non-fatal publish vs. fatal sink
// send).
func (e UserEvent) EncodeNotification() ([]byte, error) {
	return e.MarshalBusPayload()
}
