// Package gateway implements the per-connection concurrency engine: the
// NotificationLoop and OperationLoop pair and the supervisor that starts,
// mutually cancels, and reaps them.
package gateway

import (
	"context"
	"time"

	"github.com/streamspace/realtime-gateway/internal/protocol"
)

// Session is the authenticated identity bound to a connection for its
// lifetime, extracted from the verified bearer token at handshake.
type Session struct {
	PhoneNumber int64
	Username    string
}

// DB is the subset of the database facade the connection engine consumes.
type DB interface {
	NewConversation(ctx context.Context, chooser, choosee, conversationID string) error
	NewMessage(ctx context.Context, conversationID, content string, fromChooser bool) error
	UpdateChooseeLastPresenceAt(ctx context.Context, conversationID string, occurredAt time.Time, leaving bool, chooserHash string) error
	GetMessages(ctx context.Context, conversationID string, take int8, afterSentAt time.Time) ([]protocol.Message, error)
}

// Subscription is a stream of byte payloads for a single bus subject.
type Subscription interface {
	Messages() <-chan []byte
	Unsubscribe() error
}

// Bus is the subset of the bus facade the connection engine consumes.
type Bus interface {
	Subscribe(subject string) (Subscription, error)
	Publish(subject string, payload []byte) error
}

// Sink is the single shared mutable resource: a mutex-guarded WebSocket
// writer. Both loops, and every worker task spawned by the OperationLoop,
// send frames through the same Sink so that two concurrent senders can
// never interleave a partial frame.
type Sink interface {
	SendText(payload []byte) error
	Close() error
}
