// Package bus is the facade over the subject-addressed publish/subscribe
// transport: a thin wrapper over nats.go exposing exactly the two
// operations the connection engine uses.
package bus

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Bus wraps a shared, reference-counted NATS connection.
type Bus struct {
	conn *nats.Conn
}

// Config configures the connection to the message bus.
type Config struct {
	URL             string
	CredentialsFile string
}

// Connect opens the shared bus connection used by every NotificationLoop
// and OperationLoop worker in the process.
func Connect(cfg Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("realtime-gateway"),
		nats.MaxReconnects(-1),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}
	return &Bus{conn: conn}, nil
}

// Close closes the underlying connection without draining it.
func (b *Bus) Close() {
	b.conn.Close()
}

// Subscription is a stream of byte payloads for a single subject.
type Subscription struct {
	sub      *nats.Subscription
	natsCh   chan *nats.Msg
	payloads chan []byte
}

// Subscribe opens a subscription on subject. The returned channel yields a
// payload per published message; if the underlying subscription is torn
// down by the server or the connection drops without the caller having
// cancelled it, the channel closes, which the NotificationLoop must treat
// as a fatal UnexpectedNatsSubscriptionTerminate condition.
func (b *Bus) Subscribe(subject string) (*Subscription, error) {
	natsCh := make(chan *nats.Msg, 64)
	sub, err := b.conn.ChanSubscribe(subject, natsCh)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	s := &Subscription{sub: sub, natsCh: natsCh, payloads: make(chan []byte, 64)}
	go func() {
		defer close(s.payloads)
		for msg := range natsCh {
			s.payloads <- msg.Data
		}
	}()
	return s, nil
}

// Messages exposes the subscription's delivery channel as raw payloads.
func (s *Subscription) Messages() <-chan []byte {
	return s.payloads
}

// Unsubscribe tears down the subscription. Called when the owning loop
// exits via cancellation, so the resulting channel close is expected
// rather than treated as the fatal spontaneous-termination case.
func (s *Subscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	close(s.natsCh)
	return err
}

// Publish is a best-effort single-shot send; failure is always non-fatal
// to the caller, who is expected to log and continue.
func (b *Bus) Publish(subject string, payload []byte) error {
	if err := b.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
