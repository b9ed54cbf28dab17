package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	ch chan []byte
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{ch: make(chan []byte, 8)}
}

func (s *fakeSubscription) Messages() <-chan []byte { return s.ch }
func (s *fakeSubscription) Unsubscribe() error       { close(s.ch); return nil }

type subscribingBus struct {
	sub *fakeSubscription
}

func (b *subscribingBus) Subscribe(subject string) (Subscription, error) { return b.sub, nil }
func (b *subscribingBus) Publish(subject string, payload []byte) error   { return nil }

func TestNotificationLoopForwardsDecodedEvents(t *testing.T) {
	sub := newFakeSubscription()
	b := &subscribingBus{sub: sub}
	sink := &fakeSink{}

	loop := NewNotificationLoop(sink, b, "own-hash", newTestLogger())

	cancel := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- loop.Run(cancel) }()

	sub.ch <- []byte(`{"op":"message","d":{"conversationId":"c","content":"hi","sentAt":"2026-01-01T00:00:00Z"}}`)

	waitFor(t, func() bool { return sink.sentCount() == 1 })

	trySignal(cancel)
	err := <-done
	require.NoError(t, err)
}

func TestNotificationLoopFatalOnSubscriptionTerminate(t *testing.T) {
	sub := newFakeSubscription()
	b := &subscribingBus{sub: sub}
	sink := &fakeSink{}

	loop := NewNotificationLoop(sink, b, "own-hash", newTestLogger())

	cancel := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- loop.Run(cancel) }()

	close(sub.ch)

	err := <-done
	require.Error(t, err)
}

func TestNotificationLoopSkipsUndecodablePayload(t *testing.T) {
	sub := newFakeSubscription()
	b := &subscribingBus{sub: sub}
	sink := &fakeSink{}

	loop := NewNotificationLoop(sink, b, "own-hash", newTestLogger())

	cancel := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- loop.Run(cancel) }()

	sub.ch <- []byte(`garbage`)
	sub.ch <- []byte(`{"op":"message","d":{"conversationId":"c","content":"hi","sentAt":"2026-01-01T00:00:00Z"}}`)

	waitFor(t, func() bool { return sink.sentCount() == 1 })

	trySignal(cancel)
	require.NoError(t, <-done)
}
