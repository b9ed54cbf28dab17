package gateway

import "github.com/streamspace/realtime-gateway/internal/bus"

// busAdapter narrows the concrete *bus.Bus to the Bus interface this
// package depends on, so tests can substitute a fake without importing
// nats.go.
type busAdapter struct {
	inner *bus.Bus
}

// NewBus wraps a concrete bus.Bus connection for use by the connection engine.
func NewBus(inner *bus.Bus) Bus {
	return &busAdapter{inner: inner}
}

func (a *busAdapter) Subscribe(subject string) (Subscription, error) {
	return a.inner.Subscribe(subject)
}

func (a *busAdapter) Publish(subject string, payload []byte) error {
	return a.inner.Publish(subject, payload)
}
