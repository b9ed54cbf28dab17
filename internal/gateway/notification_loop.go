package gateway

import (
	"github.com/rs/zerolog"

	"github.com/streamspace/realtime-gateway/internal/gatewayerr"
	"github.com/streamspace/realtime-gateway/internal/protocol"
)

// NotificationLoop consumes the single bus subscription addressed to this
// connection's own username hash and forwards every decoded event to the
// client as a Notification frame.
type NotificationLoop struct {
	sink    Sink
	bus     Bus
	ownHash string
	log     *zerolog.Logger
}

// NewNotificationLoop builds a loop bound to the connection's own hash.
func NewNotificationLoop(sink Sink, b Bus, ownHash string, log *zerolog.Logger) *NotificationLoop {
	return &NotificationLoop{sink: sink, bus: b, ownHash: ownHash, log: log}
}

// Run opens the subscription and forwards events until cancel fires or a
// fatal condition is hit. cancel is a capacity-1, single-producer channel;
// a receive on it (even of a zero value) means "stop now, without further
// I/O."
func (l *NotificationLoop) Run(cancel <-chan struct{}) error {
	sub, err := l.bus.Subscribe(l.ownHash)
	if err != nil {
		return gatewayerr.NewFatal(gatewayerr.CodeUnexpectedNatsSubscriptionTerminate, err)
	}

	for {
		select {
		case <-cancel:
			_ = sub.Unsubscribe()
			return nil

		case payload, ok := <-sub.Messages():
			if !ok {
				// The subscription ended on its own while we were not
				// cancelled: the source it was modeled on treats this
				// spontaneous termination as fatal rather than a quiet exit.
				return gatewayerr.NewFatal(gatewayerr.CodeUnexpectedNatsSubscriptionTerminate, nil)
			}

			event, err := protocol.DecodeUserEvent(payload)
			if err != nil {
				// Bus content is outside any single client's control: a
				// malformed event is logged and skipped, never fatal.
				l.log.Warn().Err(err).Msg("discarding undecodable bus payload")
				continue
			}

			frame, err := event.EncodeNotification()
			if err != nil {
				// Server-generated values must always encode; a failure
				// here is an implementation bug, not a runtime condition.
				l.log.Error().Err(err).Msg("failed to encode notification for a value that must always encode")
				continue
			}

			if err := l.sink.SendText(frame); err != nil {
				_ = sub.Unsubscribe()
				return gatewayerr.NewFatal(gatewayerr.CodeWebSocketError, err)
			}
		}
	}
}
