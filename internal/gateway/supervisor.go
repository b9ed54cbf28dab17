package gateway

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/streamspace/realtime-gateway/internal/hashid"
)

// Supervise splits conn into a shared sink and an exclusively-owned
// stream, starts the NotificationLoop and OperationLoop, and implements
// the mutual-kill cancellation pattern: whichever loop finishes first
// fires the other's cancellation channel and the supervisor returns that
// first result, discarding the second loop's outcome.
//
// Child tasks spawned by the OperationLoop are intentionally not joined;
// they are best-effort writes allowed to complete or fail quietly after
// this function returns.
func Supervise(conn *websocket.Conn, db DB, b Bus, hasher *hashid.Hasher, session Session, log *zerolog.Logger) error {
	sink := NewSink(conn)
	ownHash := hasher.Hash(session.Username)

	notifLog := log.With().Str("loop", "notification").Str("username", session.Username).Logger()
	opLog := log.With().Str("loop", "operation").Str("username", session.Username).Logger()

	notifLoop := NewNotificationLoop(sink, b, ownHash, &notifLog)
	opLoop := NewOperationLoop(conn, sink, db, b, hasher, session.Username, &opLog)

	notifCancel := make(chan struct{}, 1)
	opCancel := make(chan struct{}, 1)
	result := make(chan error, 1)

	go func() {
		err := notifLoop.Run(notifCancel)
		trySignal(opCancel)
		trySend(result, err)
	}()

	go func() {
		err := opLoop.Run(opCancel)
		trySignal(notifCancel)
		trySend(result, err)
	}()

	return <-result
}

// trySignal fires a capacity-1 cancellation channel, ignoring the case
// where the peer loop already exited and nobody will ever receive it.
func trySignal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// trySend forwards the first result into the capacity-1 result channel;
// the second loop's outcome has nowhere to go and is discarded by design.
func trySend(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
