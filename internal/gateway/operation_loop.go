package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/streamspace/realtime-gateway/internal/gatewayerr"
	"github.com/streamspace/realtime-gateway/internal/hashid"
	"github.com/streamspace/realtime-gateway/internal/protocol"
)

// Stream is the exclusively-owned read half of the WebSocket, matching
// gorilla/websocket's *Conn.ReadMessage signature so a live connection
// needs no adapter.
type Stream interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// errChanCapacity bounds the worker-error channel. The design calls for an
// unbounded channel so that many parallel sink sends or publishes failing
// at once can never deadlock a worker against a main loop that is only
// allowed to suspend at the select point; a large bounded channel with a
// log-and-drop overflow policy is the documented alternative, which is
// what this implementation uses.
const errChanCapacity = 4096

var sanitizer = bluemonday.StrictPolicy()

// OperationLoop owns the WebSocket read stream and dispatches inbound
// operations, spawning a worker goroutine per request so the main select
// never blocks on DB or bus latency.
type OperationLoop struct {
	stream   Stream
	sink     Sink
	db       DB
	bus      Bus
	hasher   *hashid.Hasher
	username string
	ownHash  string
	log      *zerolog.Logger

	errCh chan error
}

// NewOperationLoop builds a loop for one authenticated connection.
func NewOperationLoop(stream Stream, sink Sink, db DB, b Bus, hasher *hashid.Hasher, username string, log *zerolog.Logger) *OperationLoop {
	return &OperationLoop{
		stream:   stream,
		sink:     sink,
		db:       db,
		bus:      b,
		hasher:   hasher,
		username: username,
		ownHash:  hasher.Hash(username),
		log:      log,
		errCh:    make(chan error, errChanCapacity),
	}
}

// Run reads frames until cancellation, a fatal condition, or a clean close.
func (l *OperationLoop) Run(cancel <-chan struct{}) error {
	frames := make(chan frameOrErr)
	stop := make(chan struct{})
	defer close(stop)
	go l.readFrames(frames, stop)

	for {
		select {
		case <-cancel:
			return nil

		case werr := <-l.errCh:
			var fatal *gatewayerr.Fatal
			if errors.As(werr, &fatal) {
				return fatal
			}
			l.log.Warn().Err(werr).Msg("non-fatal worker error")

		case f := <-frames:
			if f.done {
				return f.err
			}
			l.dispatch(f.messageType, f.data)
		}
	}
}

type frameOrErr struct {
	messageType int
	data        []byte
	err         error
	// done marks the pump's last value: the read side has ended and err
	// (nil for a clean close) is the loop's outcome.
	done bool
}

// readFrames pumps ReadMessage in its own goroutine because it has no
// cancellable variant; the main select learns about cancellation
// separately and simply stops consuming from this channel. Once Run has
// returned and closed stop, the pump exits as soon as its pending
// ReadMessage returns, which happens when the underlying connection is
// closed.
func (l *OperationLoop) readFrames(out chan<- frameOrErr, stop <-chan struct{}) {
	for {
		messageType, data, err := l.stream.ReadMessage()
		f := frameOrErr{messageType: messageType, data: data}
		if err != nil {
			f = frameOrErr{err: classifyReadError(err), done: true}
		}
		select {
		case out <- f:
		case <-stop:
			return
		}
		if f.done {
			return
		}
	}
}

// classifyReadError turns a gorilla/websocket read error into the
// Fatal/clean-exit outcome the design specifies: Normal or Away close
// codes (or no code at all) are a clean exit, any other close code is
// fatal, and any other transport error is a fatal WebSocketError.
func classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return gatewayerr.NewFatal(gatewayerr.CodeUnexpectedClose, fmt.Errorf("close code %d: %s", closeErr.Code, closeErr.Text))
	}

	return gatewayerr.NewFatal(gatewayerr.CodeWebSocketError, err)
}

func (l *OperationLoop) dispatch(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		l.submit(gatewayerr.NewFatal(gatewayerr.CodeUnsupportedProtocol, fmt.Errorf("unsupported frame type %d", messageType)))
		return
	}

	op, err := protocol.DecodeOperation(data)
	if err != nil {
		l.submit(gatewayerr.NewNonFatal(gatewayerr.CodeUnsupportedFormat, err))
		return
	}

	switch op.Kind {
	case protocol.OpMessages:
		l.handleMessages(*op.Messages)
	case protocol.OpChoose:
		l.handleChoose(*op.Choose)
	case protocol.OpSend:
		l.handleSend(*op.Send)
	case protocol.OpRegisterPresenceChoosee:
		l.handleRegisterPresenceChoosee(*op.RegisterPresenceChoosee)
	}
}

// submit enqueues a worker-reported error without ever blocking the
// caller: if the channel is saturated, the error is logged and dropped
// rather than stalling a spawned worker goroutine indefinitely.
func (l *OperationLoop) submit(err error) {
	select {
	case l.errCh <- err:
	default:
		l.log.Error().Err(err).Msg("error channel saturated, dropping worker error")
	}
}

func (l *OperationLoop) sendResponse(resp protocol.Response) {
	frame, err := resp.Encode()
	if err != nil {
		l.log.Error().Err(err).Msg("failed to encode response for a value that must always encode")
		return
	}
	if err := l.sink.SendText(frame); err != nil {
		l.submit(gatewayerr.NewFatal(gatewayerr.CodeWebSocketError, err))
	}
}

// handleMessages implements Query.Messages: unauthorized reads never
// reach the database, and produce a fatal error instead of a wire reply.
func (l *OperationLoop) handleMessages(q protocol.QueryMessages) {
	conversationID, err := hashid.ParseConversationID(q.ConversationID)
	if err != nil {
		l.submit(gatewayerr.NewNonFatal(gatewayerr.CodeUnsupportedFormat, err))
		return
	}

	if conversationID.RoleOf(l.hasher, l.username) == hashid.RoleNotInConversation {
		l.submit(gatewayerr.Forbiddenf("user %s attempted to get messages for a conversation it is not a party to", l.username))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		messages, err := l.db.GetMessages(ctx, q.ConversationID, q.Take, q.AfterSentAt)
		if err != nil {
			l.submit(gatewayerr.NewNonFatal(gatewayerr.CodeDatabaseError, err))
			l.sendResponse(protocol.ErrorResponse("Failed to get messages for this conversation"))
			return
		}
		l.sendResponse(protocol.MessagesResponse(q.ConversationID, messages))
	}()
}

// handleChoose implements Mutation.Choose: three independently scheduled
// tasks, no ordering guarantee among them.
func (l *OperationLoop) handleChoose(m protocol.MutationChoose) {
	content := sanitizer.Sanitize(m.Content)
	conversationID := hashid.NewConversationID(l.hasher, l.username, m.ChooseeUsername)
	sentAt := time.Now().UTC()

	event := protocol.UserEvent{Kind: protocol.EventChosen, Chosen: &protocol.EventChosenPayload{
		ConversationID: conversationID.String(),
		Content:        content,
		SentAt:         sentAt,
	}}

	go func() {
		payload, err := event.MarshalBusPayload()
		if err != nil {
			l.log.Error().Err(err).Msg("failed to encode Chosen event for a value that must always encode")
			return
		}
		if err := l.bus.Publish(conversationID.ChooseeHash(), payload); err != nil {
			l.submit(gatewayerr.NewNonFatal(gatewayerr.CodePublishError, err))
		}
	}()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.db.NewConversation(ctx, l.username, m.ChooseeUsername, conversationID.String()); err != nil {
			l.submit(gatewayerr.NewNonFatal(gatewayerr.CodeDatabaseError, err))
		}
	}()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.db.NewMessage(ctx, conversationID.String(), content, true); err != nil {
			l.submit(gatewayerr.NewNonFatal(gatewayerr.CodeDatabaseError, err))
		}
	}()
}

// handleSend implements Mutation.Send: unauthorized sends never reach the
// database or the bus.
func (l *OperationLoop) handleSend(m protocol.MutationSend) {
	conversationID, err := hashid.ParseConversationID(m.ConversationID)
	if err != nil {
		l.submit(gatewayerr.NewNonFatal(gatewayerr.CodeUnsupportedFormat, err))
		return
	}

	role := conversationID.RoleOf(l.hasher, l.username)
	if role == hashid.RoleNotInConversation {
		l.submit(gatewayerr.Forbiddenf("user %s attempted to send into a conversation it is not a party to", l.username))
		return
	}

	toHash := conversationID.ChooseeHash()
	if role == hashid.RoleChoosee {
		toHash = conversationID.ChooserHash()
	}
	fromChooser := role == hashid.RoleChooser

	content := sanitizer.Sanitize(m.Content)
	sentAt := time.Now().UTC()

	event := protocol.UserEvent{Kind: protocol.EventMessage, Message: &protocol.EventMessagePayload{
		ConversationID: m.ConversationID,
		Content:        content,
		SentAt:         sentAt,
	}}

	go func() {
		payload, err := event.MarshalBusPayload()
		if err != nil {
			l.log.Error().Err(err).Msg("failed to encode Message event for a value that must always encode")
			return
		}
		if err := l.bus.Publish(toHash, payload); err != nil {
			l.submit(gatewayerr.NewNonFatal(gatewayerr.CodePublishError, err))
		}
	}()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.db.NewMessage(ctx, m.ConversationID, content, fromChooser); err != nil {
			l.submit(gatewayerr.NewNonFatal(gatewayerr.CodeDatabaseError, err))
		}
	}()
}

// handleRegisterPresenceChoosee implements Mutation.RegisterPresenceChoosee.
// The source this gateway was modeled on left this operation unimplemented;
// the chosen behavior here publishes to the chooser's hash (the party who
// needs to learn the choosee came or went) and records the chooser by its
// routing hash, consistent with every other persisted conversation
// reference in this schema being hash-addressed rather than username-addressed.
func (l *OperationLoop) handleRegisterPresenceChoosee(m protocol.MutationRegisterPresenceChoosee) {
	conversationID, err := hashid.ParseConversationID(m.ConversationID)
	if err != nil {
		l.submit(gatewayerr.NewNonFatal(gatewayerr.CodeUnsupportedFormat, err))
		return
	}

	if conversationID.RoleOf(l.hasher, l.username) != hashid.RoleChoosee {
		l.submit(gatewayerr.Forbiddenf("user %s attempted to register choosee presence without being the choosee", l.username))
		return
	}

	occurredAt := time.Now().UTC()
	chooserHash := conversationID.ChooserHash()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.db.UpdateChooseeLastPresenceAt(ctx, m.ConversationID, occurredAt, m.Leaving, chooserHash); err != nil {
			l.submit(gatewayerr.NewNonFatal(gatewayerr.CodeDatabaseError, err))
		}
	}()

	go func() {
		event := protocol.UserEvent{Kind: protocol.EventChooseePresence, ChooseePresence: &protocol.EventChooseePresencePayload{
			ConversationID: m.ConversationID,
			Leaving:        m.Leaving,
			OccurredAt:     occurredAt,
		}}
		payload, err := event.MarshalBusPayload()
		if err != nil {
			l.log.Error().Err(err).Msg("failed to encode ChooseePresence event for a value that must always encode")
			return
		}
		if err := l.bus.Publish(chooserHash, payload); err != nil {
			l.submit(gatewayerr.NewNonFatal(gatewayerr.CodePublishError, err))
		}
	}()
}
