package gateway

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/realtime-gateway/internal/hashid"
	"github.com/streamspace/realtime-gateway/internal/protocol"
)

type fakeDB struct {
	mu                sync.Mutex
	newConversations  int
	newMessages       int
	presenceUpdates   int
	getMessagesCalled bool
}

func (f *fakeDB) NewConversation(ctx context.Context, chooser, choosee, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newConversations++
	return nil
}

func (f *fakeDB) NewMessage(ctx context.Context, conversationID, content string, fromChooser bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newMessages++
	return nil
}

func (f *fakeDB) UpdateChooseeLastPresenceAt(ctx context.Context, conversationID string, occurredAt time.Time, leaving bool, chooserHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presenceUpdates++
	return nil
}

func (f *fakeDB) GetMessages(ctx context.Context, conversationID string, take int8, afterSentAt time.Time) ([]protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getMessagesCalled = true
	return nil, nil
}

func (f *fakeDB) counts() (conversations, messages, presence int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newConversations, f.newMessages, f.presenceUpdates
}

type fakeBus struct {
	mu        sync.Mutex
	published int
}

func (f *fakeBus) Subscribe(subject string) (Subscription, error) { return nil, nil }

func (f *fakeBus) Publish(subject string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
	return nil
}

func (f *fakeBus) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published
}

type fakeSink struct {
	mu    sync.Mutex
	sent  [][]byte
	close bool
}

func (f *fakeSink) SendText(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeSink) Close() error {
	f.close = true
	return nil
}

func (f *fakeSink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeStream yields a fixed script of frames, then blocks until closed.
type fakeStream struct {
	frames [][]byte
	idx    int
	done   chan struct{}
}

func newFakeStream(frames ...[]byte) *fakeStream {
	return &fakeStream{frames: frames, done: make(chan struct{})}
}

func (s *fakeStream) ReadMessage() (int, []byte, error) {
	if s.idx < len(s.frames) {
		f := s.frames[s.idx]
		s.idx++
		return websocket.TextMessage, f, nil
	}
	<-s.done
	return 0, nil, io.EOF
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestChooseFansOutThreeEffects(t *testing.T) {
	db := &fakeDB{}
	b := &fakeBus{}
	sink := &fakeSink{}
	hasher := hashid.NewHasher("test-secret")

	stream := newFakeStream([]byte(`{"op":"choose","d":{"content":"hello","chooseeUsername":"bob"}}`))
	defer close(stream.done)

	loop := NewOperationLoop(stream, sink, db, b, hasher, "alice", newTestLogger())

	cancel := make(chan struct{}, 1)
	go func() { _ = loop.Run(cancel) }()

	waitFor(t, func() bool {
		conversations, messages, _ := db.counts()
		return conversations == 1 && messages == 1 && b.publishCount() == 1
	})

	trySignal(cancel)
}

func TestUnauthorizedSendIsForbiddenBeforeAnyIO(t *testing.T) {
	db := &fakeDB{}
	b := &fakeBus{}
	sink := &fakeSink{}
	hasher := hashid.NewHasher("test-secret")

	// A conversation id for alice & bob; carol (the caller) is in neither slot.
	convID := hashid.NewConversationID(hasher, "alice", "bob")

	stream := newFakeStream([]byte(`{"op":"send","d":{"content":"hi","conversationId":"` + convID.String() + `"}}`))
	defer close(stream.done)

	loop := NewOperationLoop(stream, sink, db, b, hasher, "carol", newTestLogger())

	cancel := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(cancel) }()

	err := <-errCh
	require.Error(t, err)

	conversations, messages, _ := db.counts()
	require.Equal(t, 0, conversations)
	require.Equal(t, 0, messages)
	require.Equal(t, 0, b.publishCount())
}

func TestClassifyReadErrorTreatsNoStatusCloseAsSuccess(t *testing.T) {
	// gorilla synthesizes CloseNoStatusReceived (1005) for a close frame
	// sent with no status code at all; spec requires this be treated the
	// same as Normal/Away, not as a fatal unexpected close.
	err := classifyReadError(&websocket.CloseError{Code: websocket.CloseNoStatusReceived})
	require.NoError(t, err)
}

func TestClassifyReadErrorTreatsOtherCloseCodesAsFatal(t *testing.T) {
	err := classifyReadError(&websocket.CloseError{Code: websocket.CloseProtocolError})
	require.Error(t, err)
}

func TestBadJSONIsNonFatalAndLoopContinues(t *testing.T) {
	db := &fakeDB{}
	b := &fakeBus{}
	sink := &fakeSink{}
	hasher := hashid.NewHasher("test-secret")

	stream := newFakeStream(
		[]byte(`not-json`),
		[]byte(`{"op":"choose","d":{"content":"hi","chooseeUsername":"bob"}}`),
	)
	defer close(stream.done)

	loop := NewOperationLoop(stream, sink, db, b, hasher, "alice", newTestLogger())

	cancel := make(chan struct{}, 1)
	go func() { _ = loop.Run(cancel) }()

	waitFor(t, func() bool {
		conversations, _, _ := db.counts()
		return conversations == 1
	})

	trySignal(cancel)
}
