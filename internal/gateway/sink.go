package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsSink guards a *websocket.Conn with a mutex so the two loops and any
// worker tasks they spawn can share it without interleaving frames.
// Critical sections hold only for the duration of a single frame send.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSink wraps conn as a shared, mutex-guarded Sink.
func NewSink(conn *websocket.Conn) Sink {
	return &wsSink{conn: conn}
}

func (s *wsSink) SendText(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
