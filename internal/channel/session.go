// Package channel implements the per-node duplex command channel over
// websockets: the server side (handshake, read/write loops) and the
// node-side client with its reconnect loop.
package channel

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Nixie-Tech-LLC/chorus/internal/protocol"
)

var errSessionClosed = errors.New("session closed")
var errQueueFull = errors.New("outbound queue full")

// Session is one authenticated node connection. Writes go through the
// outbound queue so only the write loop touches the socket.
type Session struct {
	nodeID    int
	conn      *websocket.Conn
	out       chan protocol.ServerMessage
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(nodeID int, conn *websocket.Conn) *Session {
	return &Session{
		nodeID: nodeID,
		conn:   conn,
		out:    make(chan protocol.ServerMessage, 16),
		closed: make(chan struct{}),
	}
}

// Send queues a message for the node. Never blocks: a full queue means
// the node has stopped draining and the message is dropped with an
// error.
func (s *Session) Send(msg protocol.ServerMessage) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	select {
	case s.out <- msg:
		return nil
	case <-s.closed:
		return errSessionClosed
	default:
		return errQueueFull
	}
}

// Close shuts the session down; safe to call from any goroutine, any
// number of times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
	return nil
}

// writeLoop drains the outbound queue onto the socket until the session
// closes.
func (s *Session) writeLoop() {
	for {
		select {
		case msg := <-s.out:
			if err := s.conn.WriteJSON(msg); err != nil {
				_ = s.Close()
				return
			}
		case <-s.closed:
			return
		}
	}
}
