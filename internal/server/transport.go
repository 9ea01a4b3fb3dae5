package server

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// connTransport adapts one gorilla/websocket connection to
// avatar.Transport. gorilla/websocket forbids concurrent writes, so
// every send is funneled through a single writer goroutine (the
// "pump") via the send channel; SendText/SendBinary never touch the
// connection directly.
type connTransport struct {
	conn   *websocket.Conn
	send   chan wireMessage
	closed chan struct{}
	logger *zap.Logger
}

type wireMessage struct {
	kind int
	data []byte
}

func newConnTransport(conn *websocket.Conn, logger *zap.Logger) *connTransport {
	t := &connTransport{
		conn:   conn,
		send:   make(chan wireMessage, 256),
		closed: make(chan struct{}),
		logger: logger,
	}
	go t.writePump()
	return t
}

// SendText queues a text frame for the writer goroutine.
func (t *connTransport) SendText(data []byte) error {
	return t.enqueue(wireMessage{kind: websocket.TextMessage, data: data})
}

// SendBinary queues a binary frame for the writer goroutine.
func (t *connTransport) SendBinary(data []byte) error {
	return t.enqueue(wireMessage{kind: websocket.BinaryMessage, data: data})
}

func (t *connTransport) enqueue(m wireMessage) error {
	select {
	case <-t.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case t.send <- m:
		return nil
	case <-t.closed:
		return websocket.ErrCloseSent
	}
}

// Close stops the writer goroutine and closes the underlying
// connection. Safe to call more than once.
func (t *connTransport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return t.conn.Close()
}

func (t *connTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				t.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := t.conn.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *connTransport) startReadLimits() {
	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}
