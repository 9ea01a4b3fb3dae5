// Package masterlink implements the bidirectional object-capability
// channel between a gateway process and the master (spec §6). The wire
// mechanism is the repo's own concrete choice for an interface the
// spec leaves opaque: a gorilla/websocket connection carrying
// msgpack-encoded request/response frames correlated by a uuid request
// ID, in the same way the teacher's internal/protocol already pairs
// msgpack framing with a websocket transport.
package masterlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/meshbotics/gateway/internal/metrics"
)

// ErrChannelDead is returned by Call once the connection has been
// closed, and delivered to every call still awaiting a response at
// that point.
var ErrChannelDead = errors.New("masterlink: channel dead")

// frame is the wire envelope for both directions: a populated Method
// marks a request, an empty Method marks a response to an earlier ID.
type frame struct {
	ID     string        `msgpack:"id"`
	Method string        `msgpack:"method,omitempty"`
	Params []interface{} `msgpack:"params,omitempty"`
	Result interface{}   `msgpack:"result,omitempty"`
	Error  string        `msgpack:"error,omitempty"`
}

// Handler answers an inbound RPC request by method name.
type Handler func(ctx context.Context, params []interface{}) (interface{}, error)

// Conn is one end of the master-link channel. Both the gateway's
// listening side and the master's dialing side use the same type: the
// channel is symmetric once established.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	handlers map[string]Handler
	dead    bool
}

// NewConn wraps an established websocket connection.
func NewConn(ws *websocket.Conn, logger *zap.Logger) *Conn {
	return &Conn{
		ws:       ws,
		logger:   logger.Named("masterlink"),
		pending:  make(map[string]chan frame),
		handlers: make(map[string]Handler),
	}
}

// Handle registers the function that answers inbound requests for method.
func (c *Conn) Handle(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// Serve reads frames until the connection closes or ctx is cancelled.
// ctx is checked between frames; a read already in progress is not
// interrupted by cancellation. It must run in its own goroutine; Call
// and the registered Handlers may be invoked concurrently with it.
func (c *Conn) Serve(ctx context.Context) {
	defer c.markDead()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("masterlink read closed", zap.Error(err))
			return
		}
		var f frame
		if err := msgpack.Unmarshal(raw, &f); err != nil {
			c.logger.Warn("masterlink malformed frame", zap.Error(err))
			continue
		}

		if f.Method != "" {
			go c.dispatch(ctx, f)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, req frame) {
	c.mu.Lock()
	h, ok := c.handlers[req.Method]
	c.mu.Unlock()

	resp := frame{ID: req.ID}
	if !ok {
		resp.Error = fmt.Sprintf("unknown method %q", req.Method)
	} else {
		result, err := h(ctx, req.Params)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}
	}
	if err := c.writeFrame(resp); err != nil {
		c.logger.Warn("masterlink response write failed", zap.Error(err))
	}
}

// Call invokes method on the remote peer and blocks for its response.
func (c *Conn) Call(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	start := time.Now()
	result, err := c.call(ctx, method, params...)
	metrics.RecordMasterRPC(method, time.Since(start), err)
	return result, err
}

func (c *Conn) call(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return nil, ErrChannelDead
	}
	id := uuid.NewString()
	ch := make(chan frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := frame{ID: id, Method: method, Params: params}
	if err := c.writeFrame(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrChannelDead, err)
	}

	select {
	case resp := <-ch:
		if resp.ID == "" {
			// markDead's frame: the channel closed before a response came.
			return nil, ErrChannelDead
		}
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Conn) writeFrame(f frame) error {
	raw, err := msgpack.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.BinaryMessage, raw)
}

func (c *Conn) markDead() {
	c.mu.Lock()
	c.dead = true
	pending := c.pending
	c.pending = make(map[string]chan frame)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- frame{Error: ErrChannelDead.Error()}
	}
}

// Close closes the underlying websocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
