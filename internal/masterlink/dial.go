package masterlink

import (
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dial connects to a gateway's (or master's) commPort endpoint and
// returns a ready Conn. Callers still need to call Handle for any
// inbound methods and Serve to start the read loop.
func Dial(addr, path string, logger *zap.Logger) (*Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("masterlink: dial %s: %w", u.String(), err)
	}
	return NewConn(ws, logger), nil
}
