package masterlink

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Listener is the gateway-side HTTP handler the master dials into on
// commPort to establish the master-link channel (spec's Open Question
// decision: the gateway listens, the master connects). Exactly one
// master connection is expected per gateway process; a second dial-in
// is served alongside the first, which is not closed.
type Listener struct {
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewListener builds a Listener that registers dispatcher's handlers
// on every accepted master connection.
func NewListener(dispatcher *Dispatcher, logger *zap.Logger) *Listener {
	return &Listener{
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Named("masterlink.listener"),
	}
}

// HandleMasterLink upgrades the request and serves the master-link
// channel until the master disconnects.
func (l *Listener) HandleMasterLink(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Error("master-link upgrade failed", zap.Error(err))
		return
	}
	conn := NewConn(ws, l.logger)
	l.dispatcher.Register(conn)
	l.logger.Info("master connected")
	conn.Serve(context.Background())
	l.logger.Warn("master-link connection closed")
}
