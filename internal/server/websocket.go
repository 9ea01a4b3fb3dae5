package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshbotics/gateway/internal/avatar"
	"github.com/meshbotics/gateway/internal/gateway"
	"github.com/meshbotics/gateway/internal/protocol"
)

// Server is the robot-facing WebSocket HTTP handler: it authenticates
// the upgrade request against the gateway's pending-robot table, then
// pumps frames between the connection and the matching avatar session
// (spec §4.1, §6).
type Server struct {
	client   *gateway.Client
	codec    *protocol.Codec
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New builds a Server backed by client.
func New(client *gateway.Client, logger *zap.Logger) *Server {
	return &Server{
		client: client,
		codec:  protocol.NewCodec(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Named("server"),
	}
}

// HandleWebSocket is the entrypoint registered on the ext-port HTTP
// mux. Authentication happens before the protocol upgrade completes:
// the handshake carries (userID, robotID, key) as query parameters —
// this repo's concrete choice for the credentials object spec §6
// leaves opaque to the core.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, robotID, key := q.Get("userID"), q.Get("robotID"), q.Get("key")
	id := avatar.Identity(userID + "/" + robotID)

	session, err := s.client.RequestAvatar(gateway.Credentials{ID: id, Key: key})
	if err != nil {
		s.logger.Warn("rejected unauthorized handshake", zap.String("avatar_id", string(id)))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	transport := newConnTransport(conn, s.logger)
	transport.startReadLimits()

	if err := session.RegisterConnectionToRobot(transport); err != nil {
		s.logger.Error("failed to attach connection", zap.String("avatar_id", string(id)), zap.Error(err))
		transport.Close()
		return
	}
	s.client.ConnectionEstablished(id)
	s.logger.Info("robot connected", zap.String("avatar_id", string(id)))

	s.readPump(session, transport, id)
}

// readPump reads frames off conn until it closes, dispatching each to
// the session and reporting any dispatch error back as a text error
// frame (spec §4.1 "Error reporting back to robot"). It returns only
// once the connection is gone, at which point it orphans the session.
func (s *Server) readPump(session *avatar.Session, t *connTransport, id avatar.Identity) {
	defer func() {
		session.UnregisterConnectionToRobot()
		s.client.ConnectionLost(id)
		t.Close()
		s.logger.Info("robot disconnected", zap.String("avatar_id", string(id)))
	}()

	for {
		kind, raw, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", zap.String("avatar_id", string(id)), zap.Error(err))
			}
			return
		}

		var dispatchErr error
		switch kind {
		case websocket.TextMessage:
			dispatchErr = s.handleText(session, raw)
		case websocket.BinaryMessage:
			dispatchErr = s.handleBinary(session, raw)
		}

		if dispatchErr != nil {
			s.reportError(t, dispatchErr)
		}
	}
}

func (s *Server) handleText(session *avatar.Session, raw []byte) error {
	env, err := s.codec.DecodeText(raw)
	if err != nil {
		return err
	}
	return dispatch(session, env)
}

func (s *Server) handleBinary(session *avatar.Session, raw []byte) error {
	uri, payload, err := protocol.ParseBinaryFrame(raw)
	if err != nil {
		// An unparseable binary frame matches no parked entry either
		// way; the spec has the handler silently drop unmatched
		// binary frames rather than error the connection.
		s.logger.Debug("dropped malformed binary frame", zap.Error(err))
		return nil
	}
	return session.ReceivedBinaryFromClient(uri, payload)
}

func (s *Server) reportError(t *connTransport, err error) {
	wire, encErr := s.codec.EncodeError(err)
	if encErr != nil {
		s.logger.Error("failed to encode error frame", zap.Error(encErr))
		return
	}
	if err := t.SendText(wire); err != nil {
		s.logger.Debug("failed to send error frame", zap.Error(err))
	}
}
