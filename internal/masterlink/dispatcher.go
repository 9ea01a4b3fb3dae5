package masterlink

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/meshbotics/gateway/internal/avatar"
	"github.com/meshbotics/gateway/internal/gateway"
	"github.com/meshbotics/gateway/internal/iface"
)

// Dispatcher answers the master's inbound RPCs on a gateway-side Conn:
// createNamespace, getAddress, createInterface, destroy (spec §6).
type Dispatcher struct {
	client *gateway.Client
	host   string
	port   int
	logger *zap.Logger
}

// NewDispatcher builds a Dispatcher bound to the gateway's robot
// registry and the address the distributor should advertise for it.
func NewDispatcher(client *gateway.Client, host string, port int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{client: client, host: host, port: port, logger: logger.Named("masterlink.dispatcher")}
}

// Register wires this dispatcher's handlers onto conn.
func (d *Dispatcher) Register(conn *Conn) {
	conn.Handle("createNamespace", func(ctx context.Context, params []interface{}) (interface{}, error) {
		return d.createNamespace(conn, params)
	})
	conn.Handle("getAddress", func(ctx context.Context, params []interface{}) (interface{}, error) {
		return net.JoinHostPort(d.host, strconv.Itoa(d.port)), nil
	})
	conn.Handle("createInterface", func(ctx context.Context, params []interface{}) (interface{}, error) {
		return d.createInterface(params)
	})
	conn.Handle("destroy", func(ctx context.Context, params []interface{}) (interface{}, error) {
		return d.destroy(params)
	})
}

// createNamespace(userID, robotID, key) -> sessionRef. The userRef
// half of the spec's signature is the conn itself: every RPC this
// session issues back to the master travels over the same Conn,
// scoped by avatar identity via RemoteUserRef.
func (d *Dispatcher) createNamespace(conn *Conn, params []interface{}) (interface{}, error) {
	userID, robotID, key, err := parseNamespaceParams(params)
	if err != nil {
		return nil, err
	}
	id := avatar.Identity(userID + "/" + robotID)

	if existing, exists := d.client.Lookup(id); exists {
		// A reconnect within the grace window: the robot's first
		// successful auth already consumed its pending entry (spec §3
		// lifecycle, §8 scenario 5), so the master re-announces the
		// same namespace to re-arm it rather than creating a fresh
		// session. Anything other than Orphaned means this is a
		// genuine duplicate, not a reconnect.
		if existing.State() != avatar.StateOrphaned {
			return nil, fmt.Errorf("InternalError: namespace %q already exists", id)
		}
		d.client.RequestAvatarID(id, key)
		d.logger.Info("namespace re-armed for reconnect", zap.String("avatar_id", string(id)), zap.String("key_hash", hashKey(key)))
		return string(id), nil
	}

	userRef := NewRemoteUserRef(conn, id)
	session := avatar.New(id, userRef, d.logger)
	d.client.RegisterRobot(session)
	d.client.RequestAvatarID(id, key)
	d.logger.Info("namespace created", zap.String("avatar_id", string(id)), zap.String("key_hash", hashKey(key)))
	return string(id), nil
}

func (d *Dispatcher) createInterface(params []interface{}) (interface{}, error) {
	sessionID, typeName, tag, err := parseCreateInterfaceParams(params)
	if err != nil {
		return nil, err
	}
	session, ok := d.client.Lookup(avatar.Identity(sessionID))
	if !ok {
		return nil, fmt.Errorf("InternalError: no session %q", sessionID)
	}
	code, err := iface.ParseTypeCode(typeName)
	if err != nil {
		return nil, fmt.Errorf("InternalError: %v", err)
	}
	if err := session.CreateInterface(tag, code); err != nil {
		return nil, fmt.Errorf("InternalError: %v", err)
	}
	return tag, nil
}

func (d *Dispatcher) destroy(params []interface{}) (interface{}, error) {
	sessionID, err := parseDestroyParams(params)
	if err != nil {
		return nil, err
	}
	session, ok := d.client.Lookup(avatar.Identity(sessionID))
	if !ok {
		return nil, nil
	}
	d.client.UnregisterRobot(session.ID())
	return nil, session.Destroy()
}

func parseNamespaceParams(params []interface{}) (userID, robotID, key string, err error) {
	if len(params) < 3 {
		return "", "", "", fmt.Errorf("InvalidRequest: createNamespace expects (userID, robotID, key)")
	}
	userID, _ = params[0].(string)
	robotID, _ = params[1].(string)
	key, _ = params[2].(string)
	return userID, robotID, key, nil
}

func parseCreateInterfaceParams(params []interface{}) (sessionID, typeName, tag string, err error) {
	if len(params) < 3 {
		return "", "", "", fmt.Errorf("InvalidRequest: createInterface expects (sessionID, iTypeCode, tag)")
	}
	sessionID, _ = params[0].(string)
	typeName, _ = params[1].(string)
	tag, _ = params[2].(string)
	return sessionID, typeName, tag, nil
}

func parseDestroyParams(params []interface{}) (sessionID string, err error) {
	if len(params) < 1 {
		return "", fmt.Errorf("InvalidRequest: destroy expects (sessionID)")
	}
	sessionID, _ = params[0].(string)
	return sessionID, nil
}

// hashKey avoids ever logging the pre-shared key itself.
func hashKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:2] + "..." + key[len(key)-2:]
}
