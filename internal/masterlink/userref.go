package masterlink

import (
	"context"
	"errors"

	"github.com/meshbotics/gateway/internal/avatar"
)

// RemoteUserRef implements avatar.UserRef by forwarding every call as
// an RPC over a Conn to the master, scoped to one avatar identity.
type RemoteUserRef struct {
	conn *Conn
	id   avatar.Identity
}

// NewRemoteUserRef builds a UserRef bound to id over conn.
func NewRemoteUserRef(conn *Conn, id avatar.Identity) *RemoteUserRef {
	return &RemoteUserRef{conn: conn, id: id}
}

func (r *RemoteUserRef) call(method string, params ...interface{}) error {
	_, err := r.conn.Call(context.Background(), method, append([]interface{}{string(r.id)}, params...)...)
	if err != nil {
		if errors.Is(err, ErrChannelDead) {
			return avatar.ErrDeadConnection
		}
		return err
	}
	return nil
}

func (r *RemoteUserRef) CreateContainer(containerTag string) error {
	return r.call("createContainer", containerTag)
}

func (r *RemoteUserRef) DestroyContainer(containerTag string) error {
	return r.call("destroyContainer", containerTag)
}

func (r *RemoteUserRef) AddNode(containerTag, nodeTag, pkg, exe string, args []string, name, namespace string) error {
	return r.call("addNode", containerTag, nodeTag, pkg, exe, args, name, namespace)
}

func (r *RemoteUserRef) RemoveNode(containerTag, nodeTag string) error {
	return r.call("removeNode", containerTag, nodeTag)
}

func (r *RemoteUserRef) AddInterface(endpointTag, ifaceTag, ifaceType, className, addr string) error {
	return r.call("addInterface", endpointTag, ifaceTag, ifaceType, className, addr)
}

func (r *RemoteUserRef) RemoveInterface(endpointTag, ifaceTag string) error {
	return r.call("removeInterface", endpointTag, ifaceTag)
}

func (r *RemoteUserRef) AddParameter(containerTag, name string, value interface{}) error {
	return r.call("addParameter", containerTag, name, value)
}

func (r *RemoteUserRef) RemoveParameter(containerTag, name string) error {
	return r.call("removeParameter", containerTag, name)
}

func (r *RemoteUserRef) AddConnection(tagA, tagB string) error {
	return r.call("addConnection", tagA, tagB)
}

func (r *RemoteUserRef) RemoveConnection(tagA, tagB string) error {
	return r.call("removeConnection", tagA, tagB)
}
