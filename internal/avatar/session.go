// Package avatar implements the robot-side session: the per-robot state
// machine ("avatar") that mediates between a robot's WebSocket connection
// and the master-side user ref, and owns the robot's interface registry.
package avatar

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/meshbotics/gateway/internal/iface"
	"github.com/meshbotics/gateway/internal/protocol"
	"github.com/meshbotics/gateway/internal/reassembly"
)

// Identity is the stable identifier a session is known by to the
// gateway, the master, and the robot itself.
type Identity string

// UserRef is the outbound half of the master-link object capability:
// the RPCs a session invokes on the master for every client-driven
// operation (spec §4.2, §6). Its concrete transport
// (internal/masterlink) is opaque to this package. A call returns
// ErrDeadConnection when the underlying channel is known gone.
type UserRef interface {
	CreateContainer(containerTag string) error
	DestroyContainer(containerTag string) error
	AddNode(containerTag, nodeTag, pkg, exe string, args []string, name, namespace string) error
	RemoveNode(containerTag, nodeTag string) error
	AddInterface(endpointTag, ifaceTag, ifaceType, className, addr string) error
	RemoveInterface(endpointTag, ifaceTag string) error
	AddParameter(containerTag, name string, value interface{}) error
	RemoveParameter(containerTag, name string) error
	AddConnection(tagA, tagB string) error
	RemoveConnection(tagA, tagB string) error
}

// Transport is the minimal surface a session needs from the robot's
// live WebSocket connection. internal/server supplies the concrete
// implementation; avatar never imports gorilla/websocket directly.
type Transport interface {
	SendText(data []byte) error
	SendBinary(data []byte) error
	Close() error
}

// Session is a single robot's avatar: the FSM tracking its connection
// lifecycle, its interface registry, and its link to the master's user
// ref.
type Session struct {
	id     Identity
	logger *zap.Logger
	user   UserRef

	buf *reassembly.Buffer

	// opLock serializes every top-level entrypoint below, including
	// the nested iface.Handle.Receive call chain invoked from
	// ReceivedFromClient. sendToClient is reached from inside that
	// chain and therefore must never try to acquire opLock itself.
	opLock sync.Mutex

	// mu guards only the fields sendToClient and state readers touch,
	// so that callback re-entry from within an opLock-held call never
	// deadlocks against opLock.
	mu        sync.Mutex
	fsm       *fsm
	transport Transport

	interfaces *iface.Registry
}

// New creates a Pending-state session with no transport attached yet.
func New(id Identity, user UserRef, logger *zap.Logger) *Session {
	s := &Session{
		id:     id,
		logger: logger.Named("avatar").With(zap.String("avatar_id", string(id))),
		user:   user,
		buf:    reassembly.New(),
		fsm:    newFSM(),
	}
	s.interfaces = iface.NewRegistry(func(tag string, code iface.TypeCode) (iface.Handle, error) {
		return iface.NewHandle(tag, code, s.sendToClient), nil
	})
	return s
}

// ID returns the session's identity.
func (s *Session) ID() Identity { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.current()
}

// Buffer exposes the session's reassembly buffer so
// gateway.Client.SweepReassembly can age it out alongside every other
// session's.
func (s *Session) Buffer() *reassembly.Buffer { return s.buf }

// RegisterConnectionToRobot attaches a live transport and transitions
// the session into Live. It is valid from Pending (first
// authentication) or Orphaned (reconnect within the grace window).
func (s *Session) RegisterConnectionToRobot(t Transport) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	s.mu.Lock()
	ok := s.fsm.transitionTo(StateLive)
	if ok {
		s.transport = t
	}
	current := s.fsm.current()
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: cannot attach connection from state %s", ErrInvalidRequest, current)
	}
	return nil
}

// UnregisterConnectionToRobot detaches the transport and transitions
// the session into Orphaned. It is a no-op if the session has no live
// transport.
func (s *Session) UnregisterConnectionToRobot() {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	s.mu.Lock()
	if s.fsm.current() == StateLive {
		s.fsm.transitionTo(StateOrphaned)
		s.transport = nil
	}
	s.mu.Unlock()
}

// invoke runs an RPC against the user ref and, if it reports the
// channel dead, destroys the session in place (spec §4.2: "the session
// raises DeadConnection" and §7: "the session is marked for
// destruction on the next event-loop turn; WebSocket is closed").
// Callers must already hold opLock.
func (s *Session) invoke(rpc func() error) error {
	err := rpc()
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeadConnection) {
		s.doDestroy()
		return ErrDeadConnection
	}
	return err
}

// CreateContainer forwards containerTag to the master as an RPC.
func (s *Session) CreateContainer(containerTag string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error { return s.user.CreateContainer(containerTag) })
}

// DestroyContainer forwards containerTag to the master as an RPC.
func (s *Session) DestroyContainer(containerTag string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error { return s.user.DestroyContainer(containerTag) })
}

// AddNode forwards a node declaration to the master as an RPC.
func (s *Session) AddNode(containerTag, nodeTag, pkg, exe string, args []string, name, namespace string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error {
		return s.user.AddNode(containerTag, nodeTag, pkg, exe, args, name, namespace)
	})
}

// RemoveNode forwards a node teardown to the master as an RPC.
func (s *Session) RemoveNode(containerTag, nodeTag string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error { return s.user.RemoveNode(containerTag, nodeTag) })
}

// AddInterface forwards an interface declaration to the master as an
// RPC. This is distinct from CreateInterface: that one is the
// master-inbound call that actually instantiates a local Handle.
func (s *Session) AddInterface(endpointTag, ifaceTag, ifaceType, className, addr string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error {
		return s.user.AddInterface(endpointTag, ifaceTag, ifaceType, className, addr)
	})
}

// RemoveInterface forwards an interface teardown to the master as an RPC.
func (s *Session) RemoveInterface(endpointTag, ifaceTag string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error { return s.user.RemoveInterface(endpointTag, ifaceTag) })
}

// AddParameter forwards a parameter assignment to the master as an RPC.
func (s *Session) AddParameter(containerTag, name string, value interface{}) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error { return s.user.AddParameter(containerTag, name, value) })
}

// RemoveParameter forwards a parameter removal to the master as an RPC.
func (s *Session) RemoveParameter(containerTag, name string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error { return s.user.RemoveParameter(containerTag, name) })
}

// AddConnection forwards a wiring request to the master as an RPC.
func (s *Session) AddConnection(tagA, tagB string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error { return s.user.AddConnection(tagA, tagB) })
}

// RemoveConnection forwards an unwiring request to the master as an RPC.
func (s *Session) RemoveConnection(tagA, tagB string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.invoke(func() error { return s.user.RemoveConnection(tagA, tagB) })
}

// ActivateInterface / DeactivateInterface validate that tag is present
// in the registry (ConfigureInterfaceState, spec §4.1). Unlike
// Add/RemoveInterface these are purely local: the spec lists no
// corresponding master RPC for them, only a bool mapping on the wire.
// Neither toggles any state on the handle itself — delivery through
// deliver/Receive is unaffected by activation state either way, since
// the handles this repo instantiates (converter/forwarder stubs) have
// no notion of being paused. A deployment that needs activation to gate
// delivery would track the flag here and check it in deliver.
func (s *Session) ActivateInterface(tag string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	if _, ok := s.interfaces.Get(tag); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInterface, tag)
	}
	return nil
}

func (s *Session) DeactivateInterface(tag string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	if _, ok := s.interfaces.Get(tag); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInterface, tag)
	}
	return nil
}

// CreateInterface is the master-inbound RPC that instantiates a new
// interface handle from the fixed type table and inserts it into the
// registry keyed by tag. A duplicate tag is reported as iface.ErrConflict
// (§4.2), which the master-link dispatcher raises back to the master
// as InternalError.
func (s *Session) CreateInterface(tag string, code iface.TypeCode) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.interfaces.Create(tag, code)
}

// ReceivedFromClient handles one DataMessage envelope from the robot.
// If env references binary placeholders it parks in the reassembly
// buffer and returns (false, nil) until the matching binary frames
// arrive; once complete (or if there was nothing to park), it routes
// the payload to env.Dest's handle.
func (s *Session) ReceivedFromClient(env *protocol.Envelope) (delivered bool, err error) {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	if s.buf.Park(env) {
		return false, nil
	}
	return true, s.deliver(env)
}

// ReceivedBinaryFromClient resolves one binary frame against the
// reassembly buffer. If it completes a parked message, that message is
// delivered to its destination handle.
func (s *Session) ReceivedBinaryFromClient(uri string, payload []byte) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	env, complete := s.buf.Resolve(uri, payload)
	if !complete {
		return nil
	}
	return s.deliver(env)
}

// deliver routes a fully-assembled envelope to its destination handle.
// Callers must already hold opLock. A tag with no registered handle is
// ErrUnknownInterface (§4.2).
func (s *Session) deliver(env *protocol.Envelope) error {
	h, ok := s.interfaces.Get(env.Dest)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInterface, env.Dest)
	}
	return h.Receive(env.Data)
}

// sendToClient writes data addressed to tag out over the live
// transport, walking it for binary placeholders first. If the session
// isn't Live it silently drops the message — data messages are never
// buffered across disconnects (spec §4.2). It is called as a callback
// from within a Handle.Receive invocation, itself reached through
// opLock-held deliver — so it must only ever touch mu, never opLock.
func (s *Session) sendToClient(tag string, data map[string]interface{}) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()

	if t == nil {
		return nil
	}

	sanitized, blobs, err := protocol.WalkOutbound(map[string]interface{}(data))
	if err != nil {
		return fmt.Errorf("walk outbound: %w", err)
	}

	codec := protocol.NewCodec()
	env := protocol.NewEnvelope(protocol.TypeDataMessage, string(s.id), tag, sanitized.(map[string]interface{}))
	wire, err := codec.EncodeText(env)
	if err != nil {
		return fmt.Errorf("encode outbound: %w", err)
	}
	if err := t.SendText(wire); err != nil {
		s.onTransportFailure()
		return nil
	}
	for _, b := range blobs {
		frame := append([]byte(b.URI), b.Payload...)
		if err := t.SendBinary(frame); err != nil {
			s.onTransportFailure()
			return nil
		}
	}
	return nil
}

// onTransportFailure is invoked when a write to an apparently-live
// transport fails. It tears the connection down the same way
// UnregisterConnectionToRobot does.
func (s *Session) onTransportFailure() {
	s.mu.Lock()
	s.fsm.transitionTo(StateOrphaned)
	s.transport = nil
	s.mu.Unlock()
}

// Destroy idempotently releases every resource the session holds:
// drops the WebSocket if still attached, destroys every interface in
// registry insertion order, clears the registry, and moves the FSM
// into its terminal state (spec §4.2 destroy(), §8 post-conditions).
func (s *Session) Destroy() error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	s.doDestroy()
	return nil
}

// doDestroy assumes the caller already holds opLock.
func (s *Session) doDestroy() {
	s.mu.Lock()
	if s.fsm.current() == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.fsm.transitionTo(StateDestroyed)
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	s.interfaces.DestroyAll()
	if t != nil {
		_ = t.Close()
	}
}
