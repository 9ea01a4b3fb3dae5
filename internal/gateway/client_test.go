package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/meshbotics/gateway/internal/avatar"
)

type fakeActivityPublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeActivityPublisher) Publish(ctx context.Context, avatarID, event string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeActivityPublisher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

type noopUserRef struct{}

func (noopUserRef) CreateContainer(string) error                                      { return nil }
func (noopUserRef) DestroyContainer(string) error                                     { return nil }
func (noopUserRef) AddNode(string, string, string, string, []string, string, string) error { return nil }
func (noopUserRef) RemoveNode(string, string) error                                   { return nil }
func (noopUserRef) AddInterface(string, string, string, string, string) error         { return nil }
func (noopUserRef) RemoveInterface(string, string) error                              { return nil }
func (noopUserRef) AddParameter(string, string, interface{}) error                    { return nil }
func (noopUserRef) RemoveParameter(string, string) error                              { return nil }
func (noopUserRef) AddConnection(string, string) error                                { return nil }
func (noopUserRef) RemoveConnection(string, string) error                             { return nil }

func newTestClient(reconnectTimeout time.Duration) (*Client, *fakeActivityPublisher) {
	pub := &fakeActivityPublisher{}
	return New(reconnectTimeout, pub, zap.NewNop()), pub
}

func TestRequestAvatarIDThenAuthenticateSucceeds(t *testing.T) {
	c, pub := newTestClient(time.Minute)
	id := avatar.Identity("robot-1")

	c.RequestAvatarID(id, "secret")
	session := avatar.New(id, noopUserRef{}, zap.NewNop())
	c.RegisterRobot(session)

	got, err := c.RequestAvatar(Credentials{ID: id, Key: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != session {
		t.Errorf("expected the registered session to be returned")
	}

	events := pub.snapshot()
	if len(events) != 2 || events[0] != "created" || events[1] != "authenticated" {
		t.Errorf("unexpected event sequence: %v", events)
	}
}

func TestRequestAvatarWrongKeyIsUnauthorized(t *testing.T) {
	c, pub := newTestClient(time.Minute)
	id := avatar.Identity("robot-1")
	c.RequestAvatarID(id, "secret")
	c.RegisterRobot(avatar.New(id, noopUserRef{}, zap.NewNop()))

	_, err := c.RequestAvatar(Credentials{ID: id, Key: "wrong"})
	if !errors.Is(err, ErrUnauthorizedLogin) {
		t.Fatalf("expected ErrUnauthorizedLogin, got %v", err)
	}

	events := pub.snapshot()
	if len(events) == 0 || events[len(events)-1] != "unauthorized_login" {
		t.Errorf("expected trailing unauthorized_login event, got %v", events)
	}
}

// TestReauthenticateAfterOrphaningRearmsConsumedKey exercises scenario 5
// (spec §3, §8): the first successful auth consumes the pending entry, so
// a bare reconnect attempt with no re-arm would fail RequestAvatar. The
// master republishes a pending entry for the orphaned session (what
// masterlink's createNamespace does on a duplicate namespace whose
// session is Orphaned) before the robot's second handshake, which must
// then succeed and let the session return to Live.
func TestReauthenticateAfterOrphaningRearmsConsumedKey(t *testing.T) {
	c, _ := newTestClient(time.Minute)
	id := avatar.Identity("robot-1")

	c.RequestAvatarID(id, "secret")
	session := avatar.New(id, noopUserRef{}, zap.NewNop())
	c.RegisterRobot(session)

	first, err := c.RequestAvatar(Credentials{ID: id, Key: "secret"})
	if err != nil {
		t.Fatalf("unexpected error on first auth: %v", err)
	}
	if err := first.RegisterConnectionToRobot(&noopTransport{}); err != nil {
		t.Fatalf("unexpected error attaching transport: %v", err)
	}

	// The key is now consumed; a second handshake without a re-arm fails.
	if _, err := c.RequestAvatar(Credentials{ID: id, Key: "secret"}); !errors.Is(err, ErrUnauthorizedLogin) {
		t.Fatalf("expected consumed key to be unauthorized before re-arm, got %v", err)
	}

	first.UnregisterConnectionToRobot()
	if first.State() != avatar.StateOrphaned {
		t.Fatalf("expected session orphaned after losing its transport, got %v", first.State())
	}

	c.RequestAvatarID(id, "secret2")

	second, err := c.RequestAvatar(Credentials{ID: id, Key: "secret2"})
	if err != nil {
		t.Fatalf("unexpected error reauthenticating after re-arm: %v", err)
	}
	if second != session {
		t.Errorf("expected the same session to be returned across reconnect")
	}
	if err := second.RegisterConnectionToRobot(&noopTransport{}); err != nil {
		t.Fatalf("unexpected error re-attaching transport: %v", err)
	}
	if second.State() != avatar.StateLive {
		t.Errorf("expected session Live after reconnect, got %v", second.State())
	}
}

type noopTransport struct{}

func (noopTransport) SendText([]byte) error   { return nil }
func (noopTransport) SendBinary([]byte) error { return nil }
func (noopTransport) Close() error            { return nil }

func TestRequestAvatarUnknownIDIsUnauthorized(t *testing.T) {
	c, _ := newTestClient(time.Minute)
	_, err := c.RequestAvatar(Credentials{ID: avatar.Identity("ghost"), Key: "whatever"})
	if !errors.Is(err, ErrUnauthorizedLogin) {
		t.Fatalf("expected ErrUnauthorizedLogin, got %v", err)
	}
}

func TestConnectionEstablishedCancelsDeathTimerAndEmitsReconnectWhenOrphaned(t *testing.T) {
	c, pub := newTestClient(time.Minute)
	id := avatar.Identity("robot-1")
	c.RegisterRobot(avatar.New(id, noopUserRef{}, zap.NewNop()))

	c.ConnectionLost(id)
	c.ConnectionEstablished(id)

	events := pub.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events (created, connection_lost, reconnected), got %v", events)
	}
	if events[2] != "reconnected" {
		t.Errorf("expected reconnected as the last event, got %q", events[2])
	}
}

func TestConnectionEstablishedNoEventWhenNotOrphaned(t *testing.T) {
	c, pub := newTestClient(time.Minute)
	id := avatar.Identity("robot-1")
	c.RegisterRobot(avatar.New(id, noopUserRef{}, zap.NewNop()))

	c.ConnectionEstablished(id)

	events := pub.snapshot()
	if len(events) != 1 || events[0] != "created" {
		t.Errorf("expected only the created event, got %v", events)
	}
}

func TestConnectionLostIsIdempotent(t *testing.T) {
	c, pub := newTestClient(time.Minute)
	id := avatar.Identity("robot-1")
	c.RegisterRobot(avatar.New(id, noopUserRef{}, zap.NewNop()))

	c.ConnectionLost(id)
	c.ConnectionLost(id)

	events := pub.snapshot()
	lostCount := 0
	for _, e := range events {
		if e == "connection_lost" {
			lostCount++
		}
	}
	if lostCount != 1 {
		t.Errorf("expected exactly 1 connection_lost event from repeated calls, got %d", lostCount)
	}
}

func TestUnregisterRobotRemovesFromRegistry(t *testing.T) {
	c, pub := newTestClient(time.Minute)
	id := avatar.Identity("robot-1")
	c.RegisterRobot(avatar.New(id, noopUserRef{}, zap.NewNop()))

	c.UnregisterRobot(id)

	if _, ok := c.Lookup(id); ok {
		t.Errorf("expected robot gone after unregister")
	}
	events := pub.snapshot()
	if events[len(events)-1] != "destroyed" {
		t.Errorf("expected trailing destroyed event, got %v", events)
	}
}

func TestReapDestroysSessionAfterReconnectTimeout(t *testing.T) {
	c, pub := newTestClient(20 * time.Millisecond)
	id := avatar.Identity("robot-1")
	session := avatar.New(id, noopUserRef{}, zap.NewNop())
	c.RegisterRobot(session)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Lookup(id); !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := c.Lookup(id); ok {
		t.Fatalf("expected session reaped after reconnect timeout elapsed")
	}
	if session.State() != avatar.StateDestroyed {
		t.Errorf("expected reaped session destroyed, got %v", session.State())
	}

	events := pub.snapshot()
	if events[len(events)-1] != "reaped" {
		t.Errorf("expected trailing reaped event, got %v", events)
	}
}

func TestActiveCountReflectsRegistrySize(t *testing.T) {
	c, _ := newTestClient(time.Minute)
	if c.ActiveCount() != 0 {
		t.Errorf("expected 0 active initially")
	}
	c.RegisterRobot(avatar.New(avatar.Identity("a"), noopUserRef{}, zap.NewNop()))
	c.RegisterRobot(avatar.New(avatar.Identity("b"), noopUserRef{}, zap.NewNop()))
	if c.ActiveCount() != 2 {
		t.Errorf("expected 2 active, got %d", c.ActiveCount())
	}
}

func TestTerminateDestroysAllAndClearsRegistry(t *testing.T) {
	c, pub := newTestClient(time.Minute)
	c.RegisterRobot(avatar.New(avatar.Identity("a"), noopUserRef{}, zap.NewNop()))
	c.RegisterRobot(avatar.New(avatar.Identity("b"), noopUserRef{}, zap.NewNop()))

	c.Terminate(context.Background())

	if c.ActiveCount() != 0 {
		t.Errorf("expected registry empty after Terminate")
	}
	events := pub.snapshot()
	destroyedCount := 0
	for _, e := range events {
		if e == "destroyed" {
			destroyedCount++
		}
	}
	if destroyedCount != 2 {
		t.Errorf("expected 2 destroyed events, got %d", destroyedCount)
	}
}
