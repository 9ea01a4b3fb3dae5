// Package gateway implements the process-wide robot client registry: the
// pending-authentication table, the set of sessions the gateway
// currently owns, and the death-candidate timers that reclaim sessions
// a robot never reconnects to.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshbotics/gateway/internal/activity"
	"github.com/meshbotics/gateway/internal/avatar"
	"github.com/meshbotics/gateway/internal/metrics"
)

// ActivityPublisher is the subset of activity.Publisher the registry
// needs; an interface here keeps internal/gateway from importing
// internal/activity's Redis dependency directly. A nil publisher
// disables activity events.
type ActivityPublisher interface {
	Publish(ctx context.Context, avatarID, event string, fields map[string]string) error
}

// ErrUnauthorizedLogin is returned by RequestAvatar when no matching
// pending entry exists, or its key doesn't match.
// Deliberately the same error for "unknown id" and "wrong key" — the
// spec requires never revealing which credential element failed
// (§4.3, §7).
var ErrUnauthorizedLogin = errors.New("unauthorized login")

// Credentials is whatever a connecting robot presents: its claimed
// identity and the pre-shared key the master published for it ahead
// of time (spec §6 "credentials object passed to requestAvatarId").
type Credentials struct {
	ID  avatar.Identity
	Key string
}

// pendingEntry is a provisional avatar awaiting its first successful
// authentication, published by the master's createNamespace call.
type pendingEntry struct {
	key string
}

// deathCandidate tracks an orphaned (or not-yet-authenticated)
// session's reconnect grace timer.
type deathCandidate struct {
	timer *time.Timer
	// orphaned is set when ConnectionLost armed the timer, as opposed to
	// RegisterRobot's initial-authentication window.
	orphaned bool
}

// Client is the gateway's process-wide robot registry (spec §4.3). One
// instance exists per gateway process.
type Client struct {
	logger           *zap.Logger
	reconnectTimeout time.Duration
	activity         ActivityPublisher

	mu              sync.Mutex
	pendingRobots   map[avatar.Identity]*pendingEntry
	robots          map[avatar.Identity]*avatar.Session
	deathCandidates map[avatar.Identity]*deathCandidate
}

// New creates an empty Client. activity may be nil to disable
// lifecycle event publishing.
func New(reconnectTimeout time.Duration, activity ActivityPublisher, logger *zap.Logger) *Client {
	return &Client{
		logger:           logger.Named("gateway"),
		reconnectTimeout: reconnectTimeout,
		activity:         activity,
		pendingRobots:    make(map[avatar.Identity]*pendingEntry),
		robots:           make(map[avatar.Identity]*avatar.Session),
		deathCandidates:  make(map[avatar.Identity]*deathCandidate),
	}
}

func (c *Client) emit(id avatar.Identity, event string) {
	metrics.RecordAvatarEvent(event)
	if c.activity == nil {
		return
	}
	if err := c.activity.Publish(context.Background(), string(id), event, nil); err != nil {
		c.logger.Debug("activity publish failed", zap.Error(err))
	}
}

// RequestAvatarID publishes a pending reservation for id with the key
// the master expects the robot to present, called from createNamespace
// (spec §4.3 remote_createNamespace). The single-use key is consumed
// on the first successful RequestAvatar.
func (c *Client) RequestAvatarID(id avatar.Identity, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingRobots[id] = &pendingEntry{key: key}
}

// RegisterRobot adopts a newly created session into the registry, right
// after the master's createNamespace call creates it (spec §4.3:
// adoption happens at creation time, not at the Pending->Live
// transition). The initial authentication window is armed immediately,
// so an un-claimed reservation is reaped the same way an orphaned
// session is.
func (c *Client) RegisterRobot(session *avatar.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := session.ID()
	c.robots[id] = session
	c.armDeathTimer(id)
	c.emit(id, activity.EventCreated)
}

// RequestAvatar authenticates a connecting robot against creds and, on
// success, consumes the pending reservation and returns the session
// ready for RegisterConnectionToRobot.
func (c *Client) RequestAvatar(creds Credentials) (*avatar.Session, error) {
	c.mu.Lock()
	pending, ok := c.pendingRobots[creds.ID]
	if !ok || pending.key != creds.Key {
		c.mu.Unlock()
		c.emit(creds.ID, activity.EventUnauthorizedLogin)
		return nil, ErrUnauthorizedLogin
	}
	delete(c.pendingRobots, creds.ID)
	session, ok := c.robots[creds.ID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrUnauthorizedLogin
	}
	c.emit(creds.ID, activity.EventAuthenticated)
	return session, nil
}

// ConnectionEstablished cancels id's death-candidate timer, if any, as
// a robot successfully attaches (first auth, or reconnect).
func (c *Client) ConnectionEstablished(id avatar.Identity) {
	c.mu.Lock()
	dc, armed := c.deathCandidates[id]
	wasOrphaned := armed && dc.orphaned
	c.cancelDeathTimer(id)
	c.mu.Unlock()
	if wasOrphaned {
		c.emit(id, activity.EventReconnected)
	}
}

// ConnectionLost arms a fresh death-candidate timer for id, replacing
// the initial-authentication timer if that one is still running. It is
// idempotent: a repeated call while the session is already orphaned has
// no effect (spec §4.3: idempotent arm/cancel semantics).
func (c *Client) ConnectionLost(id avatar.Identity) {
	c.mu.Lock()
	dc, armed := c.deathCandidates[id]
	lost := !armed || !dc.orphaned
	if lost {
		c.cancelDeathTimer(id)
		c.armDeathTimer(id)
		c.deathCandidates[id].orphaned = true
	}
	c.mu.Unlock()
	if lost {
		c.emit(id, activity.EventConnectionLost)
	}
}

// UnregisterRobot removes id from the registry immediately, cancelling
// any pending death timer. Used for explicit master-driven teardown
// rather than a reconnect timeout.
func (c *Client) UnregisterRobot(id avatar.Identity) {
	c.mu.Lock()
	c.cancelDeathTimer(id)
	delete(c.robots, id)
	delete(c.pendingRobots, id)
	c.mu.Unlock()
	c.emit(id, activity.EventDestroyed)
}

// Lookup returns the session registered under id, if any.
func (c *Client) Lookup(id avatar.Identity) (*avatar.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.robots[id]
	return s, ok
}

// SweepReassembly ages out every session's reassembly buffer. Callers
// run this on a ticker at MSG_QUEUE_TIMEOUT/4 (spec §4.1).
func (c *Client) SweepReassembly(maxAge time.Duration) {
	c.mu.Lock()
	sessions := make([]*avatar.Session, 0, len(c.robots))
	for _, s := range c.robots {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Buffer().Sweep(time.Now(), maxAge)
	}
}

// ActiveCount reports the number of sessions the gateway currently
// owns (pending, live and orphaned), for the distributor's
// least-loaded placement (spec §4.4).
func (c *Client) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.robots)
	metrics.SessionsActive.Set(float64(n))
	return n
}

// Terminate destroys every session the gateway owns and clears
// pendingRobots, asserting both sets empty afterward (spec §4.3). Used
// during graceful shutdown.
func (c *Client) Terminate(ctx context.Context) {
	c.mu.Lock()
	for id := range c.robots {
		c.cancelDeathTimer(id)
	}
	sessions := make([]*avatar.Session, 0, len(c.robots))
	for _, s := range c.robots {
		sessions = append(sessions, s)
	}
	c.robots = make(map[avatar.Identity]*avatar.Session)
	c.pendingRobots = make(map[avatar.Identity]*pendingEntry)
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Destroy()
		c.emit(s.ID(), activity.EventDestroyed)
	}
}

// armDeathTimer starts id's reconnect grace timer. Callers must hold mu.
func (c *Client) armDeathTimer(id avatar.Identity) {
	if _, exists := c.deathCandidates[id]; exists {
		return
	}
	t := time.AfterFunc(c.reconnectTimeout, func() { c.reap(id) })
	c.deathCandidates[id] = &deathCandidate{timer: t}
}

// cancelDeathTimer stops and forgets id's reconnect grace timer, if
// any. Callers must hold mu.
func (c *Client) cancelDeathTimer(id avatar.Identity) {
	if dc, exists := c.deathCandidates[id]; exists {
		dc.timer.Stop()
		delete(c.deathCandidates, id)
	}
}

// reap destroys a session whose reconnect (or initial-authentication)
// grace window elapsed without the robot coming back.
func (c *Client) reap(id avatar.Identity) {
	c.mu.Lock()
	delete(c.deathCandidates, id)
	delete(c.pendingRobots, id)
	session, ok := c.robots[id]
	if ok {
		delete(c.robots, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	_ = session.Destroy()
	c.emit(id, activity.EventReaped)
	c.logger.Info("reaped session past reconnect timeout", zap.String("avatar_id", string(id)))
}
