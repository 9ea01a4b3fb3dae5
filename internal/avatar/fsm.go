package avatar

// State is one of the lifecycle states an avatar session moves through.
type State int

const (
	// StatePending is the state a session starts in: created by the
	// gateway on the master's behalf, but not yet authenticated by the
	// robot that owns it.
	StatePending State = iota
	// StateLive is an authenticated session with an active client
	// connection.
	StateLive
	// StateOrphaned is a previously-Live session whose connection
	// dropped; it survives until ReconnectTimeout elapses or the robot
	// reconnects.
	StateOrphaned
	// StateDestroyed is terminal: every resource has been released.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateLive:
		return "Live"
	case StateOrphaned:
		return "Orphaned"
	case StateDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// fsm is the allowed-transitions-table state machine driving a single
// avatar session (adapted from the robot package's generic FSM).
type fsm struct {
	currentState State
	transitions  map[State][]State
}

func newFSM() *fsm {
	return &fsm{
		currentState: StatePending,
		transitions: map[State][]State{
			StatePending:  {StateLive, StateDestroyed},
			StateLive:     {StateOrphaned, StateDestroyed},
			StateOrphaned: {StateLive, StateDestroyed},
			StateDestroyed: {},
		},
	}
}

func (f *fsm) current() State {
	return f.currentState
}

func (f *fsm) canTransitionTo(target State) bool {
	allowed, ok := f.transitions[f.currentState]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

func (f *fsm) transitionTo(target State) bool {
	if !f.canTransitionTo(target) {
		return false
	}
	f.currentState = target
	return true
}
