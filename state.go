package reqflow

import "sync/atomic"

// RequestState is the seven-variant lifecycle enum shared by Request and
// its Container/Handler compositions.
type RequestState int32

const (
	StatePaused RequestState = iota
	StateIdle
	StateWaiting
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s RequestState) String() string {
	switch s {
	case StatePaused:
		return "Paused"
	case StateIdle:
		return "Idle"
	case StateWaiting:
		return "Waiting"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is one of the absorbing states.
func (s RequestState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// requestTransitions[from] is the set of states reachable directly from from.
// Requests use this table; containers use a separate, broader table below.
var requestTransitions = map[RequestState]map[RequestState]bool{
	StatePaused:  set(StateIdle, StateWaiting, StateCancelled),
	StateIdle:    set(StateRunning, StateCancelled),
	StateWaiting: set(StateIdle, StateCancelled),
	StateRunning: set(StateIdle, StatePaused, StateWaiting, StateCompleted, StateFailed, StateCancelled),
}

// containerTransitions permits broader movement because a container
// aggregates other requests and may be reset/reused after reaching a
// state that would otherwise be absorbing for a plain Request.
var containerTransitions = map[RequestState]map[RequestState]bool{
	StatePaused:    set(StateIdle, StateRunning, StateWaiting, StateCancelled),
	StateIdle:      set(StateRunning, StatePaused, StateWaiting, StateCancelled),
	StateWaiting:   set(StateIdle, StateRunning, StatePaused, StateCancelled),
	StateRunning:   set(StateIdle, StatePaused, StateWaiting, StateCompleted, StateFailed, StateCancelled),
	StateCancelled: set(StateIdle),
	StateCompleted: set(StateIdle),
}

func set(states ...RequestState) map[RequestState]bool {
	m := make(map[RequestState]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// OnChangeFunc is invoked after a successful transition, synchronously on
// the goroutine that made the transition.
type OnChangeFunc func(from, to RequestState)

// StateMachine is a lock-free, CAS-guarded atomic state holder with
// transition-table validation. The zero value is not usable; use
// NewStateMachine.
type StateMachine struct {
	state       atomic.Int32
	table       map[RequestState]map[RequestState]bool
	onChange    OnChangeFunc
	isContainer bool
}

// NewStateMachine returns a machine starting in initial, validating
// transitions against the plain Request table.
func NewStateMachine(initial RequestState, onChange OnChangeFunc) *StateMachine {
	m := &StateMachine{table: requestTransitions, onChange: onChange}
	m.state.Store(int32(initial))
	return m
}

// NewContainerStateMachine is like NewStateMachine but validates against
// the broader container transition table.
func NewContainerStateMachine(initial RequestState, onChange OnChangeFunc) *StateMachine {
	m := &StateMachine{table: containerTransitions, onChange: onChange, isContainer: true}
	m.state.Store(int32(initial))
	return m
}

// State returns the current state.
func (m *StateMachine) State() RequestState {
	return RequestState(m.state.Load())
}

// TryTransition attempts to move the machine from its current state to to.
// It retries the CAS loop on contention and returns false (without
// altering state or invoking onChange) if the transition is not permitted
// from whatever the current state turns out to be, including when the
// current state is terminal (request table) and therefore absorbing.
func (m *StateMachine) TryTransition(to RequestState) bool {
	for {
		from := RequestState(m.state.Load())
		if !m.isContainer && from.IsTerminal() {
			return false
		}
		allowed := m.table[from]
		if allowed == nil || !allowed[to] {
			return false
		}
		if m.state.CompareAndSwap(int32(from), int32(to)) {
			if m.onChange != nil {
				m.onChange(from, to)
			}
			return true
		}
		// lost the race; retry against the now-current state.
	}
}

// ForceTransition unconditionally sets the state, bypassing the transition
// table. It is used by TrySetIdle (the "force + report success" semantics
// adopted in DESIGN.md), by a request's Yield to restore Running after a
// mid-flight pause, and by Container to publish its aggregate state.
func (m *StateMachine) ForceTransition(to RequestState) {
	from := RequestState(m.state.Swap(int32(to)))
	if m.onChange != nil && from != to {
		m.onChange(from, to)
	}
}
