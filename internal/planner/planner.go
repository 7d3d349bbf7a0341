// Package planner tracks each session's observational booking state.
// It is purely in-memory bookkeeping: the authoritative record of
// "did we book it" is the audit log plus the remote site's own
// confirmation, not this state machine. A planner restart simply
// starts every known session back at Idle.
package planner

import (
	"fmt"
	"sync"
)

// State is one node of a session's booking state machine.
type State string

const (
	Idle       State = "Idle"
	Monitoring State = "Monitoring"
	Claiming   State = "Claiming"
	Booking    State = "Booking"
	Booked     State = "Booked"
	Failed     State = "Failed"
)

// event names a transition trigger, for error messages and the
// internal transition table lookup.
type event string

const (
	onMonitoring     event = "on_monitoring"
	onAvailability   event = "on_availability"
	onBookingAttempt event = "on_booking_attempt"
	onBookingResult  event = "on_booking_result"
	onReset          event = "reset"
)

// transitions maps (state, event) to the resulting state. A missing
// entry is an invalid transition for that state.
var transitions = map[State]map[event]State{
	Idle:       {onMonitoring: Monitoring},
	Monitoring: {onMonitoring: Monitoring, onAvailability: Claiming, onBookingAttempt: Booking},
	Claiming:   {onMonitoring: Monitoring, onAvailability: Claiming, onBookingAttempt: Booking},
	Booking:    {onMonitoring: Monitoring},
	Booked:     {onMonitoring: Monitoring, onReset: Idle},
	Failed:     {onMonitoring: Monitoring, onAvailability: Claiming, onReset: Idle},
}

// ErrInvalidTransition is returned when an event is not valid from a
// session's current state.
type ErrInvalidTransition struct {
	From  State
	Event string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("planner: invalid transition %s from state %s", e.Event, e.From)
}

// Planner holds the current State of every session it has seen.
// Sessions not yet observed are implicitly Idle.
type Planner struct {
	mu     sync.Mutex
	states map[string]State
}

// New constructs an empty Planner.
func New() *Planner {
	return &Planner{states: make(map[string]State)}
}

// State returns the current state of session, defaulting to Idle for
// a session the planner has never transitioned.
func (p *Planner) State(sessionID string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked(sessionID)
}

func (p *Planner) stateLocked(sessionID string) State {
	s, ok := p.states[sessionID]
	if !ok {
		return Idle
	}
	return s
}

func (p *Planner) apply(sessionID string, ev event) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.stateLocked(sessionID)
	next, ok := transitions[current][ev]
	if !ok {
		return current, &ErrInvalidTransition{From: current, Event: string(ev)}
	}
	p.states[sessionID] = next
	return next, nil
}

// OnMonitoring transitions session into Monitoring from any state.
// Repeating this call while already Monitoring leaves the state
// unchanged (invariant of idempotence).
func (p *Planner) OnMonitoring(sessionID string) (State, error) {
	return p.apply(sessionID, onMonitoring)
}

// OnAvailability transitions session to Claiming. Valid from
// Monitoring, Claiming, or Failed.
func (p *Planner) OnAvailability(sessionID string) (State, error) {
	return p.apply(sessionID, onAvailability)
}

// OnBookingAttempt transitions session to Booking. Valid from
// Claiming or Monitoring.
func (p *Planner) OnBookingAttempt(sessionID string) (State, error) {
	return p.apply(sessionID, onBookingAttempt)
}

// OnBookingResult transitions session out of Booking to Booked (on
// success) or Failed (on failure).
func (p *Planner) OnBookingResult(sessionID string, success bool) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.stateLocked(sessionID)
	if current != Booking {
		return current, &ErrInvalidTransition{From: current, Event: string(onBookingResult)}
	}
	next := Failed
	if success {
		next = Booked
	}
	p.states[sessionID] = next
	return next, nil
}

// Reset returns a terminal session (Booked or Failed) to Idle so it
// can be retried.
func (p *Planner) Reset(sessionID string) (State, error) {
	return p.apply(sessionID, onReset)
}
