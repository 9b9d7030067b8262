package utils

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/thoas/go-funk"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// StateMachine is a finite state machine over a closed set of states with an
// adjacency map of legal transitions. States with no outgoing transitions are
// terminal.
type StateMachine[S comparable] struct {
	name        string
	transitions map[S][]S

	lock  sync.RWMutex
	state S

	// held for the duration of Bracket
	bracketLock sync.Mutex
}

func NewStateMachine[S comparable](name string, initial S, transitions map[S][]S) *StateMachine[S] {
	return &StateMachine[S]{
		name:        name,
		transitions: transitions,
		state:       initial,
	}
}

func (sm *StateMachine[S]) State() S {
	sm.lock.RLock()
	defer sm.lock.RUnlock()

	return sm.state
}

func (sm *StateMachine[S]) In(states ...S) bool {
	return funk.Contains(states, sm.State())
}

func (sm *StateMachine[S]) IsTerminal() bool {
	sm.lock.RLock()
	defer sm.lock.RUnlock()

	return len(sm.transitions[sm.state]) == 0
}

func (sm *StateMachine[S]) CanTransition(to S) bool {
	sm.lock.RLock()
	defer sm.lock.RUnlock()

	return sm.canTransitionLocked(to)
}

func (sm *StateMachine[S]) canTransitionLocked(to S) bool {
	return funk.Contains(sm.transitions[sm.state], to)
}

// Transition moves to the given state, failing if the adjacency map does not
// allow it from the current state.
func (sm *StateMachine[S]) Transition(to S) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	if !sm.canTransitionLocked(to) {
		return errors.Wrap(ErrInvalidTransition, fmt.Sprintf("%s: %v -> %v", sm.name, sm.state, to))
	}
	sm.state = to
	return nil
}

func (sm *StateMachine[S]) TryTransition(to S) bool {
	return sm.Transition(to) == nil
}

// Preempt forces the state regardless of legality and returns the previous
// state. It does not wait for an in-flight Bracket.
func (sm *StateMachine[S]) Preempt(to S) S {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	from := sm.state
	sm.state = to
	return from
}

// Bracket enters the given state, runs fn and then tries to move to exit
// regardless of the outcome of fn. The exit transition is a no-op if the state
// was preempted while fn was running. Brackets are serialized.
func (sm *StateMachine[S]) Bracket(enter S, exit S, fn func() error) error {
	sm.bracketLock.Lock()
	defer sm.bracketLock.Unlock()

	if err := sm.Transition(enter); err != nil {
		return err
	}

	err := fn()
	sm.TryTransition(exit)
	return err
}
