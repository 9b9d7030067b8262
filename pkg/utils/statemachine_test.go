package utils

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testState string

const (
	testOpen     testState = "open"
	testUpdating testState = "updating"
	testClosed   testState = "closed"
)

func newTestStateMachine() *StateMachine[testState] {
	return NewStateMachine("test", testOpen, map[testState][]testState{
		testOpen:     {testUpdating, testClosed},
		testUpdating: {testOpen, testClosed},
		testClosed:   {},
	})
}

func TestStateMachineTransition(t *testing.T) {
	sm := newTestStateMachine()
	require.Equal(t, testOpen, sm.State())

	require.NoError(t, sm.Transition(testUpdating))
	require.ErrorIs(t, sm.Transition(testUpdating), ErrInvalidTransition)
	require.True(t, sm.TryTransition(testClosed))
	require.True(t, sm.IsTerminal())
	require.False(t, sm.TryTransition(testOpen))
	require.Equal(t, testClosed, sm.State())
}

func TestStateMachinePreempt(t *testing.T) {
	sm := newTestStateMachine()
	require.NoError(t, sm.Transition(testClosed))

	from := sm.Preempt(testOpen)
	require.Equal(t, testClosed, from)
	require.Equal(t, testOpen, sm.State())
	require.True(t, sm.In(testUpdating, testOpen))
}

func TestStateMachineBracket(t *testing.T) {
	t.Run("returns to exit state on error", func(t *testing.T) {
		sm := newTestStateMachine()
		errBoom := errors.New("boom")
		err := sm.Bracket(testUpdating, testOpen, func() error {
			require.Equal(t, testUpdating, sm.State())
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)
		require.Equal(t, testOpen, sm.State())
	})

	t.Run("preempted state is kept", func(t *testing.T) {
		sm := newTestStateMachine()
		err := sm.Bracket(testUpdating, testOpen, func() error {
			sm.Preempt(testClosed)
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, testClosed, sm.State())
	})

	t.Run("cannot enter from terminal state", func(t *testing.T) {
		sm := newTestStateMachine()
		sm.Preempt(testClosed)
		called := false
		err := sm.Bracket(testUpdating, testOpen, func() error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, ErrInvalidTransition)
		require.False(t, called)
	})

	t.Run("brackets are serialized", func(t *testing.T) {
		sm := newTestStateMachine()
		var (
			mu      sync.Mutex
			active  int
			overlap bool
			wg      sync.WaitGroup
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = sm.Bracket(testUpdating, testOpen, func() error {
					mu.Lock()
					active++
					if active > 1 {
						overlap = true
					}
					mu.Unlock()
					time.Sleep(2 * time.Millisecond)
					mu.Lock()
					active--
					mu.Unlock()
					return nil
				})
			}()
		}
		wg.Wait()
		require.False(t, overlap)
		require.Equal(t, testOpen, sm.State())
	})
}
