package playback

import (
	"fmt"
	"time"
)

// State is the transport state of the single output track.
type State int

const (
	// StateIdle means nothing is loaded or playback was stopped.
	StateIdle State = iota
	// StateLoading means a source is being loaded.
	StateLoading
	// StateStarting means play was requested and has not yet begun.
	StateStarting
	// StatePlaying means audio is audible.
	StatePlaying
	// StatePaused means playback is paused mid-track.
	StatePaused
	// StateEnded means the track played through.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// stateMachine guards transport transitions. It is not safe for concurrent
// use; the owning Player serializes access.
type stateMachine struct {
	current     State
	transitions map[State][]State
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current: StateIdle,
		transitions: map[State][]State{
			StateIdle:     {StateLoading},
			StateLoading:  {StateLoading, StateStarting, StateIdle},
			StateStarting: {StatePlaying, StatePaused, StateEnded, StateLoading, StateIdle},
			StatePlaying:  {StatePaused, StateEnded, StateLoading, StateIdle},
			StatePaused:   {StateStarting, StateLoading, StateIdle},
			StateEnded:    {StateLoading, StateIdle},
		},
	}
}

// transition moves to the target state or reports why it cannot.
func (sm *stateMachine) transition(to State) error {
	for _, s := range sm.transitions[sm.current] {
		if s == to {
			sm.current = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrStateTransition, sm.current, to)
}

// reset forces the machine back to idle from any state.
func (sm *stateMachine) reset() {
	sm.current = StateIdle
}

// Snapshot is the observable engine state.
type Snapshot struct {
	State              State
	IsPlaying          bool
	IsPaused           bool
	IsStartingPlayback bool
	CurrentTime        time.Duration
	Duration           time.Duration
	Volume             float64

	IsUnlocked      bool
	HasPendingAudio bool
	QueueLength     int
	CurrentSegment  string
}

// ShowUnlockPrompt reports whether the user needs to interact before any
// buffered audio can be heard.
func (s Snapshot) ShowUnlockPrompt() bool {
	return s.HasPendingAudio && !s.IsUnlocked
}
