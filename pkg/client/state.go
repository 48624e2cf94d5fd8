package client

// State is the conversation state. Exactly one state holds at any moment and
// all transitions are serialized through the client's internal lock.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateIdle          State = "idle"
	StatePaused        State = "paused"
	StateListening     State = "listening"
	StateUserSpeaking  State = "user_speaking"
	StateWaiting       State = "waiting"
	StatePlaying       State = "playing"
	StateCompleted     State = "completed"
	StateInterrupted   State = "interrupted"
	StateError         State = "error"
)

// validTransitions maps each state to the states it may move to, beyond the
// wildcard targets handled in validTransition.
var validTransitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateWaiting},
	StateIdle:          {StateListening, StateWaiting, StateInitializing},
	StateListening:     {StateUserSpeaking, StateWaiting},
	StateUserSpeaking:  {StateListening, StateWaiting},
	StateWaiting:       {StatePlaying, StateListening},
	StatePlaying:       {StatePaused},
	StatePaused:        {StatePlaying},
	StateInterrupted:   {StateListening, StateWaiting, StateInitializing},
	StateError:         {StateInitializing},
}

// validTransition reports whether moving from one state to another is
// allowed. Error, interrupted, idle, and completed are reachable from any
// state (fatal errors, user interrupts, stop, and session end respectively).
func validTransition(from, to State) bool {
	switch to {
	case StateError, StateInterrupted, StateIdle, StateCompleted:
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
