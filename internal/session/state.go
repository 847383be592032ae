package session

import (
	"fmt"
	"slices"
)

// State is the phase of a practice session. Every state other than
// StateIdle is an active sub-state.
type State int

const (
	StateIdle State = iota
	StateAwaitingUserTurn
	StateRecording
	StateTranscribing
	StateGeneratingReply
	StateSpeaking
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateAwaitingUserTurn: "awaiting_user_turn",
	StateRecording:        "recording",
	StateTranscribing:     "transcribing",
	StateGeneratingReply:  "generating_reply",
	StateSpeaking:         "speaking",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState looks a state up by name.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateIdle, fmt.Errorf("unknown state %q", name)
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Active reports whether a session is in progress.
func (s State) Active() bool {
	return s != StateIdle
}

// transitions lists the sub-state moves allowed while a session is active.
// Entering and leaving StateIdle only happens through Start and End.
var transitions = map[State][]State{
	StateAwaitingUserTurn: {StateRecording, StateTranscribing, StateGeneratingReply},
	StateRecording:        {StateTranscribing, StateAwaitingUserTurn},
	StateTranscribing:     {StateGeneratingReply, StateAwaitingUserTurn},
	StateGeneratingReply:  {StateSpeaking, StateAwaitingUserTurn},
	StateSpeaking:         {StateAwaitingUserTurn},
}

// CanTransition reports whether the table allows moving from one state to another.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
