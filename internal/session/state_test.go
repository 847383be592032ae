package session

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	all := []State{StateIdle, StateAwaitingUserTurn, StateRecording, StateTranscribing, StateGeneratingReply, StateSpeaking}

	for _, from := range all {
		for _, to := range transitions[from] {
			if !to.Active() {
				t.Errorf("%s -> %s leaves the active states", from, to)
			}
			if to == from {
				t.Errorf("self transition %s", from)
			}
		}
	}
	if len(transitions[StateIdle]) != 0 {
		t.Error("idle must only be left through Start")
	}

	// Every active state can reach AwaitingUserTurn again.
	for _, s := range all[1:] {
		if !reachable(s, StateAwaitingUserTurn) {
			t.Errorf("%s cannot return to awaiting_user_turn", s)
		}
	}

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateAwaitingUserTurn, StateRecording, true},
		{StateRecording, StateTranscribing, true},
		{StateTranscribing, StateGeneratingReply, true},
		{StateGeneratingReply, StateSpeaking, true},
		{StateSpeaking, StateAwaitingUserTurn, true},
		{StateRecording, StateGeneratingReply, false},
		{StateGeneratingReply, StateRecording, false},
		{StateSpeaking, StateRecording, false},
		{StateAwaitingUserTurn, StateSpeaking, false},
		{StateAwaitingUserTurn, StateIdle, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func reachable(from, to State) bool {
	seen := map[State]bool{from: true}
	queue := []State{from}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, n := range transitions[s] {
			if n == to {
				return true
			}
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

func TestEngineTransition(t *testing.T) {
	e := testEngine(t)
	tk, _ := e.Start(coffeeShop(t))
	if err := e.Transition(tk, StateRecording); err != nil {
		t.Fatalf("to recording: %v", err)
	}
	err := e.Transition(tk, StateSpeaking)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("recording -> speaking = %v, want ErrInvalidTransition", err)
	}
	if e.State() != StateRecording {
		t.Errorf("rejected transition changed state to %s", e.State())
	}
}

func TestStateString(t *testing.T) {
	if got := StateGeneratingReply.String(); got != "generating_reply" {
		t.Errorf("String() = %q", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Errorf("String() = %q", got)
	}
	b, _ := StateSpeaking.MarshalText()
	if string(b) != "speaking" {
		t.Errorf("MarshalText() = %q", b)
	}
}

func TestParseState(t *testing.T) {
	for s := range stateNames {
		var got State
		if err := got.UnmarshalText([]byte(s.String())); err != nil || got != s {
			t.Errorf("UnmarshalText(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseState("dancing"); err == nil {
		t.Error("ParseState should reject unknown names")
	}
}
