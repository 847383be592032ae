package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotActive is returned by operations that need a running session.
	ErrNotActive = errors.New("no active session")
	// ErrAlreadyActive is returned by Start while a session is running.
	ErrAlreadyActive = errors.New("session already active")
	// ErrInvalidTransition is returned when a sub-state move is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStaleTicket marks a result that belongs to a session which has
	// already ended or been replaced. It matches ErrNotActive with errors.Is.
	ErrStaleTicket = fmt.Errorf("%w: stale ticket", ErrNotActive)
	// ErrEmptyTranscript is a transcription failure for audio with no speech.
	ErrEmptyTranscript = errors.New("transcript is empty")
	// ErrInvalidSample rejects malformed emotion samples.
	ErrInvalidSample = errors.New("invalid emotion sample")
	// ErrFeedRunning is returned when an emotion feed is started twice.
	ErrFeedRunning = errors.New("emotion feed already running")
	// ErrFeedFull is returned by Feed.Push when the buffer has no room.
	ErrFeedFull = errors.New("emotion feed full")
)

// Stage names the collaborator call that failed during a turn.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageGeneration    Stage = "generation"
	StageSynthesis     Stage = "synthesis"
	StagePersistence   Stage = "persistence"
	StageProgression   Stage = "progression"
)

// TurnError reports a recoverable collaborator failure. During a turn the
// session stays active and the failed turn is not recorded; at End the
// finished record is kept for a retry.
type TurnError struct {
	Stage Stage
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
