// Package session drives a single practice conversation from start to end
// and binds it to the speech, language and storage collaborators.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/scenario"
	"github.com/pavelanni/parley/internal/scoring"
)

const (
	// HistoryLimit caps the rolling emotion history.
	HistoryLimit = 50
	// TaggedEmotions is how many recent samples a user message carries.
	TaggedEmotions = 3
)

// Ticket identifies one run of the engine. Results computed outside the
// engine lock carry the ticket captured before the call; the engine rejects
// them once that session has ended.
type Ticket struct {
	SessionID string
	gen       uint64
}

// Snapshot is a read-only view of the live session.
type Snapshot struct {
	SessionID        string                      `json:"session_id,omitempty"`
	ScenarioID       string                      `json:"scenario_id,omitempty"`
	State            State                       `json:"state"`
	Score            int                         `json:"score"`
	CurrentEmotion   string                      `json:"current_emotion,omitempty"`
	CurrentIntensity float64                     `json:"current_intensity"`
	StartedAt        time.Time                   `json:"started_at,omitzero"`
	Elapsed          time.Duration               `json:"elapsed_ns"`
	OverTime         bool                        `json:"over_time"`
	Messages         []model.ConversationMessage `json:"messages"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs overrides message and session id generation.
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// Engine is the session state machine. It is safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	userID string
	now    func() time.Time
	newID  func() string

	state            State
	gen              uint64
	sessionID        string
	script           *scenario.Script
	startedAt        time.Time
	messages         []model.ConversationMessage
	emotions         []model.EmotionSample
	history          []model.EmotionSample
	currentEmotion   string
	currentIntensity float64
	score            int
}

// NewEngine creates an idle engine for the given user.
func NewEngine(userID string, opts ...Option) *Engine {
	e := &Engine{
		userID: userID,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a session on script.
func (e *Engine) Start(script *scenario.Script) (Ticket, error) {
	if script == nil {
		return Ticket{}, fmt.Errorf("start session: %w", scenario.ErrInvalidScript)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Active() {
		return Ticket{}, ErrAlreadyActive
	}
	e.resetLocked()
	e.gen++
	e.sessionID = e.newID()
	e.script = script
	e.startedAt = e.now()
	e.state = StateAwaitingUserTurn
	return Ticket{SessionID: e.sessionID, gen: e.gen}, nil
}

// Current returns the ticket of the running session.
func (e *Engine) Current() (Ticket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Active() {
		return Ticket{}, false
	}
	return Ticket{SessionID: e.sessionID, gen: e.gen}, true
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Scenario returns the script of the running session, or nil when idle.
func (e *Engine) Scenario() *scenario.Script {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.script
}

// checkLocked validates t against the running session.
func (e *Engine) checkLocked(t Ticket) error {
	if t.gen == 0 && !e.state.Active() {
		return ErrNotActive
	}
	if !e.state.Active() || t.gen != e.gen {
		return ErrStaleTicket
	}
	return nil
}

// Transition moves the session to another active sub-state.
func (e *Engine) Transition(t Ticket, next State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(t); err != nil {
		return err
	}
	if !CanTransition(e.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.state, next)
	}
	e.state = next
	return nil
}

// RecordUserTurn appends a user message tagged with the last samples of recent.
func (e *Engine) RecordUserTurn(t Ticket, text string, recent []model.EmotionSample) (model.ConversationMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(t); err != nil {
		return model.ConversationMessage{}, err
	}
	if len(recent) > TaggedEmotions {
		recent = recent[len(recent)-TaggedEmotions:]
	}
	msg := model.ConversationMessage{
		ID:        e.newID(),
		Speaker:   model.SpeakerUser,
		Content:   text,
		CreatedAt: e.now(),
	}
	if len(recent) > 0 {
		msg.Emotions = append([]model.EmotionSample(nil), recent...)
	}
	e.messages = append(e.messages, msg)
	return msg, nil
}

// RecordAITurn appends a conversation-partner message.
func (e *Engine) RecordAITurn(t Ticket, text, audioRef string) (model.ConversationMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(t); err != nil {
		return model.ConversationMessage{}, err
	}
	msg := model.ConversationMessage{
		ID:        e.newID(),
		Speaker:   model.SpeakerAI,
		Content:   text,
		CreatedAt: e.now(),
		AudioRef:  audioRef,
	}
	e.messages = append(e.messages, msg)
	return msg, nil
}

// IngestEmotion records a sample. It is accepted in every active sub-state
// and overwrites the current emotion.
func (e *Engine) IngestEmotion(t Ticket, s model.EmotionSample) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSample, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(t); err != nil {
		return err
	}
	if s.Timestamp == 0 {
		s.Timestamp = e.now().UnixMilli()
	}
	e.emotions = append(e.emotions, s)
	e.history = append(e.history, s)
	if over := len(e.history) - HistoryLimit; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	e.currentEmotion = s.Emotion
	e.currentIntensity = s.Intensity
	return nil
}

// UpdateConversationScore folds the current emotion and engagement into the
// running score and returns it.
func (e *Engine) UpdateConversationScore(t Ticket) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(t); err != nil {
		return 0, err
	}
	users := model.CountSpeaker(e.messages, model.SpeakerUser)
	e.score = scoring.NextScore(e.score, e.currentEmotion, e.currentIntensity, users)
	return e.score, nil
}

// RecentEmotions returns up to n of the newest samples, oldest first.
func (e *Engine) RecentEmotions(n int) []model.EmotionSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return recentLocked(e.history, n)
}

func recentLocked(history []model.EmotionSample, n int) []model.EmotionSample {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if n > len(history) {
		n = len(history)
	}
	return append([]model.EmotionSample(nil), history[len(history)-n:]...)
}

// History returns the capped emotion history, oldest first.
func (e *Engine) History() []model.EmotionSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.EmotionSample(nil), e.history...)
}

// Snapshot returns a copy of the live session state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		SessionID:        e.sessionID,
		State:            e.state,
		Score:            e.score,
		CurrentEmotion:   e.currentEmotion,
		CurrentIntensity: e.currentIntensity,
		StartedAt:        e.startedAt,
		Messages:         append([]model.ConversationMessage{}, e.messages...),
	}
	if !e.state.Active() {
		return snap
	}
	snap.ScenarioID = e.script.ID
	snap.Elapsed = e.now().Sub(e.startedAt)
	if limit := e.script.Success.MaxDuration(); limit > 0 && snap.Elapsed > limit {
		snap.OverTime = true
	}
	return snap
}

// turnInput is what a reply needs from the live session.
type turnInput struct {
	script    *scenario.Script
	messages  []model.ConversationMessage
	recent    []model.EmotionSample
	emotion   string
	intensity float64
}

func (e *Engine) turnInput(t Ticket) (turnInput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(t); err != nil {
		return turnInput{}, err
	}
	return turnInput{
		script:    e.script,
		messages:  append([]model.ConversationMessage(nil), e.messages...),
		recent:    recentLocked(e.history, TaggedEmotions),
		emotion:   e.currentEmotion,
		intensity: e.currentIntensity,
	}, nil
}

// End finishes the running session and returns its record. Called while
// idle it returns nil and no error.
func (e *Engine) End() (*model.SessionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Active() {
		return nil, nil
	}

	ended := e.now()
	lines := make([]string, 0, len(e.messages))
	for _, m := range e.messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Speaker, m.Content))
	}
	rec := &model.SessionRecord{
		ID:           e.sessionID,
		UserID:       e.userID,
		ScenarioID:   e.script.ID,
		StartedAt:    e.startedAt,
		EndedAt:      &ended,
		Messages:     e.messages,
		Emotions:     e.emotions,
		Score:        e.score,
		Achievements: []string{},
		Transcript:   strings.Join(lines, "\n"),
	}
	if rec.Messages == nil {
		rec.Messages = []model.ConversationMessage{}
	}
	if rec.Emotions == nil {
		rec.Emotions = []model.EmotionSample{}
	}
	e.resetLocked()
	return rec, nil
}

func (e *Engine) resetLocked() {
	e.state = StateIdle
	e.sessionID = ""
	e.script = nil
	e.startedAt = time.Time{}
	e.messages = nil
	e.emotions = nil
	e.history = nil
	e.currentEmotion = ""
	e.currentIntensity = 0
	e.score = 0
}
