package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/scenario"
	"github.com/pavelanni/parley/internal/scoring"
)

// Deps are the collaborators a Coach is built from.
type Deps struct {
	Transcriber Transcriber
	Responder   Responder
	Synthesizer Synthesizer
	Store       Persistence
	Publisher   scoring.Publisher
	// Emotions overrides the per-coach Feed when set.
	Emotions func(userID string) EmotionSource
	Options  []Option
}

// Turn is the outcome of one user utterance.
type Turn struct {
	User  model.ConversationMessage `json:"user"`
	Reply model.ConversationMessage `json:"reply"`
	Score int                       `json:"score"`
	State State                     `json:"state"`
}

// Result is what End hands back once the session is stored.
type Result struct {
	Record   *model.SessionRecord `json:"record"`
	Outcome  scoring.Outcome      `json:"outcome"`
	Feedback string               `json:"feedback"`
}

// Coach runs one user's practice sessions against the collaborators.
type Coach struct {
	userID   string
	engine   *Engine
	feed     *Feed
	emotions EmotionSource
	deps     Deps
	progress *scoring.Progression

	endMu   sync.Mutex
	pending *pendingEnd
}

// pendingEnd is a finished session whose record or progress has not been
// stored yet.
type pendingEnd struct {
	res   *Result
	saved bool
}

// NewCoach creates a coach for userID.
func NewCoach(userID string, deps Deps) *Coach {
	c := &Coach{
		userID:   userID,
		engine:   NewEngine(userID, deps.Options...),
		feed:     NewFeed(HistoryLimit),
		deps:     deps,
		progress: scoring.NewProgression(deps.Store, deps.Publisher),
	}
	c.emotions = c.feed
	if deps.Emotions != nil {
		c.emotions = deps.Emotions(userID)
	}
	return c
}

// Engine exposes the underlying state machine.
func (c *Coach) Engine() *Engine { return c.engine }

// Feed returns the coach's push-based emotion feed.
func (c *Coach) Feed() *Feed { return c.feed }

// Snapshot returns the live session view.
func (c *Coach) Snapshot() Snapshot { return c.engine.Snapshot() }

// Start begins a session and voices the scenario's opening line. A previous
// session that could not be stored is saved first; Start fails if that
// still does not succeed.
func (c *Coach) Start(ctx context.Context, script *scenario.Script) (Snapshot, error) {
	if err := c.flush(ctx); err != nil {
		return Snapshot{}, err
	}
	t, err := c.engine.Start(script)
	if err != nil {
		return Snapshot{}, err
	}
	slog.Info("session started", "user_id", c.userID, "session_id", t.SessionID, "scenario", script.ID)

	c.feed.Bind(t)
	err = c.emotions.Start(context.WithoutCancel(ctx), func(s model.EmotionSample) {
		if err := c.engine.IngestEmotion(t, s); err != nil {
			slog.Debug("emotion sample discarded", "session_id", t.SessionID, "error", err)
		}
	})
	if err != nil {
		slog.Warn("emotion feed not started", "session_id", t.SessionID, "error", err)
	}

	opening := script.Opening()
	ref := c.speak(ctx, opening.Content, "")
	if _, err := c.engine.RecordAITurn(t, opening.Content, ref); err != nil {
		return Snapshot{}, err
	}
	return c.engine.Snapshot(), nil
}

// BeginRecording marks the user as speaking.
func (c *Coach) BeginRecording() error {
	t, ok := c.engine.Current()
	if !ok {
		return ErrNotActive
	}
	return c.engine.Transition(t, StateRecording)
}

// Ingest records one emotion sample directly.
func (c *Coach) Ingest(s model.EmotionSample) error {
	t, ok := c.engine.Current()
	if !ok {
		return ErrNotActive
	}
	return c.engine.IngestEmotion(t, s)
}

// SubmitAudio transcribes a recorded turn and answers it.
func (c *Coach) SubmitAudio(ctx context.Context, audio model.Audio) (Turn, error) {
	t, ok := c.engine.Current()
	if !ok {
		return Turn{}, ErrNotActive
	}
	if err := c.engine.Transition(t, StateTranscribing); err != nil {
		return Turn{}, err
	}

	text, err := c.deps.Transcriber.Transcribe(ctx, audio)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyTranscript
	}
	if err != nil {
		c.abandon(t)
		return Turn{}, &TurnError{Stage: StageTranscription, Err: err}
	}
	slog.Debug("transcribed turn", "session_id", t.SessionID, "text", text)
	if err := c.engine.Transition(t, StateGeneratingReply); err != nil {
		return Turn{}, err
	}
	return c.reply(ctx, t, strings.TrimSpace(text))
}

// SubmitText answers a typed turn, skipping transcription.
func (c *Coach) SubmitText(ctx context.Context, text string) (Turn, error) {
	t, ok := c.engine.Current()
	if !ok {
		return Turn{}, ErrNotActive
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyTranscript
	}
	if err := c.engine.Transition(t, StateGeneratingReply); err != nil {
		return Turn{}, err
	}
	return c.reply(ctx, t, text)
}

// reply generates the partner's answer to text. Nothing is recorded unless
// generation succeeds.
func (c *Coach) reply(ctx context.Context, t Ticket, text string) (Turn, error) {
	in, err := c.engine.turnInput(t)
	if err != nil {
		return Turn{}, err
	}

	pending := model.ConversationMessage{Speaker: model.SpeakerUser, Content: text, Emotions: in.recent}
	history := append(in.messages, pending)
	answer, err := c.deps.Responder.Generate(ctx, history, in.script, in.emotion, in.intensity)
	if err != nil {
		c.abandon(t)
		return Turn{}, &TurnError{Stage: StageGeneration, Err: err}
	}

	var turn Turn
	if turn.User, err = c.engine.RecordUserTurn(t, text, in.recent); err != nil {
		return Turn{}, err
	}
	if err := c.engine.Transition(t, StateSpeaking); err != nil {
		return Turn{}, err
	}
	ref := c.speak(ctx, answer, in.emotion)
	if turn.Reply, err = c.engine.RecordAITurn(t, answer, ref); err != nil {
		return Turn{}, err
	}
	if turn.Score, err = c.engine.UpdateConversationScore(t); err != nil {
		return Turn{}, err
	}
	if err := c.engine.Transition(t, StateAwaitingUserTurn); err != nil {
		return Turn{}, err
	}
	turn.State = StateAwaitingUserTurn
	return turn, nil
}

// speak synthesizes and publishes text. Failures leave the turn without audio.
func (c *Coach) speak(ctx context.Context, text, emotion string) string {
	if c.deps.Synthesizer == nil || text == "" {
		return ""
	}
	audio, err := c.deps.Synthesizer.Synthesize(ctx, text, emotion)
	if err != nil {
		slog.Warn("speech synthesis failed", "user_id", c.userID, "error", &TurnError{Stage: StageSynthesis, Err: err})
		return ""
	}
	ref, err := c.deps.Synthesizer.Play(ctx, audio)
	if err != nil {
		slog.Warn("audio playback failed", "user_id", c.userID, "error", err)
		return ""
	}
	return ref
}

// abandon returns a failed turn to the user.
func (c *Coach) abandon(t Ticket) {
	if err := c.engine.Transition(t, StateAwaitingUserTurn); err != nil {
		slog.Debug("turn not reset", "session_id", t.SessionID, "error", err)
	}
}

// End finishes the session, stores the record, and folds it into the
// user's progression. The record is returned even when a later step fails,
// and it is kept on the coach: calling End again while no session runs
// retries the steps that failed.
func (c *Coach) End(ctx context.Context) (*Result, error) {
	c.endMu.Lock()
	defer c.endMu.Unlock()

	if _, ok := c.engine.Current(); !ok && c.pending != nil {
		slog.Info("retrying unsaved session", "user_id", c.userID, "session_id", c.pending.res.Record.ID)
		return c.finishLocked(ctx)
	}

	c.emotions.Stop()
	script := c.engine.Scenario()

	rec, err := c.engine.End()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotActive
	}
	rec.Achievements = scoring.SessionAchievements(script, *rec)
	c.pending = &pendingEnd{res: &Result{Record: rec}}
	return c.finishLocked(ctx)
}

// Unsaved returns the finished record that is still waiting to be stored.
func (c *Coach) Unsaved() (model.SessionRecord, bool) {
	c.endMu.Lock()
	defer c.endMu.Unlock()
	if c.pending == nil {
		return model.SessionRecord{}, false
	}
	return *c.pending.res.Record, true
}

// flush retries a pending record, if any.
func (c *Coach) flush(ctx context.Context) error {
	c.endMu.Lock()
	defer c.endMu.Unlock()
	if c.pending == nil {
		return nil
	}
	_, err := c.finishLocked(ctx)
	return err
}

// finishLocked stores the pending record and applies it to the user's
// progress. The pending record is cleared once the profile is updated.
func (c *Coach) finishLocked(ctx context.Context) (*Result, error) {
	p := c.pending
	res, rec := p.res, p.res.Record

	if !p.saved {
		id, err := c.deps.Store.SaveSession(ctx, *rec)
		if err != nil {
			return res, &TurnError{Stage: StagePersistence, Err: err}
		}
		rec.ID = id
		p.saved = true
		slog.Info("session ended", "user_id", c.userID, "session_id", id, "score", rec.Score, "messages", len(rec.Messages))
	}

	out, err := c.progress.Apply(ctx, *rec)
	if err != nil && out.Profile.ID == "" {
		// The profile was not touched, so Apply can run again.
		return res, &TurnError{Stage: StageProgression, Err: err}
	}
	c.pending = nil
	res.Outcome = out
	if err != nil {
		res.Feedback = model.FallbackFeedback
		return res, &TurnError{Stage: StageProgression, Err: err}
	}

	res.Feedback, err = c.deps.Responder.GenerateFeedback(ctx, rec.Messages, rec.Emotions, rec.Score)
	if err != nil || res.Feedback == "" {
		if err != nil {
			slog.Warn("feedback generation failed", "session_id", rec.ID, "error", err)
		}
		res.Feedback = model.FallbackFeedback
	}
	return res, nil
}

// IsPrecondition reports whether err is a caller error rather than a
// collaborator failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNotActive) || errors.Is(err, ErrAlreadyActive) || errors.Is(err, ErrInvalidTransition)
}
