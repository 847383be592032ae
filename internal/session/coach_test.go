package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/scenario"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, model.Audio) (string, error) {
	return f.text, f.err
}

type fakeResponder struct {
	mu       sync.Mutex
	reply    string
	err      error
	feedback string
	block    chan struct{} // when set, Generate waits for it
	entered  chan struct{}
	history  []model.ConversationMessage
}

func (f *fakeResponder) Generate(_ context.Context, history []model.ConversationMessage, _ *scenario.Script, _ string, _ float64) (string, error) {
	f.mu.Lock()
	f.history = history
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	return f.reply, f.err
}

func (f *fakeResponder) GenerateFeedback(context.Context, []model.ConversationMessage, []model.EmotionSample, int) (string, error) {
	return f.feedback, nil
}

type fakeSynth struct {
	err error
}

func (f *fakeSynth) Synthesize(_ context.Context, text, _ string) (model.Audio, error) {
	if f.err != nil {
		return model.Audio{}, f.err
	}
	return model.Audio{Name: "reply.mp3", Format: "mp3", Data: []byte(text)}, nil
}

func (f *fakeSynth) Play(context.Context, model.Audio) (string, error) {
	return "clip-1", nil
}

type fakeStore struct {
	mu       sync.Mutex
	sessions []model.SessionRecord
	users    map[string]*model.UserProfile
	entries  []model.AchievementEntry
	saveErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*model.UserProfile{
		"user-1": {ID: "user-1", Level: 1, Medals: model.DefaultMedals()},
	}}
}

func (f *fakeStore) SaveSession(_ context.Context, rec model.SessionRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.sessions = append(f.sessions, rec)
	return "rec-1", nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) UpdateUser(_ context.Context, id string, upd model.UserUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return model.ErrNotFound
	}
	upd.Apply(u)
	return nil
}

func (f *fakeStore) ModifyUser(_ context.Context, id string, fn func(*model.UserProfile) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return model.ErrNotFound
	}
	return fn(u)
}

func (f *fakeStore) LogAchievement(_ context.Context, e model.AchievementEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fixture struct {
	coach *Coach
	tr    *fakeTranscriber
	resp  *fakeResponder
	synth *fakeSynth
	store *fakeStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tr:    &fakeTranscriber{text: "Oh, it's a novel."},
		resp:  &fakeResponder{reply: "I love novels!", feedback: "Nice work."},
		synth: &fakeSynth{},
		store: newFakeStore(),
	}
	f.coach = NewCoach("user-1", Deps{
		Transcriber: f.tr,
		Responder:   f.resp,
		Synthesizer: f.synth,
		Store:       f.store,
	})
	t.Cleanup(f.coach.Feed().Stop)
	return f
}

func TestCoachStartSendsOpening(t *testing.T) {
	f := newFixture(t)
	snap, err := f.coach.Start(context.Background(), coffeeShop(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Speaker != model.SpeakerAI {
		t.Fatalf("expected one opening AI message, got %+v", snap.Messages)
	}
	if snap.Messages[0].AudioRef != "clip-1" {
		t.Errorf("opening AudioRef = %q", snap.Messages[0].AudioRef)
	}
	if _, err := f.coach.Start(context.Background(), coffeeShop(t)); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second Start = %v, want ErrAlreadyActive", err)
	}
}

func TestCoachAudioTurn(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coach.Start(context.Background(), coffeeShop(t)); err != nil {
		t.Fatal(err)
	}
	if err := f.coach.BeginRecording(); err != nil {
		t.Fatalf("BeginRecording: %v", err)
	}
	if err := f.coach.Ingest(model.EmotionSample{Emotion: "joy", Intensity: 0.8, Confidence: 0.9, Timestamp: 5}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	turn, err := f.coach.SubmitAudio(context.Background(), model.Audio{Name: "turn.m4a", Data: []byte("x")})
	if err != nil {
		t.Fatalf("SubmitAudio: %v", err)
	}
	if turn.User.Content != "Oh, it's a novel." || turn.Reply.Content != "I love novels!" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.Score != 13 {
		t.Errorf("score = %d, want 13", turn.Score)
	}
	if len(turn.User.Emotions) != 1 {
		t.Errorf("user turn should carry recent emotions, got %d", len(turn.User.Emotions))
	}
	if got := f.coach.Snapshot().State; got != StateAwaitingUserTurn {
		t.Errorf("state after turn = %s", got)
	}
	// The responder sees the opening line plus the pending user message.
	if len(f.resp.history) != 2 || f.resp.history[1].Content != "Oh, it's a novel." {
		t.Errorf("responder history = %+v", f.resp.history)
	}
}

func TestCoachCollaboratorFailureKeepsSession(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fixture)
		stage Stage
	}{
		{"transcription error", func(f *fixture) { f.tr.err = errors.New("whisper down") }, StageTranscription},
		{"empty transcript", func(f *fixture) { f.tr.text = "  " }, StageTranscription},
		{"generation error", func(f *fixture) { f.resp.err = errors.New("llm down") }, StageGeneration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if _, err := f.coach.Start(context.Background(), coffeeShop(t)); err != nil {
				t.Fatal(err)
			}
			tt.setup(f)
			_, err := f.coach.SubmitAudio(context.Background(), model.Audio{Data: []byte("x")})
			var te *TurnError
			if !errors.As(err, &te) || te.Stage != tt.stage {
				t.Fatalf("SubmitAudio error = %v, want TurnError at %s", err, tt.stage)
			}
			snap := f.coach.Snapshot()
			if snap.State != StateAwaitingUserTurn {
				t.Errorf("state = %s, want awaiting_user_turn", snap.State)
			}
			if len(snap.Messages) != 1 {
				t.Errorf("failed turn was recorded: %d messages", len(snap.Messages))
			}
		})
	}
}

func TestCoachSynthesisFailureTolerated(t *testing.T) {
	f := newFixture(t)
	f.synth.err = errors.New("tts down")
	if _, err := f.coach.Start(context.Background(), coffeeShop(t)); err != nil {
		t.Fatal(err)
	}
	turn, err := f.coach.SubmitText(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if turn.Reply.AudioRef != "" || turn.Reply.Content == "" {
		t.Errorf("reply should be recorded without audio: %+v", turn.Reply)
	}
}

func TestCoachSubmitWhileIdle(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coach.SubmitText(context.Background(), "hi"); !errors.Is(err, ErrNotActive) {
		t.Errorf("SubmitText idle = %v", err)
	}
	if _, err := f.coach.End(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Errorf("End idle = %v", err)
	}
}

func TestCoachRejectsOverlappingTurns(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coach.Start(context.Background(), coffeeShop(t)); err != nil {
		t.Fatal(err)
	}
	if err := f.coach.BeginRecording(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coach.SubmitText(context.Background(), "typed while recording"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SubmitText while recording = %v, want ErrInvalidTransition", err)
	}
}

func TestCoachEnd(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coach.Start(context.Background(), coffeeShop(t)); err != nil {
		t.Fatal(err)
	}
	for _, s := range []model.EmotionSample{
		{Emotion: "joy", Intensity: 1, Confidence: 1, Timestamp: 1},
		{Emotion: "joy", Intensity: 1, Confidence: 1, Timestamp: 2},
		{Emotion: "interest", Intensity: 0.5, Confidence: 1, Timestamp: 3},
	} {
		if err := f.coach.Ingest(s); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.coach.SubmitText(context.Background(), "What are you reading?"); err != nil {
		t.Fatal(err)
	}

	res, err := f.coach.End(context.Background())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if res.Record.ID != "rec-1" {
		t.Errorf("record id = %q", res.Record.ID)
	}
	if res.Feedback != "Nice work." {
		t.Errorf("feedback = %q", res.Feedback)
	}
	if len(f.store.sessions) != 1 {
		t.Fatalf("saved sessions = %d", len(f.store.sessions))
	}
	found := false
	for _, a := range res.Record.Achievements {
		if a == "Showed interest" {
			found = true
		}
	}
	if !found {
		t.Errorf("achievements = %v, want Showed interest", res.Record.Achievements)
	}
	if u := f.store.users["user-1"]; u.TotalSessions != 1 || u.Medals[model.MedalFriendliness] != 1 {
		t.Errorf("profile not updated: %+v", u)
	}
	if len(res.Outcome.Achievements) == 0 {
		t.Error("expected a medal level-up")
	}
	if f.coach.Snapshot().State != StateIdle {
		t.Error("coach should be idle after End")
	}
}

func TestCoachEndSaveFailure(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("disk full")
	ctx := context.Background()
	if _, err := f.coach.Start(ctx, coffeeShop(t)); err != nil {
		t.Fatal(err)
	}
	res, err := f.coach.End(ctx)
	var te *TurnError
	if !errors.As(err, &te) || te.Stage != StagePersistence {
		t.Fatalf("End error = %v, want persistence TurnError", err)
	}
	if res == nil || res.Record == nil {
		t.Fatal("record should still be returned")
	}
	unsaved, ok := f.coach.Unsaved()
	if !ok || len(unsaved.Messages) != len(res.Record.Messages) {
		t.Fatalf("Unsaved = %+v, %v", unsaved, ok)
	}

	if _, err := f.coach.End(ctx); !errors.As(err, &te) || te.Stage != StagePersistence {
		t.Fatalf("retry while the store is down = %v", err)
	}

	f.store.mu.Lock()
	f.store.saveErr = nil
	f.store.mu.Unlock()
	res, err = f.coach.End(ctx)
	if err != nil {
		t.Fatalf("retried End: %v", err)
	}
	if res.Record.ID != "rec-1" || res.Outcome.Profile.TotalSessions != 1 {
		t.Errorf("retried result = %+v / %+v", res.Record, res.Outcome.Profile)
	}
	if len(f.store.sessions) != 1 {
		t.Errorf("stored sessions = %d, want 1", len(f.store.sessions))
	}
	if _, ok := f.coach.Unsaved(); ok {
		t.Error("nothing should be pending after a successful retry")
	}
	if _, err := f.coach.End(ctx); !errors.Is(err, ErrNotActive) {
		t.Errorf("End with nothing pending = %v, want ErrNotActive", err)
	}
}

func TestCoachStartSavesPendingSession(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("disk full")
	ctx := context.Background()
	if _, err := f.coach.Start(ctx, coffeeShop(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coach.End(ctx); err == nil {
		t.Fatal("End should fail while the store is down")
	}

	var te *TurnError
	if _, err := f.coach.Start(ctx, coffeeShop(t)); !errors.As(err, &te) || te.Stage != StagePersistence {
		t.Fatalf("Start with an unsaved session = %v, want persistence TurnError", err)
	}

	f.store.mu.Lock()
	f.store.saveErr = nil
	f.store.mu.Unlock()
	if _, err := f.coach.Start(ctx, coffeeShop(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(f.store.sessions) != 1 {
		t.Errorf("earlier session should be stored before the new one starts, got %d", len(f.store.sessions))
	}
	if u, _ := f.store.GetUser(ctx, "user-1"); u.TotalSessions != 1 {
		t.Errorf("total sessions = %d, want 1", u.TotalSessions)
	}
}

func TestCoachDiscardsLateReply(t *testing.T) {
	f := newFixture(t)
	f.resp.block = make(chan struct{})
	f.resp.entered = make(chan struct{})
	if _, err := f.coach.Start(context.Background(), coffeeShop(t)); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := f.coach.SubmitText(context.Background(), "Hello?")
		errc <- err
	}()
	<-f.resp.entered

	res, err := f.coach.End(context.Background())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	close(f.resp.block)

	if err := <-errc; !errors.Is(err, ErrStaleTicket) {
		t.Errorf("late reply error = %v, want ErrStaleTicket", err)
	}
	if len(res.Record.Messages) != 1 {
		t.Errorf("record should only hold the opening line, got %d", len(res.Record.Messages))
	}
	if f.coach.Snapshot().State != StateIdle {
		t.Error("late reply must not revive the session")
	}
}

func TestCoachFeedDelivers(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coach.Start(context.Background(), coffeeShop(t)); err != nil {
		t.Fatal(err)
	}
	tk, _ := f.coach.Engine().Current()
	if err := f.coach.Feed().Push(tk, model.EmotionSample{Emotion: "calm", Intensity: 0.6, Confidence: 1, Timestamp: 9}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.coach.Snapshot().CurrentEmotion != "calm" {
		if time.Now().After(deadline) {
			t.Fatal("sample pushed to the feed never reached the engine")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCoachFeedIgnoresEndedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.coach.Start(ctx, coffeeShop(t)); err != nil {
		t.Fatal(err)
	}
	first, _ := f.coach.Engine().Current()
	if _, err := f.coach.End(ctx); err != nil {
		t.Fatalf("End: %v", err)
	}

	anger := model.EmotionSample{Emotion: "anger", Intensity: 1, Confidence: 1, Timestamp: 1}
	if err := f.coach.Feed().Push(first, anger); !errors.Is(err, ErrNotActive) {
		t.Errorf("Push while idle = %v, want ErrNotActive", err)
	}

	if _, err := f.coach.Start(ctx, coffeeShop(t)); err != nil {
		t.Fatal(err)
	}
	if err := f.coach.Feed().Push(first, anger); !errors.Is(err, ErrStaleTicket) {
		t.Errorf("Push for the ended session = %v, want ErrStaleTicket", err)
	}

	// A sample for the live session still gets through, and nothing from
	// the ended one may precede it.
	second, _ := f.coach.Engine().Current()
	calm := model.EmotionSample{Emotion: "calm", Intensity: 0.5, Confidence: 1, Timestamp: 2}
	if err := f.coach.Feed().Push(second, calm); err != nil {
		t.Fatalf("Push: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.coach.Snapshot().CurrentEmotion != "calm" {
		if time.Now().After(deadline) {
			t.Fatal("sample for the live session never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for _, s := range f.coach.Engine().History() {
		if s.Emotion == "anger" {
			t.Errorf("sample from the ended session reached the new one: %+v", f.coach.Engine().History())
		}
	}
}
