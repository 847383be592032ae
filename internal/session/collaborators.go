package session

import (
	"context"

	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/scenario"
	"github.com/pavelanni/parley/internal/scoring"
)

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio model.Audio) (string, error)
}

// EmotionSource pushes emotion samples to a callback until stopped.
type EmotionSource interface {
	Start(ctx context.Context, fn func(model.EmotionSample)) error
	Stop()
}

// Responder produces the conversation partner's lines and the closing feedback.
type Responder interface {
	Generate(ctx context.Context, history []model.ConversationMessage, script *scenario.Script, emotion string, intensity float64) (string, error)
	GenerateFeedback(ctx context.Context, history []model.ConversationMessage, emotions []model.EmotionSample, score int) (string, error)
}

// Synthesizer voices a reply. Play makes the clip available to the client
// and returns a reference to it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, emotion string) (model.Audio, error)
	Play(ctx context.Context, audio model.Audio) (string, error)
}

// Persistence stores finished sessions and user profiles.
type Persistence interface {
	scoring.ProfileStore
	SaveSession(ctx context.Context, rec model.SessionRecord) (string, error)
	GetUser(ctx context.Context, id string) (*model.UserProfile, error)
	UpdateUser(ctx context.Context, id string, upd model.UserUpdate) error
}
