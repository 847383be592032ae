package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Speaker identifies who produced a conversation message.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

// EmotionSample is a single observation from an emotion recognizer.
type EmotionSample struct {
	Emotion    string  `json:"emotion"`
	Intensity  float64 `json:"intensity"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"` // epoch milliseconds
}

// Time returns the sample timestamp as a time.Time.
func (s EmotionSample) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Validate checks that the sample carries a tag and values within [0,1].
func (s EmotionSample) Validate() error {
	if s.Emotion == "" {
		return errors.New("emotion tag is required")
	}
	if math.IsNaN(s.Intensity) || s.Intensity < 0 || s.Intensity > 1 {
		return fmt.Errorf("intensity %v out of range [0,1]", s.Intensity)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", s.Confidence)
	}
	return nil
}

// ConversationMessage is one turn of a practice conversation.
type ConversationMessage struct {
	ID        string          `json:"id"`
	Speaker   Speaker         `json:"speaker"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	AudioRef  string          `json:"audio_ref,omitempty"`
	Emotions  []EmotionSample `json:"emotions,omitempty"`
}

// SessionRecord is the immutable snapshot of a finished practice session.
type SessionRecord struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id"`
	ScenarioID   string                `json:"scenario_id"`
	StartedAt    time.Time             `json:"started_at"`
	EndedAt      *time.Time            `json:"ended_at,omitempty"`
	Messages     []ConversationMessage `json:"messages"`
	Emotions     []EmotionSample       `json:"emotions"`
	Score        int                   `json:"score"`
	Achievements []string              `json:"achievements"`
	Transcript   string                `json:"transcript"`
}

// UserMessageCount returns the number of messages spoken by the user.
func (r SessionRecord) UserMessageCount() int {
	return CountSpeaker(r.Messages, SpeakerUser)
}

// Duration returns the wall-clock length of the session, or zero if it never ended.
func (r SessionRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// CountSpeaker counts messages produced by the given speaker.
func CountSpeaker(messages []ConversationMessage, sp Speaker) int {
	count := 0
	for _, m := range messages {
		if m.Speaker == sp {
			count++
		}
	}
	return count
}

// Medal is a named skill category.
type Medal string

const (
	MedalFriendliness Medal = "friendliness"
	MedalComposure    Medal = "composure"
	MedalCharisma     Medal = "charisma"
	MedalAwareness    Medal = "awareness"
	MedalPersuasion   Medal = "persuasion"
	MedalEmpathy      Medal = "empathy"
	MedalClarity      Medal = "clarity"
	MedalAdaptability Medal = "adaptability"
)

// AllMedals lists every medal a new profile starts with, in display order.
var AllMedals = []Medal{
	MedalFriendliness,
	MedalComposure,
	MedalCharisma,
	MedalAwareness,
	MedalPersuasion,
	MedalEmpathy,
	MedalClarity,
	MedalAdaptability,
}

// DefaultMedals returns a medal map with every medal locked (level 0).
func DefaultMedals() map[Medal]int {
	m := make(map[Medal]int, len(AllMedals))
	for _, medal := range AllMedals {
		m[medal] = 0
	}
	return m
}

// Difficulty is the user's preferred practice difficulty.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Preferences holds per-user practice settings.
type Preferences struct {
	VoiceEnabled    bool       `json:"voice_enabled"`
	EmotionAnalysis bool       `json:"emotion_analysis"`
	Difficulty      Difficulty `json:"difficulty"`
}

// DefaultPreferences returns the settings a new profile starts with.
func DefaultPreferences() Preferences {
	return Preferences{VoiceEnabled: true, EmotionAnalysis: true, Difficulty: DifficultyBeginner}
}

// UserProfile is the long-lived progression state of a user.
type UserProfile struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	Name          string        `json:"name"`
	PasswordHash  string        `json:"-"`
	Level         int           `json:"level"`
	TotalSessions int           `json:"total_sessions"`
	AverageScore  float64       `json:"average_score"`
	Medals        map[Medal]int `json:"medals"`
	Preferences   Preferences   `json:"preferences"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// UserUpdate is a partial profile update. Nil fields are left unchanged;
// Medals entries are merged into the stored map.
type UserUpdate struct {
	Name          *string
	Level         *int
	TotalSessions *int
	AverageScore  *float64
	Medals        map[Medal]int
	Preferences   *Preferences
}

// Apply merges the update into p.
func (u UserUpdate) Apply(p *UserProfile) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Level != nil {
		p.Level = *u.Level
	}
	if u.TotalSessions != nil {
		p.TotalSessions = *u.TotalSessions
	}
	if u.AverageScore != nil {
		p.AverageScore = *u.AverageScore
	}
	if len(u.Medals) > 0 && p.Medals == nil {
		p.Medals = make(map[Medal]int, len(u.Medals))
	}
	for medal, level := range u.Medals {
		p.Medals[medal] = level
	}
	if u.Preferences != nil {
		p.Preferences = *u.Preferences
	}
}

// AchievementEntry records a medal level-up.
type AchievementEntry struct {
	UserID string    `json:"user_id"`
	Medal  Medal     `json:"medal"`
	Level  int       `json:"level"`
	At     time.Time `json:"timestamp"`
}

// Audio is an opaque audio clip exchanged with speech collaborators.
type Audio struct {
	Name   string // file name hint, e.g. "turn.m4a"
	Format string // mp3, m4a, wav...
	Data   []byte
}

// EmotionAnalytics aggregates a user's recent sessions.
type EmotionAnalytics struct {
	EmotionTrends map[string][]float64 `json:"emotion_trends"`
	AverageScore  float64              `json:"average_score"`
	TotalSessions int                  `json:"total_sessions"`
	ScoreHistory  []int                `json:"score_history"`
}

// AuthSession represents an API token issued at login.
type AuthSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *UserProfile) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *UserProfile {
	u, _ := ctx.Value(userCtxKey{}).(*UserProfile)
	return u
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	Lang          string // report language (en, ru)
	RecentLimit   int    // sessions returned by the history endpoint
	AnalyticsDays int    // default analytics window
	MaxAudioBytes int64  // upload limit for recorded turns
	SecureCookies bool   // set Secure on the session cookie
	OpenSignup    bool   // allow POST /users without an existing account
}

// FallbackFeedback is shown when post-session feedback cannot be generated.
const FallbackFeedback = "Great job practicing! Keep working on your conversation skills."
