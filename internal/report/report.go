// Package report derives post-session analytics from a finished session record.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/pavelanni/parley/internal/model"
)

// TopEmotions is how many emotions the summary keeps.
const TopEmotions = 5

// Suggestion identifies an improvement tip.
type Suggestion string

const (
	SuggestPracticeMore Suggestion = "practice-more"
	SuggestRelaxation   Suggestion = "relaxation"
	SuggestEngageMore   Suggestion = "engage-more"
)

// MessageID returns the translation key of the suggestion's title.
func (s Suggestion) MessageID() string {
	switch s {
	case SuggestPracticeMore:
		return "SuggestionPracticeMore"
	case SuggestRelaxation:
		return "SuggestionRelaxation"
	case SuggestEngageMore:
		return "SuggestionEngageMore"
	}
	return string(s)
}

// Color buckets for a score.
const (
	ColorGood    = "good"
	ColorFair    = "fair"
	ColorPoor    = "poor"
	ColorNeutral = "neutral"
)

// EmotionSummary is the per-tag aggregate of a session's samples.
type EmotionSummary struct {
	Emotion string  `json:"emotion"`
	Mean    float64 `json:"mean_intensity"`
	Count   int     `json:"count"`
}

// Report is the analysis of one session.
type Report struct {
	SessionID       string               `json:"session_id"`
	ScenarioID      string               `json:"scenario_id"`
	StartedAt       time.Time            `json:"started_at"`
	Score           int                  `json:"score"`
	Grade           string               `json:"grade"`
	Color           string               `json:"color"`
	DurationMinutes int                  `json:"duration_minutes"`
	UserMessages    int                  `json:"user_messages"`
	EmotionSamples  int                  `json:"emotion_samples"`
	Emotions        []EmotionSummary     `json:"emotions"`
	Peak            *model.EmotionSample `json:"peak,omitempty"`
	Suggestions     []Suggestion         `json:"suggestions"`
	Achievements    []string             `json:"achievements"`
}

// Generate builds the report for rec.
func Generate(rec model.SessionRecord) Report {
	summary := Summarize(rec.Emotions)
	userMessages := rec.UserMessageCount()

	r := Report{
		SessionID:       rec.ID,
		ScenarioID:      rec.ScenarioID,
		StartedAt:       rec.StartedAt,
		Score:           rec.Score,
		Grade:           Grade(rec.Score),
		Color:           ColorBucket(rec.Score),
		DurationMinutes: DurationMinutes(rec),
		UserMessages:    userMessages,
		EmotionSamples:  len(rec.Emotions),
		Emotions:        top(summary, TopEmotions),
		Peak:            peak(rec.Emotions),
		Suggestions:     Suggestions(rec.Score, summary, userMessages),
		Achievements:    rec.Achievements,
	}
	if r.Achievements == nil {
		r.Achievements = []string{}
	}
	return r
}

// Summarize groups samples by tag, sorted by mean intensity descending and
// then by tag.
func Summarize(samples []model.EmotionSample) []EmotionSummary {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range samples {
		sums[s.Emotion] += s.Intensity
		counts[s.Emotion]++
	}
	out := make([]EmotionSummary, 0, len(sums))
	for tag, sum := range sums {
		out = append(out, EmotionSummary{Emotion: tag, Mean: sum / float64(counts[tag]), Count: counts[tag]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mean != out[j].Mean {
			return out[i].Mean > out[j].Mean
		}
		return out[i].Emotion < out[j].Emotion
	})
	return out
}

func top(summary []EmotionSummary, n int) []EmotionSummary {
	if len(summary) > n {
		return summary[:n]
	}
	return summary
}

func peak(samples []model.EmotionSample) *model.EmotionSample {
	if len(samples) == 0 {
		return nil
	}
	p := samples[0]
	for _, s := range samples[1:] {
		if s.Intensity > p.Intensity {
			p = s
		}
	}
	return &p
}

// Grade maps a score to a letter grade.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A+"
	case score >= 80:
		return "A"
	case score >= 70:
		return "B"
	case score >= 60:
		return "C"
	case score >= 50:
		return "D"
	default:
		return "F"
	}
}

// ColorBucket maps a score to its display color.
func ColorBucket(score int) string {
	switch {
	case score >= 80:
		return ColorGood
	case score >= 60:
		return ColorFair
	case score >= 40:
		return ColorPoor
	default:
		return ColorNeutral
	}
}

// Suggestions evaluates each improvement rule independently. summary must
// cover every tag, not just the top entries.
func Suggestions(score int, summary []EmotionSummary, userMessages int) []Suggestion {
	out := []Suggestion{}
	if score < 60 {
		out = append(out, SuggestPracticeMore)
	}
	for _, e := range summary {
		if (e.Emotion == "anxiety" || e.Emotion == "nervousness") && e.Mean > 0.6 {
			out = append(out, SuggestRelaxation)
			break
		}
	}
	if userMessages < 3 {
		out = append(out, SuggestEngageMore)
	}
	return out
}

// DurationMinutes is the session length rounded to whole minutes, or zero
// when the session never ended.
func DurationMinutes(rec model.SessionRecord) int {
	if rec.EndedAt == nil {
		return 0
	}
	return int(math.Round(float64(rec.EndedAt.Sub(rec.StartedAt).Milliseconds()) / 60000))
}
