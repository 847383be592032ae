// Package scoring turns emotion signal and conversation behavior into a live
// session score and long-term medal progression.
package scoring

import "math"

const (
	MinScore = 0
	MaxScore = 100

	positiveWeight  = 10
	negativeWeight  = 5
	engagementBonus = 5
)

var positiveEmotions = map[string]bool{
	"joy":        true,
	"happiness":  true,
	"confidence": true,
	"calm":       true,
}

var negativeEmotions = map[string]bool{
	"anxiety":     true,
	"nervousness": true,
	"anger":       true,
	"sadness":     true,
}

// IsPositive reports whether the emotion raises the live score.
func IsPositive(emotion string) bool { return positiveEmotions[emotion] }

// IsNegative reports whether the emotion lowers the live score.
func IsNegative(emotion string) bool { return negativeEmotions[emotion] }

// NextScore advances the running score after an AI turn. The engagement
// bonus is computed from the total user message count, not a delta, so every
// call re-adds it for all user turns so far.
func NextScore(current int, emotion string, intensity float64, userMessages int) int {
	score := current
	switch {
	case emotion == "":
	case positiveEmotions[emotion]:
		score += int(math.Round(intensity * positiveWeight))
	case negativeEmotions[emotion]:
		score -= int(math.Round(intensity * negativeWeight))
	}
	score += engagementBonus * userMessages
	return Clamp(score)
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score int) int {
	return max(MinScore, min(MaxScore, score))
}
