package scoring

import (
	"math"

	"github.com/pavelanni/parley/internal/model"
)

const (
	progressPerLevel = 20
	composureBase    = 10
	composureFloor   = 5
	emotionScale     = 10
)

var (
	friendlinessEmotions = []string{"joy", "happiness", "contentment"}
	stressEmotions       = []string{"anxiety", "stress", "nervousness"}
	charismaEmotions     = []string{"confidence", "enthusiasm", "excitement"}
)

// MedalProgress is the progress a session earned toward one medal.
type MedalProgress struct {
	Medal    model.Medal
	Progress float64
}

// EmotionTotals sums intensity per emotion tag.
func EmotionTotals(samples []model.EmotionSample) map[string]float64 {
	totals := make(map[string]float64)
	for _, s := range samples {
		totals[s.Emotion] += s.Intensity
	}
	return totals
}

func sumOf(totals map[string]float64, tags []string) float64 {
	var sum float64
	for _, t := range tags {
		sum += totals[t]
	}
	return sum
}

// MedalDeltas derives per-medal progress from emotion totals. Only medals
// that qualify are returned, in friendliness, composure, charisma order.
func MedalDeltas(totals map[string]float64) []MedalProgress {
	var out []MedalProgress

	if friendliness := sumOf(totals, friendlinessEmotions); friendliness > 0 {
		out = append(out, MedalProgress{Medal: model.MedalFriendliness, Progress: friendliness * emotionScale})
	}
	if composure := composureBase - sumOf(totals, stressEmotions); composure > composureFloor {
		out = append(out, MedalProgress{Medal: model.MedalComposure, Progress: composure})
	}
	if charisma := sumOf(totals, charismaEmotions); charisma > 0 {
		out = append(out, MedalProgress{Medal: model.MedalCharisma, Progress: charisma * emotionScale})
	}
	return out
}

// LevelFor maps medal progress to a level: one level per 20 points.
func LevelFor(progress float64) int {
	return int(math.Floor(progress / progressPerLevel))
}

// RollingAverage folds score into an average over count prior sessions,
// rounded to two decimals.
func RollingAverage(oldAverage float64, count int, score int) float64 {
	avg := (oldAverage*float64(count) + float64(score)) / float64(count+1)
	return math.Round(avg*100) / 100
}

// ProfileLevel derives the overall user level from medal levels.
func ProfileLevel(medals map[model.Medal]int) int {
	sum := 0
	for _, lvl := range medals {
		sum += lvl
	}
	return 1 + sum/3
}
