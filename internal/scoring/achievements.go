package scoring

import (
	"fmt"

	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/scenario"
)

// SessionAchievements lists what the session accomplished against the
// scenario's success conditions.
func SessionAchievements(s *scenario.Script, rec model.SessionRecord) []string {
	if s == nil {
		return nil
	}
	labels := []string{}
	cond := s.Success

	if rec.Score >= cond.MinScore {
		labels = append(labels, fmt.Sprintf("Reached target score of %d", cond.MinScore))
	}

	seen := make(map[string]bool, len(rec.Emotions))
	for _, e := range rec.Emotions {
		seen[e.Emotion] = true
	}
	for _, tag := range cond.RequiredEmotions {
		if seen[tag] {
			labels = append(labels, "Showed "+tag)
		}
	}

	if limit := cond.MaxDuration(); limit > 0 && rec.EndedAt != nil && rec.Duration() <= limit {
		labels = append(labels, fmt.Sprintf("Finished within %d min", int(limit.Minutes())))
	}
	return labels
}
