package store

import (
	"context"
	"time"

	"github.com/pavelanni/parley/internal/model"
)

// EmotionAnalytics aggregates the user's sessions started at or after since,
// newest first: per-emotion intensity series plus the score history.
func (s *Store) EmotionAnalytics(ctx context.Context, userID string, since time.Time) (*model.EmotionAnalytics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.score, e.emotion, e.intensity
		 FROM sessions s LEFT JOIN emotions e ON e.session_id = s.id
		 WHERE s.user_id = ? AND s.started_at >= ?
		 ORDER BY s.started_at DESC, s.id, e.seq`,
		userID, since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &model.EmotionAnalytics{
		EmotionTrends: map[string][]float64{},
		ScoreHistory:  []int{},
	}
	var lastID string
	total := 0
	for rows.Next() {
		var id string
		var score int
		var emotion *string
		var intensity *float64
		if err := rows.Scan(&id, &score, &emotion, &intensity); err != nil {
			return nil, err
		}
		if id != lastID {
			lastID = id
			out.ScoreHistory = append(out.ScoreHistory, score)
			total += score
		}
		if emotion != nil && intensity != nil {
			out.EmotionTrends[*emotion] = append(out.EmotionTrends[*emotion], *intensity)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out.TotalSessions = len(out.ScoreHistory)
	if out.TotalSessions > 0 {
		out.AverageScore = float64(total) / float64(out.TotalSessions)
	}
	return out, nil
}
