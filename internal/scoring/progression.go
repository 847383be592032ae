package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/parley/internal/model"
)

// ProfileStore is the persistence the progression engine needs. ModifyUser
// must run fn inside a transaction so the read-modify-write of a profile is
// not interleaved with another writer.
type ProfileStore interface {
	ModifyUser(ctx context.Context, userID string, fn func(p *model.UserProfile) error) error
	LogAchievement(ctx context.Context, entry model.AchievementEntry) error
}

// Publisher broadcasts achievements to interested listeners.
type Publisher interface {
	PublishAchievement(ctx context.Context, entry model.AchievementEntry) error
}

// Outcome is the result of folding one session into a profile.
type Outcome struct {
	Before       model.UserProfile        `json:"-"`
	Profile      model.UserProfile        `json:"profile"`
	Achievements []model.AchievementEntry `json:"achievements"`
}

// Progression applies finished sessions to long-term user progress.
type Progression struct {
	store     ProfileStore
	publisher Publisher
	now       func() time.Time
}

// NewProgression creates a Progression. publisher may be nil.
func NewProgression(store ProfileStore, publisher Publisher) *Progression {
	return &Progression{store: store, publisher: publisher, now: time.Now}
}

// Apply updates the session count, rolling average, medal levels, and overall
// level of the record's user. All derived values come from the profile as it
// was read inside the transaction.
func (p *Progression) Apply(ctx context.Context, rec model.SessionRecord) (Outcome, error) {
	var out Outcome
	at := p.now()
	deltas := MedalDeltas(EmotionTotals(rec.Emotions))

	err := p.store.ModifyUser(ctx, rec.UserID, func(u *model.UserProfile) error {
		out.Before = cloneProfile(*u)
		out.Achievements = nil

		u.AverageScore = RollingAverage(u.AverageScore, u.TotalSessions, rec.Score)
		u.TotalSessions++

		if u.Medals == nil {
			u.Medals = model.DefaultMedals()
		}
		for _, d := range deltas {
			level := LevelFor(d.Progress)
			if level <= u.Medals[d.Medal] {
				continue
			}
			u.Medals[d.Medal] = level
			out.Achievements = append(out.Achievements, model.AchievementEntry{
				UserID: rec.UserID,
				Medal:  d.Medal,
				Level:  level,
				At:     at,
			})
		}
		u.Level = ProfileLevel(u.Medals)
		out.Profile = cloneProfile(*u)
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("update progress for %s: %w", rec.UserID, err)
	}

	for _, a := range out.Achievements {
		if err := p.store.LogAchievement(ctx, a); err != nil {
			return out, fmt.Errorf("log achievement %s: %w", a.Medal, err)
		}
		slog.Info("medal level up", "user_id", a.UserID, "medal", a.Medal, "level", a.Level)
		if p.publisher != nil {
			if err := p.publisher.PublishAchievement(ctx, a); err != nil {
				slog.Warn("publish achievement failed", "medal", a.Medal, "error", err)
			}
		}
	}
	return out, nil
}

func cloneProfile(p model.UserProfile) model.UserProfile {
	medals := make(map[model.Medal]int, len(p.Medals))
	for k, v := range p.Medals {
		medals[k] = v
	}
	p.Medals = medals
	return p
}
