package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/parley/internal/model"
)

// ExportAll builds a full dump of users and their sessions.
func (s *Store) ExportAll(ctx context.Context) (*model.SessionExport, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := &model.SessionExport{
		GeneratedAt: time.Now().UTC(),
		Users:       make([]model.UserSummary, 0, len(users)),
		Sessions:    make([]model.SessionRecord, 0, len(sessions)),
	}
	for _, u := range users {
		out.Users = append(out.Users, model.UserSummary{
			ID:            u.ID,
			Email:         u.Email,
			Name:          u.Name,
			Level:         u.Level,
			TotalSessions: u.TotalSessions,
			AverageScore:  u.AverageScore,
			Medals:        u.Medals,
		})
	}
	for _, sum := range sessions {
		rec, err := s.GetSessionRecord(ctx, sum.ID)
		if err != nil {
			return nil, fmt.Errorf("get session %s: %w", sum.ID, err)
		}
		if rec != nil {
			out.Sessions = append(out.Sessions, *rec)
		}
	}
	return out, nil
}
