package model

import "time"

// SessionExport is the top-level JSON structure for `parley export`.
type SessionExport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Users       []UserSummary   `json:"users"`
	Sessions    []SessionRecord `json:"sessions"`
}

// UserSummary is the exported view of a profile.
type UserSummary struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	Name          string        `json:"name"`
	Level         int           `json:"level"`
	TotalSessions int           `json:"total_sessions"`
	AverageScore  float64       `json:"average_score"`
	Medals        map[Medal]int `json:"medals"`
}

// SessionSummary is a stored session without its messages and samples.
type SessionSummary struct {
	ID           string     `json:"id"`
	ScenarioID   string     `json:"scenario_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Score        int        `json:"score"`
	Achievements []string   `json:"achievements"`
}
