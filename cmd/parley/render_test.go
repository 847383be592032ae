package main

import (
	"context"
	"strings"
	"testing"
	"time"

	appI18n "github.com/pavelanni/parley/internal/i18n"
	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/report"
	"github.com/pavelanni/parley/internal/scenario"
)

func testRecord() model.SessionRecord {
	start := time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Minute)
	return model.SessionRecord{
		ID:         "s1",
		ScenarioID: "coffee-shop",
		StartedAt:  start,
		EndedAt:    &end,
		Score:      35,
		Messages: []model.ConversationMessage{
			{Speaker: model.SpeakerAI, Content: "Hi there!"},
			{Speaker: model.SpeakerUser, Content: "Hello."},
		},
		Emotions: []model.EmotionSample{
			{Emotion: "anxiety", Intensity: 0.7, Confidence: 0.9},
			{Emotion: "joy", Intensity: 0.4, Confidence: 0.9},
		},
		Achievements: []string{"Showed interest"},
	}
}

func TestRenderReport(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatal(err)
	}
	rep := report.Generate(testRecord())

	tests := []struct {
		lang string
		want []string
	}{
		{"en", []string{"Session Report", "Scenario: Coffee Shop Approach", "4 minutes", "anxiety", "Try relaxation techniques", "Showed interest"}},
		{"ru", []string{"Отчёт о сессии", "4 минуты"}},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			out := renderReport(appI18n.ForLang(context.Background(), tt.lang), rep, "Coffee Shop Approach", nil)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("report missing %q:\n%s", want, out)
				}
			}
			if strings.Contains(out, "Hello.") {
				t.Error("transcript rendered without messages")
			}
		})
	}

	out := renderReport(context.Background(), rep, "Coffee Shop Approach", testRecord().Messages)
	if !strings.Contains(out, "Hello.") {
		t.Error("transcript missing")
	}
}

func TestMeter(t *testing.T) {
	tests := []struct {
		v    float64
		full int
	}{
		{0, 0},
		{0.5, 10},
		{1, 20},
		{1.7, 20},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := strings.Count(meter(tt.v), "█"); got != tt.full {
			t.Errorf("meter(%v) has %d full cells, want %d", tt.v, got, tt.full)
		}
	}
}

func TestRenderScenarioList(t *testing.T) {
	catalog, err := scenario.Default()
	if err != nil {
		t.Fatal(err)
	}
	out := renderScenarioList(catalog.List())
	for _, id := range []string{"coffee-shop", "house-party", "job-interview"} {
		if !strings.Contains(out, id) {
			t.Errorf("list missing %s", id)
		}
	}
}

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"serve", "export", "scenarios", "user", "report"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
	if root.Flags().Lookup("addr") == nil {
		t.Error("serve flags should be available on the root command")
	}
}
