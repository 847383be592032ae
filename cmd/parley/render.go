package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	appI18n "github.com/pavelanni/parley/internal/i18n"
	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/report"
	"github.com/pavelanni/parley/internal/scenario"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#2E7D32"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C62828"))
	boxStyle     = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	scoreColors = map[string]lipgloss.Color{
		report.ColorGood:    lipgloss.Color("#2E7D32"),
		report.ColorFair:    lipgloss.Color("#F9A825"),
		report.ColorPoor:    lipgloss.Color("#C62828"),
		report.ColorNeutral: lipgloss.Color("#616161"),
	}
)

const meterWidth = 20

// meter draws intensity in [0,1] as a fixed-width bar.
func meter(v float64) string {
	n := int(v*meterWidth + 0.5)
	n = max(0, min(meterWidth, n))
	return strings.Repeat("█", n) + mutedStyle.Render(strings.Repeat("░", meterWidth-n))
}

func renderScenarioList(scripts []*scenario.Script) string {
	var b strings.Builder
	for _, s := range scripts {
		fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(s.ID), s.Title)
		meta := []string{}
		if s.Display.Difficulty != "" {
			meta = append(meta, s.Display.Difficulty)
		}
		if d := s.Success.MaxDuration(); d > 0 {
			meta = append(meta, d.String())
		}
		if s.Success.MinScore > 0 {
			meta = append(meta, fmt.Sprintf("min score %d", s.Success.MinScore))
		}
		if len(meta) > 0 {
			fmt.Fprintf(&b, "  %s\n", mutedStyle.Render(strings.Join(meta, " · ")))
		}
		if s.Description != "" {
			fmt.Fprintf(&b, "  %s\n", s.Description)
		}
	}
	return b.String()
}

// renderReport formats a session report for the terminal. messages may be nil
// to omit the transcript.
func renderReport(ctx context.Context, rep report.Report, scenarioTitle string, messages []model.ConversationMessage) string {
	var lines []string
	add := func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) }

	add("%s", titleStyle.Render(appI18n.T(ctx, "ReportTitle")))
	add("%s", appI18n.Td(ctx, "ScenarioLine", map[string]any{"Title": scenarioTitle}))
	score := lipgloss.NewStyle().Bold(true).Foreground(scoreColors[rep.Color]).Render(fmt.Sprintf("%d (%s)", rep.Score, rep.Grade))
	add("%s: %s", appI18n.T(ctx, "Score"), score)
	add("%s: %s", appI18n.T(ctx, "Duration"), appI18n.Tp(ctx, "MinutesCount", rep.DurationMinutes))
	add("%s", appI18n.Tp(ctx, "MessagesCount", rep.UserMessages))

	add("")
	add("%s", headingStyle.Render(appI18n.T(ctx, "Emotions")))
	if len(rep.Emotions) == 0 {
		add("  %s", mutedStyle.Render(appI18n.T(ctx, "NoEmotions")))
	}
	for _, e := range rep.Emotions {
		add("  %-14s %s %3.0f%% ×%d", e.Emotion, meter(e.Mean), e.Mean*100, e.Count)
	}
	if rep.Peak != nil {
		add("  %s: %s %.0f%%", appI18n.T(ctx, "PeakEmotion"), rep.Peak.Emotion, rep.Peak.Intensity*100)
	}

	add("")
	add("%s", headingStyle.Render(appI18n.T(ctx, "Suggestions")))
	if len(rep.Suggestions) == 0 {
		add("  %s", okStyle.Render(appI18n.T(ctx, "NoSuggestions")))
	}
	for _, s := range rep.Suggestions {
		add("  • %s", appI18n.T(ctx, s.MessageID()))
	}

	if len(rep.Achievements) > 0 {
		add("")
		add("%s", headingStyle.Render(appI18n.T(ctx, "Achievements")))
		for _, a := range rep.Achievements {
			add("  ★ %s", a)
		}
	}

	out := boxStyle.Render(strings.Join(lines, "\n")) + "\n"
	if len(messages) == 0 {
		return out
	}

	var b strings.Builder
	b.WriteString(out)
	fmt.Fprintf(&b, "\n%s\n", headingStyle.Render(appI18n.T(ctx, "Transcript")))
	for _, m := range messages {
		speaker := mutedStyle.Render(string(m.Speaker) + ":")
		if m.Speaker == model.SpeakerUser {
			speaker = okStyle.Render(string(m.Speaker) + ":")
		}
		fmt.Fprintf(&b, "%s %s\n", speaker, m.Content)
	}
	return b.String()
}
