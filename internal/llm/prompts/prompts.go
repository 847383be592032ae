// Package prompts renders the system prompts sent to the language model.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/scenario"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// MaxTurnRunes caps a single user turn passed to the model.
const MaxTurnRunes = 2000

var userTurnRegex = regexp.MustCompile(`(?i)</?\s*(user-turn|system-instructions)\b[^>]*>`)

// Variant selects the partner persona.
type Variant string

const (
	VariantBeginner     Variant = "beginner"
	VariantIntermediate Variant = "intermediate"
	VariantAdvanced     Variant = "advanced"
)

var variants = []Variant{VariantBeginner, VariantIntermediate, VariantAdvanced}

var (
	loadOnce         sync.Once
	loadErr          error
	partnerTemplates map[Variant]*template.Template
	feedbackPrompt   string
)

// VariantFor picks the persona matching a scenario's difficulty.
func VariantFor(s *scenario.Script) Variant {
	if s == nil {
		return VariantIntermediate
	}
	v := Variant(strings.ToLower(strings.TrimSpace(s.Display.Difficulty)))
	for _, known := range variants {
		if v == known {
			return v
		}
	}
	return VariantIntermediate
}

// PartnerData holds template data for the conversation partner prompt.
type PartnerData struct {
	Title       string
	Description string
	Objective   string
	HasEmotion  bool
	Emotion     string
	Intensity   float64
}

func load() error {
	loadOnce.Do(func() {
		partnerTemplates = make(map[Variant]*template.Template, len(variants))
		for _, v := range variants {
			name := "templates/partner_" + string(v) + ".tmpl"
			content, err := templateFS.ReadFile(name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New(string(v)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			partnerTemplates[v] = tmpl
		}
		content, err := templateFS.ReadFile("templates/feedback.tmpl")
		if err != nil {
			loadErr = fmt.Errorf("read feedback prompt: %w", err)
			return
		}
		feedbackPrompt = string(content)
	})
	return loadErr
}

// BuildPartnerPrompt renders the system prompt for a reply in script.
func BuildPartnerPrompt(s *scenario.Script, emotion string, intensity float64) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	if s == nil {
		return "", fmt.Errorf("build partner prompt: %w", scenario.ErrInvalidScript)
	}
	data := PartnerData{
		Title:       s.Title,
		Description: s.Description,
		Objective:   s.Display.Objectives.Primary,
		HasEmotion:  emotion != "" && intensity > 0,
		Emotion:     emotion,
		Intensity:   intensity,
	}
	var buf bytes.Buffer
	if err := partnerTemplates[VariantFor(s)].Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render partner prompt: %w", err)
	}
	return buf.String(), nil
}

// FeedbackPrompt returns the system prompt for post-session feedback.
func FeedbackPrompt() (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	return feedbackPrompt, nil
}

// FeedbackInput renders the conversation, emotions, and score as the user
// message of a feedback request.
func FeedbackInput(messages []model.ConversationMessage, emotions []model.EmotionSample, score int) string {
	var sb strings.Builder
	sb.WriteString("Conversation:\n")
	for _, m := range messages {
		sb.WriteString(string(m.Speaker) + ": " + SanitizeTurn(m.Content) + "\n")
	}
	sb.WriteString("\n")
	if len(emotions) == 0 {
		sb.WriteString("No emotion data available")
	} else {
		parts := make([]string, 0, len(emotions))
		for _, e := range emotions {
			parts = append(parts, fmt.Sprintf("%s (%.2f)", e.Emotion, e.Intensity))
		}
		sb.WriteString("Emotions detected: " + strings.Join(parts, ", "))
	}
	fmt.Fprintf(&sb, "\n\nScore: %d/100", score)
	return sb.String()
}

// WrapUserTurn fences user speech so the model treats it as dialogue.
func WrapUserTurn(text string) string {
	return "<user-turn>" + SanitizeTurn(text) + "</user-turn>"
}

// SanitizeTurn strips prompt fencing tags and truncates very long turns.
func SanitizeTurn(text string) string {
	text = userTurnRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxTurnRunes {
		runes := []rune(text)
		text = string(runes[:MaxTurnRunes]) + " [truncated]"
	}
	return text
}
