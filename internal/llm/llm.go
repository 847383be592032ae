// Package llm talks to an OpenAI-compatible API for replies, feedback,
// transcription, and speech synthesis.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"
	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/parley/internal/llm/prompts"
	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/scenario"
)

// HistoryWindow is how many recent messages a reply request carries.
const HistoryWindow = 10

// noReply is used when the model returns an empty message.
const noReply = "I'm not sure how to respond to that."

// Config selects the endpoint and models.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	STTModel  string
	TTSModel  string
	Voice     string
	CacheSize int
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api      *openai.Client
	model    string
	sttModel string
	ttsModel string
	voice    string
	cache    *AudioCache
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	c := &Client{
		api:      openai.NewClientWithConfig(config),
		model:    cfg.Model,
		sttModel: cfg.STTModel,
		ttsModel: cfg.TTSModel,
		voice:    cfg.Voice,
		cache:    NewAudioCache(cfg.CacheSize),
	}
	if c.model == "" {
		c.model = openai.GPT4o
	}
	if c.sttModel == "" {
		c.sttModel = openai.Whisper1
	}
	if c.ttsModel == "" {
		c.ttsModel = string(openai.TTSModel1)
	}
	if c.voice == "" {
		c.voice = string(openai.VoiceAlloy)
	}
	return c
}

// Ping checks that the API endpoint is reachable and knows the chat model.
func (c *Client) Ping(ctx context.Context) error {
	models, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
	}
	slog.Warn("chat model not listed by endpoint", "model", c.model, "available", len(models.Models))
	return nil
}

// Cache returns the store of synthesized clips.
func (c *Client) Cache() *AudioCache { return c.cache }

// Generate produces the conversation partner's next line.
func (c *Client) Generate(ctx context.Context, history []model.ConversationMessage, script *scenario.Script, emotion string, intensity float64) (string, error) {
	systemPrompt, err := prompts.BuildPartnerPrompt(script, emotion, intensity)
	if err != nil {
		return "", err
	}

	chatMsgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	chatMsgs = append(chatMsgs, chatHistory(history)...)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            c.model,
		Messages:         chatMsgs,
		MaxTokens:        150,
		Temperature:      0.8,
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("LLM reply", "raw", reply)
	if reply == "" {
		return noReply, nil
	}
	return reply, nil
}

// chatHistory maps the last HistoryWindow messages to chat roles.
func chatHistory(history []model.ConversationMessage) []openai.ChatCompletionMessage {
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
		if m.Speaker == model.SpeakerUser {
			msg.Role = openai.ChatMessageRoleUser
			msg.Content = prompts.WrapUserTurn(m.Content)
		}
		out = append(out, msg)
	}
	return out
}

// Feedback is the structured coaching feedback returned by the model.
type Feedback struct {
	Summary      string   `json:"summary" jsonschema:"description=Two or three sentences addressed to the user"`
	Strengths    []string `json:"strengths" jsonschema:"description=What went well"`
	Improvements []string `json:"improvements" jsonschema:"description=Specific actionable advice"`
}

// String renders the feedback as plain text.
func (f Feedback) String() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(f.Summary))
	if len(f.Strengths) > 0 {
		sb.WriteString("\n\nStrengths:\n- " + strings.Join(f.Strengths, "\n- "))
	}
	if len(f.Improvements) > 0 {
		sb.WriteString("\n\nTry next time:\n- " + strings.Join(f.Improvements, "\n- "))
	}
	return sb.String()
}

var feedbackSchema = func() *jsonschema.Schema {
	r := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	return r.Reflect(Feedback{})
}()

// GenerateFeedback asks for post-session coaching. Any failure yields the
// fixed encouragement instead of an error.
func (c *Client) GenerateFeedback(ctx context.Context, history []model.ConversationMessage, emotions []model.EmotionSample, score int) (string, error) {
	systemPrompt, err := prompts.FeedbackPrompt()
	if err != nil {
		return "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompts.FeedbackInput(history, emotions, score)},
		},
		MaxTokens:   400,
		Temperature: 0.7,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "session_feedback",
				Schema: feedbackSchema,
				Strict: true,
			},
		},
	})
	if err != nil {
		slog.Warn("feedback generation failed", "error", err)
		return model.FallbackFeedback, nil
	}
	if len(resp.Choices) == 0 {
		return model.FallbackFeedback, nil
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM feedback", "raw", raw)
	var fb Feedback
	if err := json.Unmarshal([]byte(raw), &fb); err != nil || strings.TrimSpace(fb.Summary) == "" {
		slog.Warn("unusable feedback response", "error", err)
		return model.FallbackFeedback, nil
	}
	return fb.String(), nil
}

// Transcribe converts recorded speech to text with the speech-to-text model.
func (c *Client) Transcribe(ctx context.Context, audio model.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", errors.New("audio is empty")
	}
	name := audio.Name
	if name == "" {
		name = "recording." + defaultString(audio.Format, "m4a")
	}
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.sttModel,
		FilePath: name,
		Reader:   bytes.NewReader(audio.Data),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription API call: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Synthesize voices text, speaking faster or slower to match the emotion.
func (c *Client) Synthesize(ctx context.Context, text, emotion string) (model.Audio, error) {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          SpeedFor(emotion),
	})
	if err != nil {
		return model.Audio{}, fmt.Errorf("speech API call: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return model.Audio{}, fmt.Errorf("read speech response: %w", err)
	}
	return model.Audio{Name: "reply.mp3", Format: "mp3", Data: data}, nil
}

// Play publishes the clip to the audio cache and returns its reference.
func (c *Client) Play(_ context.Context, audio model.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", errors.New("audio is empty")
	}
	return c.cache.Put(audio), nil
}

// SpeedFor maps an emotion to a speaking speed.
func SpeedFor(emotion string) float64 {
	switch strings.ToLower(emotion) {
	case "joy", "happy", "happiness":
		return 1.1
	case "excited", "excitement", "enthusiasm":
		return 1.15
	case "angry", "anger", "frustration":
		return 1.05
	case "sad", "sadness", "melancholy":
		return 0.9
	case "calm", "neutral":
		return 0.95
	default:
		return 1.0
	}
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
