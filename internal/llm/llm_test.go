package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/scenario"
)

type fakeAPI struct {
	mu          sync.Mutex
	chatReply   string
	chatStatus  int
	lastChat    openai.ChatCompletionRequest
	transcript  string
	lastSpeech  openai.CreateSpeechRequest
	uploadedLen int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&f.lastChat); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		if f.chatStatus != 0 {
			w.WriteHeader(f.chatStatus)
			fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": f.chatReply}},
			},
		})
	})
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file upload: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.mu.Lock()
		f.uploadedLen = len(data)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"text":%q}`, f.transcript)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"test-model","object":"model"}]}`)
	})
	mux.HandleFunc("/v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&f.lastSpeech)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test-model"})
}

func coffee() *scenario.Script {
	return &scenario.Script{ID: "coffee-shop", Title: "Coffee Shop Approach", Description: "Say hi."}
}

func history(n int) []model.ConversationMessage {
	var out []model.ConversationMessage
	for i := 0; i < n; i++ {
		sp := model.SpeakerAI
		if i%2 == 1 {
			sp = model.SpeakerUser
		}
		out = append(out, model.ConversationMessage{Speaker: sp, Content: fmt.Sprintf("m%d", i)})
	}
	return out
}

func TestGenerate(t *testing.T) {
	api := &fakeAPI{chatReply: "  Oh, which novel?  "}
	c := newTestClient(t, api)

	got, err := c.Generate(context.Background(), history(14), coffee(), "joy", 0.8)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Oh, which novel?" {
		t.Errorf("Generate() = %q", got)
	}

	req := api.lastChat
	if req.Model != "test-model" {
		t.Errorf("model = %q", req.Model)
	}
	if len(req.Messages) != 1+HistoryWindow {
		t.Fatalf("messages = %d, want system + %d", len(req.Messages), HistoryWindow)
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem || !strings.Contains(req.Messages[0].Content, "joy with intensity 0.80") {
		t.Errorf("system prompt = %q", req.Messages[0].Content)
	}
	// history(14) keeps m4..m13; m4 is an AI line, m5 a user line.
	if req.Messages[1].Content != "m4" || req.Messages[1].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("first history message = %+v", req.Messages[1])
	}
	if req.Messages[2].Content != "<user-turn>m5</user-turn>" || req.Messages[2].Role != openai.ChatMessageRoleUser {
		t.Errorf("second history message = %+v", req.Messages[2])
	}
}

func TestGenerateEmptyReply(t *testing.T) {
	c := newTestClient(t, &fakeAPI{chatReply: "   "})
	got, err := c.Generate(context.Background(), history(2), coffee(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != noReply {
		t.Errorf("Generate() = %q, want fallback", got)
	}
}

func TestGenerateAPIError(t *testing.T) {
	c := newTestClient(t, &fakeAPI{chatStatus: http.StatusInternalServerError})
	if _, err := c.Generate(context.Background(), history(2), coffee(), "", 0); err == nil {
		t.Error("expected error from failing API")
	}
}

func TestGenerateFeedback(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeAPI
		want string
	}{
		{
			name: "structured",
			api:  &fakeAPI{chatReply: `{"summary":"Nice opener.","strengths":["warm tone"],"improvements":["ask a follow-up"]}`},
			want: "Nice opener.\n\nStrengths:\n- warm tone\n\nTry next time:\n- ask a follow-up",
		},
		{"malformed", &fakeAPI{chatReply: "not json"}, model.FallbackFeedback},
		{"api error", &fakeAPI{chatStatus: http.StatusBadGateway}, model.FallbackFeedback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.api)
			got, err := c.GenerateFeedback(context.Background(), history(3), []model.EmotionSample{{Emotion: "joy", Intensity: 0.5}}, 70)
			if err != nil {
				t.Fatalf("GenerateFeedback: %v", err)
			}
			if got != tt.want {
				t.Errorf("GenerateFeedback() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateFeedbackSendsSchema(t *testing.T) {
	api := &fakeAPI{chatReply: `{"summary":"ok","strengths":[],"improvements":[]}`}
	c := newTestClient(t, api)
	if _, err := c.GenerateFeedback(context.Background(), nil, nil, 10); err != nil {
		t.Fatal(err)
	}
	rf := api.lastChat.ResponseFormat
	if rf == nil || rf.Type != openai.ChatCompletionResponseFormatTypeJSONSchema || rf.JSONSchema == nil {
		t.Fatalf("response format = %+v", rf)
	}
	if rf.JSONSchema.Name != "session_feedback" {
		t.Errorf("schema name = %q", rf.JSONSchema.Name)
	}
	raw, err := json.Marshal(feedbackSchema)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"summary"`, `"strengths"`, `"improvements"`, `"additionalProperties":false`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("schema missing %s: %s", want, raw)
		}
	}
}

func TestTranscribe(t *testing.T) {
	api := &fakeAPI{transcript: " Oh, it's a novel. "}
	c := newTestClient(t, api)
	got, err := c.Transcribe(context.Background(), model.Audio{Name: "turn.m4a", Data: []byte("abcdef")})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "Oh, it's a novel." {
		t.Errorf("Transcribe() = %q", got)
	}
	if api.uploadedLen != 6 {
		t.Errorf("uploaded %d bytes, want 6", api.uploadedLen)
	}
	if _, err := c.Transcribe(context.Background(), model.Audio{}); err == nil {
		t.Error("empty audio should fail")
	}
}

func TestSynthesizeAndPlay(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	audio, err := c.Synthesize(context.Background(), "Hello!", "joy")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio.Data) != "ID3-fake-mp3" || audio.Format != "mp3" {
		t.Errorf("audio = %+v", audio)
	}
	if api.lastSpeech.Input != "Hello!" || api.lastSpeech.Speed != 1.1 {
		t.Errorf("speech request = %+v", api.lastSpeech)
	}

	ref, err := c.Play(context.Background(), audio)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	got, ok := c.Cache().Get(ref)
	if !ok || string(got.Data) != "ID3-fake-mp3" {
		t.Errorf("cache lookup for %q failed", ref)
	}
}

func TestSpeedFor(t *testing.T) {
	tests := []struct {
		emotion string
		want    float64
	}{
		{"joy", 1.1},
		{"Enthusiasm", 1.15},
		{"sadness", 0.9},
		{"calm", 0.95},
		{"anger", 1.05},
		{"", 1.0},
		{"interest", 1.0},
	}
	for _, tt := range tests {
		if got := SpeedFor(tt.emotion); got != tt.want {
			t.Errorf("SpeedFor(%q) = %v, want %v", tt.emotion, got, tt.want)
		}
	}
}

func TestAudioCacheEvicts(t *testing.T) {
	c := NewAudioCache(2)
	first := c.Put(model.Audio{Data: []byte("1")})
	c.Put(model.Audio{Data: []byte("2")})
	c.Put(model.Audio{Data: []byte("3")})
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get(first); ok {
		t.Error("oldest clip should be evicted")
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}

	down := New(Config{BaseURL: "http://127.0.0.1:1/v1", APIKey: "test"})
	if err := down.Ping(context.Background()); err == nil {
		t.Error("Ping() against a closed port should fail")
	}
}
