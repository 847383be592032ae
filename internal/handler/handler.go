// Package handler serves the practice API over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/parley/internal/handler/views"
	appI18n "github.com/pavelanni/parley/internal/i18n"
	"github.com/pavelanni/parley/internal/llm"
	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/report"
	"github.com/pavelanni/parley/internal/scenario"
	"github.com/pavelanni/parley/internal/session"
	"github.com/pavelanni/parley/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	coaches *session.Registry
	catalog *scenario.Catalog
	audio   *llm.AudioCache
	config  model.ServerConfig
	now     func() time.Time
}

// New creates a new Handler. audio may be nil when speech is disabled.
func New(s *store.Store, coaches *session.Registry, catalog *scenario.Catalog, audio *llm.AudioCache, cfg model.ServerConfig) *Handler {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 20
	}
	if cfg.AnalyticsDays <= 0 {
		cfg.AnalyticsDays = 30
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 10 << 20
	}
	return &Handler{store: s, coaches: coaches, catalog: catalog, audio: audio, config: cfg, now: time.Now}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(appI18n.Middleware(h.config.Lang))

	r.Get("/status", h.handleStatus)
	r.Post("/login", h.handleLogin)
	r.Post("/users", h.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/logout", h.handleLogout)

		r.Get("/scenarios", h.handleListScenarios)
		r.Get("/scenarios/{scenarioID}", h.handleGetScenario)

		r.Post("/sessions", h.handleStartSession)
		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{sessionID}/report", h.handleReport)
		r.Route("/sessions/current", func(r chi.Router) {
			r.Get("/", h.handleCurrent)
			r.Post("/recording", h.handleRecording)
			r.Post("/audio", h.handleAudio)
			r.Post("/text", h.handleText)
			r.Post("/emotions", h.handleEmotion)
			r.Get("/emotions/ws", h.handleEmotionStream)
			r.Post("/end", h.handleEnd)
		})

		r.Get("/me", h.handleMe)
		r.Patch("/me/preferences", h.handlePreferences)
		r.Get("/me/analytics", h.handleAnalytics)

		r.Get("/audio/{ref}", h.handleAudioClip)
	})
}

type scenarioSummary struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Display     scenario.Display `json:"display"`
}

func (h *Handler) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scripts := h.catalog.List()
	if q := r.URL.Query().Get("q"); q != "" {
		scripts = nil
		if s, ok := h.catalog.FindByTitleFragment(q); ok {
			scripts = append(scripts, s)
		}
	}
	out := make([]scenarioSummary, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, scenarioSummary{ID: s.ID, Title: s.Title, Description: s.Description, Display: s.Display})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	s, ok := h.catalog.Get(chi.URLParam(r, "scenarioID"))
	if !ok {
		http.Error(w, "scenario not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type startRequest struct {
	ScenarioID string `json:"scenario_id"`
	Title      string `json:"title"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var script *scenario.Script
	var ok bool
	switch {
	case req.ScenarioID != "":
		script, ok = h.catalog.Get(req.ScenarioID)
	case req.Title != "":
		script, ok = h.catalog.FindByTitleFragment(req.Title)
	default:
		http.Error(w, "scenario_id or title required", http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(w, "scenario not found", http.StatusNotFound)
		return
	}

	snap, err := h.coach(r).Start(r.Context(), script)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coach(r).Snapshot())
}

func (h *Handler) handleRecording(w http.ResponseWriter, r *http.Request) {
	c := h.coach(r)
	if err := c.BeginRecording(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxAudioBytes)
	if err := r.ParseMultipartForm(h.config.MaxAudioBytes); err != nil {
		http.Error(w, "invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "audio file required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	audio := model.Audio{
		Name:   header.Filename,
		Format: strings.TrimPrefix(filepath.Ext(header.Filename), "."),
		Data:   data,
	}
	turn, err := h.coach(r).SubmitAudio(r.Context(), audio)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

type textRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	turn, err := h.coach(r).SubmitText(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (h *Handler) handleEmotion(w http.ResponseWriter, r *http.Request) {
	var sample model.EmotionSample
	if err := decodeJSON(r, &sample); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c := h.coach(r)
	if err := c.Ingest(sample); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

type endResponse struct {
	SessionID    string                   `json:"session_id"`
	Record       *model.SessionRecord     `json:"record"`
	Report       report.Report            `json:"report"`
	Feedback     string                   `json:"feedback"`
	Profile      model.UserProfile        `json:"profile"`
	Achievements []model.AchievementEntry `json:"achievements"`
	LevelUps     []string                 `json:"level_ups"`
}

// unsavedResponse is returned when a session ended but could not be stored.
// The record stays on the server; POST /sessions/current/end retries it.
type unsavedResponse struct {
	errorResponse
	SessionID string               `json:"session_id"`
	Record    *model.SessionRecord `json:"record"`
	Report    report.Report        `json:"report"`
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	res, err := h.coach(r).End(r.Context())
	if err != nil && (res == nil || res.Record == nil) {
		writeError(w, err)
		return
	}
	if err != nil && res.Outcome.Profile.ID == "" {
		slog.Error("session not stored", "session_id", res.Record.ID, "error", err)
		writeJSON(w, statusFor(err), unsavedResponse{
			errorResponse: newErrorResponse(err),
			SessionID:     res.Record.ID,
			Record:        res.Record,
			Report:        report.Generate(*res.Record),
		})
		return
	}
	if err != nil {
		slog.Warn("session stored with incomplete progress", "session_id", res.Record.ID, "error", err)
	}
	resp := endResponse{
		SessionID:    res.Record.ID,
		Record:       res.Record,
		Report:       report.Generate(*res.Record),
		Feedback:     res.Feedback,
		Profile:      res.Outcome.Profile,
		Achievements: nonNilEntries(res.Outcome.Achievements),
		LevelUps:     []string{},
	}
	for _, e := range resp.Achievements {
		resp.LevelUps = append(resp.LevelUps, appI18n.LevelUp(r.Context(), e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sessions, err := h.store.ListSessionsForUser(r.Context(), user.ID, h.config.RecentLimit)
	if err != nil {
		slog.Error("failed to list sessions", "user_id", user.ID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []model.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	rec, err := h.store.GetSessionRecord(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil || rec.UserID != user.ID {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	rep := report.Generate(*rec)
	if !wantsHTML(r) {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	title := rec.ScenarioID
	if s, ok := h.catalog.Get(rec.ScenarioID); ok {
		title = s.Title
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ReportPage(rep, title, rec.Messages).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentProfile(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type preferencesRequest struct {
	VoiceEnabled    *bool             `json:"voice_enabled"`
	EmotionAnalysis *bool             `json:"emotion_analysis"`
	Difficulty      *model.Difficulty `json:"difficulty"`
}

func (h *Handler) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Difficulty != nil {
		switch *req.Difficulty {
		case model.DifficultyBeginner, model.DifficultyIntermediate, model.DifficultyAdvanced:
		default:
			http.Error(w, fmt.Sprintf("unknown difficulty %q", *req.Difficulty), http.StatusBadRequest)
			return
		}
	}

	user := model.UserFromContext(r.Context())
	err := h.store.ModifyUser(r.Context(), user.ID, func(u *model.UserProfile) error {
		if req.VoiceEnabled != nil {
			u.Preferences.VoiceEnabled = *req.VoiceEnabled
		}
		if req.EmotionAnalysis != nil {
			u.Preferences.EmotionAnalysis = *req.EmotionAnalysis
		}
		if req.Difficulty != nil {
			u.Preferences.Difficulty = *req.Difficulty
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.handleMe(w, r)
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days := h.config.AnalyticsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = n
	}
	user := model.UserFromContext(r.Context())
	since := h.now().AddDate(0, 0, -days)
	a, err := h.store.EmotionAnalytics(r.Context(), user.ID, since)
	if err != nil {
		slog.Error("failed to compute analytics", "user_id", user.ID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleAudioClip(w http.ResponseWriter, r *http.Request) {
	if h.audio == nil {
		http.Error(w, "audio not found", http.StatusNotFound)
		return
	}
	clip, ok := h.audio.Get(chi.URLParam(r, "ref"))
	if !ok {
		http.Error(w, "audio not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", audioContentType(clip.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	_, _ = w.Write(clip.Data)
}

func (h *Handler) coach(r *http.Request) *session.Coach {
	return h.coaches.For(model.UserFromContext(r.Context()).ID)
}

func (h *Handler) currentProfile(r *http.Request) (*model.UserProfile, error) {
	id := model.UserFromContext(r.Context()).ID
	u, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return u, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var turnErr *session.TurnError
	switch {
	case errors.Is(err, session.ErrInvalidSample):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrEmptyTranscript):
		return http.StatusUnprocessableEntity
	case session.IsPrecondition(err):
		return http.StatusConflict
	case errors.As(err, &turnErr):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string        `json:"error"`
	Stage session.Stage `json:"stage,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, newErrorResponse(err))
}

func newErrorResponse(err error) errorResponse {
	resp := errorResponse{Error: err.Error()}
	var turnErr *session.TurnError
	if errors.As(err, &turnErr) {
		resp.Stage = turnErr.Stage
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}

func audioContentType(format string) string {
	switch strings.ToLower(format) {
	case "mp3", "":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "m4a":
		return "audio/mp4"
	case "opus", "ogg":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "aac":
		return "audio/aac"
	}
	return "application/octet-stream"
}

func nonNilEntries(es []model.AchievementEntry) []model.AchievementEntry {
	if es == nil {
		return []model.AchievementEntry{}
	}
	return es
}
