package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/parley/internal/model"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.config.OpenSignup {
		http.Error(w, "signup is disabled", http.StatusForbidden)
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		http.Error(w, "valid email required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < MinPasswordLength {
		http.Error(w, "password too short", http.StatusBadRequest)
		return
	}

	existing, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("failed to look up user", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "email already registered", http.StatusConflict)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if req.Name == "" {
		req.Name, _, _ = strings.Cut(req.Email, "@")
	}

	id, err := h.store.CreateUser(r.Context(), model.UserProfile{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
	})
	if err != nil {
		slog.Error("failed to create user", "error", err)
		http.Error(w, "failed to create user: "+err.Error(), http.StatusInternalServerError)
		return
	}
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil || user == nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.issueToken(w, r, user, http.StatusCreated)
}

type statusResponse struct {
	Schema         string `json:"schema"`
	Users          int    `json:"users"`
	Sessions       int    `json:"sessions"`
	ActiveSessions int    `json:"active_sessions"`
	Scenarios      int    `json:"scenarios"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp statusResponse
	var err error
	if resp.Schema, err = h.store.Schema(ctx); err != nil {
		slog.Error("failed to read schema version", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if resp.Users, err = h.store.UserCount(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if resp.Sessions, err = h.store.SessionCount(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp.ActiveSessions = h.coaches.Active()
	resp.Scenarios = h.catalog.Len()
	writeJSON(w, http.StatusOK, resp)
}
