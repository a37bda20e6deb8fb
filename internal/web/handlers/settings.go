package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/facegate/facegate/internal/settings"
	"github.com/facegate/facegate/internal/store"
)

// SettingsHandler manages runtime tuning overrides.
type SettingsHandler struct {
	repo     *store.SettingsRepository
	provider *settings.Provider
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(repo *store.SettingsRepository, provider *settings.Provider) *SettingsHandler {
	return &SettingsHandler{repo: repo, provider: provider}
}

// List returns all stored overrides.
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	values, err := h.repo.ListSettings(r.Context())
	if err != nil {
		log.Printf("Failed to list settings: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list settings")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"settings": values})
}

type setSettingRequest struct {
	Value string `json:"value"`
}

// Set upserts one override and refreshes the live provider.
func (h *SettingsHandler) Set(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req setSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.repo.SetSetting(r.Context(), key, req.Value); err != nil {
		log.Printf("Failed to set setting %s: %v", sanitizeForLog(key), err)
		respondError(w, http.StatusInternalServerError, "failed to set setting")
		return
	}

	h.provider.Invalidate()
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Delete removes one override; the compiled-in default takes over again.
func (h *SettingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.repo.DeleteSetting(r.Context(), key); err != nil {
		log.Printf("Failed to delete setting %s: %v", sanitizeForLog(key), err)
		respondError(w, http.StatusInternalServerError, "failed to delete setting")
		return
	}

	h.provider.Invalidate()
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
