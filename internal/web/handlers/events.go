package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/facegate/facegate/internal/store"
)

// EventsHandler serves attendance event listings.
type EventsHandler struct {
	repo *store.EventRepository
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(repo *store.EventRepository) *EventsHandler {
	return &EventsHandler{repo: repo}
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

// ListRecent returns the newest events across all identities.
func (h *EventsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	events, err := h.repo.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		log.Printf("Failed to list events: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ListReviewable returns events flagged for manual review.
func (h *EventsHandler) ListReviewable(w http.ResponseWriter, r *http.Request) {
	events, err := h.repo.ListReviewable(r.Context(), parseLimit(r))
	if err != nil {
		log.Printf("Failed to list reviewable events: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ListToday returns one identity's events for the current day.
func (h *EventsHandler) ListToday(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	events, err := h.repo.ListToday(r.Context(), uid)
	if err != nil {
		log.Printf("Failed to list today's events for %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}
