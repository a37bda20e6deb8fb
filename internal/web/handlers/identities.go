package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/facegate/facegate/internal/attendance"
	"github.com/facegate/facegate/internal/match"
	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/vision"
)

// IdentitiesHandler handles enrollment endpoints.
type IdentitiesHandler struct {
	repo      *store.IdentityRepository
	vision    vision.Provider
	employees *match.IdentityCache
	visitors  *match.IdentityCache
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(repo *store.IdentityRepository, provider vision.Provider, employees, visitors *match.IdentityCache) *IdentitiesHandler {
	return &IdentitiesHandler{
		repo:      repo,
		vision:    provider,
		employees: employees,
		visitors:  visitors,
	}
}

// invalidateCache marks the matching population's cache dirty. Enrollment
// changes to one population never touch the other cache.
func (h *IdentitiesHandler) invalidateCache(population string) {
	if population == string(attendance.PopulationVisitor) {
		h.visitors.Invalidate()
		return
	}
	h.employees.Invalidate()
}

type createIdentityRequest struct {
	Population  string `json:"population"`
	DisplayName string `json:"display_name"`
}

// Create enrolls a new identity without embeddings.
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, "display_name is required")
		return
	}
	switch req.Population {
	case string(attendance.PopulationEmployee), string(attendance.PopulationVisitor):
	default:
		respondError(w, http.StatusBadRequest, "population must be employee or visitor")
		return
	}

	id, err := h.repo.CreateIdentity(r.Context(), req.Population, req.DisplayName)
	if err != nil {
		log.Printf("Failed to create identity: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create identity")
		return
	}
	respondJSON(w, http.StatusCreated, id)
}

// List returns identities, optionally filtered by population.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.repo.ListIdentities(r.Context(), r.URL.Query().Get("population"))
	if err != nil {
		log.Printf("Failed to list identities: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"identities": ids})
}

// Get returns one identity.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	id, err := h.repo.GetIdentity(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		log.Printf("Failed to get identity %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to get identity")
		return
	}
	respondJSON(w, http.StatusOK, id)
}

type updateIdentityRequest struct {
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
}

// Update renames or re-activates an identity.
func (h *IdentitiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var req updateIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	id, err := h.repo.GetIdentity(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		log.Printf("Failed to get identity %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to update identity")
		return
	}

	if err := h.repo.UpdateIdentity(r.Context(), uid, req.DisplayName, req.Active); err != nil {
		log.Printf("Failed to update identity %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to update identity")
		return
	}

	h.invalidateCache(id.Population)
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Deactivate soft-deletes an identity; its embeddings stop matching on the
// next cache rebuild.
func (h *IdentitiesHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	id, err := h.repo.GetIdentity(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		log.Printf("Failed to get identity %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to deactivate identity")
		return
	}

	if err := h.repo.DeactivateIdentity(r.Context(), uid); err != nil {
		log.Printf("Failed to deactivate identity %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to deactivate identity")
		return
	}

	h.invalidateCache(id.Population)
	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// AddEmbedding enrolls one face image for an identity: detect a single face,
// encode it, store the embedding, invalidate the population's cache.
func (h *IdentitiesHandler) AddEmbedding(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	id, err := h.repo.GetIdentity(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		log.Printf("Failed to get identity %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to enroll embedding")
		return
	}

	if err := r.ParseMultipartForm(maxScanUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	ctx := r.Context()
	boxes, err := h.vision.Detect(ctx, image)
	if err != nil {
		log.Printf("Face detection failed: %v", err)
		respondError(w, http.StatusBadGateway, "face detection unavailable")
		return
	}
	if len(boxes) != 1 {
		respondError(w, http.StatusUnprocessableEntity, "enrollment image must contain exactly one face")
		return
	}

	embedding, err := h.vision.Encode(ctx, image, boxes[0])
	if err != nil {
		if errors.Is(err, vision.ErrNoFace) || errors.Is(err, vision.ErrMultiFace) {
			respondError(w, http.StatusUnprocessableEntity, "enrollment image must contain exactly one face")
			return
		}
		log.Printf("Face encoding failed: %v", err)
		respondError(w, http.StatusBadGateway, "face encoding unavailable")
		return
	}

	if err := h.repo.AddEmbedding(ctx, uid, embedding); err != nil {
		log.Printf("Failed to store embedding for %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to store embedding")
		return
	}

	h.invalidateCache(id.Population)
	respondJSON(w, http.StatusCreated, map[string]string{"status": "enrolled"})
}
