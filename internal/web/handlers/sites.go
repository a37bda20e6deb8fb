package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/facegate/facegate/internal/store"
)

// SitesHandler handles geofence site management.
type SitesHandler struct {
	repo *store.SiteRepository
}

// NewSitesHandler creates a new sites handler.
func NewSitesHandler(repo *store.SiteRepository) *SitesHandler {
	return &SitesHandler{repo: repo}
}

type siteRequest struct {
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_m"`
	SSID         string  `json:"ssid"`
	Active       bool    `json:"active"`
}

func (req *siteRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if req.Latitude < -90 || req.Latitude > 90 {
		return "latitude out of range"
	}
	if req.Longitude < -180 || req.Longitude > 180 {
		return "longitude out of range"
	}
	if req.RadiusMeters < 0 {
		return "radius_m must not be negative"
	}
	return ""
}

// Create registers a new site.
func (h *SitesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	site, err := h.repo.CreateSite(r.Context(), store.Site{
		Name:         req.Name,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		RadiusMeters: req.RadiusMeters,
		SSID:         req.SSID,
	})
	if err != nil {
		log.Printf("Failed to create site: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create site")
		return
	}
	respondJSON(w, http.StatusCreated, site)
}

// List returns all sites.
func (h *SitesHandler) List(w http.ResponseWriter, r *http.Request) {
	sites, err := h.repo.ListSites(r.Context())
	if err != nil {
		log.Printf("Failed to list sites: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

// Get returns one site.
func (h *SitesHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	site, err := h.repo.GetSite(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "site not found")
		return
	}
	if err != nil {
		log.Printf("Failed to get site %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to get site")
		return
	}
	respondJSON(w, http.StatusOK, site)
}

// Update rewrites a site.
func (h *SitesHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var req siteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	err := h.repo.UpdateSite(r.Context(), store.Site{
		UID:          uid,
		Name:         req.Name,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		RadiusMeters: req.RadiusMeters,
		SSID:         req.SSID,
		Active:       req.Active,
	})
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "site not found")
		return
	}
	if err != nil {
		log.Printf("Failed to update site %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to update site")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Deactivate soft-deletes a site.
func (h *SitesHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	err := h.repo.DeactivateSite(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "site not found")
		return
	}
	if err != nil {
		log.Printf("Failed to deactivate site %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to deactivate site")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
