package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/facegate/facegate/internal/geofence"
)

// Site is one stored geofence site with its lifecycle fields.
type Site struct {
	UID          string    `json:"uid"`
	Name         string    `json:"name"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RadiusMeters float64   `json:"radius_m"`
	SSID         string    `json:"ssid,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// SiteRepository stores geofence sites.
type SiteRepository struct {
	pool *Pool
}

// NewSiteRepository creates a site repository.
func NewSiteRepository(pool *Pool) *SiteRepository {
	return &SiteRepository{pool: pool}
}

// CreateSite stores a new site and returns it.
func (r *SiteRepository) CreateSite(ctx context.Context, s Site) (*Site, error) {
	s.UID = uuid.NewString()
	s.Active = true

	err := r.pool.QueryRow(ctx, `
		INSERT INTO sites (uid, name, latitude, longitude, radius_m, ssid)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, s.UID, s.Name, s.Latitude, s.Longitude, s.RadiusMeters, s.SSID).Scan(&s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert site: %w", err)
	}
	return &s, nil
}

// GetSite fetches one site by UID.
func (r *SiteRepository) GetSite(ctx context.Context, uid string) (*Site, error) {
	var s Site
	err := r.pool.QueryRow(ctx, `
		SELECT uid, name, latitude, longitude, radius_m, ssid, active, created_at
		FROM sites WHERE uid = $1
	`, uid).Scan(&s.UID, &s.Name, &s.Latitude, &s.Longitude, &s.RadiusMeters, &s.SSID, &s.Active, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query site: %w", err)
	}
	return &s, nil
}

// ListSites returns all sites, active first, by name.
func (r *SiteRepository) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT uid, name, latitude, longitude, radius_m, ssid, active, created_at
		FROM sites ORDER BY active DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	var out []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.UID, &s.Name, &s.Latitude, &s.Longitude, &s.RadiusMeters, &s.SSID, &s.Active, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSite rewrites a site's mutable fields.
func (r *SiteRepository) UpdateSite(ctx context.Context, s Site) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE sites
		SET name = $2, latitude = $3, longitude = $4, radius_m = $5, ssid = $6, active = $7
		WHERE uid = $1
	`, s.UID, s.Name, s.Latitude, s.Longitude, s.RadiusMeters, s.SSID, s.Active)
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateSite soft-deletes a site; it stops resolving immediately.
func (r *SiteRepository) DeactivateSite(ctx context.Context, uid string) error {
	res, err := r.pool.Exec(ctx, `UPDATE sites SET active = FALSE WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("deactivate site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveSites returns the active sites in the geofence resolver's shape.
func (r *SiteRepository) ListActiveSites(ctx context.Context) ([]geofence.Site, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT uid, name, latitude, longitude, radius_m, ssid
		FROM sites WHERE active ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query active sites: %w", err)
	}
	defer rows.Close()

	var out []geofence.Site
	for rows.Next() {
		var s geofence.Site
		if err := rows.Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude, &s.RadiusMeters, &s.SSID); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
