package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/facegate/facegate/internal/match"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Identity is one enrolled person.
type Identity struct {
	UID            string    `json:"uid"`
	Population     string    `json:"population"`
	DisplayName    string    `json:"display_name"`
	NormalizedName string    `json:"-"`
	Active         bool      `json:"active"`
	EmbeddingCount int       `json:"embedding_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IdentityRepository stores identities and their embeddings.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates an identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// CreateIdentity enrolls a new identity and returns its UID.
func (r *IdentityRepository) CreateIdentity(ctx context.Context, population, displayName string) (*Identity, error) {
	id := &Identity{
		UID:            uuid.NewString(),
		Population:     population,
		DisplayName:    displayName,
		NormalizedName: NormalizeName(displayName),
		Active:         true,
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO identities (uid, population, display_name, normalized_name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, id.UID, id.Population, id.DisplayName, id.NormalizedName).Scan(&id.CreatedAt, &id.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	return id, nil
}

// GetIdentity fetches one identity by UID.
func (r *IdentityRepository) GetIdentity(ctx context.Context, uid string) (*Identity, error) {
	var id Identity
	err := r.pool.QueryRow(ctx, `
		SELECT i.uid, i.population, i.display_name, i.normalized_name, i.active,
		       i.created_at, i.updated_at,
		       (SELECT COUNT(*) FROM embeddings e WHERE e.identity_uid = i.uid)
		FROM identities i
		WHERE i.uid = $1
	`, uid).Scan(&id.UID, &id.Population, &id.DisplayName, &id.NormalizedName,
		&id.Active, &id.CreatedAt, &id.UpdatedAt, &id.EmbeddingCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return &id, nil
}

// ListIdentities returns identities for one population, active first, by name.
func (r *IdentityRepository) ListIdentities(ctx context.Context, population string) ([]Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.uid, i.population, i.display_name, i.normalized_name, i.active,
		       i.created_at, i.updated_at,
		       (SELECT COUNT(*) FROM embeddings e WHERE e.identity_uid = i.uid)
		FROM identities i
		WHERE i.population = $1
		ORDER BY i.active DESC, i.display_name
	`, population)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.UID, &id.Population, &id.DisplayName, &id.NormalizedName,
			&id.Active, &id.CreatedAt, &id.UpdatedAt, &id.EmbeddingCount); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpdateIdentity renames an identity or toggles its active flag.
func (r *IdentityRepository) UpdateIdentity(ctx context.Context, uid, displayName string, active bool) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE identities
		SET display_name = $2, normalized_name = $3, active = $4, updated_at = NOW()
		WHERE uid = $1
	`, uid, displayName, NormalizeName(displayName), active)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateIdentity soft-deletes an identity; its embeddings stop being
// indexed on the next cache rebuild.
func (r *IdentityRepository) DeactivateIdentity(ctx context.Context, uid string) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE identities SET active = FALSE, updated_at = NOW() WHERE uid = $1
	`, uid)
	if err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddEmbedding attaches one embedding to an identity. The canonical form is
// the serialized bytes; a float32 vector mirror is kept for audit queries.
func (r *IdentityRepository) AddEmbedding(ctx context.Context, identityUID string, vec []float64) error {
	if err := match.ValidateEmbedding(vec); err != nil {
		return fmt.Errorf("rejecting embedding: %w", err)
	}
	data, err := match.EncodeEmbedding(vec)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}

	mirror := make([]float32, len(vec))
	for i, v := range vec {
		mirror[i] = float32(v)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO embeddings (identity_uid, data, vec) VALUES ($1, $2, $3)
	`, identityUID, data, pgvector.NewVector(mirror))
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// EmbeddingSource adapts one population's enrollment set to the identity
// cache's rebuild interface.
type EmbeddingSource struct {
	repo       *IdentityRepository
	population string
}

// Source returns a cache rebuild source scoped to one population.
func (r *IdentityRepository) Source(population string) *EmbeddingSource {
	return &EmbeddingSource{repo: r, population: population}
}

// ListActiveEmbeddings returns the serialized embeddings of all active
// identities in the population.
func (s *EmbeddingSource) ListActiveEmbeddings(ctx context.Context) ([]match.RawEntry, error) {
	rows, err := s.repo.pool.Query(ctx, `
		SELECT i.uid, e.data
		FROM identities i
		JOIN embeddings e ON e.identity_uid = i.uid
		WHERE i.active AND i.population = $1
		ORDER BY i.uid, e.id
	`, s.population)
	if err != nil {
		return nil, fmt.Errorf("query active embeddings: %w", err)
	}
	defer rows.Close()

	var out []match.RawEntry
	for rows.Next() {
		var entry match.RawEntry
		if err := rows.Scan(&entry.IdentityKey, &entry.Data); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// NearestByVector runs the pgvector L2 nearest-neighbour query for one
// population. Audit tooling cross-checks the in-memory index against it.
func (r *IdentityRepository) NearestByVector(ctx context.Context, population string, vec []float64) (string, float64, error) {
	mirror := make([]float32, len(vec))
	for i, v := range vec {
		mirror[i] = float32(v)
	}

	var uid string
	var distance float64
	err := r.pool.QueryRow(ctx, `
		SELECT i.uid, e.vec <-> $2
		FROM identities i
		JOIN embeddings e ON e.identity_uid = i.uid
		WHERE i.active AND i.population = $1
		ORDER BY e.vec <-> $2
		LIMIT 1
	`, population, pgvector.NewVector(mirror)).Scan(&uid, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("nearest embedding query: %w", err)
	}
	return uid, distance, nil
}
