package store

import (
	"context"
	"fmt"

	"github.com/facegate/facegate/internal/match"
)

// Migrate creates the schema. Statements are idempotent so startup can run
// them unconditionally.
func Migrate(ctx context.Context, pool *Pool) error {
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			uid             VARCHAR(64) PRIMARY KEY,
			population      VARCHAR(16) NOT NULL,
			display_name    VARCHAR(255) NOT NULL,
			normalized_name VARCHAR(255) NOT NULL,
			active          BOOLEAN NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at      TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			id           BIGSERIAL PRIMARY KEY,
			identity_uid VARCHAR(64) NOT NULL REFERENCES identities(uid) ON DELETE CASCADE,
			data         BYTEA NOT NULL,
			vec          vector(%d),
			created_at   TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`, match.EmbeddingDim),
		`CREATE INDEX IF NOT EXISTS embeddings_identity_uid_idx ON embeddings(identity_uid)`,
		`CREATE TABLE IF NOT EXISTS sites (
			uid        VARCHAR(64) PRIMARY KEY,
			name       VARCHAR(255) NOT NULL,
			latitude   DOUBLE PRECISION NOT NULL,
			longitude  DOUBLE PRECISION NOT NULL,
			radius_m   DOUBLE PRECISION NOT NULL DEFAULT 0,
			ssid       VARCHAR(64) NOT NULL DEFAULT '',
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			uid             VARCHAR(64) PRIMARY KEY,
			identity_uid    VARCHAR(64) NOT NULL REFERENCES identities(uid),
			event_type      VARCHAR(8) NOT NULL,
			occurred_at     TIMESTAMP WITH TIME ZONE NOT NULL,
			site_uid        VARCHAR(64),
			distance        DOUBLE PRECISION NOT NULL DEFAULT 0,
			similarity      DOUBLE PRECISION NOT NULL DEFAULT 0,
			review_required BOOLEAN NOT NULL DEFAULT FALSE,
			review_reasons  TEXT[],
			created_at      TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS events_identity_occurred_idx ON events(identity_uid, occurred_at DESC)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key        VARCHAR(128) PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}

// CreateVectorIndex creates the IVFFlat index used by the audit query.
// Call after the embeddings table has data for optimal list sizing.
func CreateVectorIndex(ctx context.Context, pool *Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS embeddings_vec_idx
		ON embeddings USING ivfflat (vec vector_l2_ops) WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}
