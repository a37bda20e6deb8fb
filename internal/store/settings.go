package store

import (
	"context"
	"fmt"
)

// SettingsRepository stores runtime tuning overrides as key/value pairs.
type SettingsRepository struct {
	pool *Pool
}

// NewSettingsRepository creates a settings repository.
func NewSettingsRepository(pool *Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// ListSettings returns all stored overrides.
func (r *SettingsRepository) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// SetSetting upserts one override.
func (r *SettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

// DeleteSetting removes one override; missing keys are not an error.
func (r *SettingsRepository) DeleteSetting(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}
