package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/facegate/facegate/internal/attendance"
)

// EventRepository stores attendance events and serializes the read-decide-
// append cycle per identity.
type EventRepository struct {
	pool *Pool
	now  func() time.Time
}

// NewEventRepository creates an event repository.
func NewEventRepository(pool *Pool) *EventRepository {
	return &EventRepository{pool: pool, now: time.Now}
}

// RecordEvent runs decide against the identity's most recent event recorded
// today and appends its result, all inside one transaction. The identity row
// is locked for the duration so two concurrent scans of the same person
// cannot both observe the same last event.
func (r *EventRepository) RecordEvent(ctx context.Context, identityKey string, decide func(last *attendance.Event) (*attendance.Event, error)) (*attendance.Event, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var uid string
	err = tx.QueryRowContext(ctx, `SELECT uid FROM identities WHERE uid = $1 FOR UPDATE`, identityKey).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock identity: %w", err)
	}

	now := r.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	last, err := scanEvent(tx.QueryRowContext(ctx, `
		SELECT uid, identity_uid, event_type, occurred_at, COALESCE(site_uid, ''),
		       distance, similarity, review_required, review_reasons
		FROM events
		WHERE identity_uid = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT 1
	`, identityKey, dayStart))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query last event: %w", err)
	}

	event, err := decide(last)
	if err != nil {
		return nil, err
	}

	var siteUID any
	if event.SiteID != "" {
		siteUID = event.SiteID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (uid, identity_uid, event_type, occurred_at, site_uid,
		                    distance, similarity, review_required, review_reasons)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, event.IdentityKey, string(event.Type), event.Timestamp, siteUID,
		event.Distance, event.Similarity, event.ReviewRequired, pq.Array(event.ReviewReasons))
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit event: %w", err)
	}
	return event, nil
}

// ListRecent returns the newest events across all identities.
func (r *EventRepository) ListRecent(ctx context.Context, limit int) ([]attendance.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT uid, identity_uid, event_type, occurred_at, COALESCE(site_uid, ''),
		       distance, similarity, review_required, review_reasons
		FROM events
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListToday returns an identity's events for the current local day, oldest
// first.
func (r *EventRepository) ListToday(ctx context.Context, identityKey string) ([]attendance.Event, error) {
	now := r.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	rows, err := r.pool.Query(ctx, `
		SELECT uid, identity_uid, event_type, occurred_at, COALESCE(site_uid, ''),
		       distance, similarity, review_required, review_reasons
		FROM events
		WHERE identity_uid = $1 AND occurred_at >= $2
		ORDER BY occurred_at
	`, identityKey, dayStart)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListReviewable returns the newest events flagged for manual review.
func (r *EventRepository) ListReviewable(ctx context.Context, limit int) ([]attendance.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT uid, identity_uid, event_type, occurred_at, COALESCE(site_uid, ''),
		       distance, similarity, review_required, review_reasons
		FROM events
		WHERE review_required
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*attendance.Event, error) {
	var ev attendance.Event
	var typ string
	var reasons pq.StringArray
	err := row.Scan(&ev.ID, &ev.IdentityKey, &typ, &ev.Timestamp, &ev.SiteID,
		&ev.Distance, &ev.Similarity, &ev.ReviewRequired, &reasons)
	if err != nil {
		return nil, err
	}
	ev.Type = attendance.EventType(typ)
	ev.ReviewReasons = reasons
	return &ev, nil
}

func collectEvents(rows *sql.Rows) ([]attendance.Event, error) {
	var out []attendance.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}
