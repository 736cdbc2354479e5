package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/family-comb/app/listing"
)

type FeedRepository struct {
	db *DB
}

func NewFeedRepository(db *DB) *FeedRepository {
	return &FeedRepository{db: db}
}

const feedColumns = `id, name, url, label, default_city, default_state, active, extract_content,
	max_items, timeout_seconds, last_fetched_at, last_success_at, last_error, created_at, updated_at`

// UpsertFeed inserts or updates the feed configuration keyed by name.
// Fetch bookkeeping columns are left untouched on update.
func (r *FeedRepository) UpsertFeed(ctx context.Context, f listing.Feed) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feeds (id, name, url, label, default_city, default_state, active, extract_content,
		                   max_items, timeout_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			label = excluded.label,
			default_city = excluded.default_city,
			default_state = excluded.default_state,
			active = excluded.active,
			extract_content = excluded.extract_content,
			max_items = excluded.max_items,
			timeout_seconds = excluded.timeout_seconds,
			updated_at = excluded.updated_at
	`, uuid.NewString(), f.Name, f.URL, f.Label, f.DefaultCity, f.DefaultState, f.Active, f.ExtractContent,
		f.MaxItems, int(f.Timeout/time.Second), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert feed: %w", err)
	}
	return nil
}

func (r *FeedRepository) GetFeed(ctx context.Context, name string) (*listing.Feed, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE name = ?`, name)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return f, nil
}

// GetFeedByURL returns the catalogued feed with the given URL, or nil.
func (r *FeedRepository) GetFeedByURL(ctx context.Context, url string) (*listing.Feed, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE url = ? ORDER BY name LIMIT 1`, url)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by url: %w", err)
	}
	return f, nil
}

func (r *FeedRepository) ListFeeds(ctx context.Context) ([]listing.Feed, error) {
	return r.list(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY name`)
}

func (r *FeedRepository) ListActiveFeeds(ctx context.Context) ([]listing.Feed, error) {
	return r.list(ctx, `SELECT `+feedColumns+` FROM feeds WHERE active = 1 ORDER BY name`)
}

func (r *FeedRepository) GetFeedCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feeds`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count feeds: %w", err)
	}
	return count, nil
}

// RecordFetch stores the outcome of the latest fetch attempt.
func (r *FeedRepository) RecordFetch(ctx context.Context, name string, fetchErr error) error {
	now := formatTime(time.Now())
	var err error
	if fetchErr != nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE feeds SET last_fetched_at = ?, last_error = ?, updated_at = ? WHERE name = ?
		`, now, fetchErr.Error(), now, name)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE feeds SET last_fetched_at = ?, last_success_at = ?, last_error = '', updated_at = ? WHERE name = ?
		`, now, now, now, name)
	}
	if err != nil {
		return fmt.Errorf("failed to record feed fetch: %w", err)
	}
	return nil
}

func (r *FeedRepository) list(ctx context.Context, query string) ([]listing.Feed, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []listing.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*listing.Feed, error) {
	var (
		f                       listing.Feed
		timeoutSeconds          int
		lastFetched, lastSuccess sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&f.ID, &f.Name, &f.URL, &f.Label, &f.DefaultCity, &f.DefaultState, &f.Active,
		&f.ExtractContent, &f.MaxItems, &timeoutSeconds, &lastFetched, &lastSuccess, &f.LastError,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	f.Timeout = time.Duration(timeoutSeconds) * time.Second
	if f.LastFetchedAt, err = parseNullTime(lastFetched); err != nil {
		return nil, err
	}
	if f.LastSuccessAt, err = parseNullTime(lastSuccess); err != nil {
		return nil, err
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}
