package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/family-comb/app/listing"
)

type EventRepository struct {
	db *DB
}

func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, source, external_id, slug, title, description, start_at, end_at, all_day,
	venue_name, address, city, state, lat, lon, is_free, price_min, price_max, age_band, setting,
	kid_allowed, tags, url, created_at, updated_at`

// UpsertEvent writes ev keyed by (source, external_id) in its own transaction
// and reports whether a new row was inserted. An existing slug is never
// changed, and known coordinates are kept when ev has none.
func (r *EventRepository) UpsertEvent(ctx context.Context, ev *listing.Event) (bool, error) {
	tags, err := json.Marshal(nonNilTags(ev.Tags))
	if err != nil {
		return false, fmt.Errorf("failed to encode tags: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id, slug string
	err = tx.QueryRowContext(ctx, `SELECT id, slug FROM events WHERE source = ? AND external_id = ?`,
		ev.Source, ev.ExternalID).Scan(&id, &slug)
	inserted := errors.Is(err, sql.ErrNoRows)
	if err != nil && !inserted {
		return false, fmt.Errorf("failed to look up event: %w", err)
	}

	var lat, lon sql.NullFloat64
	if ev.Coordinates != nil {
		lat = sql.NullFloat64{Float64: ev.Coordinates.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: ev.Coordinates.Lon, Valid: true}
	}
	now := formatTime(time.Now())

	if inserted {
		if ev.Slug == "" {
			return false, fmt.Errorf("event %s/%s has no slug", ev.Source, ev.ExternalID)
		}
		id = uuid.NewString()
		slug = ev.Slug
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (`+eventColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, ev.Source, ev.ExternalID, slug, ev.Title, ev.Description, formatTime(ev.StartAt),
			formatNullTime(ev.EndAt), ev.AllDay, ev.VenueName, ev.Address, ev.City, ev.State, lat, lon,
			nullBool(ev.IsFree), nullFloat(ev.PriceMin), nullFloat(ev.PriceMax), ev.AgeBand, ev.Setting,
			string(ev.KidAllowed), string(tags), ev.URL, now, now)
		if err != nil {
			return false, fmt.Errorf("failed to insert event: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE events SET
				title = ?, description = ?, start_at = ?, end_at = ?, all_day = ?,
				venue_name = ?, address = ?, city = ?, state = ?,
				lat = COALESCE(?, lat), lon = COALESCE(?, lon),
				is_free = ?, price_min = ?, price_max = ?, age_band = ?, setting = ?,
				kid_allowed = ?, tags = ?, url = ?, updated_at = ?
			WHERE id = ?
		`, ev.Title, ev.Description, formatTime(ev.StartAt), formatNullTime(ev.EndAt), ev.AllDay,
			ev.VenueName, ev.Address, ev.City, ev.State, lat, lon,
			nullBool(ev.IsFree), nullFloat(ev.PriceMin), nullFloat(ev.PriceMax), ev.AgeBand, ev.Setting,
			string(ev.KidAllowed), string(tags), ev.URL, now, id)
		if err != nil {
			return false, fmt.Errorf("failed to update event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit event: %w", err)
	}

	ev.ID = id
	ev.Slug = slug
	return inserted, nil
}

func (r *EventRepository) EventExists(ctx context.Context, source, externalID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE source = ? AND external_id = ?)`,
		source, externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return exists, nil
}

// SlugFor returns the slug already assigned to an identity, or "".
func (r *EventRepository) SlugFor(ctx context.Context, source, externalID string) (string, error) {
	var slug string
	err := r.db.QueryRowContext(ctx,
		`SELECT slug FROM events WHERE source = ? AND external_id = ?`, source, externalID).Scan(&slug)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get slug: %w", err)
	}
	return slug, nil
}

func (r *EventRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE slug = ?)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func (r *EventRepository) GetEventBySlug(ctx context.Context, slug string) (*listing.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE slug = ?`, slug)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

func (r *EventRepository) GetEventCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// EventsNear walks events inside the radius's bounding box in (start_at, id)
// order and keeps those within the radius until Limit hits are collected.
func (r *EventRepository) EventsNear(ctx context.Context, q EventNearQuery) ([]EventHit, error) {
	box := listing.BoundsAround(q.Center, q.RadiusMiles)

	var (
		where = []string{"lat IS NOT NULL", "lat BETWEEN ? AND ?", "lon BETWEEN ? AND ?", "start_at >= ?"}
		args  = []any{box.South, box.North, box.West, box.East, formatTime(q.From)}
	)
	if q.To != nil {
		where = append(where, "start_at < ?")
		args = append(args, formatTime(*q.To))
	}
	if q.After != nil {
		after := formatTime(q.After.StartAt)
		where = append(where, "(start_at > ? OR (start_at = ? AND id > ?))")
		args = append(args, after, after, q.After.ID)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE `+strings.Join(where, " AND ")+` ORDER BY start_at, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events near: %w", err)
	}
	defer rows.Close()

	hits := make([]EventHit, 0, q.Limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		d := listing.HaversineMiles(q.Center, *ev.Coordinates)
		if d > q.RadiusMiles {
			continue
		}
		hits = append(hits, EventHit{Event: *ev, Distance: &d})
		if q.Limit > 0 && len(hits) >= q.Limit {
			break
		}
	}
	return hits, rows.Err()
}

// EventsInBounds returns geocoded events inside box within the time window.
func (r *EventRepository) EventsInBounds(ctx context.Context, box listing.BBox, from time.Time, to *time.Time, limit int) ([]listing.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE lat IS NOT NULL AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ? AND start_at >= ?`
	args := []any{box.South, box.North, box.West, box.East, formatTime(from)}
	if to != nil {
		query += ` AND start_at < ?`
		args = append(args, formatTime(*to))
	}
	query += ` ORDER BY start_at, id LIMIT ?`
	args = append(args, limit)

	return r.queryEvents(ctx, query, args...)
}

// EventsByKidAllowed returns up to limit events currently carrying kid.
func (r *EventRepository) EventsByKidAllowed(ctx context.Context, kid listing.KidAllowed, limit int) ([]listing.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE kid_allowed = ? ORDER BY start_at, id LIMIT ?`,
		string(kid), limit)
}

// EventsMissingDescription returns upcoming events from source that have a
// URL but no description.
func (r *EventRepository) EventsMissingDescription(ctx context.Context, source string, from time.Time, limit int) ([]listing.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events
		WHERE source = ? AND description = '' AND url != '' AND start_at >= ?
		ORDER BY start_at, id LIMIT ?`, source, formatTime(from), limit)
}

func (r *EventRepository) UpdateClassification(ctx context.Context, id string, kid listing.KidAllowed, ageBand string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE events SET kid_allowed = ?, age_band = ?, updated_at = ? WHERE id = ?`,
		string(kid), ageBand, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update event classification: %w", err)
	}
	return nil
}

func (r *EventRepository) UpdateDescription(ctx context.Context, id, description string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE events SET description = ?, updated_at = ? WHERE id = ?`,
		description, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update event description: %w", err)
	}
	return nil
}

func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...any) ([]listing.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []listing.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func scanEvent(row rowScanner) (*listing.Event, error) {
	var (
		ev                   listing.Event
		startAt              string
		endAt                sql.NullString
		lat, lon             sql.NullFloat64
		isFree               sql.NullBool
		priceMin, priceMax   sql.NullFloat64
		kid, tags            string
		createdAt, updatedAt string
	)
	err := row.Scan(&ev.ID, &ev.Source, &ev.ExternalID, &ev.Slug, &ev.Title, &ev.Description, &startAt,
		&endAt, &ev.AllDay, &ev.VenueName, &ev.Address, &ev.City, &ev.State, &lat, &lon, &isFree,
		&priceMin, &priceMax, &ev.AgeBand, &ev.Setting, &kid, &tags, &ev.URL, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if ev.StartAt, err = parseTime(startAt); err != nil {
		return nil, err
	}
	if ev.EndAt, err = parseNullTime(endAt); err != nil {
		return nil, err
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ev.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		ev.Coordinates = &listing.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	ev.IsFree = boolPtr(isFree)
	ev.PriceMin = floatPtr(priceMin)
	ev.PriceMax = floatPtr(priceMax)
	ev.KidAllowed = listing.ParseKidAllowed(kid)
	if err := json.Unmarshal([]byte(tags), &ev.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return &ev, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
