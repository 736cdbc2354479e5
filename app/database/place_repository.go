package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/family-comb/app/listing"
)

type PlaceRepository struct {
	db *DB
}

func NewPlaceRepository(db *DB) *PlaceRepository {
	return &PlaceRepository{db: db}
}

const placeColumns = `id, source, external_id, name, category, subcategory, address, city, state,
	postal_code, lat, lon, kid_allowed, url, created_at, updated_at`

// UpsertPlace writes p keyed by (source, external_id) and reports whether a
// new row was inserted.
func (r *PlaceRepository) UpsertPlace(ctx context.Context, p *listing.Place) (bool, error) {
	var lat, lon sql.NullFloat64
	if p.Coordinates != nil {
		lat = sql.NullFloat64{Float64: p.Coordinates.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: p.Coordinates.Lon, Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM places WHERE source = ? AND external_id = ?`,
		p.Source, p.ExternalID).Scan(&id)
	inserted := errors.Is(err, sql.ErrNoRows)
	if err != nil && !inserted {
		return false, fmt.Errorf("failed to look up place: %w", err)
	}

	now := formatTime(time.Now())
	if inserted {
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO places (`+placeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, p.Source, p.ExternalID, p.Name, p.Category, p.Subcategory, p.Address, p.City, p.State,
			p.PostalCode, lat, lon, string(p.KidAllowed), p.URL, now, now)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE places SET
				name = ?, category = ?, subcategory = ?, address = ?, city = ?, state = ?, postal_code = ?,
				lat = COALESCE(?, lat), lon = COALESCE(?, lon), kid_allowed = ?, url = ?, updated_at = ?
			WHERE id = ?
		`, p.Name, p.Category, p.Subcategory, p.Address, p.City, p.State, p.PostalCode,
			lat, lon, string(p.KidAllowed), p.URL, now, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert place: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit place: %w", err)
	}

	p.ID = id
	return inserted, nil
}

func (r *PlaceRepository) PlaceExists(ctx context.Context, source, externalID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM places WHERE source = ? AND external_id = ?)`,
		source, externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check place existence: %w", err)
	}
	return exists, nil
}

func (r *PlaceRepository) GetPlaceCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM places`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count places: %w", err)
	}
	return count, nil
}

// PlacesNear returns places within the radius ordered by ascending distance.
func (r *PlaceRepository) PlacesNear(ctx context.Context, q PlaceNearQuery) ([]PlaceHit, error) {
	box := listing.BoundsAround(q.Center, q.RadiusMiles)
	places, err := r.queryPlaces(ctx, `SELECT `+placeColumns+` FROM places
		WHERE lat IS NOT NULL AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?`,
		box.South, box.North, box.West, box.East)
	if err != nil {
		return nil, err
	}

	hits := make([]PlaceHit, 0, len(places))
	for _, p := range places {
		d := listing.HaversineMiles(q.Center, *p.Coordinates)
		if d > q.RadiusMiles {
			continue
		}
		hits = append(hits, PlaceHit{Place: p, Distance: &d})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if *hits[i].Distance != *hits[j].Distance {
			return *hits[i].Distance < *hits[j].Distance
		}
		return hits[i].Place.ID < hits[j].Place.ID
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (r *PlaceRepository) PlacesInBounds(ctx context.Context, box listing.BBox, limit int) ([]listing.Place, error) {
	return r.queryPlaces(ctx, `SELECT `+placeColumns+` FROM places
		WHERE lat IS NOT NULL AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		ORDER BY id LIMIT ?`, box.South, box.North, box.West, box.East, limit)
}

func (r *PlaceRepository) queryPlaces(ctx context.Context, query string, args ...any) ([]listing.Place, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query places: %w", err)
	}
	defer rows.Close()

	var places []listing.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		places = append(places, *p)
	}
	return places, rows.Err()
}

func scanPlace(row rowScanner) (*listing.Place, error) {
	var (
		p                    listing.Place
		lat, lon             sql.NullFloat64
		kid                  string
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.Source, &p.ExternalID, &p.Name, &p.Category, &p.Subcategory, &p.Address,
		&p.City, &p.State, &p.PostalCode, &lat, &lon, &kid, &p.URL, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		p.Coordinates = &listing.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	p.KidAllowed = listing.ParseKidAllowed(kid)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
