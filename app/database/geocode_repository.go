package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
)

// GeocodeRepository is the persistent geocode cache. Entries are written once
// per normalized query and never updated.
type GeocodeRepository struct {
	db *DB
}

func NewGeocodeRepository(db *DB) *GeocodeRepository {
	return &GeocodeRepository{db: db}
}

func (r *GeocodeRepository) GetGeocode(ctx context.Context, query string) (*GeocodeEntry, error) {
	var (
		e                        GeocodeEntry
		south, west, north, east sql.NullFloat64
		createdAt                string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT query, lat, lon, south, west, north, east, place_type, display_name, created_at
		FROM geocode_cache WHERE query = ?
	`, query).Scan(&e.Query, &e.Coordinates.Lat, &e.Coordinates.Lon, &south, &west, &north, &east,
		&e.PlaceType, &e.DisplayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geocode entry: %w", err)
	}

	if south.Valid && west.Valid && north.Valid && east.Valid {
		e.BBox = &listing.BBox{South: south.Float64, West: west.Float64, North: north.Float64, East: east.Float64}
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// PutGeocode stores e unless an entry for the same query already exists.
func (r *GeocodeRepository) PutGeocode(ctx context.Context, e GeocodeEntry) error {
	var south, west, north, east sql.NullFloat64
	if e.BBox != nil {
		south = sql.NullFloat64{Float64: e.BBox.South, Valid: true}
		west = sql.NullFloat64{Float64: e.BBox.West, Valid: true}
		north = sql.NullFloat64{Float64: e.BBox.North, Valid: true}
		east = sql.NullFloat64{Float64: e.BBox.East, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (query, lat, lon, south, west, north, east, place_type, display_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query) DO NOTHING
	`, e.Query, e.Coordinates.Lat, e.Coordinates.Lon, south, west, north, east, e.PlaceType, e.DisplayName,
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to store geocode entry: %w", err)
	}
	return nil
}
