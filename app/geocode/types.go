package geocode

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/lysyi3m/family-comb/app/database"
	"github.com/lysyi3m/family-comb/app/listing"
)

type PlaceType string

const (
	PlaceTypePostcode PlaceType = "postcode"
	PlaceTypeCity     PlaceType = "city"
	PlaceTypeCounty   PlaceType = "county"
	PlaceTypeState    PlaceType = "state"
	PlaceTypeAddress  PlaceType = "address"
	PlaceTypeOther    PlaceType = "other"
)

// cityCoreFactor shrinks a city bounding box around its centre to
// approximate the downtown core.
const cityCoreFactor = 0.5

var ErrNotFound = errors.New("location not found")

// Location is a resolved free-text place.
type Location struct {
	Query       string              `json:"query"`
	Coordinates listing.Coordinates `json:"coordinates"`
	BBox        *listing.BBox       `json:"bbox,omitempty"`
	Core        *listing.BBox       `json:"core,omitempty"`
	PlaceType   PlaceType           `json:"place_type"`
	DisplayName string              `json:"display_name"`
	PostalCode  string              `json:"postal_code,omitempty"`
}

// Provider is an upstream geocoding service.
type Provider interface {
	Search(ctx context.Context, query string, limit int, bias *listing.Coordinates) ([]Location, error)
}

// Store is the persistent geocode cache.
type Store interface {
	GetGeocode(ctx context.Context, query string) (*database.GeocodeEntry, error)
	PutGeocode(ctx context.Context, e database.GeocodeEntry) error
}

// CoreFor derives the city-core box for a place type and bounding box.
func CoreFor(pt PlaceType, bbox *listing.BBox) *listing.BBox {
	if bbox == nil || !bbox.Valid() {
		return nil
	}
	switch pt {
	case PlaceTypeCity:
		core := bbox.Scale(cityCoreFactor)
		return &core
	case PlaceTypePostcode:
		core := *bbox
		return &core
	default:
		return nil
	}
}

var (
	queryPunct  = regexp.MustCompile(`[^\p{L}\p{N},#\- ]+`)
	querySpaces = regexp.MustCompile(`\s+`)
)

// NormalizeQuery produces the cache key for a free-text query.
func NormalizeQuery(q string) string {
	q = strings.ToLower(q)
	q = queryPunct.ReplaceAllString(q, " ")
	q = querySpaces.ReplaceAllString(q, " ")
	q = strings.ReplaceAll(q, " ,", ",")
	return strings.Trim(q, " ,")
}

func entryToLocation(e *database.GeocodeEntry) Location {
	pt := PlaceType(e.PlaceType)
	return Location{
		Query:       e.Query,
		Coordinates: e.Coordinates,
		BBox:        e.BBox,
		Core:        CoreFor(pt, e.BBox),
		PlaceType:   pt,
		DisplayName: e.DisplayName,
	}
}

func locationToEntry(key string, loc Location) database.GeocodeEntry {
	return database.GeocodeEntry{
		Query:       key,
		Coordinates: loc.Coordinates,
		BBox:        loc.BBox,
		PlaceType:   string(loc.PlaceType),
		DisplayName: loc.DisplayName,
	}
}
