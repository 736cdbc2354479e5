package database

import (
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
)

// EventHit is an event returned by a radius query. Distance is the storage
// layer's computed value in miles and may be nil.
type EventHit struct {
	Event    listing.Event
	Distance *float64
}

type PlaceHit struct {
	Place    listing.Place
	Distance *float64
}

// Keyset is the last-seen (start_at, id) pair of an event page.
type Keyset struct {
	StartAt time.Time
	ID      string
}

type EventNearQuery struct {
	Center      listing.Coordinates
	RadiusMiles float64
	From        time.Time
	To          *time.Time
	After       *Keyset
	Limit       int
}

type PlaceNearQuery struct {
	Center      listing.Coordinates
	RadiusMiles float64
	Limit       int
}

type GeocodeEntry struct {
	Query       string
	Coordinates listing.Coordinates
	BBox        *listing.BBox
	PlaceType   string
	DisplayName string
	CreatedAt   time.Time
}
