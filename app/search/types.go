package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/family-comb/app/database"
	"github.com/lysyi3m/family-comb/app/geocode"
	"github.com/lysyi3m/family-comb/app/listing"
)

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrInvalidRequest   = errors.New("invalid search request")
	// ErrUnavailable is returned when both entity queries fail.
	ErrUnavailable = errors.New("search backend unavailable")
)

const (
	ItemEvent = "event"
	ItemPlace = "place"
)

// Types selects which entity kinds a search returns.
type Types string

const (
	TypesAll    Types = "all"
	TypesEvents Types = "events"
	TypesPlaces Types = "places"
)

func ParseTypes(s string) (Types, error) {
	switch s {
	case "", "all", "both":
		return TypesAll, nil
	case "events", "event":
		return TypesEvents, nil
	case "places", "place":
		return TypesPlaces, nil
	}
	return "", fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, s)
}

func (t Types) events() bool { return t != TypesPlaces }
func (t Types) places() bool { return t != TypesEvents }

type Request struct {
	Query  string
	Start  *time.Time
	End    *time.Time
	Range  string
	Radius *float64
	Cursor string
	Types  Types
	Limit  int
}

type Item struct {
	Type        string              `json:"type"`
	ID          string              `json:"id"`
	Slug        string              `json:"slug,omitempty"`
	Title       string              `json:"title"`
	Subtitle    string              `json:"subtitle"`
	Distance    float64             `json:"distance"`
	Category    string              `json:"category,omitempty"`
	Start       *time.Time          `json:"start,omitempty"`
	AllDay      bool                `json:"all_day,omitempty"`
	KidAllowed  listing.KidAllowed  `json:"kid_allowed"`
	URL         string              `json:"url,omitempty"`
	Coordinates listing.Coordinates `json:"coordinates"`

	inCore bool
	weight int
}

type Response struct {
	Items        []Item              `json:"items"`
	NextCursor   *string             `json:"next_cursor"`
	Note         string              `json:"note"`
	Warnings     []string            `json:"warnings"`
	Partial      bool                `json:"partial"`
	Radius       float64             `json:"radius"`
	ExpandedFrom *float64            `json:"expanded_from,omitempty"`
	Center       listing.Coordinates `json:"center"`
	PlaceType    geocode.PlaceType   `json:"place_type"`
}

type Geocoder interface {
	Resolve(ctx context.Context, query string) (geocode.Location, error)
}

type EventStore interface {
	EventsNear(ctx context.Context, q database.EventNearQuery) ([]database.EventHit, error)
	EventsInBounds(ctx context.Context, box listing.BBox, from time.Time, to *time.Time, limit int) ([]listing.Event, error)
}

type PlaceStore interface {
	PlacesNear(ctx context.Context, q database.PlaceNearQuery) ([]database.PlaceHit, error)
	PlacesInBounds(ctx context.Context, box listing.BBox, limit int) ([]listing.Place, error)
}
