package source

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
)

type Kind string

const (
	KindCalendar  Kind = "calendar"
	KindTicketing Kind = "ticketing"
	KindPOI       Kind = "poi"
)

// Record is one raw upstream entry emitted by a Source.
type Record interface {
	RecordID() string
}

// Source is one upstream adapter. Name is the identity label written to the
// source column of every record it produces.
type Source interface {
	Name() string
	Kind() Kind
	Fetch(ctx context.Context) ([]Record, error)
}

type CalendarEntry struct {
	UID         string
	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string
	Start       time.Time
	End         *time.Time
	DateOnly    bool
	Geo         *listing.Coordinates
}

func (e *CalendarEntry) RecordID() string { return e.UID }

type TicketVenue struct {
	Name        string
	Address     string
	City        string
	State       string
	PostalCode  string
	Coordinates *listing.Coordinates
}

type TicketEvent struct {
	ID               string
	Name             string
	Info             string
	PleaseNote       string
	URL              string
	LocalDate        string
	LocalTime        string
	StartUTC         *time.Time
	EndUTC           *time.Time
	Timezone         string
	Venue            TicketVenue
	PriceMin         *float64
	PriceMax         *float64
	Segment          string
	Genre            string
	SubGenre         string
	Family           bool
	LegalAgeEnforced bool
}

func (e *TicketEvent) RecordID() string { return e.ID }

// POIElement is an OpenStreetMap node, way or relation with its tags.
type POIElement struct {
	Type string
	ID   int64
	Lat  float64
	Lon  float64
	Tags map[string]string
}

func (p *POIElement) RecordID() string { return fmt.Sprintf("%s/%d", p.Type, p.ID) }
