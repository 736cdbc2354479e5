package listing

import (
	"strings"
	"time"
)

// KidAllowed is the tri-state kid-safety signal. Unknown is never coerced to
// either boolean.
type KidAllowed string

const (
	KidAllowedTrue    KidAllowed = "true"
	KidAllowedFalse   KidAllowed = "false"
	KidAllowedUnknown KidAllowed = "unknown"
)

func ParseKidAllowed(s string) KidAllowed {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return KidAllowedTrue
	case "false", "no", "0":
		return KidAllowedFalse
	default:
		return KidAllowedUnknown
	}
}

const (
	AgeBandToddler   = "toddler"
	AgeBandPreschool = "preschool"
	AgeBandKids      = "kids"
	AgeBandTeens     = "teens"
	AgeBandAllAges   = "all_ages"
	AgeBandAdults    = "adults"
	AgeBandUnknown   = "unknown"

	SettingIndoor  = "indoor"
	SettingOutdoor = "outdoor"
	SettingUnknown = "unknown"
)

type Event struct {
	ID          string
	Source      string
	ExternalID  string
	Slug        string
	Title       string
	Description string
	StartAt     time.Time
	EndAt       *time.Time
	AllDay      bool
	VenueName   string
	Address     string
	City        string
	State       string
	Coordinates *Coordinates
	IsFree      *bool
	PriceMin    *float64
	PriceMax    *float64
	AgeBand     string
	Setting     string
	KidAllowed  KidAllowed
	Tags        []string
	URL         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasLocality reports whether the event carries any usable location signal.
func (e *Event) HasLocality() bool {
	return e.Coordinates != nil || e.Address != "" || (e.City != "" && e.State != "")
}

// GeocodeQuery builds the free-text query used to resolve missing coordinates.
func (e *Event) GeocodeQuery() string {
	return JoinNonEmpty(", ", e.Address, e.City, e.State)
}

type Place struct {
	ID          string
	Source      string
	ExternalID  string
	Name        string
	Category    string
	Subcategory string
	Address     string
	City        string
	State       string
	PostalCode  string
	Coordinates *Coordinates
	KidAllowed  KidAllowed
	URL         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Feed is one calendar source as stored in the database.
type Feed struct {
	ID             string
	Name           string
	URL            string
	Label          string
	DefaultCity    string
	DefaultState   string
	Active         bool
	ExtractContent bool
	MaxItems       int
	Timeout        time.Duration
	LastFetchedAt  *time.Time
	LastSuccessAt  *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Region is a crawl area for the ticketing and points-of-interest sources.
type Region struct {
	Name        string      `json:"name"`
	Center      Coordinates `json:"center"`
	RadiusMiles float64     `json:"radius_miles"`
}

// JoinNonEmpty joins the trimmed non-empty parts with sep.
func JoinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
