package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
)

const (
	DefaultTicketingBaseURL = "https://app.ticketmaster.com/discovery/v2"
	ticketingPageSize       = 100
	defaultTicketingPages   = 5
)

// TicketingSource pages through the Discovery API around one region.
type TicketingSource struct {
	fetcher  *Fetcher
	baseURL  string
	apiKey   string
	region   listing.Region
	maxPages int
	timeout  time.Duration
}

type TicketingOptions struct {
	BaseURL  string
	APIKey   string
	MaxPages int
	Timeout  time.Duration
}

func NewTicketingSource(fetcher *Fetcher, region listing.Region, opts TicketingOptions) *TicketingSource {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultTicketingBaseURL
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultTicketingPages
	}
	return &TicketingSource{
		fetcher:  fetcher,
		baseURL:  baseURL,
		apiKey:   opts.APIKey,
		region:   region,
		maxPages: maxPages,
		timeout:  opts.Timeout,
	}
}

func (s *TicketingSource) Name() string { return "ticketing" }

func (s *TicketingSource) Kind() Kind { return KindTicketing }

func (s *TicketingSource) Region() listing.Region { return s.region }

func (s *TicketingSource) Fetch(ctx context.Context) ([]Record, error) {
	var records []Record
	for page := 0; page < s.maxPages; page++ {
		data, err := s.fetcher.Get(ctx, s.pageURL(page), s.timeout, nil)
		if err != nil {
			return nil, err
		}

		var resp ticketingResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("%w: failed to decode ticketing response: %v", ErrMalformed, err)
		}

		for _, raw := range resp.Embedded.Events {
			records = append(records, raw.toTicketEvent())
		}

		if resp.Page.TotalPages <= page+1 || len(resp.Embedded.Events) == 0 {
			break
		}
	}
	return records, nil
}

func (s *TicketingSource) pageURL(page int) string {
	radius := max(1, int(s.region.RadiusMiles+0.5))
	params := url.Values{
		"apikey":  {s.apiKey},
		"latlong": {fmt.Sprintf("%.4f,%.4f", s.region.Center.Lat, s.region.Center.Lon)},
		"radius":  {strconv.Itoa(radius)},
		"unit":    {"miles"},
		"size":    {strconv.Itoa(ticketingPageSize)},
		"page":    {strconv.Itoa(page)},
		"sort":    {"date,asc"},
	}
	return s.baseURL + "/events.json?" + params.Encode()
}

// Discovery API response types.

type ticketingResponse struct {
	Embedded struct {
		Events []ticketingEvent `json:"events"`
	} `json:"_embedded"`
	Page struct {
		Size          int `json:"size"`
		TotalElements int `json:"totalElements"`
		TotalPages    int `json:"totalPages"`
		Number        int `json:"number"`
	} `json:"page"`
}

type ticketingEvent struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Info       string `json:"info"`
	PleaseNote string `json:"pleaseNote"`
	URL        string `json:"url"`
	Dates      struct {
		Start struct {
			LocalDate string `json:"localDate"`
			LocalTime string `json:"localTime"`
			DateTime  string `json:"dateTime"`
		} `json:"start"`
		End struct {
			DateTime string `json:"dateTime"`
		} `json:"end"`
		Timezone string `json:"timezone"`
	} `json:"dates"`
	Classifications []struct {
		Family   bool      `json:"family"`
		Segment  namedItem `json:"segment"`
		Genre    namedItem `json:"genre"`
		SubGenre namedItem `json:"subGenre"`
	} `json:"classifications"`
	PriceRanges []struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	} `json:"priceRanges"`
	AgeRestrictions struct {
		LegalAgeEnforced bool `json:"legalAgeEnforced"`
	} `json:"ageRestrictions"`
	Embedded struct {
		Venues []ticketingVenue `json:"venues"`
	} `json:"_embedded"`
}

type namedItem struct {
	Name string `json:"name"`
}

type ticketingVenue struct {
	Name    string `json:"name"`
	Address struct {
		Line1 string `json:"line1"`
	} `json:"address"`
	City  namedItem `json:"city"`
	State struct {
		StateCode string `json:"stateCode"`
	} `json:"state"`
	PostalCode string `json:"postalCode"`
	Timezone   string `json:"timezone"`
	Location   struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"location"`
}

func (e ticketingEvent) toTicketEvent() *TicketEvent {
	te := &TicketEvent{
		ID:               e.ID,
		Name:             e.Name,
		Info:             e.Info,
		PleaseNote:       e.PleaseNote,
		URL:              e.URL,
		LocalDate:        e.Dates.Start.LocalDate,
		LocalTime:        e.Dates.Start.LocalTime,
		StartUTC:         parseRFC3339(e.Dates.Start.DateTime),
		EndUTC:           parseRFC3339(e.Dates.End.DateTime),
		Timezone:         e.Dates.Timezone,
		LegalAgeEnforced: e.AgeRestrictions.LegalAgeEnforced,
	}

	if len(e.Classifications) > 0 {
		c := e.Classifications[0]
		te.Segment = undefinedToEmpty(c.Segment.Name)
		te.Genre = undefinedToEmpty(c.Genre.Name)
		te.SubGenre = undefinedToEmpty(c.SubGenre.Name)
		for _, c := range e.Classifications {
			te.Family = te.Family || c.Family
		}
	}

	for _, pr := range e.PriceRanges {
		if pr.Min != nil && (te.PriceMin == nil || *pr.Min < *te.PriceMin) {
			v := *pr.Min
			te.PriceMin = &v
		}
		if pr.Max != nil && (te.PriceMax == nil || *pr.Max > *te.PriceMax) {
			v := *pr.Max
			te.PriceMax = &v
		}
	}

	if len(e.Embedded.Venues) > 0 {
		v := e.Embedded.Venues[0]
		te.Venue = TicketVenue{
			Name:       v.Name,
			Address:    v.Address.Line1,
			City:       v.City.Name,
			State:      v.State.StateCode,
			PostalCode: v.PostalCode,
		}
		lat, err1 := strconv.ParseFloat(v.Location.Latitude, 64)
		lon, err2 := strconv.ParseFloat(v.Location.Longitude, 64)
		if err1 == nil && err2 == nil && (lat != 0 || lon != 0) {
			te.Venue.Coordinates = &listing.Coordinates{Lat: lat, Lon: lon}
		}
		if te.Timezone == "" {
			te.Timezone = v.Timezone
		}
	}

	return te
}

func parseRFC3339(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func undefinedToEmpty(s string) string {
	if strings.EqualFold(s, "undefined") {
		return ""
	}
	return s
}
