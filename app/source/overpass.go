package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
)

const (
	DefaultOverpassURL = "https://overpass-api.de/api/interpreter"
	metersPerMile      = 1609.344
)

// poiFilters select the family destinations crawled around each region.
var poiFilters = []string{
	`["leisure"~"^(playground|park|water_park|swimming_pool)$"]`,
	`["tourism"~"^(zoo|aquarium|museum|theme_park)$"]`,
	`["amenity"="library"]`,
}

// OverpassSource crawls OpenStreetMap points of interest around one region.
type OverpassSource struct {
	fetcher  *Fetcher
	endpoint string
	region   listing.Region
	timeout  time.Duration
}

func NewOverpassSource(fetcher *Fetcher, endpoint string, region listing.Region, timeout time.Duration) *OverpassSource {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	return &OverpassSource{
		fetcher:  fetcher,
		endpoint: endpoint,
		region:   region,
		timeout:  timeout,
	}
}

func (s *OverpassSource) Name() string { return "poi" }

func (s *OverpassSource) Kind() Kind { return KindPOI }

func (s *OverpassSource) Region() listing.Region { return s.region }

func (s *OverpassSource) Fetch(ctx context.Context) ([]Record, error) {
	form := url.Values{"data": {s.Query()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	data, err := s.fetcher.Do(ctx, req, s.timeout)
	if err != nil {
		return nil, err
	}

	var resp overpassResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode overpass response: %v", ErrMalformed, err)
	}

	records := make([]Record, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		poi := &POIElement{Type: el.Type, ID: el.ID, Lat: el.Lat, Lon: el.Lon, Tags: el.Tags}
		if el.Center != nil {
			poi.Lat, poi.Lon = el.Center.Lat, el.Center.Lon
		}
		records = append(records, poi)
	}
	return records, nil
}

// Query renders the Overpass QL request for the region.
func (s *OverpassSource) Query() string {
	around := fmt.Sprintf("(around:%.0f,%.5f,%.5f)",
		s.region.RadiusMiles*metersPerMile, s.region.Center.Lat, s.region.Center.Lon)

	var b strings.Builder
	b.WriteString("[out:json][timeout:60];\n(\n")
	for _, f := range poiFilters {
		for _, kind := range []string{"node", "way"} {
			b.WriteString("  " + kind + f + around + ";\n")
		}
	}
	b.WriteString(");\nout center tags;")
	return b.String()
}

type overpassResponse struct {
	Elements []struct {
		Type   string            `json:"type"`
		ID     int64             `json:"id"`
		Lat    float64           `json:"lat"`
		Lon    float64           `json:"lon"`
		Center *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"center"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
}
