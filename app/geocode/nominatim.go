package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	// biasSpanDegrees is the half-width of the viewbox sent with a bias point.
	biasSpanDegrees = 1.0
)

// NominatimClient implements Provider using the Nominatim search API.
type NominatimClient struct {
	baseURL    string
	email      string
	userAgent  string
	httpClient *http.Client
}

func NewNominatimClient(baseURL, email, userAgent string, timeout time.Duration) *NominatimClient {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &NominatimClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		email:     email,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *NominatimClient) Search(ctx context.Context, query string, limit int, bias *listing.Coordinates) ([]Location, error) {
	params := url.Values{
		"q":              {query},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
		"countrycodes":   {"us"},
		"limit":          {strconv.Itoa(max(1, limit))},
	}
	if c.email != "" {
		params.Set("email", c.email)
	}
	if bias != nil {
		params.Set("viewbox", fmt.Sprintf("%.4f,%.4f,%.4f,%.4f",
			bias.Lon-biasSpanDegrees, bias.Lat+biasSpanDegrees, bias.Lon+biasSpanDegrees, bias.Lat-biasSpanDegrees))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	locations := make([]Location, 0, len(places))
	for _, p := range places {
		loc, ok := p.toLocation()
		if !ok {
			continue
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// Nominatim API response types.

type nominatimPlace struct {
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	BoundingBox []string `json:"boundingbox"` // [south, north, west, east]
	DisplayName string   `json:"display_name"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	AddressType string   `json:"addresstype"`
	Address     struct {
		Postcode string `json:"postcode"`
	} `json:"address"`
}

func (p nominatimPlace) toLocation() (Location, bool) {
	lat, err1 := strconv.ParseFloat(p.Lat, 64)
	lon, err2 := strconv.ParseFloat(p.Lon, 64)
	if err1 != nil || err2 != nil {
		return Location{}, false
	}

	loc := Location{
		Coordinates: listing.Coordinates{Lat: lat, Lon: lon},
		PlaceType:   placeTypeFor(p.AddressType, p.Category, p.Type),
		DisplayName: p.DisplayName,
		PostalCode:  p.Address.Postcode,
	}

	if len(p.BoundingBox) == 4 {
		var v [4]float64
		ok := true
		for i, s := range p.BoundingBox {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			v[i] = f
		}
		if ok {
			box := listing.BBox{South: v[0], North: v[1], West: v[2], East: v[3]}
			if box.Valid() {
				loc.BBox = &box
			}
		}
	}
	loc.Core = CoreFor(loc.PlaceType, loc.BBox)
	return loc, true
}

func placeTypeFor(addressType, category, typ string) PlaceType {
	switch addressType {
	case "postcode":
		return PlaceTypePostcode
	case "city", "town", "village", "hamlet", "municipality", "borough", "suburb", "neighbourhood", "quarter":
		return PlaceTypeCity
	case "county":
		return PlaceTypeCounty
	case "state":
		return PlaceTypeState
	case "house", "building", "road", "house_number", "amenity", "place", "shop", "leisure", "tourism":
		return PlaceTypeAddress
	}
	if typ == "postcode" || typ == "postal_code" {
		return PlaceTypePostcode
	}
	if category == "boundary" && typ == "administrative" {
		return PlaceTypeCity
	}
	return PlaceTypeOther
}
