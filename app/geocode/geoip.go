package geocode

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/lysyi3m/family-comb/app/listing"
)

// GeoIPLocator approximates a client's position from a GeoLite2 City
// database. It is used to bias suggestions when the caller sends no
// coordinates.
type GeoIPLocator struct {
	db *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIPLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &GeoIPLocator{db: db}, nil
}

// Locate returns nil when the address is private, unparsable or unknown.
func (g *GeoIPLocator) Locate(ip string) *listing.Coordinates {
	if g == nil || g.db == nil {
		return nil
	}
	addr := net.ParseIP(ip)
	if addr == nil || addr.IsLoopback() || addr.IsPrivate() {
		return nil
	}
	record, err := g.db.City(addr)
	if err != nil {
		return nil
	}
	lat, lon := record.Location.Latitude, record.Location.Longitude
	if lat == 0 && lon == 0 {
		return nil
	}
	return &listing.Coordinates{Lat: lat, Lon: lon}
}

func (g *GeoIPLocator) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}
