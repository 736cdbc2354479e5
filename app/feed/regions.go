package feed

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/family-comb/app/listing"
)

const defaultRegionRadius = 25

type regionsFile struct {
	Regions []struct {
		Name        string  `yaml:"name"`
		Lat         float64 `yaml:"lat"`
		Lon         float64 `yaml:"lon"`
		RadiusMiles float64 `yaml:"radius_miles"`
	} `yaml:"regions"`
}

// LoadRegions reads the crawl regions for the ticketing and points of
// interest sources. A missing file yields no regions.
func LoadRegions(path string) ([]listing.Region, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read regions file: %w", err)
	}

	var file regionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seen := make(map[string]bool)
	regions := make([]listing.Region, 0, len(file.Regions))
	for i, r := range file.Regions {
		if r.Name == "" {
			return nil, fmt.Errorf("region at index %d: name is required", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("region %s: duplicate name", r.Name)
		}
		if r.Lat < -90 || r.Lat > 90 || r.Lon < -180 || r.Lon > 180 {
			return nil, fmt.Errorf("region %s: coordinates out of range", r.Name)
		}
		if r.RadiusMiles < 0 {
			return nil, fmt.Errorf("region %s: radius must be non-negative", r.Name)
		}
		seen[r.Name] = true

		radius := r.RadiusMiles
		if radius == 0 {
			radius = defaultRegionRadius
		}
		regions = append(regions, listing.Region{
			Name:        r.Name,
			Center:      listing.Coordinates{Lat: r.Lat, Lon: r.Lon},
			RadiusMiles: radius,
		})
	}
	return regions, nil
}
