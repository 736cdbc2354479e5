package cluster

import (
	"cmp"
	"math"
	"slices"

	"github.com/lysyi3m/family-comb/app/listing"
)

const (
	// MaxClusterZoom is the zoom level from which every point is returned
	// unclustered.
	MaxClusterZoom = 16
	maxZoom        = 22

	cellPixels = 60
	tilePixels = 256
)

type Point struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

type Cluster struct {
	Lat     float64      `json:"lat"`
	Lon     float64      `json:"lon"`
	Count   int          `json:"count"`
	Members []string     `json:"members"`
	Bounds  listing.BBox `json:"bounds"`
}

type Result struct {
	Clusters []Cluster `json:"clusters"`
	Points   []Point   `json:"points"`
}

// CellDegrees is the grid cell edge, in degrees, used at zoom.
func CellDegrees(zoom int) float64 {
	return 360 / math.Exp2(float64(zoom)) * cellPixels / tilePixels
}

type cellKey struct{ x, y int }

// Compute groups points inside viewport into grid cells sized for zoom.
// Cells holding two or more points become clusters; the rest stay points.
// Output order depends only on the input set.
func Compute(points []Point, viewport listing.BBox, zoom int) Result {
	zoom = min(max(zoom, 0), maxZoom)

	visible := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Lat >= viewport.South && p.Lat <= viewport.North && p.Lon >= viewport.West && p.Lon <= viewport.East {
			visible = append(visible, p)
		}
	}
	slices.SortFunc(visible, comparePoints)

	result := Result{Clusters: []Cluster{}, Points: []Point{}}
	if zoom >= MaxClusterZoom {
		result.Points = visible
		return result
	}

	size := CellDegrees(zoom)
	cells := make(map[cellKey][]Point)
	var keys []cellKey
	for _, p := range visible {
		k := cellKey{
			x: int(math.Floor((p.Lon + 180) / size)),
			y: int(math.Floor((p.Lat + 90) / size)),
		}
		if _, ok := cells[k]; !ok {
			keys = append(keys, k)
		}
		cells[k] = append(cells[k], p)
	}
	slices.SortFunc(keys, func(a, b cellKey) int {
		return cmp.Or(cmp.Compare(a.y, b.y), cmp.Compare(a.x, b.x))
	})

	for _, k := range keys {
		members := cells[k]
		if len(members) == 1 {
			result.Points = append(result.Points, members[0])
			continue
		}
		result.Clusters = append(result.Clusters, newCluster(members))
	}
	slices.SortFunc(result.Points, comparePoints)
	return result
}

func newCluster(members []Point) Cluster {
	c := Cluster{
		Count:   len(members),
		Members: make([]string, 0, len(members)),
		Bounds: listing.BBox{
			South: members[0].Lat, North: members[0].Lat,
			West: members[0].Lon, East: members[0].Lon,
		},
	}
	var sumLat, sumLon float64
	for _, m := range members {
		sumLat += m.Lat
		sumLon += m.Lon
		c.Members = append(c.Members, m.ID)
		c.Bounds.South = min(c.Bounds.South, m.Lat)
		c.Bounds.North = max(c.Bounds.North, m.Lat)
		c.Bounds.West = min(c.Bounds.West, m.Lon)
		c.Bounds.East = max(c.Bounds.East, m.Lon)
	}
	c.Lat = sumLat / float64(len(members))
	c.Lon = sumLon / float64(len(members))
	return c
}

func comparePoints(a, b Point) int {
	return cmp.Or(cmp.Compare(a.ID, b.ID), cmp.Compare(a.Type, b.Type))
}
