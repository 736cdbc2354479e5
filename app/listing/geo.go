package listing

import "math"

const EarthRadiusMiles = 3958.8

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BBox is a south/west/north/east rectangle in degrees.
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Contains reports whether c lies strictly inside the box.
func (b BBox) Contains(c Coordinates) bool {
	return c.Lat > b.South && c.Lat < b.North && c.Lon > b.West && c.Lon < b.East
}

func (b BBox) Center() Coordinates {
	return Coordinates{Lat: (b.South + b.North) / 2, Lon: (b.West + b.East) / 2}
}

// Scale shrinks or grows the box around its centre by factor.
func (b BBox) Scale(factor float64) BBox {
	c := b.Center()
	halfLat := (b.North - b.South) / 2 * factor
	halfLon := (b.East - b.West) / 2 * factor
	return BBox{South: c.Lat - halfLat, West: c.Lon - halfLon, North: c.Lat + halfLat, East: c.Lon + halfLon}
}

func (b BBox) Valid() bool {
	return b.South < b.North && b.West < b.East &&
		b.South >= -90 && b.North <= 90 && b.West >= -180 && b.East <= 180
}

// HaversineMiles returns the great-circle distance between a and b.
func HaversineMiles(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundsAround returns a box that encloses every point within radius miles of c.
// The box is padded slightly so it can serve as a prefilter.
func BoundsAround(c Coordinates, radiusMiles float64) BBox {
	const pad = 1.01
	angular := radiusMiles / EarthRadiusMiles
	dLat := angular * 180 / math.Pi * pad

	cos := math.Cos(c.Lat * math.Pi / 180)
	dLon := 180.0
	if s := math.Sin(angular) / cos; cos > 0.01 && s < 1 {
		dLon = math.Asin(s) * 180 / math.Pi * pad
	}
	return BBox{
		South: math.Max(-90, c.Lat-dLat),
		West:  math.Max(-180, c.Lon-dLon),
		North: math.Min(90, c.Lat+dLat),
		East:  math.Min(180, c.Lon+dLon),
	}
}
