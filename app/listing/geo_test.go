package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMiles(t *testing.T) {
	portland := Coordinates{Lat: 45.5152, Lon: -122.6784}
	seattle := Coordinates{Lat: 47.6062, Lon: -122.3321}

	assert.InDelta(t, 145.0, HaversineMiles(portland, seattle), 2.0)
	assert.InDelta(t, 0.0, HaversineMiles(portland, portland), 1e-9)
}

func TestBoundsAroundEnclosesRadius(t *testing.T) {
	center := Coordinates{Lat: 45.5, Lon: -122.6}
	box := BoundsAround(center, 20)

	north := Coordinates{Lat: box.North - 0.0001, Lon: center.Lon}
	east := Coordinates{Lat: center.Lat, Lon: box.East - 0.0001}

	assert.GreaterOrEqual(t, HaversineMiles(center, north), 20.0)
	assert.Less(t, HaversineMiles(center, north), 20.5)
	assert.GreaterOrEqual(t, HaversineMiles(center, east), 20.0)
}

func TestBBoxContainsIsStrict(t *testing.T) {
	box := BBox{South: 0, West: 0, North: 1, East: 1}

	assert.True(t, box.Contains(Coordinates{Lat: 0.5, Lon: 0.5}))
	assert.False(t, box.Contains(Coordinates{Lat: 0, Lon: 0.5}))
	assert.False(t, box.Contains(Coordinates{Lat: 2, Lon: 0.5}))
}

func TestBBoxScale(t *testing.T) {
	box := BBox{South: 10, West: 20, North: 14, East: 28}.Scale(0.5)

	assert.Equal(t, BBox{South: 11, West: 22, North: 13, East: 26}, box)
}

func TestParseKidAllowed(t *testing.T) {
	assert.Equal(t, KidAllowedTrue, ParseKidAllowed("true"))
	assert.Equal(t, KidAllowedFalse, ParseKidAllowed(" FALSE "))
	assert.Equal(t, KidAllowedUnknown, ParseKidAllowed(""))
	assert.Equal(t, KidAllowedUnknown, ParseKidAllowed("maybe"))
}

func TestJoinNonEmpty(t *testing.T) {
	assert.Equal(t, "Main St, Portland", JoinNonEmpty(", ", " Main St ", "", "Portland", "  "))
	assert.Equal(t, "", JoinNonEmpty(", "))
}
