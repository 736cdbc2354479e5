package search

import (
	"cmp"
	"math"
	"slices"

	"github.com/lysyi3m/family-comb/app/listing"
)

var categoryWeights = map[string]int{
	"playground":    10,
	"zoo":           10,
	"aquarium":      9,
	"library":       8,
	"museum":        8,
	"park":          7,
	"water_park":    6,
	"swimming_pool": 5,
	"theme_park":    3,
}

const defaultCategoryWeight = 1

func CategoryWeight(category string) int {
	if w, ok := categoryWeights[category]; ok {
		return w
	}
	return defaultCategoryWeight
}

// Distance returns the storage-reported distance when it is usable and the
// haversine distance between center and at otherwise.
func Distance(reported *float64, center, at listing.Coordinates) float64 {
	if reported != nil && !math.IsNaN(*reported) && !math.IsInf(*reported, 0) && *reported >= 0 {
		return *reported
	}
	return listing.HaversineMiles(center, at)
}

// distanceBucket rounds to a hundredth of a mile so that near-identical
// distances compare as a tie.
func distanceBucket(d float64) int64 {
	return int64(math.Round(d * 100))
}

// Rank orders items: city-core first, then ascending distance. Equal scores
// fall back to earliest start between events, heavier category between
// places, events before places, then ID.
func Rank(items []Item) {
	slices.SortStableFunc(items, compareItems)
}

func compareItems(a, b Item) int {
	if a.inCore != b.inCore {
		if a.inCore {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(distanceBucket(a.Distance), distanceBucket(b.Distance)); c != 0 {
		return c
	}

	switch {
	case a.Type == ItemEvent && b.Type == ItemEvent:
		if c := compareStarts(a, b); c != 0 {
			return c
		}
	case a.Type == ItemPlace && b.Type == ItemPlace:
		if c := cmp.Compare(b.weight, a.weight); c != 0 {
			return c
		}
	case a.Type == ItemEvent:
		return -1
	default:
		return 1
	}
	return cmp.Compare(a.ID, b.ID)
}

func compareStarts(a, b Item) int {
	switch {
	case a.Start == nil && b.Start == nil:
		return 0
	case a.Start == nil:
		return 1
	case b.Start == nil:
		return -1
	}
	return a.Start.Compare(*b.Start)
}
