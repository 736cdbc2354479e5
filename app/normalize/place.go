package normalize

import (
	"strconv"
	"strings"

	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/source"
)

const (
	CategoryPlayground   = "playground"
	CategoryZoo          = "zoo"
	CategoryAquarium     = "aquarium"
	CategoryLibrary      = "library"
	CategoryMuseum       = "museum"
	CategoryPark         = "park"
	CategoryWaterPark    = "water_park"
	CategorySwimmingPool = "swimming_pool"
	CategoryThemePark    = "theme_park"
	CategoryOther        = "other"
)

// category lookup in priority order: the first matching key=value wins.
var osmCategories = []struct {
	key, value, category string
}{
	{"leisure", "playground", CategoryPlayground},
	{"tourism", "zoo", CategoryZoo},
	{"tourism", "aquarium", CategoryAquarium},
	{"amenity", "library", CategoryLibrary},
	{"tourism", "museum", CategoryMuseum},
	{"leisure", "water_park", CategoryWaterPark},
	{"tourism", "theme_park", CategoryThemePark},
	{"leisure", "swimming_pool", CategorySwimmingPool},
	{"leisure", "park", CategoryPark},
}

type PlaceNormalizer struct {
	classifier Classifier
}

var _ Normalizer = (*PlaceNormalizer)(nil)

func NewPlaceNormalizer(classifier Classifier) *PlaceNormalizer {
	return &PlaceNormalizer{classifier: classifier}
}

func (n *PlaceNormalizer) Normalize(sourceName string, rec source.Record) (Output, error) {
	el, ok := rec.(*source.POIElement)
	if !ok {
		return Output{}, unexpectedRecord("poi", rec)
	}

	name := strings.TrimSpace(el.Tags["name"])
	if name == "" {
		return Output{}, skip(ReasonUnnamed)
	}
	if el.Lat == 0 && el.Lon == 0 {
		return Output{}, skip(ReasonNoCoords)
	}

	category := CategoryFromTags(el.Tags)
	kid := n.classifier.Classify(name, el.Tags["description"], audienceHint(category, el.Tags))

	p := &listing.Place{
		Source:      sourceName,
		ExternalID:  el.RecordID(),
		Name:        name,
		Category:    category,
		Subcategory: subcategory(category, el.Tags),
		Address:     listing.JoinNonEmpty(" ", el.Tags["addr:housenumber"], el.Tags["addr:street"]),
		City:        el.Tags["addr:city"],
		State:       el.Tags["addr:state"],
		PostalCode:  el.Tags["addr:postcode"],
		Coordinates: &listing.Coordinates{Lat: el.Lat, Lon: el.Lon},
		KidAllowed:  kid,
		URL:         firstNonEmpty(el.Tags["website"], el.Tags["contact:website"], el.Tags["url"]),
	}
	return Output{Place: p}, nil
}

func CategoryFromTags(tags map[string]string) string {
	for _, c := range osmCategories {
		if tags[c.key] == c.value {
			return c.category
		}
	}
	return CategoryOther
}

func subcategory(category string, tags map[string]string) string {
	switch category {
	case CategoryMuseum:
		if tags["museum"] != "" {
			return tags["museum"]
		}
		if strings.Contains(strings.ToLower(tags["name"]), "children") {
			return "children"
		}
	case CategoryZoo:
		return tags["zoo"]
	case CategorySwimmingPool:
		if tags["indoor"] == "yes" || tags["location"] == "indoor" {
			return "indoor"
		}
		return "outdoor"
	case CategoryPark:
		return tags["park:type"]
	}
	return ""
}

// audienceHint turns OSM audience facts into vocabulary the classifier
// understands.
func audienceHint(category string, tags map[string]string) string {
	if age, err := strconv.Atoi(tags["min_age"]); err == nil && age >= 18 {
		return "adults only"
	}
	switch category {
	case CategoryPlayground, CategoryZoo, CategoryAquarium, CategoryWaterPark, CategoryLibrary:
		return "family"
	}
	if category == CategoryMuseum && strings.Contains(strings.ToLower(tags["name"]), "children") {
		return "children"
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
