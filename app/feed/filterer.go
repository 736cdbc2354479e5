package feed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/lysyi3m/family-comb/app/listing"
)

// Filterer applies a feed's include/exclude keyword rules to normalized
// events.
type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run reports whether ev is filtered out by filters, with a reason. Excludes
// are checked before includes within each filter.
func (f *Filterer) Run(ev *listing.Event, filters []ConfigFilter) (bool, string) {
	for _, filter := range filters {
		value := strings.ToLower(f.getFieldValue(ev, filter.Field))
		contains := func(keyword string) bool {
			return strings.Contains(value, strings.ToLower(keyword))
		}

		if i := slices.IndexFunc(filter.Excludes, contains); i >= 0 {
			return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, filter.Excludes[i])
		}
		if len(filter.Includes) > 0 && !slices.ContainsFunc(filter.Includes, contains) {
			return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
		}
	}

	return false, ""
}

func (f *Filterer) getFieldValue(ev *listing.Event, field string) string {
	switch field {
	case "title":
		return ev.Title
	case "description":
		return ev.Description
	case "venue":
		return ev.VenueName
	case "location":
		return listing.JoinNonEmpty(", ", ev.Address, ev.City, ev.State)
	case "tags":
		return strings.Join(ev.Tags, " ")
	case "url":
		return ev.URL
	default:
		return ""
	}
}
