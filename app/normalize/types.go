package normalize

import (
	"fmt"
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/source"
)

const (
	ReasonUntitled     = "untitled"
	ReasonMissingStart = "missing_start"
	ReasonUnnamed      = "unnamed"
	ReasonNoCoords     = "no_coordinates"
)

// Output carries exactly one of Event or Place.
type Output struct {
	Event *listing.Event
	Place *listing.Place
}

type Normalizer interface {
	Normalize(sourceName string, rec source.Record) (Output, error)
}

type Classifier interface {
	Classify(texts ...string) listing.KidAllowed
}

// SkipError marks a record that cannot produce a canonical listing. It is a
// data-quality outcome, not a failure.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("record skipped: %s", e.Reason)
}

func skip(reason string) error {
	return &SkipError{Reason: reason}
}

// Defaults supplies locality and timezone when a calendar record has none.
type Defaults struct {
	City     string
	State    string
	Location *time.Location
}

func (d Defaults) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

func unexpectedRecord(expected string, rec source.Record) error {
	return fmt.Errorf("expected %s record, got %T", expected, rec)
}
