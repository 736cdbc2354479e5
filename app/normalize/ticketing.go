package normalize

import (
	"strings"
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/source"
)

type TicketingNormalizer struct {
	classifier Classifier
	location   *time.Location
}

var _ Normalizer = (*TicketingNormalizer)(nil)

func NewTicketingNormalizer(classifier Classifier, loc *time.Location) *TicketingNormalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &TicketingNormalizer{classifier: classifier, location: loc}
}

func (n *TicketingNormalizer) Normalize(sourceName string, rec source.Record) (Output, error) {
	te, ok := rec.(*source.TicketEvent)
	if !ok {
		return Output{}, unexpectedRecord("ticketing", rec)
	}

	title := strings.TrimSpace(te.Name)
	if title == "" {
		return Output{}, skip(ReasonUntitled)
	}

	start, end, allDay, ok := n.schedule(te)
	if !ok {
		return Output{}, skip(ReasonMissingStart)
	}

	description := HTMLToText(listing.JoinNonEmpty("\n\n", te.Info, te.PleaseNote))
	tags := NormalizeTags(te.Segment, te.Genre, te.SubGenre)
	if te.Family {
		tags = NormalizeTags(append(tags, "family")...)
	}

	// Upstream audience flags are fed to the classifier as text so that it
	// stays the single decision point.
	signals := make([]string, 0, 2)
	if te.LegalAgeEnforced {
		signals = append(signals, "21+")
	}
	if te.Family {
		signals = append(signals, "family")
	}
	kid := n.classifier.Classify(title, description, strings.Join(tags, " "), te.Venue.Name, strings.Join(signals, " "))

	var isFree *bool
	if te.PriceMax != nil {
		free := *te.PriceMax == 0
		isFree = &free
	}

	ev := &listing.Event{
		Source:      sourceName,
		ExternalID:  te.ID,
		Title:       title,
		Description: description,
		StartAt:     start,
		EndAt:       end,
		AllDay:      allDay,
		VenueName:   strings.TrimSpace(te.Venue.Name),
		Address:     strings.TrimSpace(te.Venue.Address),
		City:        strings.TrimSpace(te.Venue.City),
		State:       strings.TrimSpace(te.Venue.State),
		Coordinates: te.Venue.Coordinates,
		IsFree:      isFree,
		PriceMin:    te.PriceMin,
		PriceMax:    te.PriceMax,
		AgeBand:     AgeBand(kid, title, description),
		Setting:     Setting(te.Venue.Name, title, description),
		KidAllowed:  kid,
		Tags:        tags,
		URL:         strings.TrimSpace(te.URL),
	}
	return Output{Event: ev}, nil
}

// schedule prefers the UTC instant and falls back to the venue-local date and
// time. A date without a time becomes an all-day event.
func (n *TicketingNormalizer) schedule(te *source.TicketEvent) (time.Time, *time.Time, bool, bool) {
	loc := n.location
	if te.Timezone != "" {
		if l, err := time.LoadLocation(te.Timezone); err == nil {
			loc = l
		}
	}

	var start time.Time
	switch {
	case te.StartUTC != nil:
		start = te.StartUTC.UTC()
	case te.LocalDate != "" && te.LocalTime != "":
		t, err := time.ParseInLocation("2006-01-02 15:04:05", te.LocalDate+" "+te.LocalTime, loc)
		if err != nil {
			return time.Time{}, nil, false, false
		}
		start = t.UTC()
	case te.LocalDate != "":
		t, err := time.ParseInLocation("2006-01-02", te.LocalDate, loc)
		if err != nil {
			return time.Time{}, nil, false, false
		}
		start = t.UTC()
		end := t.AddDate(0, 0, 1).UTC()
		return start, &end, true, true
	default:
		return time.Time{}, nil, false, false
	}

	var end *time.Time
	if te.EndUTC != nil && te.EndUTC.After(start) {
		e := te.EndUTC.UTC()
		end = &e
	}
	return start, end, IsAllDay(start, end, loc), true
}
