package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/source"
)

type CalendarNormalizer struct {
	classifier Classifier
	defaults   Defaults
}

var _ Normalizer = (*CalendarNormalizer)(nil)

func NewCalendarNormalizer(classifier Classifier, defaults Defaults) *CalendarNormalizer {
	return &CalendarNormalizer{classifier: classifier, defaults: defaults}
}

func (n *CalendarNormalizer) Normalize(sourceName string, rec source.Record) (Output, error) {
	entry, ok := rec.(*source.CalendarEntry)
	if !ok {
		return Output{}, unexpectedRecord("calendar", rec)
	}

	title := strings.Join(strings.Fields(HTMLToText(entry.Summary)), " ")
	if title == "" {
		return Output{}, skip(ReasonUntitled)
	}
	if entry.Start.IsZero() {
		return Output{}, skip(ReasonMissingStart)
	}

	loc := n.defaults.location()
	start := entry.Start.UTC()
	var end *time.Time
	if entry.End != nil && !entry.End.Before(entry.Start) {
		e := entry.End.UTC()
		end = &e
	}

	description := HTMLToText(entry.Description)
	venue, address, city, state := SplitLocation(entry.Location)
	if city == "" && state == "" {
		city, state = n.defaults.City, n.defaults.State
	}
	tags := NormalizeTags(entry.Categories...)

	kid := n.classifier.Classify(title, description, strings.Join(tags, " "), venue)
	isFree, priceMin, priceMax := Pricing(title, description)

	externalID := entry.UID
	if externalID == "" {
		externalID = syntheticID(title, start)
	}

	ev := &listing.Event{
		Source:      sourceName,
		ExternalID:  externalID,
		Title:       title,
		Description: description,
		StartAt:     start,
		EndAt:       end,
		AllDay:      entry.DateOnly || IsAllDay(start, end, loc),
		VenueName:   venue,
		Address:     address,
		City:        city,
		State:       state,
		Coordinates: entry.Geo,
		IsFree:      isFree,
		PriceMin:    priceMin,
		PriceMax:    priceMax,
		AgeBand:     AgeBand(kid, title, description),
		Setting:     Setting(venue, title, description),
		KidAllowed:  kid,
		Tags:        tags,
		URL:         strings.TrimSpace(entry.URL),
	}
	return Output{Event: ev}, nil
}

// IsAllDay reports whether the interval spans exactly 24 hours from local
// midnight to local midnight.
func IsAllDay(start time.Time, end *time.Time, loc *time.Location) bool {
	if end == nil || end.Sub(start) != 24*time.Hour {
		return false
	}
	return isLocalMidnight(start, loc) && isLocalMidnight(*end, loc)
}

func isLocalMidnight(t time.Time, loc *time.Location) bool {
	l := t.In(loc)
	return l.Hour() == 0 && l.Minute() == 0 && l.Second() == 0 && l.Nanosecond() == 0
}

var (
	stateZipRe = regexp.MustCompile(`^([A-Za-z]{2})(?:\s+(\d{5}(?:-\d{4})?))?$`)
	countryRe  = regexp.MustCompile(`(?i)^(usa|us|united states( of america)?)$`)
)

// SplitLocation breaks a free-form location line such as
// "Central Library, 801 SW 10th Ave, Portland, OR 97205" into its parts.
// Empty segments are dropped.
func SplitLocation(location string) (venue, address, city, state string) {
	var parts []string
	for _, p := range strings.Split(HTMLToText(location), ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if n := len(parts); n > 0 && countryRe.MatchString(parts[n-1]) {
		parts = parts[:n-1]
	}
	if len(parts) == 0 {
		return "", "", "", ""
	}

	if n := len(parts); n >= 2 {
		if m := stateZipRe.FindStringSubmatch(parts[n-1]); m != nil {
			state = strings.ToUpper(m[1])
			city = parts[n-2]
			parts = parts[:n-2]
		}
	}

	if len(parts) > 0 && !startsWithDigit(parts[0]) {
		venue = parts[0]
		parts = parts[1:]
	}
	address = strings.Join(parts, ", ")
	return venue, address, city, state
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func syntheticID(title string, start time.Time) string {
	sum := sha1.Sum([]byte(strings.ToLower(title) + "|" + start.Format(time.RFC3339)))
	return "gen-" + hex.EncodeToString(sum[:8])
}
