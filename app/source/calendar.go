package source

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/family-comb/app/listing"
)

// CalendarSource reads one calendar feed. iCalendar bodies are parsed with
// golang-ical; anything else is handed to gofeed as RSS/Atom, reading event
// times from the ev: extension when present.
type CalendarSource struct {
	fetcher  *Fetcher
	feed     listing.Feed
	loc      *time.Location
	maxItems int
}

func NewCalendarSource(fetcher *Fetcher, feed listing.Feed, loc *time.Location) *CalendarSource {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarSource{
		fetcher:  fetcher,
		feed:     feed,
		loc:      loc,
		maxItems: feed.MaxItems,
	}
}

func (s *CalendarSource) Name() string { return "calendar:" + s.feed.Name }

func (s *CalendarSource) Kind() Kind { return KindCalendar }

func (s *CalendarSource) Feed() listing.Feed { return s.feed }

func (s *CalendarSource) Fetch(ctx context.Context) ([]Record, error) {
	data, err := s.fetcher.Get(ctx, s.feed.URL, s.feed.Timeout, nil)
	if err != nil {
		return nil, err
	}

	entries, err := ParseCalendar(data, s.loc)
	if err != nil {
		return nil, err
	}

	if s.maxItems > 0 && len(entries) > s.maxItems {
		entries = entries[:s.maxItems]
	}

	records := make([]Record, len(entries))
	for i, e := range entries {
		records[i] = e
	}
	return records, nil
}

// ParseCalendar decodes an iCalendar or RSS/Atom body. Floating times are
// interpreted in loc.
func ParseCalendar(data []byte, loc *time.Location) ([]*CalendarEntry, error) {
	if bytes.Contains(bytes.ToUpper(firstBytes(data, 512)), []byte("BEGIN:VCALENDAR")) {
		return parseICal(data, loc)
	}
	return parseRSS(data, loc)
}

func parseICal(data []byte, loc *time.Location) ([]*CalendarEntry, error) {
	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse calendar: %v", ErrMalformed, err)
	}

	var entries []*CalendarEntry
	for _, ev := range cal.Events() {
		startProp := ev.GetProperty(ics.ComponentPropertyDtStart)
		if startProp == nil {
			continue
		}
		start, dateOnly, err := parseICalTime(startProp.Value, startProp.ICalParameters, loc)
		if err != nil {
			continue
		}

		entry := &CalendarEntry{
			UID:         ev.Id(),
			Summary:     icalText(ev, ics.ComponentPropertySummary),
			Description: icalText(ev, ics.ComponentPropertyDescription),
			Location:    icalText(ev, ics.ComponentPropertyLocation),
			URL:         icalText(ev, ics.ComponentPropertyUrl),
			Start:       start,
			DateOnly:    dateOnly,
		}

		if endProp := ev.GetProperty(ics.ComponentPropertyDtEnd); endProp != nil {
			if end, _, err := parseICalTime(endProp.Value, endProp.ICalParameters, loc); err == nil {
				entry.End = &end
			}
		}

		if cats := icalText(ev, ics.ComponentPropertyCategories); cats != "" {
			for _, c := range strings.Split(cats, ",") {
				if c = strings.TrimSpace(c); c != "" {
					entry.Categories = append(entry.Categories, c)
				}
			}
		}

		if geo := icalText(ev, ics.ComponentPropertyGeo); geo != "" {
			entry.Geo = parseGeo(geo)
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

func icalText(ev *ics.VEvent, prop ics.ComponentProperty) string {
	p := ev.GetProperty(prop)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(unescapeICal(p.Value))
}

var icalUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeICal(s string) string {
	return icalUnescaper.Replace(s)
}

// parseICalTime handles UTC, TZID-qualified, floating and DATE values.
func parseICalTime(value string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	value = strings.TrimSpace(value)

	if vals := params["VALUE"]; len(vals) > 0 && strings.EqualFold(vals[0], "DATE") || len(value) == 8 {
		t, err := time.ParseInLocation("20060102", value, loc)
		return t, true, err
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse("20060102T150405Z", value)
		return t, false, err
	}

	zone := loc
	if tzids := params["TZID"]; len(tzids) > 0 {
		if l, err := time.LoadLocation(strings.Trim(tzids[0], `"`)); err == nil {
			zone = l
		}
	}
	t, err := time.ParseInLocation("20060102T150405", value, zone)
	return t, false, err
}

func parseGeo(value string) *listing.Coordinates {
	parts := strings.FieldsFunc(value, func(r rune) bool { return r == ';' || r == ',' })
	if len(parts) != 2 {
		return nil
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || (lat == 0 && lon == 0) {
		return nil
	}
	return &listing.Coordinates{Lat: lat, Lon: lon}
}

func parseRSS(data []byte, loc *time.Location) ([]*CalendarEntry, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse feed: %v", ErrMalformed, err)
	}

	entries := make([]*CalendarEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entry := &CalendarEntry{
			UID:         cmp.Or(item.GUID, item.Link),
			Summary:     strings.TrimSpace(item.Title),
			Description: cmp.Or(item.Content, item.Description),
			URL:         item.Link,
			Categories:  item.Categories,
			Location:    rssEventField(item, "location"),
		}

		if start, dateOnly, ok := parseRSSTime(rssEventField(item, "startdate"), loc); ok {
			entry.Start = start
			entry.DateOnly = dateOnly
		} else if item.PublishedParsed != nil {
			entry.Start = *item.PublishedParsed
		} else {
			continue
		}

		if end, _, ok := parseRSSTime(rssEventField(item, "enddate"), loc); ok {
			entry.End = &end
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

func rssEventField(item *gofeed.Item, name string) string {
	ns, ok := item.Extensions["ev"]
	if !ok {
		return ""
	}
	for _, ext := range ns[name] {
		if v := strings.TrimSpace(ext.Value); v != "" {
			return v
		}
	}
	return ""
}

var rssTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

func parseRSSTime(value string, loc *time.Location) (time.Time, bool, bool) {
	if value == "" {
		return time.Time{}, false, false
	}
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, true, true
	}
	for _, layout := range rssTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, false, true
		}
	}
	return time.Time{}, false, false
}

func firstBytes(data []byte, n int) []byte {
	if len(data) < n {
		return data
	}
	return data[:n]
}
