package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lysyi3m/family-comb/app/cluster"
	"github.com/lysyi3m/family-comb/app/database"
	"github.com/lysyi3m/family-comb/app/geocode"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/metrics"
)

const maxPoints = 2000

// radiusCaps bounds auto-expansion per resolved place type.
var radiusCaps = map[geocode.PlaceType]float64{
	geocode.PlaceTypePostcode: 25,
	geocode.PlaceTypeAddress:  25,
	geocode.PlaceTypeCity:     40,
	geocode.PlaceTypeCounty:   60,
	geocode.PlaceTypeState:    100,
	geocode.PlaceTypeOther:    50,
}

func RadiusCap(pt geocode.PlaceType) float64 {
	if c, ok := radiusCaps[pt]; ok {
		return c
	}
	return radiusCaps[geocode.PlaceTypeOther]
}

type Options struct {
	DefaultRadius float64
	RadiusStep    float64
	MinResults    int
	DefaultLimit  int
	MaxLimit      int
	Location      *time.Location
	Clock         clockwork.Clock
	Metrics       *metrics.Metrics
}

func (o Options) withDefaults() Options {
	o.DefaultRadius = cmp.Or(o.DefaultRadius, 20)
	o.RadiusStep = cmp.Or(o.RadiusStep, 5)
	o.MinResults = cmp.Or(o.MinResults, 10)
	o.DefaultLimit = cmp.Or(o.DefaultLimit, 20)
	o.MaxLimit = cmp.Or(o.MaxLimit, 50)
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewMetricsForTesting()
	}
	return o
}

// Engine answers location searches over events and places, widening the
// radius until enough results are found or the place-type cap is hit.
type Engine struct {
	geocoder Geocoder
	events   EventStore
	places   PlaceStore
	opts     Options
}

func NewEngine(geocoder Geocoder, events EventStore, places PlaceStore, opts Options) *Engine {
	return &Engine{
		geocoder: geocoder,
		events:   events,
		places:   places,
		opts:     opts.withDefaults(),
	}
}

// step is the outcome of querying both entity types at one radius.
type step struct {
	events    []database.EventHit
	places    []database.PlaceHit
	moreEvent bool
	eventErr  error
	placeErr  error
}

func (s step) count() int { return len(s.events) + len(s.places) }

func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	resp, err := e.search(ctx, req)
	switch {
	case errors.Is(err, ErrLocationNotFound):
		e.opts.Metrics.SearchRequests.WithLabelValues("not_found").Inc()
	case err != nil:
		e.opts.Metrics.SearchRequests.WithLabelValues("error").Inc()
	case resp.Partial:
		e.opts.Metrics.SearchRequests.WithLabelValues("partial").Inc()
	default:
		e.opts.Metrics.SearchRequests.WithLabelValues("ok").Inc()
		e.opts.Metrics.SearchRadius.Observe(resp.Radius)
	}
	return resp, err
}

func (e *Engine) search(ctx context.Context, req Request) (Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if req.Radius != nil && !validRadius(*req.Radius) {
		return Response{}, fmt.Errorf("%w: radius must be a positive finite number", ErrInvalidRequest)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	limit = min(limit, e.opts.MaxLimit)

	types := cmp.Or(req.Types, TypesAll)

	var cursor *Cursor
	if req.Cursor != "" {
		c, err := DecodeCursor(req.Cursor)
		if err != nil {
			return Response{}, err
		}
		cursor = &c
		types = TypesEvents
	}

	eventLimit, placeLimit := splitLimit(limit, types)

	window, err := ResolveWindow(req.Start, req.End, req.Range, e.opts.Clock.Now(), e.opts.Location)
	if err != nil {
		return Response{}, err
	}

	loc, err := e.geocoder.Resolve(ctx, query)
	if errors.Is(err, geocode.ErrNotFound) {
		return Response{}, ErrLocationNotFound
	}
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	capRadius := RadiusCap(loc.PlaceType)
	radius := min(e.opts.DefaultRadius, capRadius)
	expand := true
	switch {
	case cursor != nil:
		radius, expand = cursor.Radius, false
	case req.Radius != nil:
		radius, expand = *req.Radius, false
	}
	initial := radius

	var st step
	for {
		st = e.queryStep(ctx, loc.Coordinates, radius, window, eventLimit, placeLimit, cursor)
		if st.eventErr != nil && st.placeErr != nil {
			return Response{}, fmt.Errorf("%w: events: %v; places: %v", ErrUnavailable, st.eventErr, st.placeErr)
		}
		if !expand || st.count() >= e.opts.MinResults || radius >= capRadius {
			break
		}
		radius = min(radius+e.opts.RadiusStep, capRadius)
		slog.Debug("Expanding search radius", "query", query, "radius", radius, "count", st.count())
	}

	resp := Response{
		Items:     e.buildItems(loc, st),
		Radius:    radius,
		Center:    loc.Coordinates,
		PlaceType: loc.PlaceType,
		Warnings:  []string{},
	}
	if expand && radius != initial {
		resp.ExpandedFrom = &initial
	}
	resp.Note = note(query, radius, resp.ExpandedFrom)

	if st.eventErr != nil {
		resp.Partial = true
		resp.Warnings = append(resp.Warnings, "events are temporarily unavailable")
		slog.Error("Event search failed", "query", query, "error", st.eventErr)
	}
	if st.placeErr != nil {
		resp.Partial = true
		resp.Warnings = append(resp.Warnings, "places are temporarily unavailable")
		slog.Error("Place search failed", "query", query, "error", st.placeErr)
	}

	if st.moreEvent && len(st.events) > 0 {
		last := st.events[len(st.events)-1].Event
		next := Cursor{Start: last.StartAt, ID: last.ID, Radius: radius, Types: types}.Encode()
		resp.NextCursor = &next
	}
	return resp, nil
}

func validRadius(r float64) bool {
	return r > 0 && !math.IsInf(r, 0)
}

// splitLimit divides one page between the entity types so a mixed page never
// exceeds limit. Places take the smaller half.
func splitLimit(limit int, types Types) (eventLimit, placeLimit int) {
	switch {
	case !types.places():
		return limit, 0
	case !types.events():
		return 0, limit
	}
	placeLimit = limit / 2
	return limit - placeLimit, placeLimit
}

// queryStep runs the event and place queries for one radius concurrently.
func (e *Engine) queryStep(ctx context.Context, center listing.Coordinates, radius float64, window Window,
	eventLimit, placeLimit int, cursor *Cursor) step {
	var (
		st step
		wg sync.WaitGroup
	)

	if eventLimit > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := database.EventNearQuery{
				Center:      center,
				RadiusMiles: radius,
				From:        window.From,
				To:          window.To,
				Limit:       eventLimit + 1,
			}
			if cursor != nil {
				q.After = cursor.keyset()
			}
			hits, err := e.events.EventsNear(ctx, q)
			if err != nil {
				st.eventErr = err
				return
			}
			if len(hits) > eventLimit {
				hits, st.moreEvent = hits[:eventLimit], true
			}
			st.events = hits
		}()
	}

	if placeLimit > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := e.places.PlacesNear(ctx, database.PlaceNearQuery{
				Center:      center,
				RadiusMiles: radius,
				Limit:       placeLimit,
			})
			if err != nil {
				st.placeErr = err
				return
			}
			st.places = hits
		}()
	}

	wg.Wait()
	return st
}

func (e *Engine) buildItems(loc geocode.Location, st step) []Item {
	items := make([]Item, 0, st.count())
	for _, h := range st.events {
		ev := h.Event
		if ev.Coordinates == nil {
			continue
		}
		start := ev.StartAt
		items = append(items, Item{
			Type:        ItemEvent,
			ID:          ev.ID,
			Slug:        ev.Slug,
			Title:       ev.Title,
			Subtitle:    listing.JoinNonEmpty(" · ", ev.VenueName, listing.JoinNonEmpty(", ", ev.City, ev.State)),
			Distance:    Distance(h.Distance, loc.Coordinates, *ev.Coordinates),
			Category:    firstTag(ev.Tags),
			Start:       &start,
			AllDay:      ev.AllDay,
			KidAllowed:  ev.KidAllowed,
			URL:         ev.URL,
			Coordinates: *ev.Coordinates,
			inCore:      loc.Core != nil && loc.Core.Contains(*ev.Coordinates),
		})
	}
	for _, h := range st.places {
		p := h.Place
		if p.Coordinates == nil {
			continue
		}
		items = append(items, Item{
			Type:        ItemPlace,
			ID:          p.ID,
			Title:       p.Name,
			Subtitle:    listing.JoinNonEmpty(" · ", categoryLabel(p.Category), listing.JoinNonEmpty(", ", p.City, p.State)),
			Distance:    Distance(h.Distance, loc.Coordinates, *p.Coordinates),
			Category:    p.Category,
			KidAllowed:  p.KidAllowed,
			URL:         p.URL,
			Coordinates: *p.Coordinates,
			inCore:      loc.Core != nil && loc.Core.Contains(*p.Coordinates),
			weight:      CategoryWeight(p.Category),
		})
	}
	Rank(items)
	return items
}

// Points returns the raw event and place points inside viewport for
// clustering.
func (e *Engine) Points(ctx context.Context, viewport listing.BBox, types, rangeToken string) ([]cluster.Point, error) {
	t, err := ParseTypes(types)
	if err != nil {
		return nil, err
	}

	window, err := ResolveWindow(nil, nil, rangeToken, e.opts.Clock.Now(), e.opts.Location)
	if err != nil {
		return nil, err
	}

	var points []cluster.Point
	if t.events() {
		events, err := e.events.EventsInBounds(ctx, viewport, window.From, window.To, maxPoints)
		if err != nil {
			return nil, fmt.Errorf("failed to load event points: %w", err)
		}
		for _, ev := range events {
			if ev.Coordinates == nil {
				continue
			}
			points = append(points, cluster.Point{ID: ev.ID, Type: ItemEvent, Label: ev.Title, Lat: ev.Coordinates.Lat, Lon: ev.Coordinates.Lon})
		}
	}
	if t.places() {
		places, err := e.places.PlacesInBounds(ctx, viewport, maxPoints)
		if err != nil {
			return nil, fmt.Errorf("failed to load place points: %w", err)
		}
		for _, p := range places {
			if p.Coordinates == nil {
				continue
			}
			points = append(points, cluster.Point{ID: p.ID, Type: ItemPlace, Label: p.Name, Lat: p.Coordinates.Lat, Lon: p.Coordinates.Lon})
		}
	}
	return points, nil
}

func note(query string, radius float64, expandedFrom *float64) string {
	n := fmt.Sprintf("Within %s miles of %s", formatMiles(radius), query)
	if expandedFrom != nil {
		n += fmt.Sprintf(" (expanded from %s)", formatMiles(*expandedFrom))
	}
	return n
}

func formatMiles(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64)
}

func firstTag(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}

func categoryLabel(category string) string {
	if category == "" || category == "other" {
		return ""
	}
	label := strings.ReplaceAll(category, "_", " ")
	return strings.ToUpper(label[:1]) + label[1:]
}
