package search

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/family-comb/app/database"
	"github.com/lysyi3m/family-comb/app/geocode"
	"github.com/lysyi3m/family-comb/app/listing"
)

var pdxCenter = listing.Coordinates{Lat: 45.5152, Lon: -122.6784}

const milesPerDegreeLat = listing.EarthRadiusMiles * math.Pi / 180

// north returns a point the given miles due north of pdxCenter.
func north(miles float64) *listing.Coordinates {
	return &listing.Coordinates{Lat: pdxCenter.Lat + miles/milesPerDegreeLat, Lon: pdxCenter.Lon}
}

// --- fakes ---

type fakeGeocoder struct {
	locations map[string]geocode.Location
}

func (g *fakeGeocoder) Resolve(_ context.Context, q string) (geocode.Location, error) {
	loc, ok := g.locations[q]
	if !ok {
		return geocode.Location{}, geocode.ErrNotFound
	}
	return loc, nil
}

type fakeEvents struct {
	mu         sync.Mutex
	events     []listing.Event
	radii      []float64
	nilDist    bool
	reportDist *float64
	err        error
}

func (f *fakeEvents) EventsNear(_ context.Context, q database.EventNearQuery) ([]database.EventHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.radii = append(f.radii, q.RadiusMiles)
	if f.err != nil {
		return nil, f.err
	}

	sorted := slices.Clone(f.events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].StartAt.Equal(sorted[j].StartAt) {
			return sorted[i].StartAt.Before(sorted[j].StartAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var hits []database.EventHit
	for _, ev := range sorted {
		if ev.StartAt.Before(q.From) || (q.To != nil && !ev.StartAt.Before(*q.To)) {
			continue
		}
		if q.After != nil && (ev.StartAt.Before(q.After.StartAt) ||
			(ev.StartAt.Equal(q.After.StartAt) && ev.ID <= q.After.ID)) {
			continue
		}
		d := listing.HaversineMiles(q.Center, *ev.Coordinates)
		if d > q.RadiusMiles {
			continue
		}
		hit := database.EventHit{Event: ev}
		switch {
		case f.reportDist != nil:
			hit.Distance = f.reportDist
		case !f.nilDist:
			hit.Distance = &d
		}
		hits = append(hits, hit)
		if len(hits) == q.Limit {
			break
		}
	}
	return hits, nil
}

func (f *fakeEvents) EventsInBounds(_ context.Context, box listing.BBox, from time.Time, to *time.Time, _ int) ([]listing.Event, error) {
	var out []listing.Event
	for _, ev := range f.events {
		if box.Contains(*ev.Coordinates) && !ev.StartAt.Before(from) && (to == nil || ev.StartAt.Before(*to)) {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakePlaces struct {
	mu     sync.Mutex
	places []listing.Place
	radii  []float64
	err    error
}

func (f *fakePlaces) PlacesNear(_ context.Context, q database.PlaceNearQuery) ([]database.PlaceHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.radii = append(f.radii, q.RadiusMiles)
	if f.err != nil {
		return nil, f.err
	}
	var hits []database.PlaceHit
	for _, p := range f.places {
		d := listing.HaversineMiles(q.Center, *p.Coordinates)
		if d <= q.RadiusMiles {
			hits = append(hits, database.PlaceHit{Place: p, Distance: &d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return *hits[i].Distance < *hits[j].Distance })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (f *fakePlaces) PlacesInBounds(_ context.Context, box listing.BBox, _ int) ([]listing.Place, error) {
	var out []listing.Place
	for _, p := range f.places {
		if box.Contains(*p.Coordinates) {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- fixtures ---

var testNow = time.Date(2026, 7, 1, 15, 0, 0, 0, time.UTC) // Wednesday

func portlandLocation() geocode.Location {
	box := listing.BBox{South: 45.43, West: -122.84, North: 45.65, East: -122.47}
	return geocode.Location{
		Query:       "portland, or",
		Coordinates: pdxCenter,
		BBox:        &box,
		Core:        geocode.CoreFor(geocode.PlaceTypeCity, &box),
		PlaceType:   geocode.PlaceTypeCity,
		DisplayName: "Portland, Oregon",
	}
}

func event(id string, miles float64, startOffset time.Duration) listing.Event {
	return listing.Event{
		ID:          id,
		Slug:        id + "-slug",
		Title:       "Event " + id,
		StartAt:     testNow.Add(startOffset),
		Coordinates: north(miles),
		KidAllowed:  listing.KidAllowedTrue,
	}
}

func place(id, category string, miles float64) listing.Place {
	return listing.Place{ID: id, Name: "Place " + id, Category: category, Coordinates: north(miles), KidAllowed: listing.KidAllowedUnknown}
}

func newEngine(events *fakeEvents, places *fakePlaces) *Engine {
	geo := &fakeGeocoder{locations: map[string]geocode.Location{"Portland, OR": portlandLocation()}}
	return NewEngine(geo, events, places, Options{
		Clock:    clockwork.NewFakeClockAt(testNow),
		Location: time.UTC,
	})
}

// --- expansion ---

func TestPortlandExpandsTo25(t *testing.T) {
	events := &fakeEvents{events: []listing.Event{
		event("e1", 2, time.Hour), event("e2", 5, 2*time.Hour), event("e3", 8, 3*time.Hour), event("e4", 12, 4*time.Hour),
		event("e5", 21, 5*time.Hour), event("e6", 22, 6*time.Hour), event("e7", 23, 7*time.Hour), event("e8", 24, 8*time.Hour),
	}}
	places := &fakePlaces{places: []listing.Place{
		place("p1", "playground", 3), place("p2", "zoo", 6), place("p3", "museum", 15),
	}}
	engine := newEngine(events, places)

	resp, err := engine.Search(context.Background(), Request{Query: "Portland, OR"})
	require.NoError(t, err)

	assert.Equal(t, []float64{20, 25}, events.radii, "7 results at 20 miles triggers exactly one expansion")
	assert.Equal(t, 25.0, resp.Radius)
	require.NotNil(t, resp.ExpandedFrom)
	assert.Equal(t, 20.0, *resp.ExpandedFrom)
	assert.Equal(t, "Within 25 miles of Portland, OR (expanded from 20)", resp.Note)
	assert.Len(t, resp.Items, 11)
	assert.False(t, resp.Partial)
	assert.Nil(t, resp.NextCursor)
}

func TestExpansionIsMonotonicAndCapped(t *testing.T) {
	var evs []listing.Event
	for i, miles := range []float64{1, 18, 24, 29, 33, 39, 45, 70} {
		evs = append(evs, event("e"+strconv.Itoa(i), miles, time.Duration(i+1)*time.Hour))
	}
	events := &fakeEvents{events: evs}
	engine := newEngine(events, &fakePlaces{})

	var counts []int
	for _, r := range []float64{20, 25, 30, 35, 40} {
		resp, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Radius: &r})
		require.NoError(t, err)
		counts = append(counts, len(resp.Items))
	}
	assert.True(t, slices.IsSorted(counts), "counts %v must not shrink as radius grows", counts)

	events.radii = nil
	resp, err := engine.Search(context.Background(), Request{Query: "Portland, OR"})
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 25, 30, 35, 40}, events.radii)
	assert.Equal(t, RadiusCap(geocode.PlaceTypeCity), resp.Radius, "never exceeds the city cap")
	assert.Len(t, resp.Items, 6)
}

func TestExplicitRadiusIsExact(t *testing.T) {
	events := &fakeEvents{events: []listing.Event{event("e1", 2, time.Hour)}}
	engine := newEngine(events, &fakePlaces{})

	r := 7.5
	resp, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Radius: &r})
	require.NoError(t, err)
	assert.Equal(t, []float64{7.5}, events.radii)
	assert.Nil(t, resp.ExpandedFrom)
	assert.Equal(t, "Within 7.5 miles of Portland, OR", resp.Note)
}

func TestNonFiniteRadiusIsRejected(t *testing.T) {
	for _, r := range []float64{0, -3, math.NaN(), math.Inf(1), math.Inf(-1)} {
		events := &fakeEvents{events: []listing.Event{event("e1", 2, time.Hour)}}
		engine := newEngine(events, &fakePlaces{})

		_, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Radius: &r})
		assert.ErrorIs(t, err, ErrInvalidRequest, "radius %v", r)
		assert.Empty(t, events.radii, "radius %v must not reach storage", r)
	}
}

// --- distance ---

func TestDistanceFallback(t *testing.T) {
	at := *north(10)
	want := listing.HaversineMiles(pdxCenter, at)

	assert.InDelta(t, want, Distance(nil, pdxCenter, at), 1e-9)
	nan, neg, inf := math.NaN(), -1.0, math.Inf(1)
	assert.InDelta(t, want, Distance(&nan, pdxCenter, at), 1e-9)
	assert.InDelta(t, want, Distance(&neg, pdxCenter, at), 1e-9)
	assert.InDelta(t, want, Distance(&inf, pdxCenter, at), 1e-9)
	reported := 3.0
	assert.Equal(t, 3.0, Distance(&reported, pdxCenter, at))
}

func TestNullStorageDistanceIsComputed(t *testing.T) {
	events := &fakeEvents{events: []listing.Event{event("e1", 10, time.Hour)}, nilDist: true}
	engine := newEngine(events, &fakePlaces{})

	r := 15.0
	resp, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Radius: &r})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.False(t, math.IsNaN(resp.Items[0].Distance))
	assert.InDelta(t, listing.HaversineMiles(pdxCenter, *north(10)), resp.Items[0].Distance, 1e-9)
}

// --- ranking ---

func TestRankOrdering(t *testing.T) {
	early := testNow.Add(time.Hour)
	late := testNow.Add(2 * time.Hour)
	items := []Item{
		{Type: ItemPlace, ID: "theme", Distance: 1, weight: CategoryWeight("theme_park")},
		{Type: ItemEvent, ID: "late", Distance: 1, Start: &late},
		{Type: ItemPlace, ID: "zoo", Distance: 1, weight: CategoryWeight("zoo")},
		{Type: ItemEvent, ID: "early", Distance: 1, Start: &early},
		{Type: ItemPlace, ID: "near-outside", Distance: 0.5},
		{Type: ItemEvent, ID: "core-far", Distance: 5, Start: &late, inCore: true},
	}
	Rank(items)

	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"core-far", "near-outside", "early", "late", "zoo", "theme"}, ids)
}

func TestCategoryWeights(t *testing.T) {
	assert.Greater(t, CategoryWeight("playground"), CategoryWeight("theme_park"))
	assert.Greater(t, CategoryWeight("zoo"), CategoryWeight("theme_park"))
	assert.Equal(t, 1, CategoryWeight("bowling_alley"))
}

// --- pagination ---

func TestKeysetPaginationPinsRadius(t *testing.T) {
	var evs []listing.Event
	for i := range 5 {
		evs = append(evs, event("e"+strconv.Itoa(i), 1+float64(i), time.Duration(i+1)*time.Hour))
	}
	events := &fakeEvents{events: evs}
	places := &fakePlaces{places: []listing.Place{place("p1", "park", 1)}}
	engine := newEngine(events, places)

	first, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Limit: 2})
	require.NoError(t, err)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, 40.0, first.Radius, "few results expand to the cap")
	require.Len(t, first.Items, 2, "a mixed page shares the limit between types")
	ids := []string{first.Items[0].ID, first.Items[1].ID}
	assert.ElementsMatch(t, []string{"e0", "p1"}, ids)

	cur, err := DecodeCursor(*first.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, first.Radius, cur.Radius)
	assert.Equal(t, "e0", cur.ID)

	events.radii = nil
	places.radii = nil
	second, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Limit: 2, Cursor: *first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []float64{40}, events.radii, "follow-up pages never re-expand")
	assert.Empty(t, places.radii, "places only appear on the first page")
	require.Len(t, second.Items, 2)
	assert.Equal(t, "e1", second.Items[0].ID)
	assert.Equal(t, "e2", second.Items[1].ID)
	require.NotNil(t, second.NextCursor)

	third, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Limit: 2, Cursor: *second.NextCursor})
	require.NoError(t, err)
	require.Len(t, third.Items, 2)
	assert.Equal(t, "e3", third.Items[0].ID)
	assert.Equal(t, "e4", third.Items[1].ID)
	assert.Nil(t, third.NextCursor)
}

func TestLimitIsCapped(t *testing.T) {
	events := &fakeEvents{}
	engine := newEngine(events, &fakePlaces{})
	r := 5.0
	_, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Limit: 500, Radius: &r})
	require.NoError(t, err)
}

func TestMixedPageNeverExceedsLimit(t *testing.T) {
	var evs []listing.Event
	var pls []listing.Place
	for i := range 10 {
		evs = append(evs, event("e"+strconv.Itoa(i), 1+float64(i), time.Duration(i+1)*time.Hour))
		pls = append(pls, place("p"+strconv.Itoa(i), "park", 1+float64(i)))
	}
	geo := &fakeGeocoder{locations: map[string]geocode.Location{"Portland, OR": portlandLocation()}}
	engine := NewEngine(geo, &fakeEvents{events: evs}, &fakePlaces{places: pls}, Options{
		Clock:    clockwork.NewFakeClockAt(testNow),
		Location: time.UTC,
		MaxLimit: 5,
	})

	for _, limit := range []int{0, 1, 5, 50} {
		resp, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Limit: limit})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(resp.Items), 5, "limit %d", limit)
		assert.NotEmpty(t, resp.Items, "limit %d", limit)
	}

	resp, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Limit: 5})
	require.NoError(t, err)
	var nEvents, nPlaces int
	for _, it := range resp.Items {
		if it.Type == ItemEvent {
			nEvents++
		} else {
			nPlaces++
		}
	}
	assert.Equal(t, 3, nEvents)
	assert.Equal(t, 2, nPlaces)
	assert.NotNil(t, resp.NextCursor, "remaining events stay reachable through the cursor")
}

func TestMalformedCursor(t *testing.T) {
	engine := newEngine(&fakeEvents{}, &fakePlaces{})
	_, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Cursor: "%%%"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// --- failures ---

func TestPartialFailureDegrades(t *testing.T) {
	events := &fakeEvents{events: []listing.Event{event("e1", 1, time.Hour)}}
	places := &fakePlaces{err: errors.New("database is locked")}
	engine := newEngine(events, places)

	r := 5.0
	resp, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Radius: &r})
	require.NoError(t, err)
	assert.True(t, resp.Partial)
	assert.Equal(t, []string{"places are temporarily unavailable"}, resp.Warnings)
	assert.Len(t, resp.Items, 1)
}

func TestDoubleFailureIsError(t *testing.T) {
	engine := newEngine(&fakeEvents{err: errors.New("boom")}, &fakePlaces{err: errors.New("boom")})
	_, err := engine.Search(context.Background(), Request{Query: "Portland, OR"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUnknownLocation(t *testing.T) {
	engine := newEngine(&fakeEvents{}, &fakePlaces{})
	_, err := engine.Search(context.Background(), Request{Query: "Atlantis"})
	assert.ErrorIs(t, err, ErrLocationNotFound)
}

func TestTypeFilter(t *testing.T) {
	events := &fakeEvents{events: []listing.Event{event("e1", 1, time.Hour)}}
	places := &fakePlaces{places: []listing.Place{place("p1", "zoo", 1)}}
	engine := newEngine(events, places)

	r := 5.0
	resp, err := engine.Search(context.Background(), Request{Query: "Portland, OR", Radius: &r, Types: TypesPlaces})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, ItemPlace, resp.Items[0].Type)
	assert.Empty(t, events.radii)

	_, err = ParseTypes("venues")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// --- windows ---

func TestResolveWindow(t *testing.T) {
	pdx, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	now := time.Date(2026, 7, 1, 18, 0, 0, 0, time.UTC) // Wednesday 11:00 in Portland

	today, err := ResolveWindow(nil, nil, RangeToday, now, pdx)
	require.NoError(t, err)
	assert.True(t, today.From.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, pdx)))
	assert.True(t, today.To.Equal(time.Date(2026, 7, 2, 0, 0, 0, 0, pdx)))

	weekend, err := ResolveWindow(nil, nil, RangeWeekend, now, pdx)
	require.NoError(t, err)
	assert.True(t, weekend.From.Equal(time.Date(2026, 7, 4, 0, 0, 0, 0, pdx)))
	assert.True(t, weekend.To.Equal(time.Date(2026, 7, 6, 0, 0, 0, 0, pdx)))

	sunday := time.Date(2026, 7, 5, 18, 0, 0, 0, time.UTC)
	weekend, err = ResolveWindow(nil, nil, RangeWeekend, sunday, pdx)
	require.NoError(t, err)
	assert.True(t, weekend.From.Equal(time.Date(2026, 7, 5, 0, 0, 0, 0, pdx)))
	assert.True(t, weekend.To.Equal(time.Date(2026, 7, 6, 0, 0, 0, 0, pdx)))

	week, err := ResolveWindow(nil, nil, RangeNext7Days, now, pdx)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, week.To.Sub(week.From))

	all, err := ResolveWindow(nil, nil, "", now, pdx)
	require.NoError(t, err)
	assert.Nil(t, all.To)

	start := now.Add(48 * time.Hour)
	explicit, err := ResolveWindow(&start, nil, RangeToday, now, pdx)
	require.NoError(t, err)
	assert.True(t, explicit.From.Equal(start))
	assert.Nil(t, explicit.To)

	end := start.Add(-time.Hour)
	_, err = ResolveWindow(&start, &end, "", now, pdx)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = ResolveWindow(nil, nil, "fortnight", now, pdx)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{Start: testNow, ID: "abc", Radius: 25, Types: TypesEvents}
	got, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, got.Start.Equal(c.Start))
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Radius, got.Radius)
}

func TestPointsForClustering(t *testing.T) {
	events := &fakeEvents{events: []listing.Event{event("e1", 1, time.Hour)}}
	places := &fakePlaces{places: []listing.Place{place("p1", "zoo", 2)}}
	engine := newEngine(events, places)

	box := listing.BoundsAround(pdxCenter, 5)
	pts, err := engine.Points(context.Background(), box, "all", "all")
	require.NoError(t, err)
	assert.Len(t, pts, 2)

	pts, err = engine.Points(context.Background(), box, "events", "")
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, "e1", pts[0].ID)
}
