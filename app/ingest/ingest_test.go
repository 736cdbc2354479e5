package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/family-comb/app/classify"
	"github.com/lysyi3m/family-comb/app/feed"
	"github.com/lysyi3m/family-comb/app/geocode"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/normalize"
	"github.com/lysyi3m/family-comb/app/source"
)

var now = time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	name    string
	kind    source.Kind
	records []source.Record
	errs    []error
	calls   atomic.Int32
}

func (s *fakeSource) Name() string      { return s.name }
func (s *fakeSource) Kind() source.Kind { return s.kind }

func (s *fakeSource) Fetch(_ context.Context) ([]source.Record, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.errs) && s.errs[n-1] != nil {
		return nil, s.errs[n-1]
	}
	return s.records, nil
}

type fakeEventStore struct {
	mu     sync.Mutex
	events map[string]listing.Event
	writes int
	fail   error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[string]listing.Event)}
}

func (s *fakeEventStore) UpsertEvent(_ context.Context, ev *listing.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	s.writes++
	key := ev.Source + "|" + ev.ExternalID
	existing, ok := s.events[key]
	if ok {
		ev.Slug = existing.Slug
	}
	s.events[key] = *ev
	return !ok, nil
}

func (s *fakeEventStore) EventExists(_ context.Context, src, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[src+"|"+externalID]
	return ok, nil
}

func (s *fakeEventStore) SlugFor(_ context.Context, src, externalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[src+"|"+externalID].Slug, nil
}

func (s *fakeEventStore) SlugExists(_ context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

type fakePlaceStore struct {
	mu     sync.Mutex
	places map[string]listing.Place
}

func (s *fakePlaceStore) UpsertPlace(_ context.Context, p *listing.Place) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.places == nil {
		s.places = make(map[string]listing.Place)
	}
	key := p.Source + "|" + p.ExternalID
	_, ok := s.places[key]
	s.places[key] = *p
	return !ok, nil
}

func (s *fakePlaceStore) PlaceExists(_ context.Context, src, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.places[src+"|"+externalID]
	return ok, nil
}

type fakeFeedStore struct {
	mu        sync.Mutex
	feeds     []listing.Feed
	fetches   map[string]error
	lookupErr error
}

func (s *fakeFeedStore) ListActiveFeeds(_ context.Context) ([]listing.Feed, error) {
	return s.feeds, nil
}

func (s *fakeFeedStore) GetFeedByURL(_ context.Context, url string) (*listing.Feed, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	for _, f := range s.feeds {
		if f.URL == url {
			return &f, nil
		}
	}
	return nil, nil
}

func (s *fakeFeedStore) RecordFetch(_ context.Context, name string, fetchErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetches == nil {
		s.fetches = make(map[string]error)
	}
	s.fetches[name] = fetchErr
	return nil
}

type fakeGeocoder struct {
	calls atomic.Int32
}

func (g *fakeGeocoder) Resolve(_ context.Context, query string) (geocode.Location, error) {
	g.calls.Add(1)
	if query != "Portland, OR" {
		return geocode.Location{}, geocode.ErrNotFound
	}
	return geocode.Location{Query: query, Coordinates: listing.Coordinates{Lat: 45.5152, Lon: -122.6784}}, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	summaries []RunSummary
}

func (p *fakePublisher) Publish(_ context.Context, summary RunSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, summary)
	return nil
}

type harness struct {
	events    *fakeEventStore
	places    *fakePlaceStore
	feeds     *fakeFeedStore
	geocoder  *fakeGeocoder
	publisher *fakePublisher
	orch      *Orchestrator
}

func newHarness(t *testing.T, clock clockwork.Clock) *harness {
	t.Helper()
	h := &harness{
		events:    newFakeEventStore(),
		places:    &fakePlaceStore{},
		feeds:     &fakeFeedStore{},
		geocoder:  &fakeGeocoder{},
		publisher: &fakePublisher{},
	}
	h.orch = NewOrchestrator(h.events, h.places, h.feeds, OrchestratorOptions{
		Workers:   2,
		Retry:     RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond},
		Geocoder:  h.geocoder,
		Publisher: h.publisher,
		Clock:     clock,
	})
	return h
}

func calendarJob(src *fakeSource, city, state string) Job {
	return Job{
		Source: src,
		Normalizer: normalize.NewCalendarNormalizer(classify.New(), normalize.Defaults{
			City:     city,
			State:    state,
			Location: time.UTC,
		}),
		FeedName: src.name,
	}
}

func entry(uid, title string, start time.Time) *source.CalendarEntry {
	return &source.CalendarEntry{UID: uid, Summary: title, Start: start}
}

func TestRunAllIsIdempotent(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	src := &fakeSource{name: "calendar:library", kind: source.KindCalendar, records: []source.Record{
		entry("a", "Family Storytime", now.Add(48*time.Hour)),
		entry("b", "Lego Club", now.Add(72*time.Hour)),
	}}
	job := calendarJob(src, "Portland", "OR")

	first := h.orch.RunAll(context.Background(), []Job{job}, Options{})
	require.Len(t, first.Feeds, 1)
	assert.Equal(t, StateUpserted, first.Feeds[0].State)
	assert.Equal(t, 2, first.Totals.Inserted)
	assert.Equal(t, 0, first.Totals.Updated)

	slugs := map[string]string{}
	for k, ev := range h.events.events {
		require.NotEmpty(t, ev.Slug)
		slugs[k] = ev.Slug
	}

	second := h.orch.RunAll(context.Background(), []Job{job}, Options{})
	assert.Equal(t, 0, second.Totals.Inserted)
	assert.Equal(t, 2, second.Totals.Updated)
	assert.Len(t, h.events.events, 2)
	for k, ev := range h.events.events {
		assert.Equal(t, slugs[k], ev.Slug, "slug changed on re-ingestion")
	}

	assert.NoError(t, h.feeds.fetches["calendar:library"])
	assert.Len(t, h.publisher.summaries, 2)
}

func TestIndependenceDayPlaceholderIsSkipped(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	july4 := time.Date(2026, 7, 4, 21, 0, 0, 0, time.UTC)
	src := &fakeSource{name: "calendar:city", kind: source.KindCalendar, records: []source.Record{
		entry("holiday", "Independence Day Fireworks", july4),
		entry("real", "Splash Pad Opening", now.Add(24*time.Hour)),
	}}

	summary := h.orch.RunAll(context.Background(), []Job{calendarJob(src, "Portland", "OR")}, Options{})
	res := summary.Feeds[0]

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, map[string]int{ReasonGenericHoliday: 1}, res.SkipReasons)
	assert.Empty(t, res.Errors)
}

func TestGuardrailReasons(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	src := &fakeSource{name: "calendar:misc", kind: source.KindCalendar, records: []source.Record{
		entry("past", "Old Fair", now.Add(-72*time.Hour)),
		entry("far", "Next Year Fair", now.AddDate(0, 0, 200)),
		entry("nowhere", "Craft Hour", now.Add(24*time.Hour)),
		entry("untitled", "", now.Add(24*time.Hour)),
	}}

	res := h.orch.RunOne(context.Background(), calendarJob(src, "", ""), Options{})

	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 4, res.Skipped)
	assert.Equal(t, map[string]int{
		ReasonOutsideWindow:      2,
		ReasonNoLocality:         1,
		normalize.ReasonUntitled: 1,
	}, res.SkipReasons)
}

func TestGuardrailsKeepRunningMultiDayEvents(t *testing.T) {
	g := NewGuardrails(clockwork.NewFakeClockAt(now), 0)
	end := now.Add(48 * time.Hour)
	ev := &listing.Event{Title: "Summer Camp", StartAt: now.AddDate(0, 0, -5), EndAt: &end, City: "Portland", State: "OR"}
	assert.Equal(t, "", g.Check(ev))

	ev.EndAt = nil
	assert.Equal(t, ReasonOutsideWindow, g.Check(ev))
}

func TestIsGenericHoliday(t *testing.T) {
	tests := []struct {
		title string
		venue string
		want  bool
	}{
		{"Independence Day Fireworks", "", true},
		{"4th of July", "", true},
		{"Thanksgiving Day", "", true},
		{"Independence Day Fireworks", "Waterfront Park", false},
		{"Family Storytime", "", false},
		{"Laboring Day Camp", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			ev := &listing.Event{Title: tt.title, VenueName: tt.venue}
			assert.Equal(t, tt.want, IsGenericHoliday(ev))
		})
	}
}

func TestTransientFailureIsRetried(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock())
	src := &fakeSource{
		name: "calendar:flaky",
		kind: source.KindCalendar,
		errs: []error{
			&source.StatusError{StatusCode: 503},
			&source.StatusError{StatusCode: 429, RetryAfter: time.Millisecond},
		},
		records: []source.Record{entry("a", "Family Storytime", time.Now().Add(24*time.Hour))},
	}

	res := h.orch.RunOne(context.Background(), calendarJob(src, "Portland", "OR"), Options{})

	assert.Equal(t, StateUpserted, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1, res.Inserted)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock())
	src := &fakeSource{
		name: "calendar:gone",
		kind: source.KindCalendar,
		errs: []error{&source.StatusError{StatusCode: 404}, nil},
	}

	res := h.orch.RunOne(context.Background(), calendarJob(src, "Portland", "OR"), Options{})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, src.calls.Load())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "status 404")
	assert.Error(t, h.feeds.fetches["calendar:gone"])
}

func TestRetriesAreBounded(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock())
	down := &source.StatusError{StatusCode: 502}
	src := &fakeSource{name: "calendar:down", kind: source.KindCalendar, errs: []error{down, down, down, down}}

	res := h.orch.RunOne(context.Background(), calendarJob(src, "Portland", "OR"), Options{})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, src.calls.Load())
}

func TestFailingFeedDoesNotAbortRun(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	bad := &fakeSource{name: "calendar:bad", kind: source.KindCalendar, errs: []error{fmt.Errorf("parse: %w", source.ErrMalformed)}}
	good := &fakeSource{name: "calendar:good", kind: source.KindCalendar, records: []source.Record{
		entry("a", "Family Storytime", now.Add(24*time.Hour)),
	}}

	summary := h.orch.RunAll(context.Background(), []Job{
		calendarJob(bad, "Portland", "OR"),
		calendarJob(good, "Portland", "OR"),
	}, Options{})

	require.Len(t, summary.Feeds, 2)
	assert.Equal(t, "calendar:bad", summary.Feeds[0].Name)
	assert.Equal(t, StateFailed, summary.Feeds[0].State)
	assert.Equal(t, StateUpserted, summary.Feeds[1].State)
	assert.Equal(t, Totals{Feeds: 2, Failed: 1, Fetched: 1, Inserted: 1, Errors: 1}, summary.Totals)
}

func TestUpsertErrorIsRecordedPerRecord(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	h.events.fail = errors.New("disk full")
	src := &fakeSource{name: "calendar:lib", kind: source.KindCalendar, records: []source.Record{
		entry("a", "Family Storytime", now.Add(24*time.Hour)),
		entry("b", "Lego Club", now.Add(48*time.Hour)),
	}}

	res := h.orch.RunOne(context.Background(), calendarJob(src, "Portland", "OR"), Options{})

	assert.Equal(t, StateUpserted, res.State)
	assert.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "disk full")
}

func TestDryRunWritesNothing(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	src := &fakeSource{name: "calendar:library", kind: source.KindCalendar, records: []source.Record{
		entry("a", "Family Storytime", now.Add(48*time.Hour)),
		entry("b", "Lego Club", now.Add(72*time.Hour)),
	}}
	job := calendarJob(src, "Portland", "OR")

	h.orch.RunOne(context.Background(), Job{Source: &fakeSource{
		name: src.name, kind: src.kind, records: src.records[:1],
	}, Normalizer: job.Normalizer}, Options{})
	writes := h.events.writes

	summary := h.orch.RunAll(context.Background(), []Job{job}, Options{DryRun: true})

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Totals.Inserted)
	assert.Equal(t, 1, summary.Totals.Updated)
	assert.Equal(t, StateParsed, summary.Feeds[0].State)
	assert.Equal(t, writes, h.events.writes)
	assert.Empty(t, h.feeds.fetches)
	assert.Len(t, h.publisher.summaries, 1, "dry runs are not published")
}

func TestDryRunSkipsGeocoding(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	src := &fakeSource{name: "calendar:parks", kind: source.KindCalendar, records: []source.Record{
		entry("a", "Nature Walk", now.Add(24*time.Hour)),
		entry("b", "Pond Dipping", now.Add(48*time.Hour)),
	}}
	job := calendarJob(src, "Portland", "OR")

	res := h.orch.RunOne(context.Background(), job, Options{DryRun: true})
	assert.Equal(t, 2, res.Inserted)
	assert.Zero(t, h.geocoder.calls.Load())

	res = h.orch.RunOne(context.Background(), job, Options{})
	assert.Equal(t, 2, res.Inserted)
	assert.EqualValues(t, 2, h.geocoder.calls.Load())
}

func TestMissingCoordinatesAreGeocoded(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	src := &fakeSource{name: "calendar:parks", kind: source.KindCalendar, records: []source.Record{
		entry("a", "Nature Walk", now.Add(24*time.Hour)),
	}}

	res := h.orch.RunOne(context.Background(), calendarJob(src, "Portland", "OR"), Options{})
	require.Equal(t, 1, res.Inserted)

	ev := h.events.events["calendar:parks|a"]
	require.NotNil(t, ev.Coordinates)
	assert.InDelta(t, 45.5152, ev.Coordinates.Lat, 1e-6)
	assert.EqualValues(t, 1, h.geocoder.calls.Load())
}

func TestFeedFiltersSkipEvents(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	src := &fakeSource{name: "calendar:library", kind: source.KindCalendar, records: []source.Record{
		entry("a", "CANCELLED: Storytime", now.Add(24*time.Hour)),
		entry("b", "Storytime", now.Add(24*time.Hour)),
	}}
	job := calendarJob(src, "Portland", "OR")
	job.Filters = []feed.ConfigFilter{{Field: "title", Excludes: []string{"cancelled"}}}

	res := h.orch.RunOne(context.Background(), job, Options{})

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, map[string]int{ReasonFiltered: 1}, res.SkipReasons)
}

func TestPlacesAreUpserted(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	src := &fakeSource{name: "poi", kind: source.KindPOI, records: []source.Record{
		&source.POIElement{Type: "node", ID: 1, Lat: 45.5, Lon: -122.6, Tags: map[string]string{"name": "Laurelhurst Playground", "leisure": "playground"}},
		&source.POIElement{Type: "node", ID: 2, Lat: 45.5, Lon: -122.6, Tags: map[string]string{"leisure": "playground"}},
	}}
	job := Job{Label: "poi:portland", Source: src, Normalizer: normalize.NewPlaceNormalizer(classify.New())}

	res := h.orch.RunOne(context.Background(), job, Options{})

	assert.Equal(t, "poi:portland", res.Name)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, map[string]int{normalize.ReasonUnnamed: 1}, res.SkipReasons)
	assert.Len(t, h.places.places, 1)
}

func TestCancelledRunMarksRemainingJobsFailed(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClockAt(now))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{name: "calendar:a", kind: source.KindCalendar}
	summary := h.orch.RunAll(ctx, []Job{calendarJob(src, "Portland", "OR")}, Options{})

	require.Len(t, summary.Feeds, 1)
	assert.Equal(t, StateFailed, summary.Feeds[0].State)
}

func TestRetryBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	plain := errors.New("boom")

	assert.Equal(t, time.Second, p.backoff(1, plain))
	assert.Equal(t, 2*time.Second, p.backoff(2, plain))
	assert.Equal(t, 8*time.Second, p.backoff(5, plain))
	assert.Equal(t, 5*time.Second, p.backoff(1, &source.StatusError{StatusCode: 429, RetryAfter: 5 * time.Second}))
	assert.Equal(t, 8*time.Second, p.backoff(1, &source.StatusError{StatusCode: 429, RetryAfter: time.Minute}))

	assert.Equal(t, DefaultRetryPolicy(), RetryPolicy{}.withDefaults())
}

func TestGateSpacesStarts(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	g := newGate(clock, time.Second)
	ctx := context.Background()

	require.NoError(t, g.acquire(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, g.acquire(ctx))
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	select {
	case <-done:
		t.Fatal("second acquire returned before the delay elapsed")
	default:
	}

	clock.Advance(time.Second)
	<-done
}

func TestGateReleaseExtendsSpacing(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	g := newGate(clock, time.Second)

	require.NoError(t, g.acquire(context.Background()))
	clock.Advance(5 * time.Second)
	g.release()

	assert.Equal(t, now.Add(6*time.Second), g.next)
}

func TestCatalogJobs(t *testing.T) {
	feeds := &fakeFeedStore{feeds: []listing.Feed{
		{Name: "library", URL: "https://library.example/events.ics", DefaultCity: "Portland", DefaultState: "OR"},
		{Name: "parks", URL: "https://parks.example/events.rss"},
	}}
	region := listing.Region{Name: "portland", Center: listing.Coordinates{Lat: 45.5152, Lon: -122.6784}, RadiusMiles: 25}

	catalog := NewCatalog(feeds, source.NewFetcher(nil, "test"), classify.New(), CatalogOptions{
		Regions:     []listing.Region{region},
		Ticketing:   source.TicketingOptions{APIKey: "key"},
		OverpassURL: "https://overpass.example/api/interpreter",
	})

	jobs, err := catalog.Jobs(context.Background())
	require.NoError(t, err)

	var names []string
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	assert.Equal(t, []string{"calendar:library", "calendar:parks", "ticketing:portland", "poi:portland"}, names)
	assert.Equal(t, "library", jobs[0].FeedName)
	assert.Equal(t, source.KindTicketing, jobs[2].Source.Kind())
}

func TestCatalogSkipsUnconfiguredSources(t *testing.T) {
	catalog := NewCatalog(&fakeFeedStore{}, source.NewFetcher(nil, "test"), classify.New(), CatalogOptions{
		Regions: []listing.Region{{Name: "portland"}},
	})

	jobs, err := catalog.Jobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCatalogAdHocFeed(t *testing.T) {
	catalog := NewCatalog(&fakeFeedStore{}, source.NewFetcher(nil, "test"), classify.New(), CatalogOptions{})
	ctx := context.Background()

	job, err := catalog.AdHocFeed(ctx, "https://museum.example/cal.ics", "Salem", "or")
	require.NoError(t, err)
	again, err := catalog.AdHocFeed(ctx, "https://museum.example/cal.ics", "Salem", "OR")
	require.NoError(t, err)

	assert.Equal(t, job.Name(), again.Name())
	assert.Regexp(t, `^calendar:adhoc-[0-9a-f]{8}$`, job.Name())
	assert.Empty(t, job.FeedName)

	for _, bad := range []string{"", "ftp://x.example/a", "/relative.ics", "https://"} {
		_, err := catalog.AdHocFeed(ctx, bad, "", "")
		assert.ErrorIs(t, err, ErrInvalidFeed, bad)
	}
	_, err = catalog.AdHocFeed(ctx, "https://museum.example/cal.ics", "Salem", "Oregon")
	assert.ErrorIs(t, err, ErrInvalidFeed)
}

func TestCatalogAdHocFeedReusesCataloguedIdentity(t *testing.T) {
	library := listing.Feed{Name: "library", URL: "https://library.example/events.ics", DefaultCity: "Portland", DefaultState: "OR"}
	catalog := NewCatalog(&fakeFeedStore{feeds: []listing.Feed{library}}, source.NewFetcher(nil, "test"), classify.New(), CatalogOptions{})
	ctx := context.Background()

	jobs, err := catalog.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	adhoc, err := catalog.AdHocFeed(ctx, " https://library.example/events.ics ", "Salem", "WA")
	require.NoError(t, err)
	assert.Equal(t, jobs[0].Name(), adhoc.Name(), "events from both paths share one source key")
	assert.Equal(t, "calendar:library", adhoc.Name())
	assert.Equal(t, "library", adhoc.FeedName, "fetch outcomes are recorded on the catalogued feed")

	other, err := catalog.AdHocFeed(ctx, "https://library.example/other.ics", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, jobs[0].Name(), other.Name())
}

func TestCatalogAdHocFeedLookupFailure(t *testing.T) {
	feeds := &fakeFeedStore{lookupErr: errors.New("database is locked")}
	catalog := NewCatalog(feeds, source.NewFetcher(nil, "test"), classify.New(), CatalogOptions{})

	_, err := catalog.AdHocFeed(context.Background(), "https://museum.example/cal.ics", "", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidFeed)
}
