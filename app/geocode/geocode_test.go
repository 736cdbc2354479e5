package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/family-comb/app/cache"
	"github.com/lysyi3m/family-comb/app/database"
	"github.com/lysyi3m/family-comb/app/listing"
)

// --- fakes ---

type countingProvider struct {
	mu      sync.Mutex
	calls   int
	results map[string][]Location
	delay   time.Duration
	err     error
}

func (p *countingProvider) Search(ctx context.Context, query string, limit int, _ *listing.Coordinates) ([]Location, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	res := p.results[query]
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (p *countingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]database.GeocodeEntry
	puts    int
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]database.GeocodeEntry)}
}

func (s *memoryStore) GetGeocode(_ context.Context, query string) (*database.GeocodeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[query]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *memoryStore) PutGeocode(_ context.Context, e database.GeocodeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	if _, ok := s.entries[e.Query]; !ok {
		s.entries[e.Query] = e
	}
	return nil
}

var portland = Location{
	Coordinates: listing.Coordinates{Lat: 45.5152, Lon: -122.6784},
	BBox:        &listing.BBox{South: 45.43, West: -122.84, North: 45.65, East: -122.47},
	PlaceType:   PlaceTypeCity,
	DisplayName: "Portland, Multnomah County, Oregon, United States",
}

func newTestResolver(p Provider, s Store) *Resolver {
	return NewResolver(p, s, NewThrottle(0), ResolverOptions{LRUSize: 10, LookupTimeout: time.Second})
}

// --- resolver ---

func TestResolverLayers(t *testing.T) {
	provider := &countingProvider{results: map[string][]Location{"Portland, OR": {portland}}}
	store := newMemoryStore()
	r := newTestResolver(provider, store)
	ctx := context.Background()

	loc, err := r.Resolve(ctx, "Portland, OR")
	require.NoError(t, err)
	assert.Equal(t, "portland, or", loc.Query)
	assert.Equal(t, PlaceTypeCity, loc.PlaceType)
	assert.Equal(t, 1, store.puts, "persisted before return")

	_, err = r.Resolve(ctx, "  portland,   OR ")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount(), "lru hit skips the provider")

	fresh := newTestResolver(provider, store)
	loc, err = fresh.Resolve(ctx, "Portland, OR")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount(), "store hit skips the provider")
	require.NotNil(t, loc.Core)
	assert.True(t, loc.BBox.Contains(loc.Core.Center()))
}

func TestResolverNotFoundIsNotCached(t *testing.T) {
	provider := &countingProvider{results: map[string][]Location{}}
	store := newMemoryStore()
	r := newTestResolver(provider, store)

	for range 2 {
		_, err := r.Resolve(context.Background(), "Atlantis")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 2, provider.callCount())
	assert.Empty(t, store.entries)
}

func TestResolverTimeoutIsNotFound(t *testing.T) {
	provider := &countingProvider{delay: 200 * time.Millisecond}
	r := NewResolver(provider, newMemoryStore(), NewThrottle(0), ResolverOptions{LookupTimeout: 20 * time.Millisecond})

	_, err := r.Resolve(context.Background(), "Slowtown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolverProviderErrorPropagates(t *testing.T) {
	provider := &countingProvider{err: errors.New("nominatim API error: status 503")}
	r := newTestResolver(provider, newMemoryStore())

	_, err := r.Resolve(context.Background(), "Portland")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestResolverPersistFailure(t *testing.T) {
	provider := &countingProvider{results: map[string][]Location{"Portland": {portland}}}
	store := newMemoryStore()
	store.putErr = errors.New("disk full")
	r := newTestResolver(provider, store)

	_, err := r.Resolve(context.Background(), "Portland")
	require.Error(t, err)
	assert.Zero(t, r.lru.size())
}

func TestResolverEmptyQuery(t *testing.T) {
	r := newTestResolver(&countingProvider{}, newMemoryStore())
	_, err := r.Resolve(context.Background(), "  ?! ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThrottleSpacesProviderCalls(t *testing.T) {
	provider := &countingProvider{results: map[string][]Location{
		"a": {portland}, "b": {portland}, "c": {portland},
	}}
	r := NewResolver(provider, newMemoryStore(), NewThrottle(50*time.Millisecond), ResolverOptions{})

	start := time.Now()
	var wg sync.WaitGroup
	for _, q := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), q)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, provider.callCount())
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestThrottleHonoursContext(t *testing.T) {
	th := NewThrottle(time.Hour)
	_, err := th.Wait(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = th.Wait(ctx)
	assert.Error(t, err)
}

// --- suggestions ---

func TestSuggestRanking(t *testing.T) {
	bias := &listing.Coordinates{Lat: 45.52, Lon: -122.68}
	far := Location{DisplayName: "Portland, Maine", PlaceType: PlaceTypeCity, Coordinates: listing.Coordinates{Lat: 43.66, Lon: -70.26}}
	near := Location{DisplayName: "Portland, Oregon", PlaceType: PlaceTypeCity, Coordinates: listing.Coordinates{Lat: 45.52, Lon: -122.67}}
	zip := Location{DisplayName: "97201", PlaceType: PlaceTypePostcode, Coordinates: listing.Coordinates{Lat: 45.50, Lon: -122.69}}

	ranked := RankSuggestions([]Location{far, near, zip}, bias)
	require.Len(t, ranked, 3)
	assert.Equal(t, "97201", ranked[0].DisplayName)
	assert.Equal(t, "Portland, Oregon", ranked[1].DisplayName)
	assert.Equal(t, "Portland, Maine", ranked[2].DisplayName)

	unbiased := RankSuggestions([]Location{far, near, zip}, nil)
	assert.Equal(t, []string{"97201", "Portland, Maine", "Portland, Oregon"},
		[]string{unbiased[0].DisplayName, unbiased[1].DisplayName, unbiased[2].DisplayName})
}

func TestSuggestCapsAndCaches(t *testing.T) {
	var many []Location
	for range 12 {
		many = append(many, portland)
	}
	provider := &countingProvider{results: map[string][]Location{"Port": many}}
	r := NewResolver(provider, newMemoryStore(), NewThrottle(0), ResolverOptions{Cache: cache.NewMemory(nil, 100)})
	ctx := context.Background()

	got, err := r.Suggest(ctx, "Port", nil)
	require.NoError(t, err)
	assert.Len(t, got, SuggestMax)

	_, err = r.Suggest(ctx, "Port", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount())
}

func TestSuggestRequiresTwoCharacters(t *testing.T) {
	provider := &countingProvider{}
	r := newTestResolver(provider, newMemoryStore())

	got, err := r.Suggest(context.Background(), " P ", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, provider.callCount())
}

// --- nominatim ---

func TestNominatimClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "97201", q.Get("q"))
		assert.Equal(t, "jsonv2", q.Get("format"))
		assert.Equal(t, "us", q.Get("countrycodes"))
		assert.Equal(t, "ops@example.com", q.Get("email"))
		assert.NotEmpty(t, q.Get("viewbox"))
		assert.Equal(t, "family-comb-test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode([]map[string]any{
			{
				"lat": "45.5076", "lon": "-122.6901",
				"boundingbox":  []string{"45.4900", "45.5200", "-122.7200", "-122.6700"},
				"display_name": "97201, Portland, Oregon, United States",
				"category":     "place", "type": "postcode", "addresstype": "postcode",
				"address": map[string]any{"postcode": "97201"},
			},
			{"lat": "bad", "lon": "-122"},
		}))
	}))
	defer srv.Close()

	c := NewNominatimClient(srv.URL, "ops@example.com", "family-comb-test", time.Second)
	got, err := c.Search(context.Background(), "97201", 5, &listing.Coordinates{Lat: 45.5, Lon: -122.6})
	require.NoError(t, err)
	require.Len(t, got, 1)

	loc := got[0]
	assert.Equal(t, PlaceTypePostcode, loc.PlaceType)
	assert.Equal(t, "97201", loc.PostalCode)
	require.NotNil(t, loc.BBox)
	assert.Equal(t, 45.49, loc.BBox.South)
	assert.Equal(t, 45.52, loc.BBox.North)
	assert.Equal(t, -122.72, loc.BBox.West)
	require.NotNil(t, loc.Core)
	assert.Equal(t, *loc.BBox, *loc.Core, "postcodes keep their bbox as the core")
}

func TestNominatimClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bandwidth limit", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewNominatimClient(srv.URL, "", "", time.Second)
	_, err := c.Search(context.Background(), "x", 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestPlaceTypeFor(t *testing.T) {
	assert.Equal(t, PlaceTypeCity, placeTypeFor("town", "place", "town"))
	assert.Equal(t, PlaceTypeCounty, placeTypeFor("county", "boundary", "administrative"))
	assert.Equal(t, PlaceTypeState, placeTypeFor("state", "boundary", "administrative"))
	assert.Equal(t, PlaceTypeAddress, placeTypeFor("road", "highway", "residential"))
	assert.Equal(t, PlaceTypePostcode, placeTypeFor("", "place", "postcode"))
	assert.Equal(t, PlaceTypeOther, placeTypeFor("peak", "natural", "peak"))
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "portland, or", NormalizeQuery("  Portland ,  OR. "))
	assert.Equal(t, "97201", NormalizeQuery("97201"))
	assert.Equal(t, "", NormalizeQuery("?!"))
}

// --- lru ---

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", Location{DisplayName: "A"})
	c.put("b", Location{DisplayName: "B"})
	_, _ = c.get("a")
	c.put("c", Location{DisplayName: "C"})

	_, ok := c.get("b")
	assert.False(t, ok)
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.size())
}

func TestOpenGeoIPMissingFile(t *testing.T) {
	_, err := OpenGeoIP(t.TempDir() + "/missing.mmdb")
	assert.Error(t, err)

	var nilLocator *GeoIPLocator
	assert.Nil(t, nilLocator.Locate("8.8.8.8"))
}
