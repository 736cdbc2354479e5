package geocode

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lysyi3m/family-comb/app/cache"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/metrics"
)

const (
	SuggestMinChars = 2
	SuggestMax      = 8

	defaultLookupTimeout = 10 * time.Second
	defaultSuggestTTL    = 10 * time.Minute
)

// Resolver turns free text into a Location through three layers: an
// in-process LRU, the persistent cache table and finally the throttled
// provider. It is shared by search and ingestion.
type Resolver struct {
	provider Provider
	store    Store
	lru      *lruCache
	throttle *Throttle
	short    cache.Cache
	metrics  *metrics.Metrics

	lookupTimeout time.Duration
	suggestTTL    time.Duration
}

type ResolverOptions struct {
	LRUSize       int
	LookupTimeout time.Duration
	SuggestTTL    time.Duration
	// Cache holds suggestion lists. Suggestions are not cached when nil.
	Cache   cache.Cache
	Metrics *metrics.Metrics
}

func NewResolver(provider Provider, store Store, throttle *Throttle, opts ResolverOptions) *Resolver {
	if throttle == nil {
		throttle = NewThrottle(time.Second)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetricsForTesting()
	}
	return &Resolver{
		provider:      provider,
		store:         store,
		lru:           newLRUCache(cmp.Or(opts.LRUSize, 1000)),
		throttle:      throttle,
		short:         opts.Cache,
		metrics:       m,
		lookupTimeout: cmp.Or(opts.LookupTimeout, defaultLookupTimeout),
		suggestTTL:    cmp.Or(opts.SuggestTTL, defaultSuggestTTL),
	}
}

// Resolve returns the best match for query. Unknown places and provider
// timeouts return ErrNotFound; neither is cached.
func (r *Resolver) Resolve(ctx context.Context, query string) (Location, error) {
	key := NormalizeQuery(query)
	if key == "" {
		return Location{}, ErrNotFound
	}

	if loc, ok := r.cached(ctx, key); ok {
		return loc, nil
	}

	waited, err := r.throttle.Wait(ctx)
	r.metrics.GeocodeThrottle.Observe(waited.Seconds())
	if err != nil {
		return Location{}, fmt.Errorf("failed to wait for geocode slot: %w", err)
	}

	// Another caller may have resolved the same key while we waited.
	if loc, ok := r.cached(ctx, key); ok {
		return loc, nil
	}

	results, err := r.search(ctx, query, 1, nil)
	if err != nil {
		return Location{}, err
	}
	if len(results) == 0 {
		r.metrics.GeocodeLookups.WithLabelValues("not_found").Inc()
		return Location{}, ErrNotFound
	}

	loc := results[0]
	loc.Query = key
	if err := r.store.PutGeocode(ctx, locationToEntry(key, loc)); err != nil {
		r.metrics.GeocodeLookups.WithLabelValues("error").Inc()
		return Location{}, fmt.Errorf("failed to persist geocode result: %w", err)
	}
	r.lru.put(key, loc)
	r.metrics.GeocodeLookups.WithLabelValues("provider").Inc()

	slog.Debug("Geocoded query", "query", key, "place_type", loc.PlaceType, "display_name", loc.DisplayName)
	return loc, nil
}

func (r *Resolver) cached(ctx context.Context, key string) (Location, bool) {
	if loc, ok := r.lru.get(key); ok {
		r.metrics.GeocodeLookups.WithLabelValues("lru").Inc()
		return loc, true
	}

	entry, err := r.store.GetGeocode(ctx, key)
	if err != nil {
		slog.Warn("Geocode cache read failed", "query", key, "error", err)
		return Location{}, false
	}
	if entry == nil {
		return Location{}, false
	}

	loc := entryToLocation(entry)
	r.lru.put(key, loc)
	r.metrics.GeocodeLookups.WithLabelValues("store").Inc()
	return loc, true
}

func (r *Resolver) search(ctx context.Context, query string, limit int, bias *listing.Coordinates) ([]Location, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	results, err := r.provider.Search(callCtx, query, limit, bias)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			r.metrics.GeocodeLookups.WithLabelValues("not_found").Inc()
			slog.Warn("Geocode provider timed out", "query", query, "timeout", r.lookupTimeout)
			return nil, ErrNotFound
		}
		r.metrics.GeocodeLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to query geocode provider: %w", err)
	}
	return results, nil
}

// Suggest returns up to SuggestMax candidates for a partial query. Postal
// codes come first, then candidates closest to bias, then provider order.
func (r *Resolver) Suggest(ctx context.Context, partial string, bias *listing.Coordinates) ([]Location, error) {
	partial = strings.TrimSpace(partial)
	if utf8.RuneCountInString(partial) < SuggestMinChars {
		return []Location{}, nil
	}

	key := cache.GenerateKey("suggest", suggestDiscriminator(partial, bias))
	if r.short != nil {
		if data, ok, err := r.short.Get(ctx, key); err != nil {
			slog.Warn("Suggestion cache read failed", "error", err)
		} else if ok {
			var cached []Location
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	waited, err := r.throttle.Wait(ctx)
	r.metrics.GeocodeThrottle.Observe(waited.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to wait for geocode slot: %w", err)
	}

	results, err := r.search(ctx, partial, SuggestMax+2, bias)
	if errors.Is(err, ErrNotFound) {
		return []Location{}, nil
	}
	if err != nil {
		return nil, err
	}

	ranked := RankSuggestions(results, bias)

	if r.short != nil {
		if data, err := json.Marshal(ranked); err == nil {
			if err := r.short.Set(ctx, key, data, r.suggestTTL); err != nil {
				slog.Warn("Suggestion cache write failed", "error", err)
			}
		}
	}
	return ranked, nil
}

// RankSuggestions orders candidates postcode-first, then by distance to bias
// and caps the list at SuggestMax. Without a bias the provider order is kept.
func RankSuggestions(results []Location, bias *listing.Coordinates) []Location {
	ranked := slices.Clone(results)
	slices.SortStableFunc(ranked, func(a, b Location) int {
		ap, bp := a.PlaceType == PlaceTypePostcode, b.PlaceType == PlaceTypePostcode
		if ap != bp {
			if ap {
				return -1
			}
			return 1
		}
		if bias == nil {
			return 0
		}
		return cmp.Compare(
			listing.HaversineMiles(*bias, a.Coordinates),
			listing.HaversineMiles(*bias, b.Coordinates),
		)
	})
	if len(ranked) > SuggestMax {
		ranked = ranked[:SuggestMax]
	}
	return ranked
}

func suggestDiscriminator(partial string, bias *listing.Coordinates) string {
	d := NormalizeQuery(partial)
	if bias != nil {
		d += fmt.Sprintf("|%.2f,%.2f", bias.Lat, bias.Lon)
	}
	return d
}
