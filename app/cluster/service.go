package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lysyi3m/family-comb/app/cache"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/metrics"
)

const DefaultTTL = 60 * time.Second

// PointSource supplies the raw points inside a viewport. types and
// rangeToken use the search vocabulary.
type PointSource interface {
	Points(ctx context.Context, viewport listing.BBox, types, rangeToken string) ([]Point, error)
}

type Query struct {
	Viewport listing.BBox
	Zoom     int
	Types    string
	Range    string
}

// Service caches Compute results for a short time per viewport, zoom and
// type.
type Service struct {
	source  PointSource
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewService(source PointSource, c cache.Cache, ttl time.Duration, m *metrics.Metrics) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if m == nil {
		m = metrics.NewMetricsForTesting()
	}
	return &Service{source: source, cache: c, ttl: ttl, metrics: m}
}

func (s *Service) Clusters(ctx context.Context, q Query) (Result, error) {
	q.Viewport = roundViewport(q.Viewport)
	key := cacheKey(q)

	if data, ok, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("Cluster cache read failed", "error", err)
	} else if ok {
		var cached Result
		if err := json.Unmarshal(data, &cached); err == nil {
			s.metrics.ClusterCache.WithLabelValues("hit").Inc()
			return cached, nil
		}
	}
	s.metrics.ClusterCache.WithLabelValues("miss").Inc()

	points, err := s.source.Points(ctx, q.Viewport, q.Types, q.Range)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load points: %w", err)
	}

	result := Compute(points, q.Viewport, q.Zoom)

	if data, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			slog.Warn("Cluster cache write failed", "error", err)
		}
	}
	return result, nil
}

func cacheKey(q Query) string {
	v := q.Viewport
	return cache.GenerateKey("clusters", fmt.Sprintf("%.3f,%.3f,%.3f,%.3f|%d|%s|%s",
		v.West, v.South, v.East, v.North, q.Zoom, q.Types, q.Range))
}

func roundViewport(v listing.BBox) listing.BBox {
	return listing.BBox{
		South: round3(v.South),
		West:  round3(v.West),
		North: round3(v.North),
		East:  round3(v.East),
	}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
