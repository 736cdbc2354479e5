package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lysyi3m/family-comb/app/api"
	"github.com/lysyi3m/family-comb/app/cache"
	"github.com/lysyi3m/family-comb/app/cfg"
	"github.com/lysyi3m/family-comb/app/classify"
	"github.com/lysyi3m/family-comb/app/cluster"
	"github.com/lysyi3m/family-comb/app/database"
	"github.com/lysyi3m/family-comb/app/feed"
	"github.com/lysyi3m/family-comb/app/geocode"
	"github.com/lysyi3m/family-comb/app/ingest"
	"github.com/lysyi3m/family-comb/app/metrics"
	"github.com/lysyi3m/family-comb/app/report"
	"github.com/lysyi3m/family-comb/app/search"
	"github.com/lysyi3m/family-comb/app/source"
	"github.com/lysyi3m/family-comb/app/tasks"
)

const (
	geocodeLRUSize  = 1024
	memoryCacheSize = 4096
)

type publisher interface {
	ingest.Publisher
	Close() error
}

func main() {
	appConfig, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appConfig == nil {
		// Help was shown
		return
	}

	logLevel := slog.LevelInfo
	if appConfig.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Family Comb server", "version", appConfig.Version)

	if err := run(appConfig); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Family Comb server shutdown complete")
}

func run(appConfig *cfg.Cfg) error {
	ctx := context.Background()

	db, err := database.Open(ctx, appConfig.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "path", appConfig.DBPath, "schema_version", version, "dirty", dirty)

	eventRepo := database.NewEventRepository(db)
	placeRepo := database.NewPlaceRepository(db)
	feedRepo := database.NewFeedRepository(db)
	geocodeRepo := database.NewGeocodeRepository(db)

	configCache := feed.NewConfigCache(appConfig.FeedsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load feed configurations: %w", err)
	}
	slog.Info("Feed configurations loaded", "count", configCache.GetConfigCount(), "dir", appConfig.FeedsDir)

	regions, err := feed.LoadRegions(appConfig.RegionsFile)
	if err != nil {
		return err
	}
	slog.Info("Crawl regions loaded", "count", len(regions))

	m := metrics.NewMetrics()
	clock := clockwork.NewRealClock()

	shortCache := newCache(ctx, appConfig.RedisAddr, clock)
	defer shortCache.Close()

	throttle := geocode.NewThrottle(appConfig.GeocodeInterval)
	nominatim := geocode.NewNominatimClient(appConfig.NominatimURL, appConfig.NominatimEmail, appConfig.UserAgent, appConfig.GeocodeTimeout)
	resolver := geocode.NewResolver(nominatim, geocodeRepo, throttle, geocode.ResolverOptions{
		LRUSize:       geocodeLRUSize,
		LookupTimeout: appConfig.GeocodeTimeout,
		SuggestTTL:    appConfig.SuggestCacheTTL,
		Cache:         shortCache,
		Metrics:       m,
	})

	var geoIP *geocode.GeoIPLocator
	if appConfig.GeoIPPath != "" {
		if geoIP, err = geocode.OpenGeoIP(appConfig.GeoIPPath); err != nil {
			slog.Warn("GeoIP database unavailable, suggestions will not be biased by client location", "path", appConfig.GeoIPPath, "error", err)
		}
	}
	defer geoIP.Close()

	engine := search.NewEngine(resolver, eventRepo, placeRepo, search.Options{
		DefaultRadius: appConfig.SearchRadius,
		MinResults:    appConfig.SearchMinResult,
		Location:      appConfig.Location,
		Clock:         clock,
		Metrics:       m,
	})
	clusters := cluster.NewService(engine, shortCache, appConfig.ClusterCacheTTL, m)

	classifier := classify.New()
	fetcher := source.NewFetcher(&http.Client{}, appConfig.UserAgent)

	catalog := ingest.NewCatalog(feedRepo, fetcher, classifier, ingest.CatalogOptions{
		Regions:  regions,
		Location: appConfig.Location,
		Ticketing: source.TicketingOptions{
			BaseURL:  appConfig.TicketingBaseURL,
			APIKey:   appConfig.TicketingAPIKey,
			MaxPages: appConfig.TicketingMaxPages,
			Timeout:  appConfig.FetchTimeout,
		},
		OverpassURL:  appConfig.OverpassURL,
		FetchTimeout: appConfig.FetchTimeout,
		Configs:      configCache,
	})

	runPublisher := newPublisher(appConfig)
	defer runPublisher.Close()

	orchestrator := ingest.NewOrchestrator(eventRepo, placeRepo, feedRepo, ingest.OrchestratorOptions{
		Workers:         appConfig.IngestWorkers,
		PolitenessDelay: appConfig.PolitenessDelay,
		Retry: ingest.RetryPolicy{
			Attempts: appConfig.RetryAttempts,
			Initial:  appConfig.RetryInitial,
			Max:      appConfig.RetryMax,
		},
		WindowDays: appConfig.WindowDays,
		Geocoder:   resolver,
		Publisher:  runPublisher,
		Clock:      clock,
		Metrics:    m,
	})

	slog.Info("Starting background scheduler", "workers", appConfig.WorkerCount, "interval_seconds", appConfig.SchedulerInterval)
	scheduler := tasks.NewScheduler(configCache, feedRepo, eventRepo, orchestrator, catalog, classifier, fetcher,
		feed.NewContentExtractor(), tasks.SchedulerOptions{
			Interval:    time.Duration(appConfig.SchedulerInterval) * time.Second,
			WorkerCount: appConfig.WorkerCount,
		})
	scheduler.Start()
	defer scheduler.Stop()

	limiter := api.NewRateLimiter(appConfig.RateLimitRPS, appConfig.RateLimitBurst, 0, clock, m)
	limiter.Start()
	defer limiter.Stop()

	handler := api.NewHandler(api.Deps{
		Search:    engine,
		Suggest:   resolver,
		Clusters:  clusters,
		Locator:   geoIP,
		Events:    eventRepo,
		Places:    placeRepo,
		Feeds:     feedRepo,
		Configs:   configCache,
		Ingester:  orchestrator,
		Catalog:   catalog,
		Scheduler: scheduler,
		Cache:     shortCache,
		Location:  appConfig.Location,
		Version:   appConfig.Version,
	})
	server := api.NewServer(handler, appConfig.APIAccessKey, limiter)

	httpServer := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appConfig.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case serveErr = <-serverErrChan:
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return serveErr
}

// newCache prefers Redis and falls back to an in-process cache when Redis is
// unset or unreachable.
func newCache(ctx context.Context, addr string, clock clockwork.Clock) cache.Cache {
	if addr != "" {
		redisCache, err := cache.NewRedis(ctx, addr)
		if err == nil {
			slog.Info("Using Redis cache", "addr", addr)
			return redisCache
		}
		slog.Warn("Redis unavailable, using in-memory cache", "addr", addr, "error", err)
	}
	return cache.NewMemory(clock, memoryCacheSize)
}

func newPublisher(appConfig *cfg.Cfg) publisher {
	if len(appConfig.KafkaBrokers) == 0 {
		return report.LogPublisher{}
	}
	slog.Info("Publishing run reports to Kafka", "brokers", appConfig.KafkaBrokers, "topic", appConfig.KafkaTopic)
	return report.NewKafkaPublisher(appConfig.KafkaBrokers, appConfig.KafkaTopic)
}
