package cfg

import (
	"cmp"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./data/family-comb.db" description:"SQLite database file"`
	FeedsDir    string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed configuration files"`
	RegionsFile string `long:"regions-file" env:"REGIONS_FILE" default:"./regions.yml" description:"YAML file listing crawl regions for ticketing and POI sources"`

	// Server configuration
	Port           string  `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey   string  `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for admin routes (admin routes are disabled when empty)"`
	RateLimitRPS   float64 `long:"rate-limit-rps" env:"RATE_LIMIT_RPS" default:"5" description:"Requests per second allowed per client IP (0 disables)"`
	RateLimitBurst int     `long:"rate-limit-burst" env:"RATE_LIMIT_BURST" default:"20" description:"Burst size per client IP"`

	// Ingestion configuration
	WorkerCount       int           `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background task workers"`
	SchedulerInterval int           `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"3600" description:"Ingestion interval in seconds"`
	IngestWorkers     int           `long:"ingest-workers" env:"INGEST_WORKERS" default:"4" description:"Concurrent feeds per ingestion run"`
	PolitenessDelay   time.Duration `long:"politeness-delay" env:"POLITENESS_DELAY" default:"1s" description:"Minimum spacing between requests to the same upstream class"`
	RetryAttempts     int           `long:"retry-attempts" env:"RETRY_ATTEMPTS" default:"3" description:"Fetch attempts for transient upstream failures"`
	RetryInitial      time.Duration `long:"retry-initial" env:"RETRY_INITIAL" default:"1s" description:"Initial retry backoff"`
	RetryMax          time.Duration `long:"retry-max" env:"RETRY_MAX" default:"8s" description:"Maximum retry backoff"`
	WindowDays        int           `long:"window-days" env:"WINDOW_DAYS" default:"120" description:"Ingest events starting at most this many days ahead"`
	FetchTimeout      time.Duration `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30s" description:"Timeout for a single upstream request"`

	// Upstream sources
	TicketingAPIKey   string `long:"ticketing-api-key" env:"TICKETING_API_KEY" description:"Ticketing API key (ticketing ingestion is disabled when empty)"`
	TicketingBaseURL  string `long:"ticketing-base-url" env:"TICKETING_BASE_URL" default:"https://app.ticketmaster.com/discovery/v2" description:"Ticketing API base URL"`
	TicketingMaxPages int    `long:"ticketing-max-pages" env:"TICKETING_MAX_PAGES" default:"5" description:"Maximum result pages per region"`
	OverpassURL       string `long:"overpass-url" env:"OVERPASS_URL" description:"Overpass API endpoint (POI ingestion is disabled when empty)"`

	// Geocoding
	NominatimURL    string        `long:"nominatim-url" env:"NOMINATIM_URL" default:"https://nominatim.openstreetmap.org" description:"Nominatim base URL"`
	NominatimEmail  string        `long:"nominatim-email" env:"NOMINATIM_EMAIL" description:"Contact email sent to Nominatim"`
	GeocodeInterval time.Duration `long:"geocode-interval" env:"GEOCODE_INTERVAL" default:"1s" description:"Minimum spacing between geocoding calls"`
	GeocodeTimeout  time.Duration `long:"geocode-timeout" env:"GEOCODE_TIMEOUT" default:"10s" description:"Timeout for a single geocoding call"`
	GeoIPPath       string        `long:"geoip-db" env:"GEOIP_DB" description:"GeoLite2 City database used to bias suggestions"`

	// Search and caching
	SearchRadius    float64       `long:"search-radius" env:"SEARCH_RADIUS" default:"20" description:"Initial search radius in miles"`
	SearchMinResult int           `long:"search-min-results" env:"SEARCH_MIN_RESULTS" default:"10" description:"Expand the radius until this many results are found"`
	RedisAddr       string        `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the short-lived cache (in-memory when empty)"`
	ClusterCacheTTL time.Duration `long:"cluster-cache-ttl" env:"CLUSTER_CACHE_TTL" default:"60s" description:"Cluster response cache TTL"`
	SuggestCacheTTL time.Duration `long:"suggest-cache-ttl" env:"SUGGEST_CACHE_TTL" default:"10m" description:"Suggestion cache TTL"`

	// Run reports
	KafkaBrokers []string `long:"kafka-brokers" env:"KAFKA_BROKERS" env-delim:"," description:"Kafka brokers for ingestion run reports"`
	KafkaTopic   string   `long:"kafka-topic" env:"KAFKA_TOPIC" default:"family-comb.ingest-runs" description:"Kafka topic for ingestion run reports"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Family Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"America/Los_Angeles" description:"Timezone for range tokens and floating times"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs parses args instead of os.Args. A .env file in the working
// directory is read first; real environment variables take precedence.
func LoadArgs(args []string) (*Cfg, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", ".env"))

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		FeedsDir:          raw.FeedsDir,
		RegionsFile:       raw.RegionsFile,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		RateLimitRPS:      raw.RateLimitRPS,
		RateLimitBurst:    raw.RateLimitBurst,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		IngestWorkers:     raw.IngestWorkers,
		PolitenessDelay:   raw.PolitenessDelay,
		RetryAttempts:     raw.RetryAttempts,
		RetryInitial:      raw.RetryInitial,
		RetryMax:          raw.RetryMax,
		WindowDays:        raw.WindowDays,
		FetchTimeout:      raw.FetchTimeout,
		TicketingAPIKey:   raw.TicketingAPIKey,
		TicketingBaseURL:  raw.TicketingBaseURL,
		TicketingMaxPages: raw.TicketingMaxPages,
		OverpassURL:       raw.OverpassURL,
		NominatimURL:      raw.NominatimURL,
		NominatimEmail:    raw.NominatimEmail,
		GeocodeInterval:   raw.GeocodeInterval,
		GeocodeTimeout:    raw.GeocodeTimeout,
		GeoIPPath:         raw.GeoIPPath,
		SearchRadius:      raw.SearchRadius,
		SearchMinResult:   raw.SearchMinResult,
		RedisAddr:         raw.RedisAddr,
		ClusterCacheTTL:   raw.ClusterCacheTTL,
		SuggestCacheTTL:   raw.SuggestCacheTTL,
		KafkaBrokers:      raw.KafkaBrokers,
		KafkaTopic:        raw.KafkaTopic,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Location:          time.UTC,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if loc, err := loadLocation(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using UTC: %v\n", cfg.Timezone, err)
	} else {
		cfg.Location = loc
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(timezone)
}
