package cfg

import "time"

type Cfg struct {
	// Storage configuration
	DBPath      string
	FeedsDir    string
	RegionsFile string

	// Server configuration
	Port           string
	APIAccessKey   string
	RateLimitRPS   float64
	RateLimitBurst int

	// Ingestion configuration
	WorkerCount       int
	SchedulerInterval int
	IngestWorkers     int
	PolitenessDelay   time.Duration
	RetryAttempts     int
	RetryInitial      time.Duration
	RetryMax          time.Duration
	WindowDays        int
	FetchTimeout      time.Duration

	// Upstream sources
	TicketingAPIKey   string
	TicketingBaseURL  string
	TicketingMaxPages int
	OverpassURL       string

	// Geocoding
	NominatimURL    string
	NominatimEmail  string
	GeocodeInterval time.Duration
	GeocodeTimeout  time.Duration
	GeoIPPath       string

	// Search and caching
	SearchRadius    float64
	SearchMinResult int
	RedisAddr       string
	ClusterCacheTTL time.Duration
	SuggestCacheTTL time.Duration

	// Run reports
	KafkaBrokers []string
	KafkaTopic   string

	// Application metadata
	UserAgent string
	Timezone  string
	Location  *time.Location
	Debug     bool
	Version   string
}
