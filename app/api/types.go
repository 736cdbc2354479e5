package api

import (
	"context"
	"time"

	"github.com/lysyi3m/family-comb/app/cluster"
	"github.com/lysyi3m/family-comb/app/feed"
	"github.com/lysyi3m/family-comb/app/geocode"
	"github.com/lysyi3m/family-comb/app/ingest"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/search"
	"github.com/lysyi3m/family-comb/app/tasks"
)

type Searcher interface {
	Search(ctx context.Context, req search.Request) (search.Response, error)
}

type Suggester interface {
	Suggest(ctx context.Context, partial string, bias *listing.Coordinates) ([]geocode.Location, error)
}

type ClusterService interface {
	Clusters(ctx context.Context, q cluster.Query) (cluster.Result, error)
}

// IPLocator approximates a client position from its address. It returns nil
// when the address cannot be placed.
type IPLocator interface {
	Locate(ip string) *listing.Coordinates
}

type EventReader interface {
	GetEventBySlug(ctx context.Context, slug string) (*listing.Event, error)
	GetEventCount(ctx context.Context) (int, error)
}

type PlaceCounter interface {
	GetPlaceCount(ctx context.Context) (int, error)
}

type FeedReader interface {
	ListFeeds(ctx context.Context) ([]listing.Feed, error)
	GetFeedCount(ctx context.Context) (int, error)
}

type Ingester interface {
	RunAll(ctx context.Context, jobs []ingest.Job, opts ingest.Options) ingest.RunSummary
	RunOne(ctx context.Context, job ingest.Job, opts ingest.Options) ingest.FeedResult
}

type JobCatalog interface {
	Jobs(ctx context.Context) ([]ingest.Job, error)
	AdHocFeed(ctx context.Context, url, city, state string) (ingest.Job, error)
}

type TaskScheduler interface {
	tasks.TaskSchedulerInterface
	NewReclassifyTask() *tasks.ReclassifyTask
}

type CacheHealth interface {
	Health(ctx context.Context) map[string]any
}

// Deps wires the handler to the services behind each route. Admin
// dependencies may be nil when admin routes are disabled.
type Deps struct {
	Search        Searcher
	Suggest       Suggester
	Clusters      ClusterService
	Locator       IPLocator
	Events        EventReader
	Places        PlaceCounter
	Feeds         FeedReader
	Configs       *feed.ConfigCache
	Ingester      Ingester
	Catalog       JobCatalog
	Scheduler     TaskScheduler
	Cache         CacheHealth
	Location      *time.Location
	Version       string
	IngestTimeout time.Duration
}

type Handler struct {
	deps Deps
}

type ingestFeedRequest struct {
	URL    string `json:"url" binding:"required"`
	City   string `json:"city"`
	State  string `json:"state"`
	DryRun bool   `json:"dry_run"`
}

type ingestFeedResponse struct {
	Name        string         `json:"name"`
	State       ingest.State   `json:"state"`
	Fetched     int            `json:"fetched"`
	Inserted    int            `json:"inserted"`
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	SkipReasons map[string]int `json:"skip_reasons"`
	Errors      []string       `json:"errors"`
	DryRun      bool           `json:"dry_run"`
}

type eventResponse struct {
	ID          string               `json:"id"`
	Slug        string               `json:"slug"`
	Source      string               `json:"source"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Start       time.Time            `json:"start"`
	End         *time.Time           `json:"end,omitempty"`
	AllDay      bool                 `json:"all_day"`
	Venue       string               `json:"venue,omitempty"`
	Address     string               `json:"address,omitempty"`
	City        string               `json:"city,omitempty"`
	State       string               `json:"state,omitempty"`
	Coordinates *listing.Coordinates `json:"coordinates,omitempty"`
	IsFree      *bool                `json:"is_free,omitempty"`
	PriceMin    *float64             `json:"price_min,omitempty"`
	PriceMax    *float64             `json:"price_max,omitempty"`
	AgeBand     string               `json:"age_band"`
	Setting     string               `json:"setting"`
	KidAllowed  listing.KidAllowed   `json:"kid_allowed"`
	Tags        []string             `json:"tags"`
	URL         string               `json:"url,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func toEventResponse(ev *listing.Event) eventResponse {
	tags := ev.Tags
	if tags == nil {
		tags = []string{}
	}
	return eventResponse{
		ID:          ev.ID,
		Slug:        ev.Slug,
		Source:      ev.Source,
		Title:       ev.Title,
		Description: ev.Description,
		Start:       ev.StartAt,
		End:         ev.EndAt,
		AllDay:      ev.AllDay,
		Venue:       ev.VenueName,
		Address:     ev.Address,
		City:        ev.City,
		State:       ev.State,
		Coordinates: ev.Coordinates,
		IsFree:      ev.IsFree,
		PriceMin:    ev.PriceMin,
		PriceMax:    ev.PriceMax,
		AgeBand:     ev.AgeBand,
		Setting:     ev.Setting,
		KidAllowed:  ev.KidAllowed,
		Tags:        tags,
		URL:         ev.URL,
		UpdatedAt:   ev.UpdatedAt,
	}
}
