package ingest

import (
	"context"
	"time"

	"github.com/lysyi3m/family-comb/app/feed"
	"github.com/lysyi3m/family-comb/app/geocode"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/normalize"
	"github.com/lysyi3m/family-comb/app/source"
)

type State string

const (
	StatePending  State = "pending"
	StateFetching State = "fetching"
	StateParsed   State = "parsed"
	StateFailed   State = "failed"
	StateUpserted State = "upserted"
)

const (
	ReasonOutsideWindow  = "outside_window"
	ReasonGenericHoliday = "generic_holiday"
	ReasonNoLocality     = "no_locality"
	ReasonFiltered       = "filtered"
)

// Job is one unit of ingestion work: a source paired with the normalizer for
// its record kind.
type Job struct {
	// Label names the job in summaries. It defaults to the source name.
	Label      string
	Source     source.Source
	Normalizer normalize.Normalizer
	// FeedName is set for calendar feeds stored in the database so their
	// fetch status can be recorded.
	FeedName string
	Filters  []feed.ConfigFilter
}

func (j Job) Name() string {
	if j.Label != "" {
		return j.Label
	}
	return j.Source.Name()
}

type Options struct {
	DryRun bool
}

type FeedResult struct {
	Name        string         `json:"name"`
	Class       source.Kind    `json:"class"`
	State       State          `json:"state"`
	Attempts    int            `json:"attempts"`
	Fetched     int            `json:"fetched"`
	Inserted    int            `json:"inserted"`
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	SkipReasons map[string]int `json:"skip_reasons"`
	Errors      []string       `json:"errors"`
	StartedAt   time.Time      `json:"started_at"`
	DurationMS  int64          `json:"duration_ms"`
}

type Totals struct {
	Feeds    int `json:"feeds"`
	Failed   int `json:"failed"`
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

type RunSummary struct {
	ID         string       `json:"id"`
	DryRun     bool         `json:"dry_run"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	DurationMS int64        `json:"duration_ms"`
	Totals     Totals       `json:"totals"`
	Feeds      []FeedResult `json:"feeds"`
}

type EventStore interface {
	UpsertEvent(ctx context.Context, ev *listing.Event) (bool, error)
	EventExists(ctx context.Context, source, externalID string) (bool, error)
	SlugFor(ctx context.Context, source, externalID string) (string, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
}

type PlaceStore interface {
	UpsertPlace(ctx context.Context, p *listing.Place) (bool, error)
	PlaceExists(ctx context.Context, source, externalID string) (bool, error)
}

type FeedStore interface {
	ListActiveFeeds(ctx context.Context) ([]listing.Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*listing.Feed, error)
	RecordFetch(ctx context.Context, name string, fetchErr error) error
}

type Geocoder interface {
	Resolve(ctx context.Context, query string) (geocode.Location, error)
}

// Publisher receives the summary of every non-dry run.
type Publisher interface {
	Publish(ctx context.Context, summary RunSummary) error
}
