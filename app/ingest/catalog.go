package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lysyi3m/family-comb/app/feed"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/normalize"
	"github.com/lysyi3m/family-comb/app/source"
)

var statePattern = regexp.MustCompile(`^[A-Za-z]{2}$`)

type CatalogOptions struct {
	Regions   []listing.Region
	Location  *time.Location
	Ticketing source.TicketingOptions
	// OverpassURL enables the points-of-interest crawl when set.
	OverpassURL  string
	FetchTimeout time.Duration
	// Configs supplies per-feed filters. It may be nil.
	Configs *feed.ConfigCache
}

// Catalog turns stored feeds and configured regions into ingestion jobs.
type Catalog struct {
	feeds      FeedStore
	fetcher    *source.Fetcher
	classifier normalize.Classifier
	opts       CatalogOptions
}

func NewCatalog(feeds FeedStore, fetcher *source.Fetcher, classifier normalize.Classifier, opts CatalogOptions) *Catalog {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Catalog{
		feeds:      feeds,
		fetcher:    fetcher,
		classifier: classifier,
		opts:       opts,
	}
}

// Jobs returns one job per active feed, then a ticketing and a POI job per
// region when those sources are configured.
func (c *Catalog) Jobs(ctx context.Context) ([]Job, error) {
	feeds, err := c.feeds.ListActiveFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active feeds: %w", err)
	}

	jobs := make([]Job, 0, len(feeds)+2*len(c.opts.Regions))
	for _, f := range feeds {
		jobs = append(jobs, c.CalendarJob(f))
	}

	for _, region := range c.opts.Regions {
		if c.opts.Ticketing.APIKey != "" {
			jobs = append(jobs, Job{
				Label:      "ticketing:" + region.Name,
				Source:     source.NewTicketingSource(c.fetcher, region, c.opts.Ticketing),
				Normalizer: normalize.NewTicketingNormalizer(c.classifier, c.opts.Location),
			})
		}
		if c.opts.OverpassURL != "" {
			jobs = append(jobs, Job{
				Label:      "poi:" + region.Name,
				Source:     source.NewOverpassSource(c.fetcher, c.opts.OverpassURL, region, c.opts.FetchTimeout),
				Normalizer: normalize.NewPlaceNormalizer(c.classifier),
			})
		}
	}

	return jobs, nil
}

// CalendarJob builds the job for a stored calendar feed.
func (c *Catalog) CalendarJob(f listing.Feed) Job {
	job := Job{
		Source: source.NewCalendarSource(c.fetcher, f, c.opts.Location),
		Normalizer: normalize.NewCalendarNormalizer(c.classifier, normalize.Defaults{
			City:     f.DefaultCity,
			State:    f.DefaultState,
			Location: c.opts.Location,
		}),
		FeedName: f.Name,
	}
	if c.opts.Configs != nil {
		if config, err := c.opts.Configs.GetConfig(f.Name); err == nil {
			job.Filters = config.Filters
		}
	}
	return job
}

// ErrInvalidFeed reports an ad-hoc feed request that can never succeed.
var ErrInvalidFeed = errors.New("invalid feed")

// AdHocFeed builds a job for a calendar URL. A URL already in the catalog
// runs as that feed so its events keep one source identity. Otherwise the
// feed name derives from the URL so repeated runs keep the same identity.
func (c *Catalog) AdHocFeed(ctx context.Context, rawURL, city, state string) (Job, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Job{}, fmt.Errorf("%w: url must be an absolute http(s) url: %q", ErrInvalidFeed, rawURL)
	}
	if state != "" && !statePattern.MatchString(state) {
		return Job{}, fmt.Errorf("%w: state must be a two-letter code: %q", ErrInvalidFeed, state)
	}

	known, err := c.feeds.GetFeedByURL(ctx, u.String())
	if err != nil {
		return Job{}, fmt.Errorf("failed to look up feed: %w", err)
	}
	if known != nil {
		slog.Info("Ad-hoc url matches a catalogued feed", "feed", known.Name, "url", u.String())
		return c.CalendarJob(*known), nil
	}

	sum := sha256.Sum256([]byte(u.String()))
	f := listing.Feed{
		Name:         "adhoc-" + hex.EncodeToString(sum[:4]),
		URL:          u.String(),
		Label:        u.Host,
		DefaultCity:  strings.TrimSpace(city),
		DefaultState: strings.ToUpper(state),
		Active:       true,
		Timeout:      c.opts.FetchTimeout,
	}

	job := c.CalendarJob(f)
	job.FeedName = ""
	job.Filters = nil
	return job, nil
}
