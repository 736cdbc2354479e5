package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lysyi3m/family-comb/app/feed"
	"github.com/lysyi3m/family-comb/app/geocode"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/metrics"
	"github.com/lysyi3m/family-comb/app/normalize"
	"github.com/lysyi3m/family-comb/app/slug"
	"github.com/lysyi3m/family-comb/app/source"
)

const (
	DefaultWorkers   = 4
	DefaultMaxErrors = 20
)

type OrchestratorOptions struct {
	Workers         int
	PolitenessDelay time.Duration
	Retry           RetryPolicy
	WindowDays      int
	// MaxErrors caps the error strings kept per feed.
	MaxErrors int
	Geocoder  Geocoder
	Publisher Publisher
	Clock     clockwork.Clock
	Metrics   *metrics.Metrics
}

// Orchestrator runs ingestion jobs through a bounded worker pool. A failing
// job never aborts the others, and every record is upserted on its own.
type Orchestrator struct {
	events     EventStore
	places     PlaceStore
	feeds      FeedStore
	geocoder   Geocoder
	publisher  Publisher
	guardrails *Guardrails
	filterer   *feed.Filterer
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	opts       OrchestratorOptions

	gatesMu sync.Mutex
	gates   map[source.Kind]*gate
}

func NewOrchestrator(events EventStore, places PlaceStore, feeds FeedStore, opts OrchestratorOptions) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	opts.Retry = opts.Retry.withDefaults()
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetricsForTesting()
	}

	return &Orchestrator{
		events:     events,
		places:     places,
		feeds:      feeds,
		geocoder:   opts.Geocoder,
		publisher:  opts.Publisher,
		guardrails: NewGuardrails(opts.Clock, opts.WindowDays),
		filterer:   feed.NewFilterer(),
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		opts:       opts,
		gates:      make(map[source.Kind]*gate),
	}
}

// RunAll ingests every job and returns the run summary. Results keep the
// order of jobs.
func (o *Orchestrator) RunAll(ctx context.Context, jobs []Job, opts Options) RunSummary {
	started := o.clock.Now()
	summary := RunSummary{
		ID:        uuid.NewString(),
		DryRun:    opts.DryRun,
		StartedAt: started.UTC(),
		Feeds:     make([]FeedResult, len(jobs)),
	}

	mode := "run"
	if opts.DryRun {
		mode = "dry_run"
	}
	o.metrics.IngestRuns.WithLabelValues(mode).Inc()

	assigner := slug.NewAssigner(o.events)

	queue := make(chan int)
	var wg sync.WaitGroup
	for range min(o.opts.Workers, max(len(jobs), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				summary.Feeds[i] = o.runJob(ctx, jobs[i], assigner, opts)
			}
		}()
	}

enqueue:
	for i := range jobs {
		select {
		case queue <- i:
		case <-ctx.Done():
			for j := i; j < len(jobs); j++ {
				summary.Feeds[j] = o.cancelledResult(jobs[j], ctx.Err())
			}
			break enqueue
		}
	}
	close(queue)
	wg.Wait()

	finished := o.clock.Now()
	summary.FinishedAt = finished.UTC()
	summary.DurationMS = finished.Sub(started).Milliseconds()
	summary.Totals = totals(summary.Feeds)

	slog.Info("Ingestion run completed",
		"run_id", summary.ID,
		"dry_run", opts.DryRun,
		"duration", finished.Sub(started),
		"feeds", summary.Totals.Feeds,
		"failed", summary.Totals.Failed,
		"inserted", summary.Totals.Inserted,
		"updated", summary.Totals.Updated,
		"skipped", summary.Totals.Skipped)

	if !opts.DryRun && o.publisher != nil {
		if err := o.publisher.Publish(ctx, summary); err != nil {
			slog.Warn("Failed to publish run summary", "run_id", summary.ID, "error", err)
		}
	}

	return summary
}

// RunOne ingests a single job as a run of its own.
func (o *Orchestrator) RunOne(ctx context.Context, job Job, opts Options) FeedResult {
	return o.RunAll(ctx, []Job{job}, opts).Feeds[0]
}

func (o *Orchestrator) runJob(ctx context.Context, job Job, assigner *slug.Assigner, opts Options) (res FeedResult) {
	class := job.Source.Kind()
	res = FeedResult{
		Name:        job.Name(),
		Class:       class,
		State:       StatePending,
		SkipReasons: make(map[string]int),
		Errors:      []string{},
	}

	if err := ctx.Err(); err != nil {
		return o.cancelledResult(job, err)
	}

	g := o.gateFor(class)
	if err := g.acquire(ctx); err != nil {
		return o.cancelledResult(job, err)
	}
	defer g.release()

	started := o.clock.Now()
	res.StartedAt = started.UTC()
	defer func() {
		elapsed := o.clock.Now().Sub(started)
		res.DurationMS = elapsed.Milliseconds()
		o.metrics.IngestFeedDuration.WithLabelValues(string(class)).Observe(elapsed.Seconds())
		o.metrics.IngestFeeds.WithLabelValues(string(class), string(res.State)).Inc()
	}()

	res.State = StateFetching
	records, attempts, err := o.fetch(ctx, job)
	res.Attempts = attempts
	if err != nil {
		res.State = StateFailed
		o.addError(&res, fmt.Errorf("failed to fetch: %w", err))
		o.recordFetch(ctx, job, opts, err)
		slog.Error("Feed ingestion failed", "feed", res.Name, "attempts", attempts, "error", err)
		return res
	}

	res.State = StateParsed
	res.Fetched = len(records)

	for _, rec := range records {
		if ctx.Err() != nil {
			o.addError(&res, ctx.Err())
			break
		}
		o.processRecord(ctx, job, rec, assigner, opts, &res)
	}

	if !opts.DryRun {
		res.State = StateUpserted
	}
	o.recordFetch(ctx, job, opts, nil)

	slog.Info("Task completed",
		"type", "IngestFeed",
		"feed", res.Name,
		"duration", o.clock.Now().Sub(started),
		"fetched", res.Fetched,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"errors", len(res.Errors))

	return res
}

// fetch calls the source, retrying transient failures with backoff. The sleep
// happens on the calling worker.
func (o *Orchestrator) fetch(ctx context.Context, job Job) ([]source.Record, int, error) {
	policy := o.opts.Retry
	for attempt := 1; ; attempt++ {
		records, err := job.Source.Fetch(ctx)
		if err == nil {
			return records, attempt, nil
		}
		if attempt >= policy.Attempts || !source.IsTransient(err) || ctx.Err() != nil {
			return nil, attempt, err
		}

		delay := policy.backoff(attempt, err)
		o.metrics.IngestRetries.WithLabelValues(string(job.Source.Kind())).Inc()
		slog.Warn("Fetch failed, retrying", "feed", job.Name(), "attempt", attempt, "delay", delay, "error", err)

		if err := sleep(ctx, o.clock, delay); err != nil {
			return nil, attempt, err
		}
	}
}

func (o *Orchestrator) processRecord(ctx context.Context, job Job, rec source.Record, assigner *slug.Assigner, opts Options, res *FeedResult) {
	out, err := job.Normalizer.Normalize(job.Source.Name(), rec)
	if err != nil {
		var skipErr *normalize.SkipError
		if errors.As(err, &skipErr) {
			o.skip(res, skipErr.Reason)
			return
		}
		o.addError(res, fmt.Errorf("failed to normalize record %s: %w", rec.RecordID(), err))
		return
	}

	switch {
	case out.Event != nil:
		o.processEvent(ctx, job, out.Event, assigner, opts, res)
	case out.Place != nil:
		o.processPlace(ctx, out.Place, opts, res)
	}
}

func (o *Orchestrator) processEvent(ctx context.Context, job Job, ev *listing.Event, assigner *slug.Assigner, opts Options, res *FeedResult) {
	if reason := o.guardrails.Check(ev); reason != "" {
		o.skip(res, reason)
		return
	}
	if filtered, why := o.filterer.Run(ev, job.Filters); filtered {
		slog.Debug("Event filtered", "feed", res.Name, "external_id", ev.ExternalID, "reason", why)
		o.skip(res, ReasonFiltered)
		return
	}

	// Dry runs never reach the geocoder.
	if opts.DryRun {
		exists, err := o.events.EventExists(ctx, ev.Source, ev.ExternalID)
		if err != nil {
			o.addError(res, fmt.Errorf("failed to check event %s: %w", ev.ExternalID, err))
			return
		}
		o.count(res, !exists)
		return
	}

	o.locate(ctx, ev)

	s, err := assigner.Assign(ctx, ev)
	if err != nil {
		o.addError(res, fmt.Errorf("failed to assign slug for %s: %w", ev.ExternalID, err))
		return
	}
	ev.Slug = s

	inserted, err := o.events.UpsertEvent(ctx, ev)
	if err != nil {
		o.addError(res, fmt.Errorf("failed to upsert event %s: %w", ev.ExternalID, err))
		return
	}
	o.count(res, inserted)
}

func (o *Orchestrator) processPlace(ctx context.Context, p *listing.Place, opts Options, res *FeedResult) {
	if opts.DryRun {
		exists, err := o.places.PlaceExists(ctx, p.Source, p.ExternalID)
		if err != nil {
			o.addError(res, fmt.Errorf("failed to check place %s: %w", p.ExternalID, err))
			return
		}
		o.count(res, !exists)
		return
	}

	inserted, err := o.places.UpsertPlace(ctx, p)
	if err != nil {
		o.addError(res, fmt.Errorf("failed to upsert place %s: %w", p.ExternalID, err))
		return
	}
	o.count(res, inserted)
}

// locate fills missing coordinates through the geocoder. Failure leaves the
// event without coordinates.
func (o *Orchestrator) locate(ctx context.Context, ev *listing.Event) {
	if ev.Coordinates != nil || o.geocoder == nil {
		return
	}
	query := ev.GeocodeQuery()
	if query == "" {
		return
	}

	loc, err := o.geocoder.Resolve(ctx, query)
	if err != nil {
		if !errors.Is(err, geocode.ErrNotFound) {
			slog.Debug("Geocoding failed", "query", query, "error", err)
		}
		return
	}
	coords := loc.Coordinates
	ev.Coordinates = &coords
}

func (o *Orchestrator) recordFetch(ctx context.Context, job Job, opts Options, fetchErr error) {
	if opts.DryRun || job.FeedName == "" || o.feeds == nil {
		return
	}
	if err := o.feeds.RecordFetch(ctx, job.FeedName, fetchErr); err != nil {
		slog.Warn("Failed to record fetch status", "feed", job.FeedName, "error", err)
	}
}

func (o *Orchestrator) gateFor(class source.Kind) *gate {
	o.gatesMu.Lock()
	defer o.gatesMu.Unlock()

	g, ok := o.gates[class]
	if !ok {
		g = newGate(o.clock, o.opts.PolitenessDelay)
		o.gates[class] = g
	}
	return g
}

func (o *Orchestrator) skip(res *FeedResult, reason string) {
	res.Skipped++
	res.SkipReasons[reason]++
	o.metrics.IngestRecords.WithLabelValues(string(res.Class), "skipped").Inc()
}

func (o *Orchestrator) count(res *FeedResult, inserted bool) {
	if inserted {
		res.Inserted++
		o.metrics.IngestRecords.WithLabelValues(string(res.Class), "inserted").Inc()
		return
	}
	res.Updated++
	o.metrics.IngestRecords.WithLabelValues(string(res.Class), "updated").Inc()
}

func (o *Orchestrator) addError(res *FeedResult, err error) {
	o.metrics.IngestRecords.WithLabelValues(string(res.Class), "error").Inc()
	if len(res.Errors) < o.opts.MaxErrors {
		res.Errors = append(res.Errors, err.Error())
	}
}

func (o *Orchestrator) cancelledResult(job Job, err error) FeedResult {
	return FeedResult{
		Name:        job.Name(),
		Class:       job.Source.Kind(),
		State:       StateFailed,
		SkipReasons: map[string]int{},
		Errors:      []string{err.Error()},
	}
}

func totals(results []FeedResult) Totals {
	var t Totals
	for _, r := range results {
		t.Feeds++
		if r.State == StateFailed {
			t.Failed++
		}
		t.Fetched += r.Fetched
		t.Inserted += r.Inserted
		t.Updated += r.Updated
		t.Skipped += r.Skipped
		t.Errors += len(r.Errors)
	}
	return t
}
