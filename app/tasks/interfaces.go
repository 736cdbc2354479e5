package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/family-comb/app/ingest"
	"github.com/lysyi3m/family-comb/app/listing"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// The HTTP layer enqueues admin-triggered work through it and reads its
// status for the health endpoint.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	Status() Status
}

type Status struct {
	Running     bool       `json:"running"`
	Workers     int        `json:"workers"`
	Queued      int        `json:"queued"`
	Interval    string     `json:"interval"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastRunID   string     `json:"last_run_id,omitempty"`
	LastRunFail int        `json:"last_run_failed_feeds"`
}

type FeedRepository interface {
	UpsertFeed(ctx context.Context, f listing.Feed) error
}

type EventRepository interface {
	EventsByKidAllowed(ctx context.Context, kid listing.KidAllowed, limit int) ([]listing.Event, error)
	EventsMissingDescription(ctx context.Context, source string, from time.Time, limit int) ([]listing.Event, error)
	UpdateClassification(ctx context.Context, id string, kid listing.KidAllowed, ageBand string) error
	UpdateDescription(ctx context.Context, id, description string) error
}

type Runner interface {
	RunAll(ctx context.Context, jobs []ingest.Job, opts ingest.Options) ingest.RunSummary
}

type JobLister interface {
	Jobs(ctx context.Context) ([]ingest.Job, error)
}
