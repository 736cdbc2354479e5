package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/family-comb/app/ingest"
)

// IngestAllTask runs every catalog job through the orchestrator. Feed-level
// failures are part of the summary, not task errors.
type IngestAllTask struct {
	Task
	runner  Runner
	catalog JobLister
	dryRun  bool
	onDone  func(ingest.RunSummary)
}

func NewIngestAllTask(runner Runner, catalog JobLister, dryRun bool, onDone func(ingest.RunSummary)) *IngestAllTask {
	return &IngestAllTask{
		Task:    NewTask(TaskTypeIngestAll, ""),
		runner:  runner,
		catalog: catalog,
		dryRun:  dryRun,
		onDone:  onDone,
	}
}

func (t *IngestAllTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	jobs, err := t.catalog.Jobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to build ingestion jobs: %w", err)
	}
	if len(jobs) == 0 {
		slog.Debug("No ingestion jobs configured")
		return nil
	}

	summary := t.runner.RunAll(ctx, jobs, ingest.Options{DryRun: t.dryRun})
	if t.onDone != nil {
		t.onDone(summary)
	}

	slog.Info("Task completed",
		"type", "IngestAll",
		"run_id", summary.ID,
		"duration", t.GetDuration(),
		"feeds", summary.Totals.Feeds,
		"failed", summary.Totals.Failed,
		"inserted", summary.Totals.Inserted,
		"updated", summary.Totals.Updated)

	return nil
}
