package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/normalize"
)

const reclassifyBatchSize = 500

// ReclassifyTask re-runs the classifier over events still marked unknown,
// picking up pattern changes without a full re-ingest.
type ReclassifyTask struct {
	Task
	classifier normalize.Classifier
	eventRepo  EventRepository
}

func NewReclassifyTask(classifier normalize.Classifier, eventRepo EventRepository) *ReclassifyTask {
	return &ReclassifyTask{
		Task:       NewTask(TaskTypeReclassify, ""),
		classifier: classifier,
		eventRepo:  eventRepo,
	}
}

func (t *ReclassifyTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	events, err := t.eventRepo.EventsByKidAllowed(ctx, listing.KidAllowedUnknown, reclassifyBatchSize)
	if err != nil {
		return fmt.Errorf("failed to get unclassified events: %w", err)
	}

	updatedCount := 0
	errorCount := 0

	for _, ev := range events {
		tags := strings.Join(ev.Tags, " ")
		kid := t.classifier.Classify(ev.Title, ev.Description, tags, ev.VenueName)
		if kid == listing.KidAllowedUnknown {
			continue
		}

		ageBand := normalize.AgeBand(kid, ev.Title, ev.Description, tags)
		if err := t.eventRepo.UpdateClassification(ctx, ev.ID, kid, ageBand); err != nil {
			slog.Error("Failed to update event classification", "event_id", ev.ID, "error", err)
			errorCount++
			continue
		}
		updatedCount++
	}

	slog.Info("Task completed",
		"type", "Reclassify",
		"duration", t.GetDuration(),
		"checked", len(events),
		"success", updatedCount,
		"errors", errorCount)

	return nil
}
