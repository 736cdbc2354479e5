package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lysyi3m/family-comb/app/feed"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/source"
)

// ExtractContentTask fills empty event descriptions from the event pages of
// one feed.
type ExtractContentTask struct {
	Task
	FeedConfig       *feed.Config
	fetcher          *source.Fetcher
	contentExtractor *feed.ContentExtractor
	eventRepo        EventRepository
}

func NewExtractContentTask(feedName string, feedConfig *feed.Config, fetcher *source.Fetcher, contentExtractor *feed.ContentExtractor, eventRepo EventRepository) *ExtractContentTask {
	return &ExtractContentTask{
		Task:             NewTask(TaskTypeExtractContent, feedName),
		FeedConfig:       feedConfig,
		fetcher:          fetcher,
		contentExtractor: contentExtractor,
		eventRepo:        eventRepo,
	}
}

func (t *ExtractContentTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.FeedConfig.Settings.ExtractContent {
		slog.Debug("Content extraction disabled for feed", "feed", t.FeedName)
		return nil
	}

	events, err := t.eventRepo.EventsMissingDescription(ctx, "calendar:"+t.FeedName, time.Now().UTC(), t.FeedConfig.Settings.MaxItems)
	if err != nil {
		return fmt.Errorf("failed to get events for content extraction: %w", err)
	}

	if len(events) == 0 {
		slog.Debug("No events need content extraction", "feed", t.FeedName)
		return nil
	}

	successCount := 0
	errorCount := 0

	for _, ev := range events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := t.extractContentForEvent(ctx, ev); err != nil {
			slog.Error("Failed to extract content for event", "event_id", ev.ID, "url", ev.URL, "error", err)
			errorCount++
		} else {
			successCount++
		}
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"feed", t.FeedName,
		"duration", t.GetDuration(),
		"success", successCount,
		"errors", errorCount)

	return nil
}

func (t *ExtractContentTask) extractContentForEvent(ctx context.Context, ev listing.Event) error {
	header := http.Header{}
	header.Set("Accept", "text/html")

	timeout := time.Duration(t.FeedConfig.Settings.Timeout) * time.Second
	data, err := t.fetcher.Get(ctx, ev.URL, timeout, header)
	if err != nil {
		return fmt.Errorf("failed to fetch event page: %w", err)
	}

	content, err := t.contentExtractor.Run(data, ev.URL)
	if err != nil {
		return fmt.Errorf("failed to extract content: %w", err)
	}
	if content == "" {
		return fmt.Errorf("event page has no readable content")
	}

	if err := t.eventRepo.UpdateDescription(ctx, ev.ID, content); err != nil {
		return fmt.Errorf("failed to update event description: %w", err)
	}

	slog.Debug("Content extracted successfully", "event_id", ev.ID, "url", ev.URL, "content_length", len(content))
	return nil
}
