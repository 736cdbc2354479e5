package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/lysyi3m/family-comb/app/ingest"
)

// KafkaPublisher produces one message per ingestion run to a Kafka topic.
// It implements ingest.Publisher.
type KafkaPublisher struct {
	writer *kafkago.Writer
}

var _ ingest.Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, summary ingest.RunSummary) error {
	msg, err := serializeRun(summary)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish run summary: %w", err)
	}
	slog.Debug("Run summary published", "run_id", summary.ID, "topic", p.writer.Topic)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes the run totals to the log. It is used when no broker
// is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, summary ingest.RunSummary) error {
	slog.Debug("Run summary",
		"run_id", summary.ID,
		"feeds", summary.Totals.Feeds,
		"failed", summary.Totals.Failed,
		"errors", summary.Totals.Errors)
	return nil
}

func (LogPublisher) Close() error { return nil }

// serializeRun marshals a run summary into a Kafka message keyed by run ID.
func serializeRun(summary ingest.RunSummary) (kafkago.Message, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("failed to serialize run summary: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(summary.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "dry_run", Value: []byte(strconv.FormatBool(summary.DryRun))},
			{Key: "finished_at", Value: []byte(summary.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}
