package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeExtractContent TaskType = "extract_content"
	TaskTypeIngestAll      TaskType = "ingest_all"
	TaskTypeReclassify     TaskType = "reclassify"
	TaskTypeSyncFeedConfig TaskType = "sync_feed_config"
)

const DefaultMaxRetries = 3

// TaskInterface is a unit of background work. Execute may be called again
// after a failure while CanRetry holds.
type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetFeedName() string
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	Start()
	GetDuration() time.Duration
}

// Task carries the bookkeeping shared by every task. FeedName is empty for
// tasks that span all feeds.
type Task struct {
	ID         string
	Type       TaskType
	FeedName   string
	RetryCount int
	MaxRetries int
	StartedAt  time.Time
}

// NewTask returns a task whose ID is prefixed with its type so log lines can
// be grepped per kind.
func NewTask(taskType TaskType, feedName string) Task {
	return Task{
		ID:         string(taskType) + "-" + uuid.NewString(),
		Type:       taskType,
		FeedName:   feedName,
		MaxRetries: DefaultMaxRetries,
	}
}

func (t *Task) GetID() string        { return t.ID }
func (t *Task) GetType() TaskType    { return t.Type }
func (t *Task) GetFeedName() string  { return t.FeedName }
func (t *Task) GetRetryCount() int   { return t.RetryCount }
func (t *Task) GetMaxRetries() int   { return t.MaxRetries }
func (t *Task) IncrementRetryCount() { t.RetryCount++ }
func (t *Task) CanRetry() bool       { return t.RetryCount < t.MaxRetries }

// Start stamps the beginning of the current attempt.
func (t *Task) Start() {
	t.StartedAt = time.Now()
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	return time.Since(t.StartedAt)
}
