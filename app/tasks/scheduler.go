package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/family-comb/app/feed"
	"github.com/lysyi3m/family-comb/app/ingest"
	"github.com/lysyi3m/family-comb/app/normalize"
	"github.com/lysyi3m/family-comb/app/source"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type SchedulerOptions struct {
	Interval    time.Duration
	WorkerCount int
	TaskTimeout time.Duration
}

type Scheduler struct {
	configCache      *feed.ConfigCache
	feedRepo         FeedRepository
	eventRepo        EventRepository
	runner           Runner
	catalog          JobLister
	classifier       normalize.Classifier
	fetcher          *source.Fetcher
	contentExtractor *feed.ContentExtractor
	interval         time.Duration
	workerCount      int
	taskTimeout      time.Duration
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	taskQueue        chan TaskInterface

	mu      sync.RWMutex
	running bool
	lastRun *ingest.RunSummary
}

func NewScheduler(configCache *feed.ConfigCache, feedRepo FeedRepository, eventRepo EventRepository,
	runner Runner, catalog JobLister, classifier normalize.Classifier, fetcher *source.Fetcher,
	contentExtractor *feed.ContentExtractor, opts SchedulerOptions) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 30 * time.Minute
	}

	return &Scheduler{
		configCache:      configCache,
		feedRepo:         feedRepo,
		eventRepo:        eventRepo,
		runner:           runner,
		catalog:          catalog,
		classifier:       classifier,
		fetcher:          fetcher,
		contentExtractor: contentExtractor,
		interval:         opts.Interval,
		workerCount:      opts.WorkerCount,
		taskTimeout:      opts.TaskTimeout,
		ctx:              ctx,
		cancel:           cancel,
		taskQueue:        make(chan TaskInterface, 100),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:  s.running,
		Workers:  s.workerCount,
		Queued:   len(s.taskQueue),
		Interval: s.interval.String(),
	}
	if s.lastRun != nil {
		finished := s.lastRun.FinishedAt
		st.LastRunAt = &finished
		st.LastRunID = s.lastRun.ID
		st.LastRunFail = s.lastRun.Totals.Failed
	}
	return st
}

// NewIngestAllTask builds an ingestion task whose summary is kept for Status.
func (s *Scheduler) NewIngestAllTask(dryRun bool) *IngestAllTask {
	return NewIngestAllTask(s.runner, s.catalog, dryRun, s.recordRun)
}

func (s *Scheduler) NewReclassifyTask() *ReclassifyTask {
	return NewReclassifyTask(s.classifier, s.eventRepo)
}

func (s *Scheduler) recordRun(summary ingest.RunSummary) {
	if summary.DryRun {
		return
	}
	s.mu.Lock()
	s.lastRun = &summary
	s.mu.Unlock()
}

func (s *Scheduler) enqueueStartupTasks() {
	feedConfigs := s.configCache.GetConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No feed configurations found")
	} else {
		slog.Debug("Processing feed configurations", "count", len(feedConfigs))
	}

	// Feed rows must exist before the first ingestion run reads them, so the
	// sync runs inline instead of through the queue.
	for _, feedConfig := range feedConfigs {
		s.executeTask(-1, NewSyncFeedConfigTask(feedConfig.Name, feedConfig, s.feedRepo))
	}

	s.enqueueTasks()
}

func (s *Scheduler) enqueueTasks() {
	if err := s.EnqueueTask(s.NewIngestAllTask(false)); err != nil {
		slog.Warn("Failed to enqueue IngestAllTask", "error", err)
	}

	if err := s.EnqueueTask(s.NewReclassifyTask()); err != nil {
		slog.Warn("Failed to enqueue ReclassifyTask", "error", err)
	}

	for _, feedConfig := range s.configCache.GetEnabledConfigs() {
		if !feedConfig.Settings.ExtractContent {
			continue
		}
		extractTask := NewExtractContentTask(feedConfig.Name, feedConfig, s.fetcher, s.contentExtractor, s.eventRepo)
		if err := s.EnqueueTask(extractTask); err != nil {
			slog.Warn("Failed to enqueue ExtractContentTask", "feed", feedConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
	if retryDelay > 30*time.Second {
		retryDelay = 30 * time.Second
	}

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed", task.GetFeedName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(retryDelay):
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			return
		}
		if retryErr := s.EnqueueTask(task); retryErr != nil {
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
		}
	}()
}
