// Package scheduler periodically rediscovers raw_uploaded content items and
// submits one transcode job per item to the job queue.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/lease"
)

// Defaults used when Options leave a field zero.
const (
	DefaultBatchSize    = 20
	DefaultInitialDelay = 10 * time.Second
	DefaultPollInterval = 10 * time.Minute
)

// Submitter accepts jobs. It reports false for a job that is already queued.
type Submitter interface {
	Add(ctx context.Context, job simplemedia.TranscodeJob) (bool, error)
}

// Options configures a Scheduler.
type Options struct {
	// Categories to scan, in order (default: all)
	Categories []simplemedia.Category

	// BatchSize caps how many items are listed per category per run
	BatchSize int

	// InitialDelay is the wait before the first run
	InitialDelay time.Duration

	// PollInterval is the wait between runs
	PollInterval time.Duration

	// Lease guards each run so only one replica produces (default: lease.Noop)
	Lease lease.Lease

	// DryRun lists what would be submitted without touching the queue
	DryRun bool

	Logger *slog.Logger
}

// Scheduler is the single producer of transcode jobs.
type Scheduler struct {
	repo   simplemedia.Repository
	queue  Submitter
	opts   Options
	logger *slog.Logger
}

// New creates a Scheduler
func New(repo simplemedia.Repository, queue Submitter, opts Options) *Scheduler {
	if len(opts.Categories) == 0 {
		opts.Categories = simplemedia.AllCategories()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Lease == nil {
		opts.Lease = lease.Noop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{repo: repo, queue: queue, opts: opts, logger: logger.With("component", "scheduler")}
}

// ScanResult contains statistics about one scheduler run.
type ScanResult struct {
	// TotalFound is the number of raw_uploaded items listed
	TotalFound int64

	// TotalEnqueued is the number of jobs admitted to the queue
	TotalEnqueued int64

	// TotalDuplicate is the number of jobs dropped because they were already queued
	TotalDuplicate int64

	// FailedCategories lists categories whose listing failed
	FailedCategories []simplemedia.Category

	// LeaseDenied is true when another replica held the producer lease
	LeaseDenied bool
}

// RunOnce lists each category and submits its items. A listing failure is
// recorded and the run continues with the next category. It blocks while the
// queue is full and returns ctx.Err() if cancelled meanwhile.
func (s *Scheduler) RunOnce(ctx context.Context) (*ScanResult, error) {
	result := &ScanResult{}

	granted, err := s.opts.Lease.Acquire(ctx)
	if err != nil {
		return result, err
	}
	if !granted {
		result.LeaseDenied = true
		s.logger.Debug("producer lease held elsewhere, skipping run")
		return result, nil
	}

	for _, category := range s.opts.Categories {
		items, err := s.repo.ListItems(ctx, simplemedia.ListItemsParams{
			Category: category,
			Status:   simplemedia.StatusRawUploaded,
			Limit:    s.opts.BatchSize,
		})
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			s.logger.Error("failed to list raw uploaded items", "category", category, "error", err)
			result.FailedCategories = append(result.FailedCategories, category)
			continue
		}

		result.TotalFound += int64(len(items))
		for _, item := range items {
			job := simplemedia.TranscodeJob{ContentID: item.ID, Category: category}
			if s.opts.DryRun {
				s.logger.Info("dry run, would submit job", "content_id", item.ID, "category", category)
				continue
			}

			added, err := s.queue.Add(ctx, job)
			if err != nil {
				return result, err
			}
			if !added {
				result.TotalDuplicate++
				s.logger.Debug("job already queued", "content_id", item.ID, "category", category)
				continue
			}
			result.TotalEnqueued++
		}
	}

	s.logger.Info("scan completed",
		"found", result.TotalFound,
		"enqueued", result.TotalEnqueued,
		"duplicate", result.TotalDuplicate,
		"failed_categories", len(result.FailedCategories))
	return result, nil
}

// Run waits InitialDelay, then calls RunOnce every PollInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.opts.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.release()
			return nil
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scan failed", "error", err)
		}
		timer.Reset(s.opts.PollInterval)
	}
}

func (s *Scheduler) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Lease.Release(ctx); err != nil {
		s.logger.Warn("failed to release producer lease", "error", err)
	}
}
