// Package engine owns the transform side of the service: the job queue, the
// scheduler that feeds it and the worker pool that drains it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/lease"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
	"github.com/tendant/simple-media/pkg/simplemedia/pipeline"
	"github.com/tendant/simple-media/pkg/simplemedia/queue"
	"github.com/tendant/simple-media/pkg/simplemedia/scheduler"
	"github.com/tendant/simple-media/pkg/simplemedia/worker"
)

type Options struct {
	Workers       int
	QueueCapacity int
	BatchSize     int
	PollInterval  time.Duration
	InitialDelay  time.Duration
	WorkerPause   time.Duration
	Categories    []simplemedia.Category
	StagingRoot   string
	Keys          objectkey.Generator
	Lease         lease.Lease
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Engine wires one queue to one scheduler and one pool.
type Engine struct {
	queue     *queue.JobQueue
	scheduler *scheduler.Scheduler
	pipeline  *pipeline.Pipeline
	pool      *worker.Pool
	logger    *slog.Logger
}

func New(repo simplemedia.Repository, store simplemedia.ObjectStore, handlers worker.HandlerResolver, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := queue.New(opts.QueueCapacity, queue.WithMetrics(opts.Metrics))
	pl := pipeline.New(store, pipeline.Options{
		StagingRoot: opts.StagingRoot,
		Keys:        opts.Keys,
		Metrics:     opts.Metrics,
		Logger:      logger,
	})
	return &Engine{
		queue: q,
		scheduler: scheduler.New(repo, q, scheduler.Options{
			Categories:   opts.Categories,
			BatchSize:    opts.BatchSize,
			InitialDelay: opts.InitialDelay,
			PollInterval: opts.PollInterval,
			Lease:        opts.Lease,
			Logger:       logger,
		}),
		pipeline: pl,
		pool: worker.New(q, repo, handlers, pl, worker.Options{
			Workers: opts.Workers,
			Pause:   opts.WorkerPause,
			Metrics: opts.Metrics,
			Logger:  logger,
		}),
		logger: logger.With("component", "engine"),
	}
}

func (e *Engine) Queue() *queue.JobQueue { return e.queue }

func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

func (e *Engine) Pipeline() *pipeline.Pipeline { return e.pipeline }

// Run sweeps the staging root, then runs the scheduler and the pool until ctx
// is cancelled. It returns after in-flight jobs have finished.
func (e *Engine) Run(ctx context.Context) error {
	if err := pipeline.SweepStaging(e.pipeline.StagingRoot()); err != nil {
		return fmt.Errorf("sweep staging: %w", err)
	}
	e.logger.Info("engine started", "staging_root", e.pipeline.StagingRoot(), "queue_capacity", e.queue.Capacity())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.scheduler.Run(ctx) })
	g.Go(func() error { return e.pool.Run(ctx) })
	err := g.Wait()

	e.logger.Info("engine stopped", "queued", e.queue.Len())
	return err
}
