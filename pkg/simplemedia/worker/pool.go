// Package worker drains the job queue with a fixed number of workers.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
	"github.com/tendant/simple-media/pkg/simplemedia/pipeline"
)

// Defaults used when Options leave a field zero.
const (
	DefaultWorkers = 5
	DefaultPause   = time.Second
)

// Job outcomes reported to metrics.
const (
	OutcomeProcessed       = "processed"
	OutcomeFailed          = "failed"
	OutcomeMissing         = "missing"
	OutcomeUnknownCategory = "unknown_category"
	OutcomeSkipped         = "skipped"
)

// Taker hands out queued jobs.
type Taker interface {
	Take(ctx context.Context) (simplemedia.TranscodeJob, error)
}

// HandlerResolver returns the pipeline handler of a category.
type HandlerResolver interface {
	Get(category simplemedia.Category) (pipeline.Handler, error)
}

// Transformer runs the pipeline for one item.
type Transformer interface {
	Run(ctx context.Context, h pipeline.Handler, item *simplemedia.ContentItem) error
}

type Options struct {
	Workers int
	// Pause is the wait after each job; negative disables it
	Pause   time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Pool runs Workers goroutines, each taking one job at a time.
type Pool struct {
	queue     Taker
	repo      simplemedia.Repository
	handlers  HandlerResolver
	transform Transformer
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func New(queue Taker, repo simplemedia.Repository, handlers HandlerResolver, transform Transformer, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Pause == 0 {
		opts.Pause = DefaultPause
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:     queue,
		repo:      repo,
		handlers:  handlers,
		transform: transform,
		opts:      opts,
		logger:    logger.With("component", "worker"),
		inFlight:  make(map[uuid.UUID]struct{}),
	}
}

// Run blocks until ctx is cancelled and every worker has finished its current job.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range p.opts.Workers {
		g.Go(func() error {
			p.loop(ctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, worker int) {
	logger := p.logger.With("worker", worker)
	for ctx.Err() == nil {
		job, err := p.queue.Take(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				logger.Error("failed to take job", "error", err)
			}
			return
		}

		outcome := p.Process(ctx, job)
		p.opts.Metrics.JobProcessed(string(job.Category), outcome)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.Pause):
		}
	}
}

// Process handles one job and reports its outcome. Errors are logged, never returned,
// so a failing item cannot stop the worker. A panic in the transform is recovered
// and reported as failed. A job whose item is already being transformed by this
// pool is skipped. The transform runs on a context that ignores cancellation;
// shutdown waits for it instead of interrupting an encode.
func (p *Pool) Process(ctx context.Context, job simplemedia.TranscodeJob) (outcome string) {
	logger := p.logger.With("content_id", job.ContentID, "category", job.Category)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("transform panicked", "panic", r)
			outcome = OutcomeFailed
		}
	}()

	if !p.acquire(job.ContentID) {
		logger.Debug("content item already in flight, skipping")
		return OutcomeSkipped
	}
	defer p.release(job.ContentID)

	item, err := p.repo.GetItem(ctx, job.ContentID)
	if err != nil {
		if errors.Is(err, simplemedia.ErrContentNotFound) {
			logger.Warn("content item not found, dropping job")
			return OutcomeMissing
		}
		logger.Error("failed to load content item", "error", err)
		return OutcomeFailed
	}

	if simplemedia.IsTerminal(item.Status) {
		logger.Debug("content item already finished, skipping", "status", item.Status)
		return OutcomeSkipped
	}

	handler, err := p.handlers.Get(job.Category)
	if err != nil {
		logger.Error("no handler for category, dropping job", "error", err)
		return OutcomeUnknownCategory
	}

	start := time.Now()
	if err := p.transform.Run(context.WithoutCancel(ctx), handler, item); err != nil {
		logger.Error("transform failed", "error", err, "duration", time.Since(start))
		return OutcomeFailed
	}
	logger.Info("transform finished", "status", item.Status, "duration", time.Since(start))
	return OutcomeProcessed
}

func (p *Pool) acquire(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[id]; ok {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pool) release(id uuid.UUID) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}
