// Package queue provides the bounded, deduplicating job queue shared by the
// scheduler (producer) and the worker pool (consumers).
package queue

import (
	"context"
	"sync"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
)

// DefaultCapacity is the queue bound when none is configured.
const DefaultCapacity = 60

// JobQueue is a FIFO of TranscodeJobs with a membership set. A key is never
// queued twice and the length never exceeds the capacity. The slice and the
// set are only touched together under mu.
type JobQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	jobs     []simplemedia.TranscodeJob
	members  map[simplemedia.JobKey]struct{}
	capacity int

	metrics *metrics.Metrics
}

// Option configures a JobQueue
type Option func(*JobQueue)

// WithMetrics records admissions, duplicates and depth
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *JobQueue) {
		q.metrics = m
	}
}

// New creates a queue holding at most capacity jobs
func New(capacity int, opts ...Option) *JobQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &JobQueue{
		jobs:     make([]simplemedia.TranscodeJob, 0, capacity),
		members:  make(map[simplemedia.JobKey]struct{}, capacity),
		capacity: capacity,
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add enqueues job unless a job with the same key is already queued, in which
// case it returns false. It blocks while the queue is full and returns ctx.Err()
// if ctx ends first.
func (q *JobQueue) Add(ctx context.Context, job simplemedia.TranscodeJob) (bool, error) {
	key := job.Key()
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.notFull.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		// Another producer may have admitted the key while we waited.
		if _, dup := q.members[key]; dup {
			q.metrics.JobDuplicate(string(job.Category))
			return false, nil
		}
		if len(q.jobs) < q.capacity {
			break
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		q.notFull.Wait()
	}

	q.jobs = append(q.jobs, job)
	q.members[key] = struct{}{}
	q.metrics.JobEnqueued(string(job.Category))
	q.metrics.SetQueueDepth(len(q.jobs))
	q.notEmpty.Signal()
	return true, nil
}

// Take removes and returns the oldest job, blocking until one is available.
func (q *JobQueue) Take(ctx context.Context) (simplemedia.TranscodeJob, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.notEmpty.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 {
		if err := ctx.Err(); err != nil {
			return simplemedia.TranscodeJob{}, err
		}
		q.notEmpty.Wait()
	}

	job := q.jobs[0]
	q.jobs[0] = simplemedia.TranscodeJob{}
	q.jobs = q.jobs[1:]
	delete(q.members, job.Key())
	q.metrics.SetQueueDepth(len(q.jobs))
	q.notFull.Broadcast()
	return job, nil
}

// Len returns the number of queued jobs
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Contains reports whether a job with the same key is queued
func (q *JobQueue) Contains(job simplemedia.TranscodeJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[job.Key()]
	return ok
}

// Capacity returns the queue bound
func (q *JobQueue) Capacity() int {
	return q.capacity
}
