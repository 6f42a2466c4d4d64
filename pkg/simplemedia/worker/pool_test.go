package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/pipeline"
	"github.com/tendant/simple-media/pkg/simplemedia/queue"
	"github.com/tendant/simple-media/pkg/simplemedia/repo/memory"
	"github.com/tendant/simple-media/pkg/simplemedia/transcode"
	"github.com/tendant/simple-media/pkg/simplemedia/transcode/transcodetest"
	"github.com/tendant/simple-media/pkg/simplemedia/worker"
)

type fakeTransformer struct {
	mu       sync.Mutex
	calls    []uuid.UUID
	fail     map[uuid.UUID]bool
	block    chan struct{}
	active   atomic.Int32
	peak     atomic.Int32
	ctxAlive atomic.Bool
}

func (f *fakeTransformer) Run(ctx context.Context, h pipeline.Handler, item *simplemedia.ContentItem) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, item.ID)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	f.ctxAlive.Store(ctx.Err() == nil)
	if f.fail[item.ID] {
		return errors.New("encode failed")
	}
	return nil
}

func (f *fakeTransformer) Calls() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.calls...)
}

func newRegistry(repo simplemedia.Repository) *pipeline.Registry {
	return pipeline.DefaultRegistry(repo, transcodetest.NewRunner(), transcode.DefaultSettings())
}

func addItem(t *testing.T, repo *memory.Repository, category simplemedia.Category, status simplemedia.ContentStatus) *simplemedia.ContentItem {
	t.Helper()
	item := &simplemedia.ContentItem{ID: uuid.New(), OwnerID: uuid.New(), Category: category, Status: status}
	require.NoError(t, repo.CreateItem(context.Background(), item))
	return item
}

func TestPool_Process(t *testing.T) {
	repo := memory.New()
	tr := &fakeTransformer{fail: map[uuid.UUID]bool{}}
	pool := worker.New(queue.New(10), repo, newRegistry(repo), tr, worker.Options{})
	ctx := context.Background()

	t.Run("processed", func(t *testing.T) {
		item := addItem(t, repo, simplemedia.CategoryPostVideo, simplemedia.StatusRawUploaded)
		outcome := pool.Process(ctx, simplemedia.TranscodeJob{ContentID: item.ID, Category: item.Category})
		assert.Equal(t, worker.OutcomeProcessed, outcome)
		assert.Contains(t, tr.Calls(), item.ID)
	})

	t.Run("missing item is dropped", func(t *testing.T) {
		outcome := pool.Process(ctx, simplemedia.TranscodeJob{ContentID: uuid.New(), Category: simplemedia.CategoryPostVideo})
		assert.Equal(t, worker.OutcomeMissing, outcome)
	})

	t.Run("terminal item is skipped", func(t *testing.T) {
		item := addItem(t, repo, simplemedia.CategoryPostAudio, simplemedia.StatusProcessed)
		outcome := pool.Process(ctx, simplemedia.TranscodeJob{ContentID: item.ID, Category: item.Category})
		assert.Equal(t, worker.OutcomeSkipped, outcome)
		assert.NotContains(t, tr.Calls(), item.ID)
	})

	t.Run("unknown category is dropped", func(t *testing.T) {
		item := addItem(t, repo, simplemedia.Category("post_text"), simplemedia.StatusRawUploaded)
		outcome := pool.Process(ctx, simplemedia.TranscodeJob{ContentID: item.ID, Category: item.Category})
		assert.Equal(t, worker.OutcomeUnknownCategory, outcome)
	})

	t.Run("failure is reported, not returned", func(t *testing.T) {
		item := addItem(t, repo, simplemedia.CategoryPostImages, simplemedia.StatusRawUploaded)
		tr.fail[item.ID] = true
		outcome := pool.Process(ctx, simplemedia.TranscodeJob{ContentID: item.ID, Category: item.Category})
		assert.Equal(t, worker.OutcomeFailed, outcome)
	})
}

func TestPool_RunDrainsQueueAndSurvivesFailures(t *testing.T) {
	repo := memory.New()
	q := queue.New(20)
	tr := &fakeTransformer{fail: map[uuid.UUID]bool{}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []uuid.UUID
	for i := 0; i < 8; i++ {
		item := addItem(t, repo, simplemedia.CategoryPostVideo, simplemedia.StatusRawUploaded)
		if i%2 == 0 {
			tr.fail[item.ID] = true
		}
		ids = append(ids, item.ID)
		_, err := q.Add(ctx, simplemedia.TranscodeJob{ContentID: item.ID, Category: item.Category})
		require.NoError(t, err)
	}

	pool := worker.New(q, repo, newRegistry(repo), tr, worker.Options{Workers: 2, Pause: time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return len(tr.Calls()) == len(ids) }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, ids, tr.Calls())
	assert.Zero(t, q.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	repo := memory.New()
	q := queue.New(20)
	tr := &fakeTransformer{block: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		item := addItem(t, repo, simplemedia.CategoryPostAudio, simplemedia.StatusRawUploaded)
		_, err := q.Add(ctx, simplemedia.TranscodeJob{ContentID: item.ID, Category: item.Category})
		require.NoError(t, err)
	}

	pool := worker.New(q, repo, newRegistry(repo), tr, worker.Options{Workers: 3})
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return tr.active.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), tr.peak.Load())
	assert.Equal(t, 7, q.Len())

	// In-flight transforms finish after shutdown starts and see a live context.
	cancel()
	close(tr.block)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
	assert.True(t, tr.ctxAlive.Load())
}

type panickingTransformer struct{}

func (panickingTransformer) Run(context.Context, pipeline.Handler, *simplemedia.ContentItem) error {
	var outputs map[string]string
	outputs["index.m3u8"] = "https://cdn.example.com/index.m3u8"
	return nil
}

func TestPool_ProcessRecoversPanic(t *testing.T) {
	repo := memory.New()
	pool := worker.New(queue.New(10), repo, newRegistry(repo), panickingTransformer{}, worker.Options{})
	item := addItem(t, repo, simplemedia.CategoryPostVideo, simplemedia.StatusRawUploaded)
	job := simplemedia.TranscodeJob{ContentID: item.ID, Category: item.Category}

	var outcome string
	assert.NotPanics(t, func() { outcome = pool.Process(context.Background(), job) })
	assert.Equal(t, worker.OutcomeFailed, outcome)

	// the item is released again after the panic
	assert.NotPanics(t, func() { outcome = pool.Process(context.Background(), job) })
	assert.Equal(t, worker.OutcomeFailed, outcome, "a second attempt runs the transform instead of being skipped")
}

func TestPool_ProcessSkipsItemInFlight(t *testing.T) {
	repo := memory.New()
	tr := &fakeTransformer{block: make(chan struct{})}
	pool := worker.New(queue.New(10), repo, newRegistry(repo), tr, worker.Options{})
	item := addItem(t, repo, simplemedia.CategoryPostVideo, simplemedia.StatusRawUploaded)
	job := simplemedia.TranscodeJob{ContentID: item.ID, Category: item.Category}

	first := make(chan string, 1)
	go func() { first <- pool.Process(context.Background(), job) }()
	require.Eventually(t, func() bool { return tr.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, worker.OutcomeSkipped, pool.Process(context.Background(), job))

	close(tr.block)
	assert.Equal(t, worker.OutcomeProcessed, <-first)
	assert.Len(t, tr.Calls(), 1)

	assert.Equal(t, worker.OutcomeProcessed, pool.Process(context.Background(), job))
	assert.Len(t, tr.Calls(), 2)
}
