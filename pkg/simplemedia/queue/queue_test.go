package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/queue"
)

func job(category simplemedia.Category) simplemedia.TranscodeJob {
	return simplemedia.TranscodeJob{ContentID: uuid.New(), Category: category}
}

func TestJobQueue_FIFO(t *testing.T) {
	q := queue.New(10)
	ctx := context.Background()

	jobs := []simplemedia.TranscodeJob{job(simplemedia.CategoryPostVideo), job(simplemedia.CategoryPostAudio), job(simplemedia.CategoryPostImages)}
	for _, j := range jobs {
		added, err := q.Add(ctx, j)
		require.NoError(t, err)
		require.True(t, added)
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range jobs {
		got, err := q.Take(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, q.Len())
}

func TestJobQueue_Dedup(t *testing.T) {
	q := queue.New(10)
	ctx := context.Background()
	j := job(simplemedia.CategoryPostVideo)

	added, err := q.Add(ctx, j)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Add(ctx, j)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Contains(j))

	t.Run("same content different category is distinct", func(t *testing.T) {
		other := simplemedia.TranscodeJob{ContentID: j.ContentID, Category: simplemedia.CategoryDarshanVideo}
		added, err := q.Add(ctx, other)
		require.NoError(t, err)
		assert.True(t, added)
	})

	t.Run("re-admitted after take", func(t *testing.T) {
		got, err := q.Take(ctx)
		require.NoError(t, err)
		assert.Equal(t, j, got)
		assert.False(t, q.Contains(j))

		added, err := q.Add(ctx, j)
		require.NoError(t, err)
		assert.True(t, added)
	})
}

func TestJobQueue_BlocksAtCapacity(t *testing.T) {
	q := queue.New(2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := q.Add(ctx, job(simplemedia.CategoryPostVideo))
		require.NoError(t, err)
	}

	third := job(simplemedia.CategoryPostAudio)
	done := make(chan struct{})
	go func() {
		defer close(done)
		added, err := q.Add(ctx, third)
		assert.NoError(t, err)
		assert.True(t, added)
	}()

	select {
	case <-done:
		t.Fatal("Add returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, q.Len())

	_, err := q.Take(ctx)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Add did not unblock after Take")
	}
	assert.Equal(t, 2, q.Len())
	assert.True(t, q.Contains(third))
}

func TestJobQueue_AddCancelled(t *testing.T) {
	q := queue.New(1)
	_, err := q.Add(context.Background(), job(simplemedia.CategoryPostVideo))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Add(ctx, job(simplemedia.CategoryPostVideo))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Add did not observe cancellation")
	}
	assert.Equal(t, 1, q.Len())
}

func TestJobQueue_TakeCancelled(t *testing.T) {
	q := queue.New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJobQueue_ConcurrentProducersSameKey(t *testing.T) {
	q := queue.New(1)
	ctx := context.Background()
	_, err := q.Add(ctx, job(simplemedia.CategoryPostVideo))
	require.NoError(t, err)

	// Both producers wait on a full queue for the same key; only one may be admitted.
	j := job(simplemedia.CategoryPostAudio)
	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := q.Add(ctx, j)
			assert.NoError(t, err)
			results <- added
		}()
	}

	time.Sleep(20 * time.Millisecond)
	_, err = q.Take(ctx)
	require.NoError(t, err)
	wg.Wait()
	close(results)

	admitted := 0
	for added := range results {
		if added {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, q.Len())
}

func TestJobQueue_NeverExceedsCapacity(t *testing.T) {
	q := queue.New(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Add(ctx, job(simplemedia.CategoryPostVideo))
		}()
	}

	for taken := 0; taken < 20; taken++ {
		assert.LessOrEqual(t, q.Len(), q.Capacity())
		_, err := q.Take(ctx)
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Zero(t, q.Len())
}
