package upload_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/repo/memory"
	"github.com/tendant/simple-media/pkg/simplemedia/upload"
)

func setupService(t *testing.T) (*upload.Service, *memory.Repository, *countingStore) {
	t.Helper()
	repo := memory.New()
	store := newCountingStore()
	svc := upload.NewService(repo, store, upload.NewCoordinator(store),
		upload.WithChunkSize(5),
		upload.WithMaxUploadSize(20),
	)
	return svc, repo, store
}

func createPending(t *testing.T, repo *memory.Repository, category simplemedia.Category) *simplemedia.ContentItem {
	t.Helper()
	item := &simplemedia.ContentItem{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Category:  category,
		Status:    simplemedia.StatusPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateItem(context.Background(), item))
	return item
}

func TestService_InitUploads(t *testing.T) {
	svc, repo, store := setupService(t)
	ctx := context.Background()
	item := createPending(t, repo, simplemedia.CategoryPostImages)

	resp, err := svc.InitUploads(ctx, upload.InitUploadsRequest{
		ContentID: item.ID,
		Files: []upload.InitFile{
			{FileName: "a.jpg", TotalSize: 12, ContentType: "image/jpeg"},
			{FileName: "huge.jpg", TotalSize: 21},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Files, 2)

	ok := resp.Files[0]
	assert.Equal(t, simplemedia.UploadInProgress, ok.Status)
	assert.NotEmpty(t, ok.UploadID)
	assert.Contains(t, ok.ObjectKey, item.ID.String())
	assert.Equal(t, int64(5), ok.ChunkSize)
	assert.Equal(t, 3, ok.TotalParts)
	require.Len(t, ok.Parts, 3)
	assert.Equal(t, int64(2), ok.Parts[2].ContentLength)
	assert.NotEmpty(t, ok.Parts[2].URL)
	assert.NotNil(t, ok.ExpiresAt)

	rejected := resp.Files[1]
	assert.Equal(t, simplemedia.UploadAborted, rejected.Status)
	assert.Equal(t, simplemedia.AbortReasonTotalSizeTooLarge, rejected.AbortReason)
	assert.Empty(t, rejected.UploadID)
	assert.Equal(t, 1, store.initiates)
}

func TestService_InitUploadsRequiresPending(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()

	t.Run("missing content", func(t *testing.T) {
		_, err := svc.InitUploads(ctx, upload.InitUploadsRequest{ContentID: uuid.New(), Files: []upload.InitFile{{FileName: "a", TotalSize: 1}}})
		assert.ErrorIs(t, err, simplemedia.ErrContentNotFound)
	})

	t.Run("already uploaded", func(t *testing.T) {
		item := createPending(t, repo, simplemedia.CategoryPostVideo)
		item.Status = simplemedia.StatusRawUploaded
		require.NoError(t, repo.UpdateItem(ctx, item))

		_, err := svc.InitUploads(ctx, upload.InitUploadsRequest{ContentID: item.ID, Files: []upload.InitFile{{FileName: "a", TotalSize: 1}}})
		assert.ErrorIs(t, err, simplemedia.ErrInvalidContentStatus)
	})
}

func TestService_CompleteUploads(t *testing.T) {
	ctx := context.Background()

	initTwo := func(t *testing.T, svc *upload.Service, item *simplemedia.ContentItem) *upload.InitUploadsResponse {
		resp, err := svc.InitUploads(ctx, upload.InitUploadsRequest{
			ContentID: item.ID,
			Files:     []upload.InitFile{{FileName: "one.jpg", TotalSize: 7}, {FileName: "two.jpg", TotalSize: 3}},
		})
		require.NoError(t, err)
		return resp
	}

	t.Run("all committed flips to raw_uploaded", func(t *testing.T) {
		svc, repo, store := setupService(t)
		item := createPending(t, repo, simplemedia.CategoryPostImages)
		init := initTwo(t, svc, item)

		req := upload.CompleteUploadsRequest{ContentID: item.ID}
		req.Files = append(req.Files, upload.CompleteFile{
			FileName: "one.jpg", UploadID: init.Files[0].UploadID, ObjectKey: init.Files[0].ObjectKey,
			CompletedParts: uploadAll(t, store, init.Files[0].UploadID, 5, 2),
		})
		req.Files = append(req.Files, upload.CompleteFile{
			FileName: "two.jpg", UploadID: init.Files[1].UploadID, ObjectKey: init.Files[1].ObjectKey,
			CompletedParts: uploadAll(t, store, init.Files[1].UploadID, 3),
		})

		resp, err := svc.CompleteUploads(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, simplemedia.StatusRawUploaded, resp.Status)
		for _, f := range resp.Files {
			assert.Equal(t, simplemedia.UploadCompleted, f.Status)
		}

		got, err := repo.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, simplemedia.StatusRawUploaded, got.Status)
		assert.Equal(t, []string{
			store.ObjectURI(init.Files[0].ObjectKey),
			store.ObjectURI(init.Files[1].ObjectKey),
		}, got.RawSourceURLs)
	})

	t.Run("one mismatch leaves item pending", func(t *testing.T) {
		svc, repo, store := setupService(t)
		item := createPending(t, repo, simplemedia.CategoryPostImages)
		init := initTwo(t, svc, item)

		bad := uploadAll(t, store, init.Files[1].UploadID, 3)
		bad[0].ETag = "nope"
		req := upload.CompleteUploadsRequest{ContentID: item.ID, Files: []upload.CompleteFile{
			{FileName: "one.jpg", UploadID: init.Files[0].UploadID, ObjectKey: init.Files[0].ObjectKey, CompletedParts: uploadAll(t, store, init.Files[0].UploadID, 5, 2)},
			{FileName: "two.jpg", UploadID: init.Files[1].UploadID, ObjectKey: init.Files[1].ObjectKey, CompletedParts: bad},
		}}

		resp, err := svc.CompleteUploads(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, simplemedia.StatusPending, resp.Status)
		assert.Equal(t, simplemedia.UploadCompleted, resp.Files[0].Status)
		assert.Equal(t, simplemedia.UploadAborted, resp.Files[1].Status)
		assert.Equal(t, simplemedia.AbortReasonPartsNotMatching, resp.Files[1].AbortReason)
		assert.Equal(t, 1, store.aborts)

		got, err := repo.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, simplemedia.StatusPending, got.Status)
		assert.Empty(t, got.RawSourceURLs)
	})
}

func TestService_CompleteUploadsRejectsForeignKey(t *testing.T) {
	svc, repo, store := setupService(t)
	ctx := context.Background()
	item := createPending(t, repo, simplemedia.CategoryPostVideo)
	other := createPending(t, repo, simplemedia.CategoryPostVideo)

	mine, err := svc.InitUploads(ctx, upload.InitUploadsRequest{ContentID: item.ID, Files: []upload.InitFile{{FileName: "a.mp4", TotalSize: 4}}})
	require.NoError(t, err)
	theirs, err := svc.InitUploads(ctx, upload.InitUploadsRequest{ContentID: other.ID, Files: []upload.InitFile{{FileName: "a.mp4", TotalSize: 4}}})
	require.NoError(t, err)

	tests := map[string]upload.CompleteFile{
		"key of another item": {
			FileName: "a.mp4", UploadID: theirs.Files[0].UploadID, ObjectKey: theirs.Files[0].ObjectKey,
			CompletedParts: uploadAll(t, store, theirs.Files[0].UploadID, 4),
		},
		"arbitrary key": {
			FileName: "a.mp4", UploadID: mine.Files[0].UploadID, ObjectKey: "processed/elsewhere/a.mp4",
			CompletedParts: uploadAll(t, store, mine.Files[0].UploadID, 4),
		},
	}
	for name, file := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CompleteUploads(ctx, upload.CompleteUploadsRequest{ContentID: item.ID, Files: []upload.CompleteFile{file}})
			assert.ErrorIs(t, err, simplemedia.ErrInvalidObjectKey)
		})
	}

	assert.Zero(t, store.completes)
	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, simplemedia.StatusPending, got.Status)
	assert.Empty(t, got.RawSourceURLs)
}

func TestService_AbortUpload(t *testing.T) {
	svc, repo, store := setupService(t)
	ctx := context.Background()
	item := createPending(t, repo, simplemedia.CategoryPostAudio)

	resp, err := svc.InitUploads(ctx, upload.InitUploadsRequest{ContentID: item.ID, Files: []upload.InitFile{{FileName: "a.mp3", TotalSize: 4}}})
	require.NoError(t, err)
	require.Equal(t, 1, store.OpenUploads())

	require.NoError(t, svc.AbortUpload(ctx, resp.Files[0].ObjectKey, resp.Files[0].UploadID))
	require.NoError(t, svc.AbortUpload(ctx, resp.Files[0].ObjectKey, resp.Files[0].UploadID))
	assert.Zero(t, store.OpenUploads())
}
