package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/repo/memory"
	memorystorage "github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
	"github.com/tendant/simple-media/pkg/simplemedia/upload"
)

type testServer struct {
	handler http.Handler
	repo    *memory.Repository
	store   *memorystorage.Backend
}

func setupRouter(t *testing.T, opts Options) *testServer {
	t.Helper()
	repo := memory.New()
	store := memorystorage.New("media", "https://cdn.example.com")
	svc := upload.NewService(repo, store, upload.NewCoordinator(store),
		upload.WithChunkSize(4),
		upload.WithMaxUploadSize(16),
	)
	return &testServer{handler: NewRouter(repo, svc, opts), repo: repo, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) createContent(t *testing.T, category simplemedia.Category) *simplemedia.ContentItem {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/contents", CreateContentRequest{
		OwnerID:  uuid.New().String(),
		Category: string(category),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var item simplemedia.ContentItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	return &item
}

func TestCreateAndGetContent(t *testing.T) {
	s := setupRouter(t, Options{})

	item := s.createContent(t, simplemedia.CategoryPostAudio)
	assert.Equal(t, simplemedia.StatusPending, item.Status)
	assert.Equal(t, simplemedia.CategoryPostAudio, item.Category)

	w := s.do(t, http.MethodGet, "/api/v1/contents/"+item.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got simplemedia.ContentItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, item.ID, got.ID)
}

func TestCreateContent_Validation(t *testing.T) {
	s := setupRouter(t, Options{})

	tests := []struct {
		name string
		body interface{}
	}{
		{"MissingOwner", CreateContentRequest{Category: "post_video"}},
		{"BadOwner", CreateContentRequest{OwnerID: "nope", Category: "post_video"}},
		{"UnknownCategory", CreateContentRequest{OwnerID: uuid.New().String(), Category: "post_gif"}},
		{"NotJSON", "just a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/contents", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGetContent_Errors(t *testing.T) {
	s := setupRouter(t, Options{})

	w := s.do(t, http.MethodGet, "/api/v1/contents/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/contents/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadFlow(t *testing.T) {
	s := setupRouter(t, Options{})
	item := s.createContent(t, simplemedia.CategoryPostImages)
	base := "/api/v1/contents/" + item.ID.String()

	w := s.do(t, http.MethodPost, base+"/uploads", map[string]interface{}{
		"files": []map[string]interface{}{
			{"file_name": "a.jpg", "total_size": 10, "content_type": "image/jpeg"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var initResp upload.InitUploadsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &initResp))
	require.Len(t, initResp.Files, 1)
	file := initResp.Files[0]
	assert.Equal(t, simplemedia.UploadInProgress, file.Status)
	require.Len(t, file.Parts, 3)
	assert.Equal(t, int64(2), file.Parts[2].ContentLength)

	data := []byte("0123456789")
	var completed []simplemedia.CompletedPart
	for _, p := range file.Parts {
		start := int64(p.PartNumber-1) * 4
		chunk := data[start : start+p.ContentLength]
		etag, err := s.store.PutPart(file.UploadID, p.PartNumber, chunk)
		require.NoError(t, err)
		completed = append(completed, simplemedia.CompletedPart{PartNumber: p.PartNumber, ETag: etag, Size: p.ContentLength})
	}

	w = s.do(t, http.MethodPost, base+"/uploads/complete", map[string]interface{}{
		"files": []map[string]interface{}{
			{"file_name": "a.jpg", "upload_id": file.UploadID, "object_key": file.ObjectKey, "completed_parts": completed},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var completeResp upload.CompleteUploadsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &completeResp))
	assert.Equal(t, simplemedia.StatusRawUploaded, completeResp.Status)
	assert.Equal(t, simplemedia.UploadCompleted, completeResp.Files[0].Status)

	stored, _, ok := s.store.Object("media", file.ObjectKey)
	require.True(t, ok)
	assert.Equal(t, data, stored)

	// raw_uploaded items accept no new sessions
	w = s.do(t, http.MethodPost, base+"/uploads", map[string]interface{}{
		"files": []map[string]interface{}{{"file_name": "b.jpg", "total_size": 4}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInitUploads_Validation(t *testing.T) {
	s := setupRouter(t, Options{})
	item := s.createContent(t, simplemedia.CategoryPostVideo)

	w := s.do(t, http.MethodPost, "/api/v1/contents/"+item.ID.String()+"/uploads", map[string]interface{}{"files": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/contents/"+item.ID.String()+"/uploads", map[string]interface{}{
		"files": []map[string]interface{}{{"file_name": "", "total_size": 4}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/contents/"+uuid.New().String()+"/uploads", map[string]interface{}{
		"files": []map[string]interface{}{{"file_name": "a.mp4", "total_size": 4}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAbortUpload(t *testing.T) {
	s := setupRouter(t, Options{})

	w := s.do(t, http.MethodPost, "/api/v1/uploads/abort", AbortUploadRequest{ObjectKey: "raw/x.mp4", UploadID: "unknown"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/uploads/abort", AbortUploadRequest{ObjectKey: "raw/x.mp4"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})

	t.Run("Ready", func(t *testing.T) {
		s := setupRouter(t, Options{
			Metrics: metrics,
			Checks:  map[string]ReadinessCheck{"db": func(context.Context) error { return nil }},
		})
		assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)
		assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz/ready", nil).Code)

		w := s.do(t, http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "# metrics", w.Body.String())
	})

	t.Run("NotReady", func(t *testing.T) {
		s := setupRouter(t, Options{
			Checks: map[string]ReadinessCheck{"db": func(context.Context) error { return errors.New("connection refused") }},
		})
		w := s.do(t, http.MethodGet, "/healthz/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "connection refused")

		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/metrics", nil).Code)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&simplemedia.ContentError{Op: "x", Err: simplemedia.ErrContentNotFound}, http.StatusNotFound},
		{&simplemedia.ContentError{Op: "x", Err: simplemedia.ErrInvalidContentStatus}, http.StatusConflict},
		{simplemedia.ErrInvalidPartPlan, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
