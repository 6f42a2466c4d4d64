package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

// Default sizing used when a Service is built without explicit limits.
const (
	DefaultChunkSize     int64 = 5 * 1024 * 1024
	DefaultMaxUploadSize int64 = 500 * 1000 * 1000
)

// Service runs batch uploads for a content item on top of the Coordinator.
type Service struct {
	repo          simplemedia.Repository
	store         simplemedia.ObjectStore
	coordinator   *Coordinator
	keys          objectkey.Generator
	chunkSize     int64
	maxUploadSize int64
	logger        *slog.Logger
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithChunkSize sets the part size used for every plan
func WithChunkSize(n int64) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithMaxUploadSize sets the per-file size ceiling
func WithMaxUploadSize(n int64) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxUploadSize = n
		}
	}
}

// WithKeyGenerator overrides how raw object keys are derived
func WithKeyGenerator(g objectkey.Generator) ServiceOption {
	return func(s *Service) {
		if g != nil {
			s.keys = g
		}
	}
}

// WithServiceLogger sets the logger
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(repo simplemedia.Repository, store simplemedia.ObjectStore, coordinator *Coordinator, opts ...ServiceOption) *Service {
	s := &Service{
		repo:          repo,
		store:         store,
		coordinator:   coordinator,
		keys:          objectkey.NewDefaultGenerator(),
		chunkSize:     DefaultChunkSize,
		maxUploadSize: DefaultMaxUploadSize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChunkSize returns the configured part size
func (s *Service) ChunkSize() int64 { return s.chunkSize }

// MaxUploadSize returns the configured per-file ceiling
func (s *Service) MaxUploadSize() int64 { return s.maxUploadSize }

// InitFile is one file a client wants to upload.
type InitFile struct {
	FileName    string `json:"file_name" validate:"required"`
	TotalSize   int64  `json:"total_size" validate:"required,gt=0"`
	ContentType string `json:"content_type,omitempty"`
}

type InitUploadsRequest struct {
	ContentID uuid.UUID  `json:"-"`
	Files     []InitFile `json:"files" validate:"required,min=1,dive"`
}

// PresignedPart is a planned part with its upload URL.
type PresignedPart struct {
	PartNumber    int32  `json:"part_number"`
	ContentLength int64  `json:"content_length"`
	URL           string `json:"url"`
}

// InitFileResult is the per-file answer to an init request.
type InitFileResult struct {
	FileName    string                  `json:"file_name"`
	ObjectKey   string                  `json:"object_key"`
	UploadID    string                  `json:"upload_id,omitempty"`
	Status      simplemedia.UploadState `json:"status"`
	AbortReason simplemedia.AbortReason `json:"abort_reason,omitempty"`
	ChunkSize   int64                   `json:"chunk_size,omitempty"`
	TotalParts  int                     `json:"total_parts,omitempty"`
	Parts       []PresignedPart         `json:"parts,omitempty"`
	ExpiresAt   *time.Time              `json:"expires_at,omitempty"`
}

type InitUploadsResponse struct {
	ContentID uuid.UUID        `json:"content_id"`
	Files     []InitFileResult `json:"files"`
}

// InitUploads opens one multipart session per file. Oversized files are rejected
// individually and never fail the batch.
func (s *Service) InitUploads(ctx context.Context, req InitUploadsRequest) (*InitUploadsResponse, error) {
	item, err := s.loadUploadable(ctx, req.ContentID, "init_uploads")
	if err != nil {
		return nil, err
	}

	resp := &InitUploadsResponse{ContentID: item.ID, Files: make([]InitFileResult, 0, len(req.Files))}
	for i, f := range req.Files {
		key := s.keys.RawKey(item, i, f.FileName)
		result := InitFileResult{FileName: f.FileName, ObjectKey: key}

		initRes, err := s.coordinator.Initiate(ctx, InitiateRequest{
			Bucket:         s.store.Bucket(),
			ObjectKey:      key,
			ContentType:    f.ContentType,
			TotalSize:      f.TotalSize,
			AllowedMaxSize: s.maxUploadSize,
		})
		if err != nil {
			return nil, &simplemedia.ContentError{ContentID: item.ID, Op: "init_uploads", Err: err}
		}
		if initRes.Status == simplemedia.UploadAborted {
			result.Status = initRes.Status
			result.AbortReason = initRes.AbortReason
			resp.Files = append(resp.Files, result)
			continue
		}

		plan, err := s.coordinator.PlanAndPresign(ctx, PresignRequest{
			Bucket:         s.store.Bucket(),
			ObjectKey:      key,
			UploadID:       initRes.UploadID,
			TotalSize:      f.TotalSize,
			ChunkSize:      s.chunkSize,
			AllowedMaxSize: s.maxUploadSize,
		})
		if err != nil {
			if abortErr := s.coordinator.Abort(ctx, s.store.Bucket(), key, initRes.UploadID); abortErr != nil {
				s.logger.Error("failed to release upload after presign failure", "upload_id", initRes.UploadID, "error", abortErr)
			}
			return nil, &simplemedia.ContentError{ContentID: item.ID, Op: "init_uploads", Err: err}
		}

		result.UploadID = initRes.UploadID
		result.Status = simplemedia.UploadInProgress
		result.ChunkSize = plan.ChunkSize
		result.TotalParts = plan.TotalParts
		expiresAt := plan.ExpiresAt
		result.ExpiresAt = &expiresAt
		result.Parts = make([]PresignedPart, 0, len(plan.Parts))
		for _, p := range plan.Parts {
			result.Parts = append(result.Parts, PresignedPart{
				PartNumber:    p.PartNumber,
				ContentLength: p.ContentLength,
				URL:           plan.PartURLs[p.PartNumber],
			})
		}
		resp.Files = append(resp.Files, result)
	}

	s.logger.Info("upload sessions opened", "content_id", item.ID, "files", len(resp.Files))
	return resp, nil
}

// CompleteFile reports the parts a client uploaded for one file.
type CompleteFile struct {
	FileName       string                      `json:"file_name" validate:"required"`
	UploadID       string                      `json:"upload_id" validate:"required"`
	ObjectKey      string                      `json:"object_key" validate:"required"`
	CompletedParts []simplemedia.CompletedPart `json:"completed_parts" validate:"required,min=1"`
}

type CompleteUploadsRequest struct {
	ContentID uuid.UUID      `json:"-"`
	Files     []CompleteFile `json:"files" validate:"required,min=1,dive"`
}

// CompleteFileResult is the per-file answer to a completion request.
type CompleteFileResult struct {
	FileName    string                  `json:"file_name"`
	ObjectKey   string                  `json:"object_key"`
	Status      simplemedia.UploadState `json:"status"`
	AbortReason simplemedia.AbortReason `json:"abort_reason,omitempty"`
}

type CompleteUploadsResponse struct {
	ContentID uuid.UUID                 `json:"content_id"`
	Status    simplemedia.ContentStatus `json:"status"`
	Files     []CompleteFileResult      `json:"files"`
}

// CompleteUploads completes every file. Only when all of them commit does the
// item record its raw sources and move to raw_uploaded, in a single update.
// File i must carry the raw key issued for position i of the item; otherwise
// nothing is completed.
func (s *Service) CompleteUploads(ctx context.Context, req CompleteUploadsRequest) (*CompleteUploadsResponse, error) {
	item, err := s.loadUploadable(ctx, req.ContentID, "complete_uploads")
	if err != nil {
		return nil, err
	}
	for i, f := range req.Files {
		if want := s.keys.RawKey(item, i, f.FileName); f.ObjectKey != want {
			return nil, &simplemedia.ContentError{ContentID: item.ID, Op: "complete_uploads",
				Err: fmt.Errorf("%w: file %d: got %q, want %q", simplemedia.ErrInvalidObjectKey, i, f.ObjectKey, want)}
		}
	}

	resp := &CompleteUploadsResponse{ContentID: item.ID, Files: make([]CompleteFileResult, 0, len(req.Files))}
	uris := make([]string, 0, len(req.Files))
	allCommitted := true
	for _, f := range req.Files {
		res, err := s.coordinator.Complete(ctx, CompleteRequest{
			Bucket:         s.store.Bucket(),
			ObjectKey:      f.ObjectKey,
			UploadID:       f.UploadID,
			ClientParts:    f.CompletedParts,
			AllowedMaxSize: s.maxUploadSize,
		})
		if err != nil {
			return nil, &simplemedia.ContentError{ContentID: item.ID, Op: "complete_uploads", Err: err}
		}
		resp.Files = append(resp.Files, CompleteFileResult{
			FileName:    f.FileName,
			ObjectKey:   f.ObjectKey,
			Status:      res.Status,
			AbortReason: res.AbortReason,
		})
		if res.Status != simplemedia.UploadCompleted {
			allCommitted = false
			continue
		}
		uris = append(uris, s.store.ObjectURI(f.ObjectKey))
	}

	if !allCommitted {
		s.logger.Warn("upload batch not fully committed, item left pending", "content_id", item.ID)
		resp.Status = item.Status
		return resp, nil
	}

	item.RawSourceURLs = uris
	item.Status = simplemedia.StatusRawUploaded
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return nil, &simplemedia.ContentError{ContentID: item.ID, Op: "complete_uploads", Err: fmt.Errorf("record raw sources: %w", err)}
	}

	s.logger.Info("raw media uploaded", "content_id", item.ID, "category", item.Category, "sources", len(uris))
	resp.Status = item.Status
	return resp, nil
}

// AbortUpload releases one session on the configured bucket.
func (s *Service) AbortUpload(ctx context.Context, objectKey, uploadID string) error {
	return s.coordinator.Abort(ctx, s.store.Bucket(), objectKey, uploadID)
}

func (s *Service) loadUploadable(ctx context.Context, id uuid.UUID, op string) (*simplemedia.ContentItem, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, &simplemedia.ContentError{ContentID: id, Op: op, Err: err}
	}
	if err := simplemedia.CanStartUpload(item.Status); err != nil {
		return nil, &simplemedia.ContentError{ContentID: id, Op: op, Err: err}
	}
	return item, nil
}
