// Package upload coordinates chunked multipart uploads that clients write
// directly to the object store through presigned part URLs.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
)

// MaxParts is the S3 limit on parts per multipart upload.
const MaxParts = 10000

// DefaultPresignExpiry bounds every presigned part URL.
const DefaultPresignExpiry = 10 * time.Minute

// Coordinator runs the multipart protocol against a MultipartStore.
// It holds no per-session state; the store owns the session.
type Coordinator struct {
	store         simplemedia.MultipartStore
	presignExpiry time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithPresignExpiry overrides the lifetime of presigned part URLs
func WithPresignExpiry(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.presignExpiry = d
		}
	}
}

// WithMetrics records completion outcomes
func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewCoordinator(store simplemedia.MultipartStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:         store,
		presignExpiry: DefaultPresignExpiry,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitiateRequest opens an upload session.
type InitiateRequest struct {
	Bucket         string
	ObjectKey      string
	ContentType    string
	TotalSize      int64
	AllowedMaxSize int64
}

// InitiateResult reports the session id. Status COMPLETED means initiation succeeded.
type InitiateResult struct {
	UploadID    string
	Status      simplemedia.UploadState
	AbortReason simplemedia.AbortReason
}

// Initiate opens a multipart session unless the declared size is over the ceiling,
// in which case the store is never contacted.
func (c *Coordinator) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if req.TotalSize > req.AllowedMaxSize {
		c.logger.Info("upload rejected before initiation", "object_key", req.ObjectKey, "total_size", req.TotalSize, "allowed_max_size", req.AllowedMaxSize)
		return InitiateResult{Status: simplemedia.UploadAborted, AbortReason: simplemedia.AbortReasonTotalSizeTooLarge}, nil
	}

	uploadID, err := c.store.InitiateMultipart(ctx, req.Bucket, req.ObjectKey, req.ContentType)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("initiate multipart upload for %s: %w", req.ObjectKey, err)
	}

	c.logger.Info("multipart upload initiated", "object_key", req.ObjectKey, "upload_id", uploadID, "total_size", req.TotalSize)
	return InitiateResult{UploadID: uploadID, Status: simplemedia.UploadCompleted}, nil
}

// PresignRequest asks for the part plan of an open session.
type PresignRequest struct {
	Bucket         string
	ObjectKey      string
	UploadID       string
	TotalSize      int64
	ChunkSize      int64
	AllowedMaxSize int64
}

// PresignResult carries the plan and one URL per part number.
type PresignResult struct {
	ChunkSize   int64
	TotalParts  int
	Parts       []simplemedia.PlannedPart
	PartURLs    map[int32]string
	ExpiresAt   time.Time
	Status      simplemedia.UploadState
	AbortReason simplemedia.AbortReason
}

// PlanAndPresign computes the part plan and presigns every part in [1, totalParts].
func (c *Coordinator) PlanAndPresign(ctx context.Context, req PresignRequest) (PresignResult, error) {
	if req.TotalSize > req.AllowedMaxSize {
		return PresignResult{Status: simplemedia.UploadAborted, AbortReason: simplemedia.AbortReasonTotalSizeTooLarge}, nil
	}

	parts, err := PlanParts(req.TotalSize, req.ChunkSize)
	if err != nil {
		return PresignResult{}, err
	}

	expiresAt := time.Now().Add(c.presignExpiry)
	urls := make(map[int32]string, len(parts))
	for _, p := range parts {
		url, err := c.store.PresignUploadPart(ctx, req.Bucket, req.ObjectKey, req.UploadID, p.PartNumber, p.ContentLength, c.presignExpiry)
		if err != nil {
			return PresignResult{}, fmt.Errorf("presign part %d of %s: %w", p.PartNumber, req.UploadID, err)
		}
		urls[p.PartNumber] = url
	}

	return PresignResult{
		ChunkSize:  req.ChunkSize,
		TotalParts: len(parts),
		Parts:      parts,
		PartURLs:   urls,
		ExpiresAt:  expiresAt,
		Status:     simplemedia.UploadCompleted,
	}, nil
}

// CompleteRequest closes a session with the parts the client reports.
type CompleteRequest struct {
	Bucket         string
	ObjectKey      string
	UploadID       string
	ClientParts    []simplemedia.CompletedPart
	AllowedMaxSize int64
}

// CompleteResult reports whether the object was committed.
type CompleteResult struct {
	Status      simplemedia.UploadState
	AbortReason simplemedia.AbortReason
	TotalSize   int64
}

// Complete validates the client's parts against the store's part list and commits
// only when they match exactly and the stored size is within the ceiling.
// Any rejection aborts the store session.
func (c *Coordinator) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	storeParts, err := c.store.ListParts(ctx, req.Bucket, req.ObjectKey, req.UploadID)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("list parts of %s: %w", req.UploadID, err)
	}

	if !PartsMatch(req.ClientParts, storeParts) {
		c.logger.Warn("client parts do not match stored parts", "upload_id", req.UploadID, "object_key", req.ObjectKey,
			"client_parts", len(req.ClientParts), "store_parts", len(storeParts))
		return c.abortWith(ctx, req, simplemedia.AbortReasonPartsNotMatching, 0)
	}

	var total int64
	for _, p := range storeParts {
		total += p.Size
	}
	if total > req.AllowedMaxSize {
		c.logger.Warn("stored upload exceeds size ceiling", "upload_id", req.UploadID, "total_size", total, "allowed_max_size", req.AllowedMaxSize)
		return c.abortWith(ctx, req, simplemedia.AbortReasonTotalSizeTooLarge, total)
	}

	if err := c.store.CompleteMultipart(ctx, req.Bucket, req.ObjectKey, req.UploadID, sortedParts(storeParts)); err != nil {
		return CompleteResult{}, fmt.Errorf("complete multipart upload %s: %w", req.UploadID, err)
	}

	c.logger.Info("multipart upload completed", "upload_id", req.UploadID, "object_key", req.ObjectKey, "total_size", total, "parts", len(storeParts))
	c.metrics.UploadCompleted(string(simplemedia.UploadCompleted), "")
	return CompleteResult{Status: simplemedia.UploadCompleted, TotalSize: total}, nil
}

func (c *Coordinator) abortWith(ctx context.Context, req CompleteRequest, reason simplemedia.AbortReason, total int64) (CompleteResult, error) {
	if err := c.Abort(ctx, req.Bucket, req.ObjectKey, req.UploadID); err != nil {
		return CompleteResult{}, err
	}
	c.metrics.UploadCompleted(string(simplemedia.UploadAborted), string(reason))
	return CompleteResult{Status: simplemedia.UploadAborted, AbortReason: reason, TotalSize: total}, nil
}

// Abort releases the store-side session. Calling it again for the same upload is safe.
func (c *Coordinator) Abort(ctx context.Context, bucket, key, uploadID string) error {
	if err := c.store.AbortMultipart(ctx, bucket, key, uploadID); err != nil {
		return fmt.Errorf("abort multipart upload %s: %w", uploadID, err)
	}
	c.logger.Info("multipart upload aborted", "upload_id", uploadID, "object_key", key)
	return nil
}

// PartsMatch reports whether two part lists are equal element-wise once sorted by part number.
// ETags are compared without surrounding quotes.
func PartsMatch(client, stored []simplemedia.CompletedPart) bool {
	if len(client) != len(stored) {
		return false
	}
	a, b := sortedParts(client), sortedParts(stored)
	for i := range a {
		if a[i].PartNumber != b[i].PartNumber || a[i].Size != b[i].Size || normalizeETag(a[i].ETag) != normalizeETag(b[i].ETag) {
			return false
		}
	}
	return true
}

func sortedParts(parts []simplemedia.CompletedPart) []simplemedia.CompletedPart {
	out := append([]simplemedia.CompletedPart(nil), parts...)
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out
}

func normalizeETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), "\"")
}
