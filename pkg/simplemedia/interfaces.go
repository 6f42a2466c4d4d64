package simplemedia

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MultipartStore is the part of the object store used by the upload coordinator.
type MultipartStore interface {
	// PresignPut returns a URL for a single-request upload.
	PresignPut(ctx context.Context, bucket, key, contentType string, expiry time.Duration) (string, error)

	// InitiateMultipart opens a multipart session and returns its upload id.
	InitiateMultipart(ctx context.Context, bucket, key, contentType string) (string, error)

	// PresignUploadPart returns a time-bounded URL for uploading one part.
	PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, contentLength int64, expiry time.Duration) (string, error)

	// CompleteMultipart commits the session using the given parts.
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error

	// AbortMultipart releases the session. Implementations treat an unknown upload as success.
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error

	// ListParts returns the store's authoritative list of uploaded parts.
	ListParts(ctx context.Context, bucket, key, uploadID string) ([]CompletedPart, error)
}

// ObjectStore is the object store gateway used by the upload and transform paths.
type ObjectStore interface {
	MultipartStore

	// Bucket returns the bucket uploads are written to.
	Bucket() string

	// ObjectURI returns the canonical s3://bucket/key locator for a key in Bucket.
	ObjectURI(key string) string

	// GetObject downloads the object identified by uri into localPath.
	GetObject(ctx context.Context, uri, localPath string) error

	// PutObject uploads localFile and returns the public URL of the stored object.
	PutObject(ctx context.Context, bucket, key, localFile, contentType string) (string, error)

	// MarkForExpiration flags the object so the bucket lifecycle removes it.
	MarkForExpiration(ctx context.Context, uri string) error
}

// ListItemsParams filters content items.
type ListItemsParams struct {
	Category Category
	Status   ContentStatus
	Limit    int
	Offset   int
}

// Repository persists content items.
type Repository interface {
	CreateItem(ctx context.Context, item *ContentItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*ContentItem, error)
	// UpdateItem replaces every mutable field of the item in one write.
	UpdateItem(ctx context.Context, item *ContentItem) error
	ListItems(ctx context.Context, params ListItemsParams) ([]*ContentItem, error)
}
