package simplemedia

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentStatus is the lifecycle state of a content item.
type ContentStatus string

// Content status constants (typed).
const (
	StatusPending          ContentStatus = "pending"
	StatusRawUploaded      ContentStatus = "raw_uploaded"
	StatusProcessed        ContentStatus = "processed"
	StatusProcessingFailed ContentStatus = "processing_failed"
	StatusSuccessNoContent ContentStatus = "success_no_content"
)

// Category identifies both the owning domain (post or darshan) and the media kind.
// It decides which transform handler runs for an item.
type Category string

// Category constants (typed).
const (
	CategoryPostVideo    Category = "post_video"
	CategoryPostAudio    Category = "post_audio"
	CategoryPostImages   Category = "post_images"
	CategoryDarshanVideo Category = "darshan_video"
)

// AllCategories lists every category in scan order.
func AllCategories() []Category {
	return []Category{CategoryPostVideo, CategoryPostAudio, CategoryPostImages, CategoryDarshanVideo}
}

// ParseCategory validates a category string.
func ParseCategory(s string) (Category, error) {
	for _, c := range AllCategories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// ContentItem is a media record whose raw sources are transformed by the pipeline.
//
// Which URL fields are meaningful depends on Category: video categories fill
// VideoURL and ThumbnailURL, audio fills AudioURL, images fills ImageURLs.
type ContentItem struct {
	ID            uuid.UUID     `json:"id"`
	OwnerID       uuid.UUID     `json:"owner_id"`
	Category      Category      `json:"category"`
	RawSourceURLs []string      `json:"raw_source_urls,omitempty"`
	VideoURL      string        `json:"video_url,omitempty"`
	AudioURL      string        `json:"audio_url,omitempty"`
	ThumbnailURL  string        `json:"thumbnail_url,omitempty"`
	ImageURLs     []string      `json:"image_urls,omitempty"`
	Status        ContentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate the item without touching shared state.
func (c *ContentItem) Clone() *ContentItem {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RawSourceURLs = append([]string(nil), c.RawSourceURLs...)
	cp.ImageURLs = append([]string(nil), c.ImageURLs...)
	return &cp
}

// TranscodeJob asks a worker to transform one content item.
// Two jobs are the same job when their keys are equal.
type TranscodeJob struct {
	ContentID uuid.UUID `json:"content_id"`
	Category  Category  `json:"category"`
}

// JobKey is the identity used for queue deduplication.
type JobKey struct {
	ContentID uuid.UUID
	Category  Category
}

// Key returns the dedup identity of the job.
func (j TranscodeJob) Key() JobKey {
	return JobKey{ContentID: j.ContentID, Category: j.Category}
}

func (j TranscodeJob) String() string {
	return fmt.Sprintf("%s/%s", j.Category, j.ContentID)
}

// UploadState is the lifecycle state of an upload session.
type UploadState string

// Upload state constants (typed).
const (
	UploadInProgress UploadState = "IN_PROGRESS"
	UploadCompleted  UploadState = "COMPLETED"
	UploadAborted    UploadState = "ABORTED"
)

// AbortReason explains why an upload session was aborted.
type AbortReason string

// Abort reason constants (typed).
const (
	AbortReasonNone              AbortReason = ""
	AbortReasonTotalSizeTooLarge AbortReason = "TOTAL_SIZE_TOO_LARGE"
	AbortReasonPartsNotMatching  AbortReason = "PARTS_NOT_MATCHING"
)

// UploadSession describes one multipart upload owned by a single request flow.
type UploadSession struct {
	Bucket         string      `json:"bucket"`
	ObjectKey      string      `json:"object_key"`
	UploadID       string      `json:"upload_id"`
	TotalSize      int64       `json:"total_size"`
	ChunkSize      int64       `json:"chunk_size"`
	AllowedMaxSize int64       `json:"allowed_max_size"`
	State          UploadState `json:"state"`
	AbortReason    AbortReason `json:"abort_reason,omitempty"`
}

// PlannedPart is one entry of a part plan.
type PlannedPart struct {
	PartNumber    int32 `json:"part_number"`
	ContentLength int64 `json:"content_length"`
}

// CompletedPart is a part the client reports as uploaded, or the store reports as stored.
type CompletedPart struct {
	PartNumber int32  `json:"part_number"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}
