package simplemedia

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrContentNotFound indicates a content item was not found
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidContentStatus indicates the item is not in a status that allows the operation
	ErrInvalidContentStatus = errors.New("invalid content status")

	// ErrUnknownCategory indicates a category with no registered handler or an unparsable value
	ErrUnknownCategory = errors.New("unknown category")

	// ErrInvalidPartPlan indicates a total size or chunk size that cannot be planned
	ErrInvalidPartPlan = errors.New("invalid part plan")

	// ErrObjectNotFound indicates an object was not found in the store
	ErrObjectNotFound = errors.New("object not found")

	// ErrUploadNotFound indicates the multipart upload id is unknown to the store
	ErrUploadNotFound = errors.New("upload not found")

	// ErrInvalidObjectURI indicates a raw source locator that is not s3://bucket/key
	ErrInvalidObjectURI = errors.New("invalid object uri")

	// ErrInvalidObjectKey indicates a completion for a key that was not issued to the item
	ErrInvalidObjectKey = errors.New("invalid object key")
)

// ContentError represents an error related to content operations
type ContentError struct {
	ContentID uuid.UUID
	Op        string
	Err       error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content operation %s failed for content %s: %v", e.Op, e.ContentID, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
