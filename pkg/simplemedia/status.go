package simplemedia

import "fmt"

// CanStartUpload checks whether new upload sessions may be opened for an item.
func CanStartUpload(status ContentStatus) error {
	switch status {
	case StatusPending:
		return nil
	case StatusRawUploaded:
		return fmt.Errorf("%w: raw media already uploaded (status: %s)", ErrInvalidContentStatus, status)
	case StatusProcessed, StatusSuccessNoContent:
		return fmt.Errorf("%w: content already processed (status: %s)", ErrInvalidContentStatus, status)
	case StatusProcessingFailed:
		return fmt.Errorf("%w: content processing failed (status: %s)", ErrInvalidContentStatus, status)
	default:
		return fmt.Errorf("%w: unknown status %s", ErrInvalidContentStatus, status)
	}
}

// IsTerminal reports whether the pipeline is done with an item.
func IsTerminal(status ContentStatus) bool {
	switch status {
	case StatusProcessed, StatusSuccessNoContent, StatusProcessingFailed:
		return true
	default:
		return false
	}
}
