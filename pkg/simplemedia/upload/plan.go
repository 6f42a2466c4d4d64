package upload

import (
	"fmt"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// PlanParts splits totalSize into contiguous 1-based parts of chunkSize bytes.
// The last part carries the remainder, or a full chunk when the size divides evenly.
func PlanParts(totalSize, chunkSize int64) ([]simplemedia.PlannedPart, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("%w: total size must be positive, got %d", simplemedia.ErrInvalidPartPlan, totalSize)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", simplemedia.ErrInvalidPartPlan, chunkSize)
	}

	totalParts := (totalSize + chunkSize - 1) / chunkSize
	if totalParts > MaxParts {
		return nil, fmt.Errorf("%w: %d parts exceeds the store limit of %d", simplemedia.ErrInvalidPartPlan, totalParts, MaxParts)
	}

	parts := make([]simplemedia.PlannedPart, 0, totalParts)
	for n := int64(1); n <= totalParts; n++ {
		length := chunkSize
		if n == totalParts {
			if rem := totalSize % chunkSize; rem != 0 {
				length = rem
			}
		}
		parts = append(parts, simplemedia.PlannedPart{PartNumber: int32(n), ContentLength: length})
	}
	return parts, nil
}
