package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Repository implements simplemedia.Repository using in-memory storage
type Repository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*simplemedia.ContentItem
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		items: make(map[uuid.UUID]*simplemedia.ContentItem),
	}
}

func (r *Repository) CreateItem(ctx context.Context, item *simplemedia.ContentItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.ID]; exists {
		return fmt.Errorf("content item %s already exists", item.ID)
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	// Store a copy to avoid external modifications
	r.items[item.ID] = item.Clone()
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (*simplemedia.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[id]
	if !exists {
		return nil, simplemedia.ErrContentNotFound
	}
	return item.Clone(), nil
}

func (r *Repository) UpdateItem(ctx context.Context, item *simplemedia.ContentItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.items[item.ID]
	if !exists {
		return simplemedia.ErrContentNotFound
	}

	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	r.items[item.ID] = item.Clone()
	return nil
}

// ListItems returns matching items oldest first. Empty filter fields match everything.
func (r *Repository) ListItems(ctx context.Context, params simplemedia.ListItemsParams) ([]*simplemedia.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simplemedia.ContentItem
	for _, item := range r.items {
		if params.Category != "" && item.Category != params.Category {
			continue
		}
		if params.Status != "" && item.Status != params.Status {
			continue
		}
		result = append(result, item.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	if params.Offset > 0 {
		if params.Offset >= len(result) {
			return []*simplemedia.ContentItem{}, nil
		}
		result = result[params.Offset:]
	}
	if params.Limit > 0 && len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}

var _ simplemedia.Repository = (*Repository)(nil)
