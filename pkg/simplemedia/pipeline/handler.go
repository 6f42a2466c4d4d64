package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/transcode"
)

// Handler is the per-category part of the pipeline.
type Handler interface {
	Category() simplemedia.Category

	// Encode writes the artifacts of one raw source into outputDir.
	Encode(ctx context.Context, inputPath, outputDir string) error

	ContentTypeFor(fileName string) string

	// OnOutputProduced records the public URL of an uploaded artifact on item.
	OnOutputProduced(item *simplemedia.ContentItem, fileName, publicURL string)

	// Persist writes item, including its new status, in one update.
	Persist(ctx context.Context, item *simplemedia.ContentItem) error
}

type baseHandler struct {
	category simplemedia.Category
	encoder  transcode.Encoder
	repo     simplemedia.Repository
}

func (h *baseHandler) Category() simplemedia.Category {
	return h.category
}

func (h *baseHandler) Encode(ctx context.Context, inputPath, outputDir string) error {
	return h.encoder.Encode(ctx, inputPath, outputDir)
}

func (h *baseHandler) ContentTypeFor(fileName string) string {
	return ContentTypeFor(fileName)
}

func (h *baseHandler) Persist(ctx context.Context, item *simplemedia.ContentItem) error {
	return h.repo.UpdateItem(ctx, item)
}

// VideoHandler publishes an HLS playlist as VideoURL and the thumbnail as ThumbnailURL.
type VideoHandler struct {
	baseHandler
}

func NewVideoHandler(category simplemedia.Category, encoder transcode.Encoder, repo simplemedia.Repository) *VideoHandler {
	return &VideoHandler{baseHandler{category: category, encoder: encoder, repo: repo}}
}

func (h *VideoHandler) OnOutputProduced(item *simplemedia.ContentItem, fileName, publicURL string) {
	switch fileName {
	case transcode.PlaylistName:
		item.VideoURL = publicURL
	case transcode.ThumbnailName:
		item.ThumbnailURL = publicURL
	}
}

// AudioHandler publishes an HLS playlist as AudioURL.
type AudioHandler struct {
	baseHandler
}

func NewAudioHandler(category simplemedia.Category, encoder transcode.Encoder, repo simplemedia.Repository) *AudioHandler {
	return &AudioHandler{baseHandler{category: category, encoder: encoder, repo: repo}}
}

func (h *AudioHandler) OnOutputProduced(item *simplemedia.ContentItem, fileName, publicURL string) {
	if fileName == transcode.PlaylistName {
		item.AudioURL = publicURL
	}
}

// ImagesHandler appends every produced image to ImageURLs, in source order.
type ImagesHandler struct {
	baseHandler
}

func NewImagesHandler(category simplemedia.Category, encoder transcode.Encoder, repo simplemedia.Repository) *ImagesHandler {
	return &ImagesHandler{baseHandler{category: category, encoder: encoder, repo: repo}}
}

func (h *ImagesHandler) OnOutputProduced(item *simplemedia.ContentItem, fileName, publicURL string) {
	if strings.HasPrefix(ContentTypeFor(fileName), "image/") {
		item.ImageURLs = append(item.ImageURLs, publicURL)
	}
}

// Registry resolves the handler of a category.
type Registry struct {
	handlers map[simplemedia.Category]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[simplemedia.Category]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Category()] = h
	}
	return r
}

// Get returns the handler registered for category
func (r *Registry) Get(category simplemedia.Category) (Handler, error) {
	h, ok := r.handlers[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", simplemedia.ErrUnknownCategory, category)
	}
	return h, nil
}

// DefaultRegistry wires the ffmpeg encoders to every known category.
func DefaultRegistry(repo simplemedia.Repository, runner transcode.Runner, settings transcode.Settings) *Registry {
	video := transcode.NewVideoEncoder(runner, settings)
	return NewRegistry(
		NewVideoHandler(simplemedia.CategoryPostVideo, video, repo),
		NewVideoHandler(simplemedia.CategoryDarshanVideo, video, repo),
		NewAudioHandler(simplemedia.CategoryPostAudio, transcode.NewAudioEncoder(runner, settings), repo),
		NewImagesHandler(simplemedia.CategoryPostImages, transcode.NewImageEncoder(runner, settings), repo),
	)
}

// baseName is the file name the raw object is staged under.
func baseName(key string) string {
	name := filepath.Base(key)
	if name == "." || name == ".." || name == "/" || name == "" {
		return "source"
	}
	return name
}
