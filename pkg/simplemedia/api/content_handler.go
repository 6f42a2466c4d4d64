package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// ContentHandler creates and reads content items
type ContentHandler struct {
	repo     simplemedia.Repository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewContentHandler(repo simplemedia.Repository, validate *validator.Validate, logger *slog.Logger) *ContentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentHandler{repo: repo, validate: validate, logger: logger}
}

// CreateContentRequest represents the request to create a content item
type CreateContentRequest struct {
	OwnerID  string `json:"owner_id" validate:"required,uuid"`
	Category string `json:"category" validate:"required,oneof=post_video post_audio post_images darshan_video"`
}

// CreateContent creates a pending item
func (h *ContentHandler) CreateContent(w http.ResponseWriter, r *http.Request) {
	var req CreateContentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}

	category, err := simplemedia.ParseCategory(req.Category)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	item := &simplemedia.ContentItem{
		ID:       uuid.New(),
		OwnerID:  uuid.MustParse(req.OwnerID),
		Category: category,
		Status:   simplemedia.StatusPending,
	}
	if err := h.repo.CreateItem(r.Context(), item); err != nil {
		writeServiceError(w, r, h.logger, "create_content", err)
		return
	}

	h.logger.Info("content created", "content_id", item.ID, "category", item.Category)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, item)
}

// GetContent returns an item by id
func (h *ContentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	id, ok := contentIDParam(w, r)
	if !ok {
		return
	}
	item, err := h.repo.GetItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get_content", err)
		return
	}
	render.JSON(w, r, item)
}

func contentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "content_id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid content ID"))
		return uuid.Nil, false
	}
	return id, true
}
