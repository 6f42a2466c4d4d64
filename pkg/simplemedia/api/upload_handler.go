package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/tendant/simple-media/pkg/simplemedia/upload"
)

// UploadHandler exposes the multipart upload flow
type UploadHandler struct {
	service  *upload.Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewUploadHandler(service *upload.Service, validate *validator.Validate, logger *slog.Logger) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{service: service, validate: validate, logger: logger}
}

// InitUploads opens one multipart session per file and returns the presigned parts
func (h *UploadHandler) InitUploads(w http.ResponseWriter, r *http.Request) {
	id, ok := contentIDParam(w, r)
	if !ok {
		return
	}
	var req upload.InitUploadsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}
	req.ContentID = id

	resp, err := h.service.InitUploads(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "init_uploads", err)
		return
	}
	render.JSON(w, r, resp)
}

// CompleteUploads finalizes the sessions of an item
func (h *UploadHandler) CompleteUploads(w http.ResponseWriter, r *http.Request) {
	id, ok := contentIDParam(w, r)
	if !ok {
		return
	}
	var req upload.CompleteUploadsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}
	req.ContentID = id

	resp, err := h.service.CompleteUploads(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "complete_uploads", err)
		return
	}
	render.JSON(w, r, resp)
}

// AbortUploadRequest identifies one multipart session
type AbortUploadRequest struct {
	ObjectKey string `json:"object_key" validate:"required"`
	UploadID  string `json:"upload_id" validate:"required"`
}

// AbortUpload releases a session; unknown sessions succeed
func (h *UploadHandler) AbortUpload(w http.ResponseWriter, r *http.Request) {
	var req AbortUploadRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}

	if err := h.service.AbortUpload(r.Context(), req.ObjectKey, req.UploadID); err != nil {
		writeServiceError(w, r, h.logger, "abort_upload", err)
		return
	}
	h.logger.Info("upload aborted", "object_key", req.ObjectKey, "upload_id", req.UploadID)
	w.WriteHeader(http.StatusNoContent)
}
