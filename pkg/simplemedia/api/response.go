package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

const statusError = "error"

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Status: statusError, Error: err.Error()})
}

// writeServiceError maps domain errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "op", op, "error", err)
	} else {
		logger.Warn("request rejected", "op", op, "status", status, "error", err)
	}
	writeError(w, r, status, err)
}

func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, simplemedia.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, simplemedia.ErrInvalidContentStatus):
		return http.StatusConflict
	case errors.Is(err, simplemedia.ErrUnknownCategory), errors.Is(err, simplemedia.ErrInvalidPartPlan),
		errors.Is(err, simplemedia.ErrInvalidObjectKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// validationError flattens validator errors into "field: tag" pairs
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Namespace()+": "+fe.Tag())
	}
	return errors.New("invalid request: " + strings.Join(msgs, "; "))
}
