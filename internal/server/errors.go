package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/auto-analyzer/internal/pipeline"
)

// ErrRunInProgress is returned when a run is requested while another is executing.
// Runs share one working directory, so only one may execute at a time.
var ErrRunInProgress = errors.New("an analysis is already running")

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var validationErr *ErrValidation
	var stageErr *pipeline.StageError
	switch {
	case errors.Is(err, ErrRunInProgress):
		return http.StatusConflict
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrArtifactMissing):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stageErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
