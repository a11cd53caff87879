package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/pipeline"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "file", Message: "must be a .csv file"}
	assert.Equal(t, "validation error: file - must be a .csv file", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "run in progress",
			err:      ErrRunInProgress,
			expected: http.StatusConflict,
		},
		{
			name:     "validation",
			err:      &ErrValidation{Field: "file", Message: "required"},
			expected: http.StatusBadRequest,
		},
		{
			name:     "wrapped validation",
			err:      fmt.Errorf("upload: %w", &ErrValidation{Field: "file", Message: "required"}),
			expected: http.StatusBadRequest,
		},
		{
			name:     "missing artifact",
			err:      &pipeline.StageError{Stage: agents.StageClean, Err: pipeline.ErrArtifactMissing},
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "stage failure",
			err:      &pipeline.StageError{Stage: agents.StageAnalyze, Err: errors.New("quota exceeded")},
			expected: http.StatusBadGateway,
		},
		{
			name:     "unknown",
			err:      errors.New("disk full"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
