package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tendant/become-image-pipeline/internal/runs"
	"github.com/tendant/become-image-pipeline/internal/workflows"
	"github.com/tendant/become-image-pipeline/internal/workspace"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// Predictor runs and tracks predictions
type Predictor interface {
	Predict(ctx context.Context, req pipeline.PredictRequest) (*pipeline.PredictResponse, error)
	Enqueue(ctx context.Context, req pipeline.PredictRequest) (string, error)
	Status(ctx context.Context, runID string) (*runs.Record, error)
}

// Handler serves the prediction API
type Handler struct {
	predictor Predictor
	inputRoot string
	logger    zerolog.Logger
}

// NewHandler creates a new handler. Requests may name local files only below inputRoot;
// with an empty inputRoot every image must be given by content_id.
func NewHandler(predictor Predictor, inputRoot string, logger zerolog.Logger) *Handler {
	return &Handler{
		predictor: predictor,
		inputRoot: inputRoot,
		logger:    logger,
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusCode maps a pipeline error onto an HTTP status
func StatusCode(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrMissingInput),
		errors.Is(err, pipeline.ErrUnsupportedFormat),
		errors.Is(err, pipeline.ErrInvalidParameter),
		errors.Is(err, workflows.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUnsafeInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrEngineFailure):
		return http.StatusBadGateway
	case errors.Is(err, runs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflows.ErrAsyncDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeRequest reads a prediction request, applying defaults for omitted fields
func decodeRequest(r *http.Request) (pipeline.PredictRequest, error) {
	req := pipeline.NewPredictRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

// checkPaths confines filesystem inputs to the input root, following symlinks
func (h *Handler) checkPaths(req pipeline.PredictRequest) error {
	for _, ref := range []pipeline.ImageRef{req.Image, req.ImageToBecome} {
		if ref.Path == "" {
			continue
		}
		if h.inputRoot == "" {
			return fmt.Errorf("%w: local paths are not accepted, upload %s and pass its content_id", workflows.ErrInvalidRequest, ref.Path)
		}

		root, err := filepath.EvalSymlinks(h.inputRoot)
		if err != nil {
			return fmt.Errorf("input root %s: %w", h.inputRoot, err)
		}
		path, err := filepath.EvalSymlinks(ref.Path)
		if err != nil {
			return fmt.Errorf("%w: cannot resolve %s", workflows.ErrInvalidRequest, ref.Path)
		}
		if !workspace.IsWithin(root, path) {
			return fmt.Errorf("%w: %s is outside the input root", workflows.ErrInvalidRequest, ref.Path)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		h.logger.Info().Err(err).Int("status", status).Msg("Request rejected")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
