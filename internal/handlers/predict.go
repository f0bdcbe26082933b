package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// HandleHealth returns health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// HandlePredict handles POST /v1/predict - runs the prediction and returns its outputs
func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("Invalid request: %v", err)})
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.checkPaths(req); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.predictor.Predict(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info().Str("run_id", resp.RunID).Int("outputs", len(resp.Outputs)).Msg("Prediction completed")
	writeJSON(w, http.StatusOK, resp)
}

// HandleEnqueue handles POST /v1/predictions - enqueues the prediction and returns immediately
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("Invalid request: %v", err)})
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.checkPaths(req); err != nil {
		h.writeError(w, err)
		return
	}

	runID, err := h.predictor.Enqueue(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info().Str("run_id", runID).Msg("Prediction enqueued")
	writeJSON(w, http.StatusAccepted, pipeline.EnqueueResponse{RunID: runID})
}

// HandleStatus handles GET /v1/runs/{runID} - returns the run record
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "run_id is required"})
		return
	}

	rec, err := h.predictor.Status(r.Context(), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
