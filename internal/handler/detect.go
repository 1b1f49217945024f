package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"detectionapi/internal/dto"
	"detectionapi/internal/logger"
	"detectionapi/internal/service"
)

const maxDetectBody = 1 << 20

// DetectHandler runs the pipeline for the image named in the request body.
func DetectHandler(processor service.Processor, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.DetectRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDetectBody)).Decode(&req); err != nil {
			respondError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.ImagePath) == "" {
			respondError(w, "No image path provided", http.StatusBadRequest)
			return
		}

		outcome, err := processor.Process(r.Context(), req.ImagePath)
		if err != nil {
			if errors.Is(err, service.ErrImageDecode) {
				respondPipelineError(w, fmt.Sprintf("Could not read image: %v", err), err, http.StatusUnprocessableEntity)
				return
			}
			respondPipelineError(w, fmt.Sprintf("Detection failed: %v", err), err, http.StatusInternalServerError)
			return
		}

		for _, warning := range outcome.Warnings {
			logger.Warning("Detection %s completed with warning: %s", outcome.Record.ID, warning)
		}
		respondJSON(w, dto.NewDetectResponse(outcome.Record, outcome.Warnings), http.StatusOK)
	}
}

func respondPipelineError(w http.ResponseWriter, message string, err error, status int) {
	resp := dto.ErrorResponse{Error: message}
	var se *service.StageError
	if errors.As(err, &se) {
		steps := se.Steps
		resp.Stage = string(se.Stage)
		resp.Steps = &steps
	}
	respondJSON(w, resp, status)
}
