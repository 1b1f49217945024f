package handler

import (
	"net/http"

	"detectionapi/internal/dto"
)

// HealthInfo reports the active backends.
type HealthInfo struct {
	Detector string
	Store    string
	Viewers  func() int
}

func HealthHandler(info HealthInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := dto.HealthResponse{Status: "ok", Detector: info.Detector, Store: info.Store}
		if info.Viewers != nil {
			resp.Viewers = info.Viewers()
		}
		respondJSON(w, resp, http.StatusOK)
	}
}
