package dto

import (
	"detectionapi/internal/model"
	"detectionapi/internal/service"
)

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse carries the failed stage and the completed sub-steps when a pipeline run fails.
type ErrorResponse struct {
	Error string         `json:"error"`
	Stage string         `json:"stage,omitempty"`
	Steps *service.Steps `json:"steps,omitempty"`
}

// ResultsData is a paginated page of committed records, newest first.
type ResultsData struct {
	Results     []model.ResultRecord `json:"results"`
	Length      int                  `json:"length"`
	TotalPages  int                  `json:"totalPages"`
	CurrentPage int                  `json:"currentPage"`
	Limit       int                  `json:"pageSize"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Detector string `json:"detector,omitempty"`
	Store    string `json:"store,omitempty"`
	Viewers  int    `json:"viewers"`
}
