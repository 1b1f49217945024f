package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"detectionapi/internal/dto"
	"detectionapi/internal/logger"
	"detectionapi/internal/model"
	"detectionapi/internal/repository"
)

const (
	defaultPageSize = 24
	maxPageSize     = 100
)

// LatestResultHandler returns the most recently committed record.
func LatestResultHandler(catalog repository.Catalog, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := catalog.Latest(r.Context())
		if errors.Is(err, repository.ErrNotFound) {
			respondJSON(w, dto.MessageResponse{Message: "No detections found"}, http.StatusOK)
			return
		}
		if err != nil {
			logger.Error("Error querying latest result: %v", err)
			respondError(w, fmt.Sprintf("Failed to load latest result: %v", err), http.StatusInternalServerError)
			return
		}
		respondJSON(w, record, http.StatusOK)
	}
}

// GetResultHandler returns one record by id.
func GetResultHandler(catalog repository.Catalog, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		record, err := catalog.Get(r.Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, "Result not found: "+id, http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Error querying result %s: %v", id, err)
			respondError(w, "Failed to load result", http.StatusInternalServerError)
			return
		}
		respondJSON(w, record, http.StatusOK)
	}
}

// ListResultsHandler returns a page of committed records, newest first.
func ListResultsHandler(catalog repository.Catalog, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), defaultPageSize)
		if limit > maxPageSize {
			limit = maxPageSize
		}

		records, err := catalog.List(r.Context(), limit, (page-1)*limit)
		if err != nil {
			logger.Error("Error querying results from catalog: %v", err)
			respondError(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []model.ResultRecord{}
		}

		totalCount, err := catalog.Count(r.Context())
		if err != nil {
			logger.Error("Error counting results: %v", err)
			totalCount = len(records)
		}

		respondJSON(w, dto.ResultsData{
			Results:     records,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}, http.StatusOK)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
