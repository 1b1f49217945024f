// Package dto holds the request and response payloads of the HTTP API.
package dto

import "detectionapi/internal/model"

// DetectRequest is the body of POST /detect.
type DetectRequest struct {
	ImagePath string `json:"image_path"`
}

// DetectResponse is returned by POST /detect after the record is committed.
type DetectResponse struct {
	ID              string             `json:"id"`
	DetectedObjects model.DetectionSet `json:"detected_objects"`
	ImageURL        string             `json:"image_url"`
	JSONFileURL     string             `json:"json_file_url,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
}

// NewDetectResponse flattens a committed record and its warnings.
func NewDetectResponse(record *model.ResultRecord, warnings []string) DetectResponse {
	return DetectResponse{
		ID:              record.ID,
		DetectedObjects: record.Detections.NonNil(),
		ImageURL:        record.ImageURL,
		JSONFileURL:     record.JSONURL,
		Warnings:        warnings,
	}
}
