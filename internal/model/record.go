package model

import "time"

// Artifact categories used as storage key prefixes.
const (
	CategoryAnnotatedImages = "annotated_images"
	CategoryJSONResults     = "json_results"
)

// ResultRecord is the durable outcome of one pipeline run.
type ResultRecord struct {
	ID         string       `json:"id" firestore:"id"`
	Detections DetectionSet `json:"detected_objects" firestore:"results"`
	ImageURL   string       `json:"image_url" firestore:"image_url"`
	JSONURL    string       `json:"json_file_url,omitempty" firestore:"json_url,omitempty"`
	CreatedAt  time.Time    `json:"created_at" firestore:"created_at,serverTimestamp"`
}

// ArtifactKey builds the storage key for an artifact of the given category.
func ArtifactKey(category, id, ext string) string {
	return category + "/" + id + ext
}

// EventDetection is the type of the event broadcast for every committed record.
const EventDetection = "detection"

// ResultEvent is pushed to live subscribers after a record is committed.
type ResultEvent struct {
	Type   string        `json:"type"`
	Record *ResultRecord `json:"record"`
}

// NewResultEvent wraps a committed record.
func NewResultEvent(record *ResultRecord) ResultEvent {
	return ResultEvent{Type: EventDetection, Record: record}
}
