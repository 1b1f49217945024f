package repository

import (
	"context"
	"errors"

	"detectionapi/internal/model"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("record not found")

// Catalog stores committed result records. Recency is commit order.
type Catalog interface {
	// Create operations
	Commit(ctx context.Context, record *model.ResultRecord) error

	// Read operations
	Latest(ctx context.Context) (*model.ResultRecord, error)
	Get(ctx context.Context, id string) (*model.ResultRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]model.ResultRecord, error)
	Count(ctx context.Context) (int, error)

	Close() error
}
