// Package firestore implements the result catalog on Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"detectionapi/internal/config"
	"detectionapi/internal/model"
	"detectionapi/internal/repository"
)

var _ repository.Catalog = (*ResultRepository)(nil)

// ResultRepository stores one document per result, keyed by id, in a single collection.
// Recency comes from the server-assigned created_at timestamp.
type ResultRepository struct {
	client     *firestore.Client
	collection string
}

func New(ctx context.Context, cfg config.CatalogConfig, credentialsFile string) (*ResultRepository, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: failed to create client: %w", err)
	}
	return &ResultRepository{client: client, collection: cfg.Collection}, nil
}

func (r *ResultRepository) col() *firestore.CollectionRef {
	return r.client.Collection(r.collection)
}

// Commit writes the record; created_at is set by the server.
func (r *ResultRepository) Commit(ctx context.Context, record *model.ResultRecord) error {
	doc := *record
	doc.Detections = doc.Detections.NonNil()
	doc.CreatedAt = time.Time{}

	result, err := r.col().Doc(record.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore: failed to write %s: %w", record.ID, err)
	}
	record.CreatedAt = result.UpdateTime
	return nil
}

func (r *ResultRepository) Latest(ctx context.Context) (*model.ResultRecord, error) {
	records, err := r.query(ctx, r.col().OrderBy("created_at", firestore.Desc).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, repository.ErrNotFound
	}
	return &records[0], nil
}

func (r *ResultRepository) Get(ctx context.Context, id string) (*model.ResultRecord, error) {
	snap, err := r.col().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: failed to get %s: %w", id, err)
	}
	return decode(snap)
}

func (r *ResultRepository) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.col().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("firestore: failed to check %s: %w", id, err)
	}
	return true, nil
}

func (r *ResultRepository) List(ctx context.Context, limit, offset int) ([]model.ResultRecord, error) {
	return r.query(ctx, r.col().OrderBy("created_at", firestore.Desc).Offset(offset).Limit(limit))
}

func (r *ResultRepository) Count(ctx context.Context) (int, error) {
	res, err := r.col().NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("firestore: failed to count results: %w", err)
	}
	v, ok := res["all"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("firestore: unexpected count result %T", res["all"])
	}
	return int(v.GetIntegerValue()), nil
}

func (r *ResultRepository) Close() error {
	return r.client.Close()
}

func (r *ResultRepository) query(ctx context.Context, q firestore.Query) ([]model.ResultRecord, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	records := []model.ResultRecord{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: failed to query results: %w", err)
		}
		rec, err := decode(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func decode(snap *firestore.DocumentSnapshot) (*model.ResultRecord, error) {
	var rec model.ResultRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("firestore: failed to decode %s: %w", snap.Ref.ID, err)
	}
	if rec.ID == "" {
		rec.ID = snap.Ref.ID
	}
	rec.Detections = rec.Detections.NonNil()
	return &rec, nil
}
