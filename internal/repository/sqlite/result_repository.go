package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"detectionapi/internal/model"
	"detectionapi/internal/repository"
)

var _ repository.Catalog = (*ResultRepository)(nil)

// ResultRepository implements repository.Catalog for SQLite.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new SQLite result repository.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Commit stores the record and its detections in a single transaction.
// An existing record with the same id is replaced and becomes the most recent.
func (r *ResultRepository) Commit(ctx context.Context, record *model.ResultRecord) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM detections WHERE result_seq IN (SELECT seq FROM results WHERE id = ?)
	`, record.ID); err != nil {
		return fmt.Errorf("failed to clear previous detections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE id = ?`, record.ID); err != nil {
		return fmt.Errorf("failed to clear previous result: %w", err)
	}

	createdAt := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO results (id, image_url, json_url, created_at)
		VALUES (?, ?, ?, ?)
	`, record.ID, record.ImageURL, record.JSONURL, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read result sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (result_seq, position, object_name, confidence, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, det := range record.Detections {
		if _, err := stmt.ExecContext(ctx, seq, i, det.Label, det.Confidence, det.Box.X1, det.Box.Y1, det.Box.X2, det.Box.Y2); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	record.CreatedAt = createdAt
	return nil
}

// Latest returns the most recently committed record.
func (r *ResultRepository) Latest(ctx context.Context) (*model.ResultRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.queryOne(ctx, `
		SELECT seq, id, image_url, json_url, created_at
		FROM results ORDER BY seq DESC LIMIT 1
	`)
}

// Get retrieves a record by its id.
func (r *ResultRepository) Get(ctx context.Context, id string) (*model.ResultRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.queryOne(ctx, `
		SELECT seq, id, image_url, json_url, created_at
		FROM results WHERE id = ?
	`, id)
}

// Exists reports whether a record with the id has been committed.
func (r *ResultRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var n int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM results WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check result: %w", err)
	}
	return n > 0, nil
}

// List returns records newest first.
func (r *ResultRepository) List(ctx context.Context, limit, offset int) ([]model.ResultRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT seq, id, image_url, json_url, created_at
		FROM results ORDER BY seq DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}

	// Rows must be closed before the detection queries run on the single connection.
	var seqs []int64
	records := []model.ResultRecord{}
	for rows.Next() {
		var seq int64
		var rec model.ResultRecord
		if err := rows.Scan(&seq, &rec.ID, &rec.ImageURL, &rec.JSONURL, &rec.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		seqs = append(seqs, seq)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	rows.Close()

	for i, seq := range seqs {
		dets, err := r.detections(ctx, seq)
		if err != nil {
			return nil, err
		}
		records[i].Detections = dets
	}
	return records, nil
}

// Count returns the number of committed records.
func (r *ResultRepository) Count(ctx context.Context) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (r *ResultRepository) Close() error {
	return r.db.Close()
}

func (r *ResultRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*model.ResultRecord, error) {
	var seq int64
	var rec model.ResultRecord
	err := r.db.Conn().QueryRowContext(ctx, query, args...).
		Scan(&seq, &rec.ID, &rec.ImageURL, &rec.JSONURL, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	rec.Detections, err = r.detections(ctx, seq)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ResultRepository) detections(ctx context.Context, seq int64) (model.DetectionSet, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT object_name, confidence, x1, y1, x2, y2
		FROM detections WHERE result_seq = ? ORDER BY position
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	dets := model.DetectionSet{}
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.Label, &det.Confidence, &det.Box.X1, &det.Box.Y1, &det.Box.X2, &det.Box.Y2); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		dets = append(dets, det)
	}
	return dets, rows.Err()
}
