package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no prediction has the requested ID
var ErrNotFound = errors.New("prediction not found")

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// InsertPrediction stores p
func (r *Repository) InsertPrediction(ctx context.Context, p *Prediction) error {
	scores, err := json.Marshal(p.Scores)
	if err != nil {
		return fmt.Errorf("failed to encode scores: %w", err)
	}
	record, err := json.Marshal(p.Record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	var native sql.NullBool
	if p.NativeAgrees != nil {
		native = sql.NullBool{Bool: *p.NativeAgrees, Valid: true}
	}

	stmt, err := r.db.GetPreparedStatement("insert_prediction")
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx,
		p.ID, p.RequestID, p.ModelName, p.ModelVersion, p.ClassIndex, p.Label,
		p.Score, string(scores), string(record), native, p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// GetPrediction loads one prediction by ID
func (r *Repository) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	stmt, err := r.db.GetPreparedStatement("get_prediction")
	if err != nil {
		return nil, err
	}

	var (
		p         Prediction
		requestID sql.NullString
		scores    string
		record    string
		native    sql.NullBool
		createdAt int64
	)
	err = stmt.QueryRowContext(ctx, id).Scan(
		&p.ID, &requestID, &p.ModelName, &p.ModelVersion, &p.ClassIndex, &p.Label,
		&p.Score, &scores, &record, &native, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prediction: %w", err)
	}

	if err := json.Unmarshal([]byte(scores), &p.Scores); err != nil {
		return nil, fmt.Errorf("failed to decode scores: %w", err)
	}
	if err := json.Unmarshal([]byte(record), &p.Record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	p.RequestID = requestID.String
	if native.Valid {
		agrees := native.Bool
		p.NativeAgrees = &agrees
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()

	return &p, nil
}

// PurgeBefore deletes predictions created before cutoff and returns how many
// rows went.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	stmt, err := r.db.GetPreparedStatement("purge_predictions")
	if err != nil {
		return 0, err
	}

	res, err := stmt.ExecContext(ctx, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge predictions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// LabelCounts returns how often each label was predicted by a model
func (r *Repository) LabelCounts(ctx context.Context, modelName string) ([]LabelCount, error) {
	stmt, err := r.db.GetPreparedStatement("label_counts")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}
	defer rows.Close()

	counts := []LabelCount{}
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts = append(counts, lc)
	}
	return counts, rows.Err()
}
