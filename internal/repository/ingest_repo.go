package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"enricher-backend/internal/models"
)

var ErrNotFound = errors.New("not found")

type IngestRepo struct {
	pool *pgxpool.Pool
}

func NewIngestRepo(pool *pgxpool.Pool) *IngestRepo {
	return &IngestRepo{pool: pool}
}

func (r *IngestRepo) Create(ctx context.Context, run *models.IngestRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = "queued"
	}

	query := `INSERT INTO ingest_runs (id, source_url, origin, extract_audio, mode, status, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		run.ID, run.SourceURL, run.Origin, run.ExtractAudio, run.Mode, run.Status, run.RequestedBy,
	).Scan(&run.CreatedAt)
}

func (r *IngestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.IngestRun, error) {
	run := &models.IngestRun{}
	var result []byte
	query := `SELECT id, source_url, origin, extract_audio, mode, status, COALESCE(requested_by, ''),
		outcome, result_json, created_at, completed_at
		FROM ingest_runs WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.SourceURL, &run.Origin, &run.ExtractAudio, &run.Mode, &run.Status, &run.RequestedBy,
		&run.Outcome, &result, &run.CreatedAt, &run.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		run.ResultJSON = json.RawMessage(result)
	}
	return run, nil
}

func (r *IngestRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE ingest_runs SET status = 'processing' WHERE id = $1", id)
	return err
}

// Complete stores the final response body alongside the outcome.
func (r *IngestRepo) Complete(ctx context.Context, id uuid.UUID, outcome string, result any) error {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		"UPDATE ingest_runs SET status = 'completed', outcome = $1, result_json = $2, completed_at = $3 WHERE id = $4",
		outcome, resultBytes, time.Now(), id,
	)
	return err
}
