package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkravets/vidprep/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5. It preserves
// the same lifecycle invariants as MemoryStore; per-id atomicity comes from
// a row lock held across the read-validate-write cycle.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

const jobColumns = `id, status, progress, current_step, input, result, error, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Status, &j.Progress, &j.CurrentStep, &j.Input,
		&j.Result, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) Create(ctx context.Context, input models.JobInput) (*models.Job, error) {
	now := time.Now().UTC()
	job := models.Job{
		ID:          uuid.New(),
		Status:      models.JobStatusPending,
		Progress:    0,
		CurrentStep: "queued",
		Input:       input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, progress, current_step, input, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Status, job.Progress, job.CurrentStep, job.Input, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, opts ...UpdateOption) (*models.Job, error) {
	var p updateParams
	for _, opt := range opts {
		opt(&p)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	if err := applyUpdate(job, p, time.Now().UTC()); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET status = $2, progress = $3, current_step = $4, result = $5,
		        error = $6, updated_at = $7, completed_at = $8
		 WHERE id = $1`,
		job.ID, job.Status, job.Progress, job.CurrentStep, job.Result,
		job.Error, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.Status, &j.Progress, &j.CurrentStep, &j.Input,
			&j.Result, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
