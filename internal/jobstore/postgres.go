package jobstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// Postgres persists job records in the speech_jobs table.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

const jobColumns = `id, hash, request, lane, status, attempts, max_attempts,
	last_error, claimed_by, artifact_ref, cancel_requested, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, job speech.Job) error {
	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO speech_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Hash, req, job.Lane, job.Status, job.Attempts, job.MaxAttempts,
		job.LastError, job.ClaimedBy, job.ArtifactRef, job.CancelRequested,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (speech.Job, error) {
	row := p.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM speech_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (p *Postgres) Update(ctx context.Context, id string, fn func(*speech.Job) error) (speech.Job, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return speech.Job{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM speech_jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if err != nil {
		return speech.Job{}, err
	}

	if err := fn(&job); err != nil {
		return speech.Job{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE speech_jobs
		SET lane = $2, status = $3, attempts = $4, last_error = $5,
		    claimed_by = $6, artifact_ref = $7, cancel_requested = $8, updated_at = $9
		WHERE id = $1`,
		job.ID, job.Lane, job.Status, job.Attempts, job.LastError,
		job.ClaimedBy, job.ArtifactRef, job.CancelRequested, job.UpdatedAt,
	)
	if err != nil {
		return speech.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return speech.Job{}, fmt.Errorf("commit update: %w", err)
	}
	return job, nil
}

func (p *Postgres) ListByStatus(ctx context.Context, status speech.JobStatus, limit int) ([]speech.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM speech_jobs WHERE status = $1 ORDER BY updated_at`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status %s: %w", status, err)
	}
	defer rows.Close()

	var out []speech.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (speech.Job, error) {
	var job speech.Job
	var req []byte
	err := row.Scan(
		&job.ID, &job.Hash, &req, &job.Lane, &job.Status, &job.Attempts,
		&job.MaxAttempts, &job.LastError, &job.ClaimedBy, &job.ArtifactRef,
		&job.CancelRequested, &job.CreatedAt, &job.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return speech.Job{}, ErrNotFound
	}
	if err != nil {
		return speech.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(req, &job.Request); err != nil {
		return speech.Job{}, fmt.Errorf("unmarshal request: %w", err)
	}
	return job, nil
}
