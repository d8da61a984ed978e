package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, type, universe_id, status, stage, progress, attempts, max_attempts,
	run_after, created_at, processed_at, finished_at, updated_at, last_error, result_json`

// EnqueueJob inserts a new job in the waiting state.
func (s *Store) EnqueueJob(ctx context.Context, job Job) error {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = job.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, universe_id, status, stage, progress, attempts, max_attempts,
			run_after, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', 0, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.UniverseID, JobWaiting, job.MaxAttempts,
		formatTime(job.RunAfter), formatTime(job.CreatedAt), formatTime(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimNextJob atomically claims the oldest runnable waiting job.
// Returns nil, nil when no job is ready.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ts := formatTime(now)
	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? AND run_after <= ?
		 ORDER BY run_after ASC, created_at ASC, rowid ASC
		 LIMIT 1`, JobWaiting, ts)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stage = 'claimed', progress = 0, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		JobActive, ts, ts, job.ID, JobWaiting)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Claimed by someone else between the select and the update.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job.Status = JobActive
	job.Stage = "claimed"
	job.Progress = 0
	job.ProcessedAt = now.UTC().Truncate(time.Millisecond)
	job.UpdatedAt = job.ProcessedAt
	return job, nil
}

// CompleteJob marks an active job as completed and stores its result.
func (s *Store) CompleteJob(ctx context.Context, id, resultJSON string, now time.Time) error {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stage = 'completed', progress = 100, result_json = ?,
			last_error = '', finished_at = ?, updated_at = ?
		 WHERE id = ?`,
		JobCompleted, resultJSON, ts, ts, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return checkAffected(res)
}

// RetryJob records a failed attempt and puts the job back in the waiting
// state until runAfter.
func (s *Store) RetryJob(ctx context.Context, id, errMsg string, runAfter, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stage = '', progress = 0, attempts = attempts + 1,
			last_error = ?, run_after = ?, updated_at = ?
		 WHERE id = ?`,
		JobWaiting, errMsg, formatTime(runAfter), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("retry job %s: %w", id, err)
	}
	return checkAffected(res)
}

// FailJob records a final failed attempt and moves the job to failed.
func (s *Store) FailJob(ctx context.Context, id, errMsg string, now time.Time) error {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stage = 'failed', attempts = attempts + 1,
			last_error = ?, finished_at = ?, updated_at = ?
		 WHERE id = ?`,
		JobFailed, errMsg, ts, ts, id)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return checkAffected(res)
}

// UpdateJobProgress records the stage and percentage of an active job.
func (s *Store) UpdateJobProgress(ctx context.Context, id, stage string, progress int, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET stage = ?, progress = ?, updated_at = ? WHERE id = ? AND status = ?`,
		stage, progress, formatTime(now), id, JobActive)
	if err != nil {
		return fmt.Errorf("update job progress %s: %w", id, err)
	}
	return checkAffected(res)
}

// GetJob returns the job with the given id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// NextWaitingJob returns the job ClaimNextJob would pick at now without
// claiming it. Returns nil, nil when nothing is runnable.
func (s *Store) NextWaitingJob(ctx context.Context, now time.Time) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? AND run_after <= ?
		 ORDER BY run_after ASC, created_at ASC, rowid ASC
		 LIMIT 1`, JobWaiting, formatTime(now))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek next job: %w", err)
	}
	return job, nil
}

// CountJobs returns the number of jobs in each state. Every state is present
// in the result, zero when empty.
func (s *Store) CountJobs(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(JobStates))
	for _, st := range JobStates {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// PruneJobs deletes all but the keep most recently finished jobs in status.
// keep <= 0 disables pruning.
func (s *Store) PruneJobs(ctx context.Context, status string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = ? AND id NOT IN (
			SELECT id FROM jobs WHERE status = ?
			ORDER BY finished_at DESC, rowid DESC
			LIMIT ?
		)`, status, status, keep)
	if err != nil {
		return 0, fmt.Errorf("prune %s jobs: %w", status, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RecoverActiveJobs returns jobs left active by a previous process to the
// waiting state so they run again.
func (s *Store) RecoverActiveJobs(ctx context.Context, now time.Time) (int, error) {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stage = '', progress = 0, run_after = ?, updated_at = ?
		 WHERE status = ?`,
		JobWaiting, ts, ts, JobActive)
	if err != nil {
		return 0, fmt.Errorf("recover active jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var runAfter, createdAt, processedAt, finishedAt, updatedAt string
	if err := row.Scan(&j.ID, &j.Type, &j.UniverseID, &j.Status, &j.Stage, &j.Progress,
		&j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &processedAt, &finishedAt,
		&updatedAt, &j.LastError, &j.ResultJSON); err != nil {
		return nil, err
	}

	var err error
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return nil, fmt.Errorf("parse run_after: %w", err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if j.ProcessedAt, err = parseTime(processedAt); err != nil {
		return nil, fmt.Errorf("parse processed_at: %w", err)
	}
	if j.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &j, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
