// Package queue implements the durable build job queue: submission, atomic
// claims, retry with exponential backoff, retention and status reads.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/ids"
	"github.com/kalambet/canon/internal/storage"
)

// Job is a build job record.
type Job = storage.Job

// Job states.
const (
	Waiting   = storage.JobWaiting
	Active    = storage.JobActive
	Completed = storage.JobCompleted
	Failed    = storage.JobFailed
)

// Store is the persistence a Queue runs on. storage.Store and MemoryStore
// implement it.
type Store interface {
	EnqueueJob(ctx context.Context, job Job) error
	ClaimNextJob(ctx context.Context, now time.Time) (*Job, error)
	CompleteJob(ctx context.Context, id, resultJSON string, now time.Time) error
	RetryJob(ctx context.Context, id, errMsg string, runAfter, now time.Time) error
	FailJob(ctx context.Context, id, errMsg string, now time.Time) error
	UpdateJobProgress(ctx context.Context, id, stage string, progress int, now time.Time) error
	GetJob(ctx context.Context, id string) (*Job, error)
	NextWaitingJob(ctx context.Context, now time.Time) (*Job, error)
	CountJobs(ctx context.Context) (map[string]int, error)
	PruneJobs(ctx context.Context, status string, keep int) (int, error)
	RecoverActiveJobs(ctx context.Context, now time.Time) (int, error)
}

// ErrPermanent marks failures that must not be retried.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }

// Permanent wraps err so Fail moves the job straight to failed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy controls retries and retention.
type Policy struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	RetainCompleted int // 0 keeps everything
	RetainFailed    int // 0 keeps everything
}

// DefaultPolicy returns 3 attempts, 2s exponential backoff, and keeps the
// last 10 completed and 5 failed jobs.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		BackoffMax:      5 * time.Minute,
		RetainCompleted: 10,
		RetainFailed:    5,
	}
}

// Backoff returns the delay before the next try after the given number of
// failed attempts: base * 2^(attempts-1), capped at BackoffMax.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// Result is stored on a completed job.
type Result struct {
	EntityID   string `json:"entityId"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	UniverseID string `json:"universeId,omitempty"`
	Raw        string `json:"raw,omitempty"`
}

// Stats holds per-state job counts.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Queue owns job lifecycle transitions. It is safe for concurrent use.
type Queue struct {
	store  Store
	policy Policy
	now    func() time.Time
	wake   chan struct{}
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger used for advance and retention messages.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a Queue over store. A zero MaxAttempts falls back to the default.
func New(store Store, policy Policy, opts ...Option) *Queue {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = DefaultPolicy().BackoffBase
	}
	q := &Queue{
		store:  store,
		policy: policy,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Policy returns the queue's retry and retention settings.
func (q *Queue) Policy() Policy { return q.policy }

// Submit validates t and enqueues a new waiting job, returning its ID.
func (q *Queue) Submit(ctx context.Context, t content.Type, universeID string) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", content.ErrUnknownType, string(t))
	}
	now := q.now()
	job := Job{
		ID:          ids.Job(now),
		Type:        string(t),
		UniverseID:  universeID,
		Status:      Waiting,
		MaxAttempts: q.policy.MaxAttempts,
		CreatedAt:   now,
		RunAfter:    now,
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return "", err
	}
	q.signal()
	return job.ID, nil
}

// Claim moves the oldest runnable waiting job to active. Returns nil, nil
// when nothing is runnable.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	return q.store.ClaimNextJob(ctx, q.now())
}

// Complete marks jobID completed with res and applies retention.
func (q *Queue) Complete(ctx context.Context, jobID string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := q.store.CompleteJob(ctx, jobID, string(data), q.now()); err != nil {
		return err
	}
	q.prune(ctx, Completed, q.policy.RetainCompleted)
	return nil
}

// Fail records a failed attempt of job. The job is re-queued with backoff
// while attempts remain and cause is not permanent; otherwise it becomes
// failed. Returns the resulting state.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (string, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	now := q.now()

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.policy.MaxAttempts
	}
	attempts := job.Attempts + 1

	if attempts < maxAttempts && !errors.Is(cause, ErrPermanent) {
		delay := q.policy.Backoff(attempts)
		if err := q.store.RetryJob(ctx, job.ID, msg, now.Add(delay), now); err != nil {
			return "", err
		}
		q.logger.Info("job scheduled for retry", "job_id", job.ID, "attempt", attempts, "delay", delay)
		return Waiting, nil
	}

	if err := q.store.FailJob(ctx, job.ID, msg, now); err != nil {
		return "", err
	}
	q.prune(ctx, Failed, q.policy.RetainFailed)
	return Failed, nil
}

// Progress records the current stage and percentage of an active job.
func (q *Queue) Progress(ctx context.Context, jobID, stage string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return q.store.UpdateJobProgress(ctx, jobID, stage, pct, q.now())
}

// Status returns the status of jobID, or nil, nil if it does not exist.
func (q *Queue) Status(ctx context.Context, jobID string) (*Status, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return newStatus(job), nil
}

// Stats counts jobs per state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.store.CountJobs(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Waiting:   counts[Waiting],
		Active:    counts[Active],
		Completed: counts[Completed],
		Failed:    counts[Failed],
	}
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed
	return s, nil
}

// Advance hands off to the next runnable job: it looks the job up, logs it
// and wakes an idle worker.
func (q *Queue) Advance(ctx context.Context) error {
	next, err := q.store.NextWaitingJob(ctx, q.now())
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	if next == nil {
		q.logger.Debug("queue advance: no waiting jobs")
		return nil
	}
	q.logger.Info("queue advance", "job_id", next.ID, "type", next.Type)
	q.signal()
	return nil
}

// Wake delivers a value whenever new work may be runnable.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// RecoverActive returns jobs left active by a previous run to waiting.
func (q *Queue) RecoverActive(ctx context.Context) (int, error) {
	n, err := q.store.RecoverActiveJobs(ctx, q.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Warn("recovered interrupted jobs", "count", n)
		q.signal()
	}
	return n, nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) prune(ctx context.Context, status string, keep int) {
	n, err := q.store.PruneJobs(ctx, status, keep)
	if err != nil {
		q.logger.Warn("job retention failed", "status", status, "error", err)
		return
	}
	if n > 0 {
		q.logger.Debug("pruned jobs", "status", status, "count", n)
	}
}
