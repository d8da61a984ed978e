package builder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/canon/internal/queue"
)

// JobQueue is the part of queue.Queue a Worker drives.
type JobQueue interface {
	Claim(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, jobID string, res queue.Result) error
	Fail(ctx context.Context, job *queue.Job, cause error) (string, error)
	Wake() <-chan struct{}
}

// Worker claims build jobs and runs them through a Processor.
type Worker struct {
	queue    JobQueue
	proc     *Processor
	notifier *Notifier
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
// notifier may be nil.
func NewWorker(q JobQueue, proc *Processor, notifier *Notifier, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		queue:    q,
		proc:     proc,
		notifier: notifier,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled, waking early when the queue
// signals new work.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.queue.Wake():
		case <-time.After(w.poll):
		}
	}
}

// RunN runs n workers sharing w's configuration and returns when all of
// them have stopped.
func (w *Worker) RunN(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.Claim(ctx)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	res := w.proc.Process(ctx, job)

	// Lifecycle bookkeeping must land even when shutdown cancelled ctx.
	bg := context.WithoutCancel(ctx)
	if res.Success {
		qr := queue.Result{Raw: res.Raw}
		if res.Entity != nil {
			qr.EntityID = res.Entity.ID
			qr.Name = res.Entity.Name
			qr.Type = res.Entity.Type
			qr.UniverseID = res.Entity.UniverseID
		}
		if err := w.queue.Complete(bg, job.ID, qr); err != nil {
			return true, fmt.Errorf("completing job %s: %w", job.ID, err)
		}
	} else {
		state, err := w.queue.Fail(bg, job, res.Err)
		if err != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", err)
			return true, nil
		}
		w.logger.Info("job attempt recorded", "job_id", job.ID, "state", state)
	}

	if w.notifier != nil {
		w.notifier.Notify(bg, job, res)
	}
	return true, nil
}
