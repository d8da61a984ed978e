package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/langflow"
	"github.com/kalambet/canon/internal/queue"
)

// Processing stages reported through job progress.
const (
	StageClaimed    = "claimed"
	StageGenerating = "generating"
	StageExtracting = "extracting"
	StagePersisting = "persisting"
)

// DefaultGenerateTimeout bounds a single generation call.
const DefaultGenerateTimeout = 5 * time.Minute

// Generator produces raw content text for a request.
type Generator interface {
	Generate(ctx context.Context, req langflow.Request) (string, error)
}

// ProgressReporter records job stage changes.
type ProgressReporter interface {
	Progress(ctx context.Context, jobID, stage string, pct int) error
}

// Result is the outcome of processing one job.
type Result struct {
	JobID   string          `json:"jobId"`
	Success bool            `json:"success"`
	Entity  *content.Entity `json:"data,omitempty"`
	Raw     string          `json:"-"`
	Error   string          `json:"error,omitempty"`

	// Err is the underlying failure, permanent failures wrap queue.ErrPermanent.
	Err error `json:"-"`
}

// Processor runs a claimed job through generation, extraction and
// persistence. It never retries; the queue owns retries.
type Processor struct {
	gen      Generator
	recorder *Recorder
	progress ProgressReporter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProcessor creates a Processor. progress may be nil. A timeout <= 0
// uses DefaultGenerateTimeout.
func NewProcessor(gen Generator, rec *Recorder, progress ProgressReporter, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	return &Processor{
		gen:      gen,
		recorder: rec,
		progress: progress,
		timeout:  timeout,
		logger:   slog.Default(),
	}
}

// Prompt is the generation seed sent for type t.
func Prompt(t content.Type) string {
	return fmt.Sprintf("Create a new %s for this universe", t)
}

// SessionID is the Langflow session used for a job.
func SessionID(t content.Type, jobID string) string {
	return string(t) + "_" + jobID
}

// Process runs job to a Result. Errors are reported in the Result, never
// returned.
func (p *Processor) Process(ctx context.Context, job *queue.Job) Result {
	p.logger.Info("processing build job", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1)

	t, err := content.ParseType(job.Type)
	if err != nil {
		return p.fail(job, queue.Permanent(fmt.Errorf("unknown build type %q: %w", job.Type, content.ErrUnknownType)))
	}

	p.report(ctx, job.ID, StageGenerating, 20)
	genCtx, cancel := context.WithTimeout(ctx, p.timeout)
	raw, err := p.gen.Generate(genCtx, langflow.Request{
		Type:       string(t),
		UniverseID: job.UniverseID,
		SessionID:  SessionID(t, job.ID),
		Prompt:     Prompt(t),
	})
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("generation timed out after %s: %w", p.timeout, err)
		}
		return p.fail(job, fmt.Errorf("generating %s: %w", t, err))
	}

	p.report(ctx, job.ID, StageExtracting, 70)
	e := p.recorder.Extract(job.ID, t, job.UniverseID, raw)

	p.report(ctx, job.ID, StagePersisting, 85)
	entity, err := p.recorder.Persist(ctx, e)
	if err != nil {
		return p.fail(job, err)
	}

	return Result{JobID: job.ID, Success: true, Entity: &entity, Raw: raw}
}

func (p *Processor) fail(job *queue.Job, err error) Result {
	p.logger.Warn("build job failed", "job_id", job.ID, "type", job.Type, "error", err)
	return Result{JobID: job.ID, Success: false, Error: err.Error(), Err: err}
}

func (p *Processor) report(ctx context.Context, jobID, stage string, pct int) {
	if p.progress == nil {
		return
	}
	if err := p.progress.Progress(ctx, jobID, stage, pct); err != nil {
		p.logger.Debug("progress update failed", "job_id", jobID, "stage", stage, "error", err)
	}
}
