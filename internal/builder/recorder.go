// Package builder turns build jobs into persisted entities: it drives
// generation, extraction and persistence for queued jobs and for results
// delivered by webhook.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/extract"
	"github.com/kalambet/canon/internal/graph"
)

// Advancer hands off to the next queued job.
type Advancer interface {
	Advance(ctx context.Context) error
}

// Recorder is the shared completion path: extract the entity from raw
// output, persist it, then advance the queue. Both the queue processor and
// the webhook handler record through the same Recorder.
type Recorder struct {
	extractor *extract.Extractor
	store     graph.Store
	advancer  Advancer
	now       func() time.Time
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. advancer may be nil.
func NewRecorder(ex *extract.Extractor, store graph.Store, advancer Advancer) *Recorder {
	if ex == nil {
		ex = extract.New()
	}
	return &Recorder{
		extractor: ex,
		store:     store,
		advancer:  advancer,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Record persists the entity produced by jobID. If jobID already produced
// an entity, the stored one is returned.
func (r *Recorder) Record(ctx context.Context, jobID string, t content.Type, universeID, raw string) (content.Entity, error) {
	return r.Persist(ctx, r.Extract(jobID, t, universeID, raw))
}

// Extract builds the entity for jobID's raw output without storing it.
func (r *Recorder) Extract(jobID string, t content.Type, universeID, raw string) content.Entity {
	e := r.extractor.Extract(raw, t, universeID)
	e.JobID = jobID
	return e
}

// Persist stores e and advances the queue. Advance failures are logged only.
func (r *Recorder) Persist(ctx context.Context, e content.Entity) (content.Entity, error) {
	saved, err := r.store.CreateEntity(ctx, e)
	if err != nil {
		return content.Entity{}, fmt.Errorf("persisting %s: %w", e.Type, err)
	}
	r.logger.Info("entity created", "job_id", e.JobID, "entity_id", saved.ID, "type", saved.Type, "name", saved.Name)

	r.advance(ctx)
	return saved, nil
}

// RecordUniverse creates a universe named after raw output, the way a
// universe-type webhook result is handled.
func (r *Recorder) RecordUniverse(ctx context.Context, raw string) (content.Universe, error) {
	name := r.extractor.Name(raw, content.Type("universe"))
	u := graph.NewUniverse(name, extract.Summary(raw, extract.DefaultSummaryLength), r.now())

	saved, err := r.store.CreateUniverse(ctx, u)
	if err != nil {
		return content.Universe{}, fmt.Errorf("persisting universe: %w", err)
	}
	r.logger.Info("universe created", "universe_id", saved.ID, "name", saved.Name)

	r.advance(ctx)
	return saved, nil
}

func (r *Recorder) advance(ctx context.Context) {
	if r.advancer == nil {
		return
	}
	if err := r.advancer.Advance(ctx); err != nil {
		r.logger.Warn("queue advance failed", "error", err)
	}
}
