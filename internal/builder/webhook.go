package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/canon/internal/content"
)

// WebhookPayload is a build result delivered by an external runner.
type WebhookPayload struct {
	JobID   string      `json:"jobId" validate:"required"`
	Success *bool       `json:"success" validate:"required"`
	Data    WebhookData `json:"data"`
	Error   string      `json:"error,omitempty"`
}

// WebhookData carries the generated text for a successful build.
type WebhookData struct {
	Type       string `json:"type"`
	UniverseID string `json:"universeId,omitempty"`
	Result     string `json:"result"`
}

// Ack is the webhook handler's answer.
type Ack struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message,omitempty"`
	Entity   *content.Entity   `json:"result,omitempty"`
	Universe *content.Universe `json:"universe,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Completer records webhook-delivered results. It leaves job state alone;
// the queue's own worker owns the lifecycle.
type Completer struct {
	recorder *Recorder
	logger   *slog.Logger
}

// NewCompleter returns a Completer recording through rec.
func NewCompleter(rec *Recorder) *Completer {
	return &Completer{recorder: rec, logger: slog.Default()}
}

// Handle processes p and reports what happened.
func (c *Completer) Handle(ctx context.Context, p WebhookPayload) Ack {
	if p.Success == nil || !*p.Success {
		c.logger.Error("build job reported failure", "job_id", p.JobID, "error", p.Error)
		return Ack{Success: false, Error: p.Error}
	}

	if strings.EqualFold(strings.TrimSpace(p.Data.Type), "universe") {
		u, err := c.recorder.RecordUniverse(ctx, p.Data.Result)
		if err != nil {
			c.logger.Error("webhook result failed", "job_id", p.JobID, "error", err)
			return Ack{Success: false, Error: err.Error()}
		}
		return Ack{Success: true, Message: "universe created successfully", Universe: &u}
	}

	t, err := content.ParseType(p.Data.Type)
	if err != nil {
		c.logger.Error("webhook result failed", "job_id", p.JobID, "error", err)
		return Ack{Success: false, Error: err.Error()}
	}

	e, err := c.recorder.Record(ctx, p.JobID, t, p.Data.UniverseID, p.Data.Result)
	if err != nil {
		c.logger.Error("webhook result failed", "job_id", p.JobID, "error", err)
		return Ack{Success: false, Error: err.Error()}
	}
	return Ack{Success: true, Message: fmt.Sprintf("%s created successfully", t), Entity: &e}
}
