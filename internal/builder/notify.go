package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/canon/internal/queue"
)

const notifyTimeout = 10 * time.Second

// Notifier posts each processed job's outcome to an external URL using the
// same payload shape the build-complete webhook accepts.
type Notifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNotifier returns a Notifier posting to url, or nil when url is empty.
func NewNotifier(url string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		url:        url,
		httpClient: &http.Client{Timeout: notifyTimeout},
		logger:     slog.Default(),
	}
}

// Notify delivers the outcome of job. Failures are logged and never
// affect the job.
func (n *Notifier) Notify(ctx context.Context, job *queue.Job, res Result) {
	success := res.Success
	p := WebhookPayload{JobID: job.ID, Success: &success}
	if res.Success {
		p.Data = WebhookData{Type: job.Type, UniverseID: job.UniverseID, Result: res.Raw}
	} else {
		p.Error = res.Error
	}
	if err := n.post(ctx, p); err != nil {
		n.logger.Warn("webhook notify failed", "job_id", job.ID, "error", err)
		return
	}
	n.logger.Debug("webhook notified", "job_id", job.ID)
}

func (n *Notifier) post(ctx context.Context, p WebhookPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
