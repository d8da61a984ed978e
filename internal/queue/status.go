package queue

import (
	"context"
	"encoding/json"
	"time"
)

// JobData is the submission payload echoed in status responses.
type JobData struct {
	Type       string `json:"type"`
	UniverseID string `json:"universeId,omitempty"`
}

// Status is the externally visible view of a job.
type Status struct {
	JobID       string     `json:"jobId"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Stage       string     `json:"stage,omitempty"`
	Attempts    int        `json:"attempts"`
	Data        JobData    `json:"data"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

func newStatus(j *Job) *Status {
	s := &Status{
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Stage:     j.Stage,
		Attempts:  j.Attempts,
		Data:      JobData{Type: j.Type, UniverseID: j.UniverseID},
		Error:     j.LastError,
		CreatedAt: j.CreatedAt,
	}
	if !j.ProcessedAt.IsZero() {
		t := j.ProcessedAt
		s.ProcessedAt = &t
	}
	if !j.FinishedAt.IsZero() {
		t := j.FinishedAt
		s.FinishedAt = &t
	}
	if j.ResultJSON != "" {
		var r Result
		if err := json.Unmarshal([]byte(j.ResultJSON), &r); err == nil {
			s.Result = &r
		}
	}
	return s
}

// StatusService answers status and stats reads. It holds no state of its
// own and never writes.
type StatusService struct {
	queue *Queue
}

// NewStatusService returns a StatusService reading through q.
func NewStatusService(q *Queue) *StatusService {
	return &StatusService{queue: q}
}

// JobStatus returns the status of jobID, or nil when it is unknown.
func (s *StatusService) JobStatus(ctx context.Context, jobID string) (*Status, error) {
	return s.queue.Status(ctx, jobID)
}

// QueueStats returns current per-state counts.
func (s *StatusService) QueueStats(ctx context.Context) (Stats, error) {
	return s.queue.Stats(ctx)
}
