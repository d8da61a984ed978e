package storage

import (
	"time"

	"github.com/kalambet/canon/internal/content"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = content.ErrNotFound

// Job states.
const (
	JobWaiting   = "waiting"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobStates lists every state bucket.
var JobStates = []string{JobWaiting, JobActive, JobCompleted, JobFailed}

type Job struct {
	ID          string
	Type        string
	UniverseID  string
	Status      string // "waiting", "active", "completed", "failed"
	Stage       string
	Progress    int
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	ProcessedAt time.Time // zero until first claimed
	FinishedAt  time.Time // zero until terminal
	UpdatedAt   time.Time
	LastError   string
	ResultJSON  string
}

// Terminal reports whether the job reached completed or failed.
func (j Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
