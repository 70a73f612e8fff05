package jobs

import (
	"time"

	"github.com/jackzampolin/enrich/internal/enrich"
	"github.com/jackzampolin/enrich/internal/metrics"
	"github.com/jackzampolin/enrich/internal/progress"
	"github.com/jackzampolin/enrich/internal/types"
)

// Status represents the current state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StartRequest describes a job to start.
type StartRequest struct {
	// ID is optional; a UUID is generated when empty.
	ID       string         `json:"id,omitempty"`
	Items    []types.Item   `json:"items"`
	Provider string         `json:"provider,omitempty"`
	Options  enrich.Options `json:"options"`
}

// Record is the externally visible state of a job.
type Record struct {
	ID          string            `json:"id" yaml:"id"`
	Status      Status            `json:"status" yaml:"status"`
	Provider    string            `json:"provider,omitempty" yaml:"provider,omitempty"`
	Items       int               `json:"items" yaml:"items"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
	Progress    progress.Snapshot `json:"progress" yaml:"progress"`

	// Usage summarizes the job's completion calls.
	Usage *metrics.Summary `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// job is the manager's bookkeeping for one run.
type job struct {
	id       string
	provider string
	items    []types.Item
	opts     enrich.Options
	session  *progress.Session
	cancel   func()
	done     chan struct{}

	// Guarded by Manager.mu.
	status      Status
	results     []types.Result
	err         error
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

func (j *job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}
