// Package jobs runs commits in the background. Jobs are persisted in the
// main database so queued work survives restarts.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"rtm/internal/model"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ParseJobStatus parses a status name.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch st := JobStatus(s); st {
	case JobQueued, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return st, true
	}
	return "", false
}

// Job is one asynchronous commit with its state.
type Job struct {
	ID          string              `json:"id"`
	ProjectID   string              `json:"projectId"`
	VersionID   string              `json:"versionId"`
	Status      JobStatus           `json:"status"`
	Progress    int                 `json:"progress"` // 0-100
	Attempts    int                 `json:"attempts"`
	Request     model.CommitRequest `json:"request"`
	Result      *model.CommitResult `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

// NewJob creates a queued job for a commit request against a version of
// projectID.
func NewJob(projectID string, req model.CommitRequest) *Job {
	return &Job{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		VersionID: req.VersionID,
		Status:    JobQueued,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed || j.Status == JobCancelled
}

// CanCancel returns true if the job can be cancelled.
func (j *Job) CanCancel() bool {
	return j.Status == JobQueued || j.Status == JobRunning
}

// MarkStarted transitions the job to running state.
func (j *Job) MarkStarted() {
	now := time.Now().UTC()
	j.Status = JobRunning
	j.StartedAt = &now
	j.Attempts++
}

// MarkCompleted transitions the job to completed state with result.
func (j *Job) MarkCompleted(result *model.CommitResult) {
	now := time.Now().UTC()
	j.Status = JobCompleted
	j.Progress = 100
	j.CompletedAt = &now
	j.Result = result
}

// MarkFailed transitions the job to failed state. result may carry the
// rejections of an all-or-nothing commit.
func (j *Job) MarkFailed(err error, result *model.CommitResult) {
	now := time.Now().UTC()
	j.Status = JobFailed
	j.CompletedAt = &now
	j.Result = result
	if err != nil {
		j.Error = err.Error()
	}
}

// MarkCancelled transitions the job to cancelled state.
func (j *Job) MarkCancelled() {
	now := time.Now().UTC()
	j.Status = JobCancelled
	j.CompletedAt = &now
}

// SetProgress updates the job's progress (0-100).
func (j *Job) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
}

// Duration returns how long the job took (or has been running).
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	endTime := time.Now().UTC()
	if j.CompletedAt != nil {
		endTime = *j.CompletedAt
	}
	return endTime.Sub(*j.StartedAt)
}

func (j *Job) requestJSON() (string, error) {
	data, err := json.Marshal(j.Request)
	return string(data), err
}

func (j *Job) resultJSON() (string, error) {
	if j.Result == nil {
		return "", nil
	}
	data, err := json.Marshal(j.Result)
	return string(data), err
}

// JobSummary is a lightweight view of a job for listing.
type JobSummary struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	VersionID   string     `json:"versionId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Accepted    int        `json:"accepted"`
	Rejected    int        `json:"rejected"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ToSummary creates a summary view of the job.
func (j *Job) ToSummary() JobSummary {
	s := JobSummary{
		ID:          j.ID,
		ProjectID:   j.ProjectID,
		VersionID:   j.VersionID,
		Status:      j.Status,
		Progress:    j.Progress,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
	}
	if j.Result != nil {
		s.Accepted = len(j.Result.Accepted)
		s.Rejected = len(j.Result.Errors)
	}
	return s
}

// ListJobsOptions contains options for listing jobs.
type ListJobsOptions struct {
	Status    []JobStatus
	ProjectID string
	Limit     int
	Offset    int
}

// ListJobsResponse contains the result of listing jobs.
type ListJobsResponse struct {
	Jobs       []JobSummary `json:"jobs"`
	TotalCount int          `json:"totalCount"`
}
