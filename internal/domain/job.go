package domain

import "time"

// JobStatus is the lifecycle state reported by the batch-job backend.
// The backend is the sole owner of job state; statuses are never mutated
// locally, only re-fetched.
type JobStatus string

const (
	JobSubmitted JobStatus = "Submitted"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
	JobCanceled  JobStatus = "Canceled"
)

// Job is a handle to an asynchronous deletion submitted to the job backend.
type Job struct {
	ID          string    `json:"job_id"`
	Username    string    `json:"username"`
	Status      JobStatus `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AppDescriptor identifies the job-service app used for asynchronous
// deletions. ID may be empty at startup; it is resolved lazily by name
// lookup and then cached. UsernameParameterID is resolved once per app by
// inspecting the app's declared parameter groups.
type AppDescriptor struct {
	ID                  string
	Name                string
	SystemID            string
	UsernameParameterID string
}

// AppParameter is one declared input field of a job-service app template.
type AppParameter struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Type         string `json:"type"`
	Required     bool   `json:"required"`
	Visible      bool   `json:"isVisible"`
	DefaultValue any    `json:"defaultValue"`
}

// AppParameterGroup is a named group of app parameters.
type AppParameterGroup struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Parameters []AppParameter `json:"parameters"`
}
