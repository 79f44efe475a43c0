package dto

import "github.com/sitepulse/beacon/internal/validate"

// SubmitEventResponse acknowledges acceptance into the queue. It says nothing
// about persistence: the job completes asynchronously.
type SubmitEventResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// RejectedEventResponse lists every schema violation in the submission.
type RejectedEventResponse struct {
	Error      string               `json:"error"`
	Violations []validate.Violation `json:"violations"`
}
