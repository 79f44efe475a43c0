package model

// JobState is the delivery state of a queued job.
//
// State machine: waiting → active → {completed | waiting(retry) | failed}.
// active → waiting also happens via stall reclaim. completed and failed are
// terminal and immutable.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)
