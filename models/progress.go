package models

import "time"

// ProgressState is one of the four states a FollowProgress row may be in.
// Transitions: pending → in_progress → {completed, failed}; pending → failed
// is allowed when a row is abandoned. No backward transitions.
type ProgressState string

const (
	ProgressPending    ProgressState = "pending"
	ProgressInProgress ProgressState = "in_progress"
	ProgressCompleted  ProgressState = "completed"
	ProgressFailed     ProgressState = "failed"
)

// Terminal reports whether s is a terminal state (completed or failed); a
// terminal state never transitions again.
func (s ProgressState) Terminal() bool {
	return s == ProgressCompleted || s == ProgressFailed
}

// ProgressMeta is the typed view of the JSON meta blob attached to a
// FollowProgress row: the group the attempt ran in, how long the upstream
// call took, and how many times this (worker, target) pair has been
// attempted in total. Grounded on follow_scheduler.py's inline meta_data
// dict literals and _get_attempt_count.
type ProgressMeta struct {
	Group        int       `json:"group"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
	AttemptCount int       `json:"attempt_count"`
}

// FollowProgress is an attempt record joining a worker to a target.
type FollowProgress struct {
	ID           int64
	WorkerID     int64
	TargetID     int64
	State        ProgressState
	ScheduledFor time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	FollowedAt   *time.Time
	Error        string
	Meta         ProgressMeta
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
