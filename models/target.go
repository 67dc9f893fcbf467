package models

import "time"

// Pool identifies which of the two target pools a FollowTarget belongs to.
// Grounded on backend/app/models/follow_list.py's ListType enum.
type Pool string

const (
	// PoolInternal marks a target that coincides with one of our own
	// worker handles (self-follow graph).
	PoolInternal Pool = "internal"
	// PoolExternal marks a target outside the fleet.
	PoolExternal Pool = "external"
)

// FollowTarget is a row in one of the two target pools. A handle appears at
// most once across both pools; internal targets must correspond to a known
// worker handle.
type FollowTarget struct {
	ID             int64
	Handle         string
	Pool           Pool
	InternalWorker *int64 // back-reference to models.Worker.ID, internal only
	UploadedAt     time.Time
}
