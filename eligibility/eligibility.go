// Package eligibility implements the per-worker eligibility gate: quotas,
// cooldowns, rate-limit windows, and lifecycle flags. Grounded on
// follow_scheduler.py's _can_account_follow and the scheduler loop's
// scheduled-follow checks.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/firasghr/followfleet/models"
)

const minFollowGap = 15 * time.Minute

// Store is the narrow read surface eligibility needs from the progress
// store, so it can be exercised against a fake without pulling in sqlx/pgx.
type Store interface {
	LastCompletedFollowedAt(ctx context.Context, workerID int64) (*time.Time, error)
	EarliestPendingScheduledFor(ctx context.Context, workerID int64) (*time.Time, error)
}

// Reason names the failing predicate when a worker is not eligible, so the
// gate can log it alongside the wait delta.
type Reason string

const (
	ReasonInactiveOrUncredentialed Reason = "inactive_or_uncredentialed"
	ReasonRateLimited              Reason = "rate_limited"
	ReasonMaxFollowing             Reason = "max_following_reached"
	ReasonDailyCapReached          Reason = "daily_cap_reached"
	ReasonFollowGap                Reason = "follow_gap_not_elapsed"
	ReasonPendingNotDue            Reason = "pending_not_due"
)

// Result is the gate's verdict: eligible, or the first failing predicate
// plus how long until it would pass.
type Result struct {
	Eligible bool
	Reason   Reason
	WaitFor  time.Duration
}

// Check evaluates every predicate in order, short-circuiting on the first
// failure: lifecycle/credentials, rate limit, max-following, daily cap,
// last-follow gap, pending schedule.
func Check(ctx context.Context, store Store, w *models.Worker, s models.Settings, now time.Time) (Result, error) {
	if !w.IsActive || w.SoftDeleted() || !w.Creds.Valid() {
		return Result{Reason: ReasonInactiveOrUncredentialed}, nil
	}

	if w.RateLimited(now) {
		return Result{Reason: ReasonRateLimited, WaitFor: w.RateLimitUntil.Sub(now)}, nil
	}

	if s.MaxFollowing > 0 && w.FollowingCount >= s.MaxFollowing {
		return Result{Reason: ReasonMaxFollowing}, nil
	}

	if w.DailyFollows >= s.MaxFollowsPerDay {
		return Result{Reason: ReasonDailyCapReached}, nil
	}

	lastFollowed, err := store.LastCompletedFollowedAt(ctx, w.ID)
	if err != nil {
		return Result{}, fmt.Errorf("eligibility: last completed followed_at: %w", err)
	}
	if lastFollowed != nil {
		elapsed := now.Sub(*lastFollowed)
		if elapsed < minFollowGap {
			return Result{Reason: ReasonFollowGap, WaitFor: minFollowGap - elapsed}, nil
		}
	}

	earliestPending, err := store.EarliestPendingScheduledFor(ctx, w.ID)
	if err != nil {
		return Result{}, fmt.Errorf("eligibility: earliest pending scheduled_for: %w", err)
	}
	if earliestPending != nil && earliestPending.After(now) {
		return Result{Reason: ReasonPendingNotDue, WaitFor: earliestPending.Sub(now)}, nil
	}

	return Result{Eligible: true}, nil
}
