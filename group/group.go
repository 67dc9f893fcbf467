// Package group implements the schedule-group rotator: which of the
// configured rotation slots is active for the current UTC hour, and when
// the next transition happens. Grounded on follow_scheduler.py's repeated
// round(hour/(24/G)) % G computation and its next_group_start tracking.
package group

import (
	"context"
	"fmt"
	"time"
)

// Store is the narrow write surface the rotator needs to reassign active
// workers on a group transition.
type Store interface {
	ReassignGroup(ctx context.Context, group int) error
}

// Rotator tracks the currently active group and the time of its next
// transition across successive Tick calls.
type Rotator struct {
	current        int
	haveCurrent    bool
	nextGroupStart time.Time
}

// New returns a rotator with no group computed yet; the first Tick call
// establishes both the current group and the next transition time.
func New() *Rotator {
	return &Rotator{}
}

// Current returns the last group computed by Tick, or (0, false) before the
// first tick.
func (r *Rotator) Current() (int, bool) {
	return r.current, r.haveCurrent
}

// NextGroupStart returns the UTC time of the next scheduled transition, or
// the zero time before the first tick.
func (r *Rotator) NextGroupStart() time.Time {
	return r.nextGroupStart
}

// Tick computes the group for now by dividing the UTC day into totalGroups
// equal windows and rounding to the nearest boundary (resolved per
// DESIGN.md's Open Question decision), and — if it differs from the
// previously computed group, or this is the first tick — reassigns every
// active worker to it via store.ReassignGroup. It returns the active group
// and whether a transition occurred.
func (r *Rotator) Tick(ctx context.Context, store Store, totalGroups int, now time.Time) (int, bool, error) {
	if totalGroups < 1 {
		totalGroups = 1
	}
	now = now.UTC()
	hoursPerGroup := 24.0 / float64(totalGroups)
	groupAt := func(hour int) int {
		return roundHalfAwayFromZero(float64(hour)/hoursPerGroup) % totalGroups
	}
	newGroup := groupAt(now.Hour())

	transitioned := !r.haveCurrent || newGroup != r.current
	if transitioned {
		if err := store.ReassignGroup(ctx, newGroup); err != nil {
			return r.current, false, fmt.Errorf("group: reassign to %d: %w", newGroup, err)
		}
	}

	// The next transition is the first upcoming whole hour whose rounded
	// group differs from newGroup. With a single group there is none, and
	// the same hour tomorrow is recorded.
	nextStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)
	for i := 0; i < 24; i++ {
		nextStart = nextStart.Add(time.Hour)
		if groupAt(nextStart.Hour()) != newGroup {
			break
		}
	}

	r.current = newGroup
	r.haveCurrent = true
	r.nextGroupStart = nextStart

	return newGroup, transitioned, nil
}

func roundHalfAwayFromZero(f float64) int {
	if f >= 0 {
		return int(f + 0.5)
	}
	return -int(-f + 0.5)
}
