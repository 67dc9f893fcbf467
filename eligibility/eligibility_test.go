package eligibility_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/followfleet/eligibility"
	"github.com/firasghr/followfleet/models"
)

type fakeStore struct {
	lastCompleted   *time.Time
	earliestPending *time.Time
	err             error
}

func (f *fakeStore) LastCompletedFollowedAt(ctx context.Context, workerID int64) (*time.Time, error) {
	return f.lastCompleted, f.err
}

func (f *fakeStore) EarliestPendingScheduledFor(ctx context.Context, workerID int64) (*time.Time, error) {
	return f.earliestPending, f.err
}

func baseWorker() *models.Worker {
	return &models.Worker{
		ID:       1,
		IsActive: true,
		Creds: models.WorkerCreds{
			AuthToken: "a", CT0: "b", ConsumerKey: "ck", ConsumerSecret: "cs",
			AccessToken: "at", AccessTokenSecret: "ats",
		},
	}
}

func baseSettings() models.Settings {
	return models.Settings{
		MaxFollowsPerDay:      100,
		MaxFollowsPerInterval: 5,
		MaxFollowing:          1000,
		ScheduleGroups:        3,
		IntervalMinutes:       16,
		InternalRatio:         1,
		ExternalRatio:         1,
	}
}

func TestCheck_Eligible(t *testing.T) {
	store := &fakeStore{}
	result, err := eligibility.Check(context.Background(), store, baseWorker(), baseSettings(), time.Now())
	require.NoError(t, err)
	assert.True(t, result.Eligible)
}

func TestCheck_InactiveWorker(t *testing.T) {
	w := baseWorker()
	w.IsActive = false
	result, err := eligibility.Check(context.Background(), &fakeStore{}, w, baseSettings(), time.Now())
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonInactiveOrUncredentialed, result.Reason)
}

func TestCheck_SoftDeleted(t *testing.T) {
	w := baseWorker()
	now := time.Now()
	w.DeletedAt = &now
	result, _ := eligibility.Check(context.Background(), &fakeStore{}, w, baseSettings(), now)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonInactiveOrUncredentialed, result.Reason)
}

func TestCheck_MissingCredentials(t *testing.T) {
	w := baseWorker()
	w.Creds.CT0 = ""
	result, _ := eligibility.Check(context.Background(), &fakeStore{}, w, baseSettings(), time.Now())
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonInactiveOrUncredentialed, result.Reason)
}

func TestCheck_RateLimited(t *testing.T) {
	w := baseWorker()
	now := time.Now()
	future := now.Add(10 * time.Minute)
	w.RateLimitUntil = &future
	result, _ := eligibility.Check(context.Background(), &fakeStore{}, w, baseSettings(), now)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonRateLimited, result.Reason)
	assert.InDelta(t, 10*time.Minute, result.WaitFor, float64(time.Second))
}

func TestCheck_MaxFollowingReached(t *testing.T) {
	w := baseWorker()
	w.FollowingCount = 1000
	result, _ := eligibility.Check(context.Background(), &fakeStore{}, w, baseSettings(), time.Now())
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonMaxFollowing, result.Reason)
}

func TestCheck_DailyCapReached(t *testing.T) {
	w := baseWorker()
	w.DailyFollows = 100
	result, _ := eligibility.Check(context.Background(), &fakeStore{}, w, baseSettings(), time.Now())
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonDailyCapReached, result.Reason)
}

func TestCheck_FollowGapNotElapsed(t *testing.T) {
	now := time.Now()
	recentlyFollowed := now.Add(-5 * time.Minute)
	store := &fakeStore{lastCompleted: &recentlyFollowed}
	result, _ := eligibility.Check(context.Background(), store, baseWorker(), baseSettings(), now)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonFollowGap, result.Reason)
	assert.InDelta(t, 10*time.Minute, result.WaitFor, float64(time.Second))
}

func TestCheck_FollowGapElapsed(t *testing.T) {
	now := time.Now()
	longAgo := now.Add(-20 * time.Minute)
	store := &fakeStore{lastCompleted: &longAgo}
	result, err := eligibility.Check(context.Background(), store, baseWorker(), baseSettings(), now)
	require.NoError(t, err)
	assert.True(t, result.Eligible)
}

func TestCheck_PendingNotDue(t *testing.T) {
	now := time.Now()
	future := now.Add(5 * time.Minute)
	store := &fakeStore{earliestPending: &future}
	result, _ := eligibility.Check(context.Background(), store, baseWorker(), baseSettings(), now)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonPendingNotDue, result.Reason)
}

func TestCheck_PendingDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-5 * time.Minute)
	store := &fakeStore{earliestPending: &past}
	result, err := eligibility.Check(context.Background(), store, baseWorker(), baseSettings(), now)
	require.NoError(t, err)
	assert.True(t, result.Eligible)
}
