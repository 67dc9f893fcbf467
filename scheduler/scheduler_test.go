package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/followfleet/logger"
	"github.com/firasghr/followfleet/metrics"
	"github.com/firasghr/followfleet/models"
	"github.com/firasghr/followfleet/payload"
	"github.com/firasghr/followfleet/scheduler"
)

type fakeStore struct {
	mu sync.Mutex

	settings    models.Settings
	workers     []*models.Worker
	activated   []int
	deactivated int
	reassigned  []int
	dailyResets int
	settingsErr error
}

func (f *fakeStore) GetSettings(ctx context.Context) (models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, f.settingsErr
}

func (f *fakeStore) WorkersInGroup(ctx context.Context, group int) ([]*models.Worker, error) {
	return f.workers, nil
}

func (f *fakeStore) LastCompletedFollowedAt(ctx context.Context, workerID int64) (*time.Time, error) {
	return nil, nil
}

func (f *fakeStore) EarliestPendingScheduledFor(ctx context.Context, workerID int64) (*time.Time, error) {
	return nil, nil
}

func (f *fakeStore) CountAvailable(ctx context.Context, pool models.Pool, workerID int64, workerHandle string) (int, error) {
	return 0, nil
}

func (f *fakeStore) SampleAvailable(ctx context.Context, pool models.Pool, workerID int64, workerHandle string, limit int) ([]*models.FollowTarget, error) {
	return nil, nil
}

func (f *fakeStore) CreatePending(ctx context.Context, workerID, targetID int64, group int, scheduledFor time.Time) error {
	return nil
}

func (f *fakeStore) MarkInProgress(ctx context.Context, workerID, targetID int64) error {
	return nil
}

func (f *fakeStore) RecordOutcome(ctx context.Context, workerID, targetID int64, kind string, duration time.Duration, errMsg string) error {
	return nil
}

func (f *fakeStore) DailyReset(ctx context.Context, now time.Time) error {
	f.mu.Lock()
	f.dailyResets++
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) ScheduleFuture(ctx context.Context, workerID int64, targetIDs []int64, start time.Time, stride time.Duration, group int) error {
	return nil
}

func (f *fakeStore) ActivateAllWorkers(ctx context.Context, group int) error {
	f.mu.Lock()
	f.activated = append(f.activated, group)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) DeactivateAllWorkers(ctx context.Context) error {
	f.mu.Lock()
	f.deactivated++
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) ReassignGroup(ctx context.Context, group int) error {
	f.mu.Lock()
	f.reassigned = append(f.reassigned, group)
	f.mu.Unlock()
	return nil
}

func activeSettings() models.Settings {
	return models.Settings{
		MaxFollowsPerDay:      100,
		MaxFollowsPerInterval: 5,
		IntervalMinutes:       16,
		MaxFollowing:          1000,
		ScheduleGroups:        3,
		InternalRatio:         1,
		ExternalRatio:         1,
		IsActive:              true,
	}
}

func newTestScheduler(store *fakeStore) *scheduler.Scheduler {
	m := metrics.New()
	log := logger.New(logger.LevelError)
	return scheduler.New(store, m, log, payload.NewValidator())
}

func TestStart_RefusesWhenSettingsInactive(t *testing.T) {
	store := &fakeStore{settings: models.Settings{IsActive: false, ScheduleGroups: 1, IntervalMinutes: 1, InternalRatio: 1}}
	sc := newTestScheduler(store)
	err := sc.Start(context.Background())
	assert.Error(t, err)
}

func TestStart_RefusesOnInvalidSettings(t *testing.T) {
	store := &fakeStore{settings: models.Settings{IsActive: true, ScheduleGroups: 0}}
	sc := newTestScheduler(store)
	err := sc.Start(context.Background())
	assert.Error(t, err)
}

func TestStartStop_ActivatesAndDeactivates(t *testing.T) {
	store := &fakeStore{settings: activeSettings()}
	sc := newTestScheduler(store)

	require.NoError(t, sc.Start(context.Background()))
	store.mu.Lock()
	activated := len(store.activated)
	store.mu.Unlock()
	assert.Equal(t, 1, activated)

	sc.Stop()
	store.mu.Lock()
	deactivated := store.deactivated
	store.mu.Unlock()
	assert.Equal(t, 1, deactivated)
}

func TestStop_IdempotentWithoutStart(t *testing.T) {
	store := &fakeStore{settings: activeSettings()}
	sc := newTestScheduler(store)
	assert.NotPanics(t, func() { sc.Stop() })
}

func TestReconfigure_RestartsWhenActive(t *testing.T) {
	store := &fakeStore{settings: activeSettings()}
	sc := newTestScheduler(store)
	require.NoError(t, sc.Start(context.Background()))

	require.NoError(t, sc.Reconfigure(context.Background()))
	store.mu.Lock()
	activations := len(store.activated)
	deactivations := store.deactivated
	store.mu.Unlock()
	assert.Equal(t, 2, activations)
	assert.Equal(t, 1, deactivations)

	sc.Stop()
}

func TestReconfigure_StaysStoppedWhenInactiveAndNotRunning(t *testing.T) {
	store := &fakeStore{settings: models.Settings{IsActive: false, ScheduleGroups: 1, IntervalMinutes: 1, InternalRatio: 1}}
	sc := newTestScheduler(store)
	err := sc.Reconfigure(context.Background())
	assert.NoError(t, err)
	store.mu.Lock()
	activations := len(store.activated)
	store.mu.Unlock()
	assert.Equal(t, 0, activations)
}
