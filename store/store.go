// Package store persists workers, follow targets, progress rows, and
// settings behind a transactional relational store with row-level locking:
// the worker row is the unit of contention, locked with SELECT ... FOR
// UPDATE before any mutation that touches its counters. Grounded on the
// sqlx+pgx wiring pattern used by the pack's datastorage repositories
// (jordigilh-kubernaut's WorkflowRepository: a *sqlx.DB handle plus one
// struct per aggregate, constructor-injected rather than a process-wide
// singleton).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" sql.DB driver
	"github.com/jmoiron/sqlx"

	"github.com/firasghr/followfleet/models"
)

// Store is the sole persistence gateway for workers, targets, progress rows,
// and settings. It is constructor-injected into the scheduler rather than a
// process-wide global.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn via the pgx stdlib driver and wraps it in sqlx.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sqlx.DB, used by tests to inject a sqlmock
// connection (grounded on jordigilh-kubernaut's
// sqlx.NewDb(mockDB, "sqlmock") + NewWorkflowRepository(db, logger) wiring).
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetSettings reads the single Settings row.
func (s *Store) GetSettings(ctx context.Context) (models.Settings, error) {
	var row settingsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT max_follows_per_day, max_follows_per_interval, interval_minutes,
		       min_following, max_following, schedule_groups, schedule_hours,
		       internal_ratio, external_ratio, is_active, last_updated
		FROM follow_settings WHERE id = 1`)
	if err != nil {
		return models.Settings{}, fmt.Errorf("store: get settings: %w", err)
	}
	return row.toModel(), nil
}

type settingsRow struct {
	MaxFollowsPerDay      int       `db:"max_follows_per_day"`
	MaxFollowsPerInterval int       `db:"max_follows_per_interval"`
	IntervalMinutes       int       `db:"interval_minutes"`
	MinFollowing          int       `db:"min_following"`
	MaxFollowing          int       `db:"max_following"`
	ScheduleGroups        int       `db:"schedule_groups"`
	ScheduleHours         int       `db:"schedule_hours"`
	InternalRatio         int       `db:"internal_ratio"`
	ExternalRatio         int       `db:"external_ratio"`
	IsActive              bool      `db:"is_active"`
	LastUpdated           time.Time `db:"last_updated"`
}

func (r settingsRow) toModel() models.Settings {
	return models.Settings{
		MaxFollowsPerDay:      r.MaxFollowsPerDay,
		MaxFollowsPerInterval: r.MaxFollowsPerInterval,
		IntervalMinutes:       r.IntervalMinutes,
		MinFollowing:          r.MinFollowing,
		MaxFollowing:          r.MaxFollowing,
		ScheduleGroups:        r.ScheduleGroups,
		ScheduleHours:         r.ScheduleHours,
		InternalRatio:         r.InternalRatio,
		ExternalRatio:         r.ExternalRatio,
		IsActive:              r.IsActive,
		LastUpdated:           r.LastUpdated,
	}
}

// WorkersInGroup fetches every active worker currently assigned to group g.
func (s *Store) WorkersInGroup(ctx context.Context, group int) ([]*models.Worker, error) {
	var rows []workerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, handle, created_at, deleted_at,
		       auth_token, ct0, consumer_key, consumer_secret, bearer_token,
		       access_token, access_token_secret, user_agent,
		       proxy_host, proxy_port, proxy_username, proxy_password, proxy_scheme,
		       daily_follows, total_follows, following_count, last_followed_at,
		       failed_follow_attempts, rate_limit_until, is_active, activated_at,
		       group_number, group_updated_at
		FROM workers
		WHERE is_active = true AND deleted_at IS NULL AND group_number = $1`, group)
	if err != nil {
		return nil, fmt.Errorf("store: workers in group %d: %w", group, err)
	}
	workers := make([]*models.Worker, 0, len(rows))
	for _, r := range rows {
		workers = append(workers, r.toModel())
	}
	return workers, nil
}

// LastCompletedFollowedAt returns the followed_at timestamp of the worker's
// most recent completed progress row, used by the eligibility gate's
// 15-minute gap check.
func (s *Store) LastCompletedFollowedAt(ctx context.Context, workerID int64) (*time.Time, error) {
	var followedAt sql.NullTime
	err := s.db.GetContext(ctx, &followedAt, `
		SELECT followed_at FROM follow_progress
		WHERE worker_id = $1 AND state = 'completed'
		ORDER BY followed_at DESC LIMIT 1`, workerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last completed followed_at: %w", err)
	}
	if !followedAt.Valid {
		return nil, nil
	}
	return &followedAt.Time, nil
}

// EarliestPendingScheduledFor returns the scheduled_for of the worker's
// earliest pending progress row.
func (s *Store) EarliestPendingScheduledFor(ctx context.Context, workerID int64) (*time.Time, error) {
	var scheduledFor sql.NullTime
	err := s.db.GetContext(ctx, &scheduledFor, `
		SELECT scheduled_for FROM follow_progress
		WHERE worker_id = $1 AND state = 'pending'
		ORDER BY scheduled_for ASC LIMIT 1`, workerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: earliest pending scheduled_for: %w", err)
	}
	if !scheduledFor.Valid {
		return nil, nil
	}
	return &scheduledFor.Time, nil
}

// CreatePending inserts a pending progress row for (worker, target), with
// meta {group, timestamp}.
func (s *Store) CreatePending(ctx context.Context, workerID, targetID int64, group int, scheduledFor time.Time) error {
	meta, err := json.Marshal(models.ProgressMeta{Group: group, Timestamp: scheduledFor})
	if err != nil {
		return fmt.Errorf("store: marshal meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO follow_progress (worker_id, target_id, state, scheduled_for, meta, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, $4, now(), now())`,
		workerID, targetID, scheduledFor, meta)
	if err != nil {
		return fmt.Errorf("store: create pending: %w", err)
	}
	return nil
}

// MarkInProgress transitions the unique pending row for (worker, target) to
// in_progress, recording started_at and bumping meta.attempt_count, inside a
// transaction that row-locks the worker and the progress row.
func (s *Store) MarkInProgress(ctx context.Context, workerID, targetID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin mark_in_progress: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT id FROM workers WHERE id = $1 FOR UPDATE`, workerID); err != nil {
		return fmt.Errorf("store: lock worker %d: %w", workerID, err)
	}

	var rawMeta []byte
	err = tx.GetContext(ctx, &rawMeta, `
		SELECT meta FROM follow_progress
		WHERE worker_id = $1 AND target_id = $2 AND state = 'pending'
		FOR UPDATE`, workerID, targetID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store: no pending row for worker %d target %d", workerID, targetID)
	}
	if err != nil {
		return fmt.Errorf("store: lock pending row: %w", err)
	}

	var meta models.ProgressMeta
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return fmt.Errorf("store: unmarshal meta: %w", err)
		}
	}
	meta.AttemptCount++
	newMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: marshal meta: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE follow_progress SET state = 'in_progress', started_at = now(), updated_at = now(), meta = $3
		WHERE worker_id = $1 AND target_id = $2 AND state = 'pending'`, workerID, targetID, newMeta)
	if err != nil {
		return fmt.Errorf("store: mark in_progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: no pending row for worker %d target %d", workerID, targetID)
	}
	return tx.Commit()
}

// RecordOutcome applies the outcome-specific worker-counter mutations and
// terminal-state transition, merging the attempt's duration into
// meta.duration_ms, inside a transaction that row-locks the worker.
func (s *Store) RecordOutcome(ctx context.Context, workerID, targetID int64, kind string, duration time.Duration, errMsg string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin record_outcome: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT id FROM workers WHERE id = $1 FOR UPDATE`, workerID); err != nil {
		return fmt.Errorf("store: lock worker %d: %w", workerID, err)
	}

	var rawMeta []byte
	err = tx.GetContext(ctx, &rawMeta, `
		SELECT meta FROM follow_progress
		WHERE worker_id = $1 AND target_id = $2 AND state IN ('in_progress', 'pending')
		FOR UPDATE`, workerID, targetID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("store: lock progress row: %w", err)
	}
	var meta models.ProgressMeta
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return fmt.Errorf("store: unmarshal meta: %w", err)
		}
	}
	meta.DurationMS = duration.Milliseconds()
	newMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: marshal meta: %w", err)
	}

	switch kind {
	case "ok":
		if _, err := tx.ExecContext(ctx, `
			UPDATE follow_progress SET state = 'completed', followed_at = now(), finished_at = now(), updated_at = now(), meta = $3
			WHERE worker_id = $1 AND target_id = $2 AND state = 'in_progress'`, workerID, targetID, newMeta); err != nil {
			return fmt.Errorf("store: complete progress: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE workers SET daily_follows = daily_follows + 1, total_follows = total_follows + 1,
			       following_count = following_count + 1, last_followed_at = now(),
			       failed_follow_attempts = 0
			WHERE id = $1`, workerID); err != nil {
			return fmt.Errorf("store: bump worker counters: %w", err)
		}

	case "rate_limited":
		if _, err := tx.ExecContext(ctx, `
			UPDATE follow_progress SET state = 'failed', finished_at = now(), error = $3, updated_at = now(), meta = $4
			WHERE worker_id = $1 AND target_id = $2 AND state IN ('in_progress', 'pending')`,
			workerID, targetID, errMsg, newMeta); err != nil {
			return fmt.Errorf("store: fail progress: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE workers SET rate_limit_until = now() + interval '15 minutes', is_active = false
			WHERE id = $1`, workerID); err != nil {
			return fmt.Errorf("store: set rate limit: %w", err)
		}

	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE follow_progress SET state = 'failed', finished_at = now(), error = $3, updated_at = now(), meta = $4
			WHERE worker_id = $1 AND target_id = $2 AND state IN ('in_progress', 'pending')`,
			workerID, targetID, errMsg, newMeta); err != nil {
			return fmt.Errorf("store: fail progress: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE workers SET failed_follow_attempts = failed_follow_attempts + 1,
			       is_active = CASE WHEN failed_follow_attempts + 1 >= 5 THEN false ELSE is_active END
			WHERE id = $1`, workerID); err != nil {
			return fmt.Errorf("store: bump failed attempts: %w", err)
		}
	}

	return tx.Commit()
}

// DailyReset zeroes daily_follows for every active worker, invoked once per
// observed UTC hour-0 transition.
func (s *Store) DailyReset(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET daily_follows = 0 WHERE is_active = true`)
	if err != nil {
		return fmt.Errorf("store: daily reset: %w", err)
	}
	return nil
}

// ScheduleFuture creates pending rows for targets at start, start+stride,
// start+2*stride, ... over a 24h planning horizon. Rows are advisory: the
// next loop iteration re-checks eligibility before acting on them.
func (s *Store) ScheduleFuture(ctx context.Context, workerID int64, targetIDs []int64, start time.Time, stride time.Duration, group int) error {
	for i, targetID := range targetIDs {
		when := start.Add(time.Duration(i) * stride)
		if err := s.CreatePending(ctx, workerID, targetID, group, when); err != nil {
			return fmt.Errorf("store: schedule future %d/%d: %w", i+1, len(targetIDs), err)
		}
	}
	return nil
}

// ActivateAllWorkers activates every worker with valid credentials, resets
// daily_follows, and assigns group, inside one transaction.
func (s *Store) ActivateAllWorkers(ctx context.Context, group int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workers SET is_active = true, activated_at = now(), daily_follows = 0,
		       group_number = $1, group_updated_at = now()
		WHERE deleted_at IS NULL AND auth_token <> '' AND ct0 <> ''
		      AND consumer_key <> '' AND consumer_secret <> ''
		      AND access_token <> '' AND access_token_secret <> ''`, group)
	if err != nil {
		return fmt.Errorf("store: activate all workers: %w", err)
	}
	return nil
}

// DeactivateAllWorkers sets is_active = false on every active worker.
func (s *Store) DeactivateAllWorkers(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET is_active = false WHERE is_active = true`)
	if err != nil {
		return fmt.Errorf("store: deactivate all workers: %w", err)
	}
	return nil
}

// CountAvailable counts targets in pool that the worker has not yet
// attempted (no follow_progress row of any state) and that are not the
// worker's own handle.
func (s *Store) CountAvailable(ctx context.Context, pool models.Pool, workerID int64, workerHandle string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM follow_targets t
		WHERE t.pool = $1 AND t.handle <> $3
		  AND NOT EXISTS (
		      SELECT 1 FROM follow_progress p
		      WHERE p.worker_id = $2 AND p.target_id = t.id)`,
		pool, workerID, workerHandle)
	if err != nil {
		return 0, fmt.Errorf("store: count available %s targets: %w", pool, err)
	}
	return count, nil
}

// SampleAvailable draws up to limit targets from pool, excluding any target
// the worker has already attempted and the worker's own handle, in random
// order.
func (s *Store) SampleAvailable(ctx context.Context, pool models.Pool, workerID int64, workerHandle string, limit int) ([]*models.FollowTarget, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []targetRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT t.id, t.handle, t.pool, t.internal_worker_id, t.uploaded_at
		FROM follow_targets t
		WHERE t.pool = $1 AND t.handle <> $3
		  AND NOT EXISTS (
		      SELECT 1 FROM follow_progress p
		      WHERE p.worker_id = $2 AND p.target_id = t.id)
		ORDER BY random()
		LIMIT $4`,
		pool, workerID, workerHandle, limit)
	if err != nil {
		return nil, fmt.Errorf("store: sample available %s targets: %w", pool, err)
	}
	targets := make([]*models.FollowTarget, 0, len(rows))
	for _, r := range rows {
		targets = append(targets, r.toModel())
	}
	return targets, nil
}

// WorkersMissingProxy returns the ids of every non-deleted worker with no
// proxy host configured, for one-time provisioning by an operator tool.
func (s *Store) WorkersMissingProxy(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM workers WHERE deleted_at IS NULL AND proxy_host = '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: workers missing proxy: %w", err)
	}
	return ids, nil
}

// AssignProxy writes p onto the worker's row, used by the provisioning tool
// to round-robin assign loaded proxies across workers that don't have one.
func (s *Store) AssignProxy(ctx context.Context, workerID int64, p models.ProxyConfig) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workers SET proxy_host = $2, proxy_port = $3, proxy_username = $4,
		       proxy_password = $5, proxy_scheme = $6
		WHERE id = $1`,
		workerID, p.Host, p.Port, p.Username, p.Password, p.Scheme)
	if err != nil {
		return fmt.Errorf("store: assign proxy to worker %d: %w", workerID, err)
	}
	return nil
}

// ReassignGroup sets every active worker's group field to g.
func (s *Store) ReassignGroup(ctx context.Context, group int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workers SET group_number = $1, group_updated_at = now() WHERE is_active = true`, group)
	if err != nil {
		return fmt.Errorf("store: reassign group: %w", err)
	}
	return nil
}
