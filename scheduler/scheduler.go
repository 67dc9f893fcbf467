// Package scheduler is the top-level control loop: it wakes periodically,
// rotates the active schedule group, resets daily counters at UTC midnight,
// and fans a per-worker follow routine out across every worker in the
// active group. Grounded on follow_scheduler.py's main loop, split across a
// Scheduler/WorkerPool pair — the control loop decides *what* runs, the
// worker pool decides *how many run at once*.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/firasghr/followfleet/eligibility"
	"github.com/firasghr/followfleet/follow"
	"github.com/firasghr/followfleet/group"
	"github.com/firasghr/followfleet/httpclient"
	"github.com/firasghr/followfleet/logger"
	"github.com/firasghr/followfleet/metrics"
	"github.com/firasghr/followfleet/models"
	"github.com/firasghr/followfleet/payload"
	"github.com/firasghr/followfleet/target"
	"github.com/firasghr/followfleet/worker"
)

// tickInterval is the nominal spacing between loop iterations.
const tickInterval = 60 * time.Second

// planningHorizon is how far ahead schedule_future plans.
const planningHorizon = 24 * time.Hour

// Store is everything the scheduler needs from persistence. It composes the
// narrower interfaces eligibility, target, and group already declare, so
// *store.Store satisfies it without the scheduler importing sqlx/pgx
// directly.
type Store interface {
	eligibility.Store
	target.Store
	group.Store

	GetSettings(ctx context.Context) (models.Settings, error)
	WorkersInGroup(ctx context.Context, group int) ([]*models.Worker, error)
	MarkInProgress(ctx context.Context, workerID, targetID int64) error
	RecordOutcome(ctx context.Context, workerID, targetID int64, kind string, duration time.Duration, errMsg string) error
	DailyReset(ctx context.Context, now time.Time) error
	ScheduleFuture(ctx context.Context, workerID int64, targetIDs []int64, start time.Time, stride time.Duration, group int) error
	ActivateAllWorkers(ctx context.Context, group int) error
	DeactivateAllWorkers(ctx context.Context) error
}

// Scheduler is the single control loop: running state, the current
// group/next-transition time, and a handle to the background loop task,
// all behind one mutex.
type Scheduler struct {
	store     Store
	metrics   *metrics.Metrics
	log       *logger.Logger
	validator *payload.Validator
	rotator   *group.Rotator

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	lastResetAt time.Time
}

// New builds a Scheduler. validator may be shared across the whole process
// (it is safe for concurrent use); pass the same instance used elsewhere so
// schema-drift detection accumulates a single baseline.
func New(store Store, m *metrics.Metrics, log *logger.Logger, validator *payload.Validator) *Scheduler {
	return &Scheduler{
		store:     store,
		metrics:   m,
		log:       log,
		validator: validator,
		rotator:   group.New(),
	}
}

// Start activates every credentialed worker and spawns the loop task. If
// already running, it stops first to guarantee a clean state.
func (sc *Scheduler) Start(ctx context.Context) error {
	sc.mu.Lock()
	running := sc.running
	sc.mu.Unlock()
	if running {
		sc.Stop()
	}

	settings, err := sc.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: read settings: %w", err)
	}
	if !settings.IsActive {
		return fmt.Errorf("scheduler: refusing to start: settings.is_active is false")
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("scheduler: invalid settings: %w", err)
	}

	currentGroup, _ := sc.rotator.Current()
	if err := sc.store.ActivateAllWorkers(ctx, currentGroup); err != nil {
		return fmt.Errorf("scheduler: activate workers: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	sc.mu.Lock()
	sc.running = true
	sc.cancel = cancel
	sc.done = make(chan struct{})
	sc.mu.Unlock()

	go sc.loop(loopCtx)
	sc.log.Info("scheduler started")
	return nil
}

// Stop cancels the loop task, waits for it to exit, and deactivates every
// worker. Idempotent.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	if !sc.running {
		sc.mu.Unlock()
		return
	}
	cancel := sc.cancel
	done := sc.done
	sc.running = false
	sc.mu.Unlock()

	cancel()
	<-done

	ctx, cancelDeactivate := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDeactivate()
	if err := sc.store.DeactivateAllWorkers(ctx); err != nil {
		sc.log.Errorf("scheduler: deactivate workers on stop: %v", err)
	}
	sc.log.Info("scheduler stopped")
}

// Reconfigure restarts the loop so the next tick picks up freshly written
// settings.
func (sc *Scheduler) Reconfigure(ctx context.Context) error {
	sc.mu.Lock()
	wasRunning := sc.running
	sc.mu.Unlock()

	if wasRunning {
		sc.Stop()
	}

	settings, err := sc.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: reconfigure: read settings: %w", err)
	}
	if settings.IsActive || wasRunning {
		return sc.Start(ctx)
	}
	return nil
}

// loop is the background control task: tick, sleep, repeat until cancelled.
func (sc *Scheduler) loop(ctx context.Context) {
	defer close(sc.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sc.tick(ctx)
		if !sleepCancellable(ctx, tickInterval) {
			return
		}
	}
}

func (sc *Scheduler) tick(ctx context.Context) {
	settings, err := sc.store.GetSettings(ctx)
	if err != nil {
		sc.log.Errorf("scheduler: tick: read settings: %v", err)
		return
	}
	if !settings.IsActive {
		return
	}

	activeGroup, transitioned, err := sc.rotator.Tick(ctx, sc.store, settings.ScheduleGroups, time.Now())
	if err != nil {
		sc.log.Errorf("scheduler: tick: group rotation: %v", err)
		return
	}
	if transitioned {
		sc.log.Infof("scheduler: rotated to group %d, next transition %s", activeGroup, sc.rotator.NextGroupStart())
	}
	sc.metrics.SetCurrentGroup(activeGroup)

	now := time.Now().UTC()
	if now.Hour() == 0 && (sc.lastResetAt.IsZero() || now.Sub(sc.lastResetAt) >= time.Hour) {
		if err := sc.store.DailyReset(ctx, now); err != nil {
			sc.log.Errorf("scheduler: daily reset: %v", err)
		} else {
			sc.lastResetAt = now
		}
	}

	workers, err := sc.store.WorkersInGroup(ctx, activeGroup)
	if err != nil {
		sc.log.Errorf("scheduler: tick: fetch workers in group %d: %v", activeGroup, err)
		return
	}
	sc.metrics.SetActiveWorkers(activeGroup, len(workers))
	if len(workers) == 0 {
		return
	}

	// Sized to exactly len(workers) so every worker's routine starts on its
	// own goroutine with no queueing, rather than a small fixed pool that
	// would serialize a group.
	pool := worker.NewWorkerPool(len(workers))
	pool.Start()
	for _, w := range workers {
		w := w
		pool.Submit(func() {
			sc.runWorker(ctx, w, settings, activeGroup)
		})
	}
	pool.Stop()
}

// runWorker checks eligibility, selects a batch of targets, follows each in
// turn with inter-follow pacing, records outcomes, and finally writes an
// advisory plan for the next 24h.
func (sc *Scheduler) runWorker(ctx context.Context, w *models.Worker, settings models.Settings, group int) {
	now := time.Now()
	result, err := eligibility.Check(ctx, sc.store, w, settings, now)
	if err != nil {
		sc.log.Errorf("scheduler: worker %d eligibility check: %v", w.ID, err)
		return
	}
	if !result.Eligible {
		sc.log.Debugf("scheduler: worker %d not eligible: %s (wait %s)", w.ID, result.Reason, result.WaitFor)
		return
	}

	batch, err := target.Select(ctx, sc.store, w, settings, group, now)
	if err != nil {
		sc.log.Errorf("scheduler: worker %d target selection: %v", w.ID, err)
		return
	}
	targets := append(append([]*models.FollowTarget{}, batch.Internal...), batch.External...)
	if len(targets) == 0 {
		return
	}

	client, err := httpclient.New(w.Proxy, w.Creds.UserAgent)
	if err != nil {
		sc.log.Errorf("scheduler: worker %d build http client: %v", w.ID, err)
		return
	}

	pacing := pacingDelay(settings)
	for i, t := range targets {
		if ctx.Err() != nil {
			return
		}
		if err := sc.store.MarkInProgress(ctx, w.ID, t.ID); err != nil {
			sc.log.Errorf("scheduler: worker %d mark_in_progress target %d: %v", w.ID, t.ID, err)
			continue
		}

		start := time.Now()
		outcome, mismatches := follow.Follow(ctx, client, w.Creds, t.Handle, sc.validator)
		duration := time.Since(start)
		sc.metrics.ObserveFollow(string(outcome.Kind), duration)
		for _, m := range mismatches {
			sc.log.Errorf("scheduler: worker %d target %d: %s", w.ID, t.ID, m.String())
		}

		errMsg := outcome.Message
		if ctx.Err() != nil {
			errMsg = "cancelled"
		}
		if err := sc.store.RecordOutcome(ctx, w.ID, t.ID, string(outcome.Kind), duration, errMsg); err != nil {
			sc.log.Errorf("scheduler: worker %d record_outcome target %d: %v", w.ID, t.ID, err)
		}

		if !outcome.OK() {
			sc.log.Infof("scheduler: worker %d follow target %d ended batch early: %s", w.ID, t.ID, outcome)
			break
		}
		if i < len(targets)-1 && !sleepCancellable(ctx, pacing) {
			return
		}
	}

	sc.planFuture(ctx, w, settings, group, now)
}

// planFuture writes the 24h advisory plan via schedule_future.
func (sc *Scheduler) planFuture(ctx context.Context, w *models.Worker, settings models.Settings, group int, now time.Time) {
	stride := pacingDelay(settings)
	if stride <= 0 {
		return
	}
	slots := int(planningHorizon / stride)
	if slots <= 0 {
		return
	}
	batch, err := target.PlanMix(ctx, sc.store, w, settings, slots)
	if err != nil {
		sc.log.Errorf("scheduler: worker %d plan future: %v", w.ID, err)
		return
	}
	targets := append(append([]*models.FollowTarget{}, batch.Internal...), batch.External...)
	if len(targets) == 0 {
		return
	}
	ids := make([]int64, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	start := now.Add(stride)
	if err := sc.store.ScheduleFuture(ctx, w.ID, ids, start, stride, group); err != nil {
		sc.log.Errorf("scheduler: worker %d schedule_future: %v", w.ID, err)
	}
}

// pacingDelay is the spacing between successive follows within a worker's
// batch: interval_minutes·60 / max(1, max_follows_per_interval).
func pacingDelay(s models.Settings) time.Duration {
	perInterval := s.MaxFollowsPerInterval
	if perInterval < 1 {
		perInterval = 1
	}
	seconds := float64(s.IntervalMinutes*60) / float64(perInterval)
	return time.Duration(seconds * float64(time.Second))
}

// sleepCancellable sleeps for d or returns false early if ctx is cancelled.
func sleepCancellable(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
