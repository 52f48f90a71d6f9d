package run

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starsorty/starsorty-api/internal/classify"
	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/store"
	"github.com/starsorty/starsorty-api/internal/task"
)

// ErrAlreadyRunning is returned by Start while another run is active.
// At most one run may be active process-wide.
var ErrAlreadyRunning = errors.New("classification run is already running")

// RecordClassifier classifies one record and persists the outcome. The
// orchestrator never touches decision logic itself.
type RecordClassifier interface {
	ClassifyRecord(ctx context.Context, repo domain.Repo, includeReadme bool) error
}

// CacheInvalidator is the listing/stats cache collaborator; invalidation
// failures are logged and otherwise ignored.
type CacheInvalidator interface {
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Orchestrator owns the single allowed concurrent classification run. All
// state transitions (start, stop, status, counter updates) are serialized
// through one mutex; Start uses check-and-set so concurrent start attempts
// cannot both win.
type Orchestrator struct {
	repos      store.RepoStore
	classifier RecordClassifier
	tasks      *task.Service
	cache      CacheInvalidator
	config     Config
	logger     *slog.Logger

	mu       sync.Mutex
	snap     Snapshot
	stopFlag bool
	fatalErr error
	wg       sync.WaitGroup
}

// NewOrchestrator creates an idle Orchestrator. cache may be nil.
func NewOrchestrator(
	repos store.RepoStore,
	classifier RecordClassifier,
	tasks *task.Service,
	cache CacheInvalidator,
	config Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		repos:      repos,
		classifier: classifier,
		tasks:      tasks,
		cache:      cache,
		config:     config,
		logger:     logger,
	}
}

// Start launches a background run executing under taskID, which must
// already exist in the queued state. Returns ErrAlreadyRunning while
// another run is active; the check and the transition to running are a
// single atomic step.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions, taskID uuid.UUID) error {
	batchSize := o.config.clampLimit(opts.Limit)
	concurrency := o.config.clampConcurrency(opts.Concurrency)

	o.mu.Lock()
	if o.snap.Running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	now := time.Now().UTC()
	id := taskID
	o.snap = Snapshot{
		Running:     true,
		StartedAt:   &now,
		BatchSize:   batchSize,
		Concurrency: concurrency,
		TaskID:      &id,
	}
	o.stopFlag = false
	o.fatalErr = nil
	o.mu.Unlock()

	go o.runLoop(ctx, opts, batchSize, concurrency, taskID)
	return nil
}

// Stop requests cooperative cancellation. In-flight classifications finish
// (or time out) before their worker observes the flag; no work is forcibly
// interrupted. Safe to call when no run is active.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.snap.Running {
		return
	}
	o.stopFlag = true
	msg := StopMessage
	o.snap.LastError = &msg
	o.logger.Info("classification run stop requested")
}

// Status returns a snapshot of the run state, safe to call at any time.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// runLoop selects the eligible records, drains them through the worker
// pool, and finalizes the run and its task.
func (o *Orchestrator) runLoop(ctx context.Context, opts StartOptions, batchSize, concurrency int, taskID uuid.UUID) {
	if err := o.tasks.MarkRunning(ctx, taskID); err != nil {
		o.logger.ErrorContext(ctx, "failed to mark run task running",
			"task_id", taskID,
			"error", err)
	}

	selected, err := o.repos.SelectForClassification(ctx, batchSize, opts.Force)
	if err != nil {
		o.abort(ctx, taskID, err)
		return
	}
	remaining, err := o.repos.CountForClassification(ctx, opts.Force)
	if err != nil {
		// The count only feeds the remaining estimate; fall back to the
		// queue depth rather than aborting the run.
		o.logger.WarnContext(ctx, "failed to count eligible records", "error", err)
		remaining = len(selected)
	}

	o.mu.Lock()
	o.snap.Remaining = remaining
	o.mu.Unlock()

	queue := make(chan domain.Repo, len(selected))
	for _, repo := range selected {
		queue <- repo
	}
	close(queue)

	o.logger.InfoContext(ctx, "classification run started",
		"task_id", taskID,
		"selected", len(selected),
		"concurrency", concurrency,
		"force", opts.Force)

	for i := 0; i < concurrency; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i, queue, opts.IncludeReadme)
	}
	o.wg.Wait()

	o.finalize(ctx, taskID)
}

// worker pulls records off the shared queue until the queue drains or the
// stop flag is observed. The flag is checked only between items.
func (o *Orchestrator) worker(ctx context.Context, id int, queue <-chan domain.Repo, includeReadme bool) {
	defer o.wg.Done()
	for {
		if o.stopRequested() {
			o.logger.DebugContext(ctx, "worker observed stop flag", "worker_id", id)
			return
		}
		repo, ok := <-queue
		if !ok {
			return
		}

		err := o.classifier.ClassifyRecord(ctx, repo, includeReadme)
		if err != nil && errors.Is(err, classify.ErrSkipped) {
			// No classification source can operate; nothing any worker
			// does will succeed. Abort the whole run.
			o.recordFatal(err)
			return
		}

		o.mu.Lock()
		o.snap.Processed++
		if err != nil {
			o.snap.Failed++
		}
		if o.snap.Remaining > 0 {
			o.snap.Remaining--
		}
		o.mu.Unlock()
	}
}

// abort fails the run before any worker started, e.g. when selection
// itself errors.
func (o *Orchestrator) abort(ctx context.Context, taskID uuid.UUID, err error) {
	o.recordFatal(err)
	o.finalize(ctx, taskID)
}

func (o *Orchestrator) stopRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopFlag || o.fatalErr != nil
}

func (o *Orchestrator) recordFatal(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fatalErr == nil {
		o.fatalErr = err
		msg := err.Error()
		o.snap.LastError = &msg
	}
}

// finalize closes out the run state and transitions the task. A
// user-initiated stop finishes the task (stop is not an error); a fatal
// error fails it.
func (o *Orchestrator) finalize(ctx context.Context, taskID uuid.UUID) {
	now := time.Now().UTC()

	o.mu.Lock()
	o.snap.Running = false
	o.snap.FinishedAt = &now
	o.snap.TaskID = nil
	stopped := o.stopFlag
	fatal := o.fatalErr
	result := Result{
		Processed:  o.snap.Processed,
		Classified: o.snap.Processed - o.snap.Failed,
		Failed:     o.snap.Failed,
	}
	o.mu.Unlock()

	switch {
	case fatal != nil:
		o.logger.ErrorContext(ctx, "classification run aborted",
			"task_id", taskID,
			"error", fatal)
		if err := o.tasks.MarkFailed(ctx, taskID, fatal.Error()); err != nil {
			o.logger.ErrorContext(ctx, "failed to mark run task failed", "task_id", taskID, "error", err)
		}
	default:
		o.logger.InfoContext(ctx, "classification run finished",
			"task_id", taskID,
			"processed", result.Processed,
			"failed", result.Failed,
			"stopped", stopped)
		if err := o.tasks.MarkFinished(ctx, taskID, result); err != nil {
			o.logger.ErrorContext(ctx, "failed to mark run task finished", "task_id", taskID, "error", err)
		}
	}

	o.invalidateCaches(ctx)
}

func (o *Orchestrator) invalidateCaches(ctx context.Context) {
	if o.cache == nil {
		return
	}
	for _, prefix := range []string{"stats", "repos"} {
		if err := o.cache.InvalidatePrefix(ctx, prefix); err != nil {
			o.logger.WarnContext(ctx, "cache invalidation failed",
				"prefix", prefix,
				"error", err)
		}
	}
}
