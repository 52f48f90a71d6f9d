package run

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starsorty/starsorty-api/internal/classify"
	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/store"
	"github.com/starsorty/starsorty-api/internal/task"
)

// fakeRepoStore serves a fixed selection; only the selection methods
// matter to the orchestrator.
type fakeRepoStore struct {
	selected  []domain.Repo
	selectErr error
	countErr  error
}

func (s *fakeRepoStore) SelectForClassification(_ context.Context, limit int, _ bool) ([]domain.Repo, error) {
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	if limit > 0 && limit < len(s.selected) {
		return s.selected[:limit], nil
	}
	return s.selected, nil
}

func (s *fakeRepoStore) CountForClassification(context.Context, bool) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.selected), nil
}

func (s *fakeRepoStore) CountUnclassified(context.Context) (int, error) {
	return len(s.selected), nil
}

func (s *fakeRepoStore) GetRepo(context.Context, string) (*domain.Repo, error) {
	return nil, store.ErrRepoNotFound
}

func (s *fakeRepoStore) UpdateClassification(context.Context, string, *domain.Decision) error {
	return nil
}

func (s *fakeRepoStore) IncrementFailCount(context.Context, []string) error { return nil }

func (s *fakeRepoStore) ListFailed(context.Context, int) ([]domain.Repo, error) { return nil, nil }

func (s *fakeRepoStore) ResetFailCount(context.Context, []string) (int, error) { return 0, nil }

// stubClassifier records calls and can fail per record or block on a gate.
type stubClassifier struct {
	mu      sync.Mutex
	failOn  map[string]error
	gate    chan struct{}
	started chan string
	calls   []string
}

func (c *stubClassifier) ClassifyRecord(_ context.Context, repo domain.Repo, _ bool) error {
	c.mu.Lock()
	c.calls = append(c.calls, repo.FullName)
	err := c.failOn[repo.FullName]
	c.mu.Unlock()
	if c.started != nil {
		c.started <- repo.FullName
	}
	if c.gate != nil {
		<-c.gate
	}
	return err
}

func (c *stubClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type recordingCache struct {
	mu       sync.Mutex
	prefixes []string
}

func (c *recordingCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefixes = append(c.prefixes, prefix)
	return nil
}

func repos(names ...string) []domain.Repo {
	out := make([]domain.Repo, 0, len(names))
	for _, n := range names {
		out = append(out, domain.Repo{FullName: n})
	}
	return out
}

func newTestOrchestrator(
	t *testing.T,
	repoStore *fakeRepoStore,
	classifier RecordClassifier,
	cache CacheInvalidator,
) (*Orchestrator, *task.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks := task.NewService(task.NewMemoryStore(), logger)
	orch := NewOrchestrator(repoStore, classifier, tasks, cache, DefaultConfig(), logger)
	return orch, tasks
}

func createRunTask(t *testing.T, tasks *task.Service) *domain.Task {
	t.Helper()
	created, err := tasks.Create(context.Background(), domain.TaskTypeClassify, "queued", nil)
	require.NoError(t, err)
	return created
}

func waitForIdle(t *testing.T, orch *Orchestrator) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return !orch.Status().Running
	}, 2*time.Second, 2*time.Millisecond)
	return orch.Status()
}

func TestRunCompletes(t *testing.T) {
	repoStore := &fakeRepoStore{selected: repos("a/a", "a/b", "a/c")}
	classifier := &stubClassifier{}
	cache := &recordingCache{}
	orch, tasks := newTestOrchestrator(t, repoStore, classifier, cache)
	created := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{Concurrency: 2}, created.ID))
	snap := waitForIdle(t, orch)

	assert.Equal(t, 3, snap.Processed)
	assert.Zero(t, snap.Failed)
	assert.Zero(t, snap.Remaining)
	assert.Nil(t, snap.LastError)
	assert.Nil(t, snap.TaskID)
	require.NotNil(t, snap.FinishedAt)
	assert.Equal(t, 3, classifier.callCount())

	final, err := tasks.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFinished, final.Status)
	assert.JSONEq(t, `{"processed":3,"classified":3,"failed":0}`, string(final.Result))

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Equal(t, []string{"stats", "repos"}, cache.prefixes)
}

func TestRunCountsFailures(t *testing.T) {
	repoStore := &fakeRepoStore{selected: repos("a/a", "a/b")}
	classifier := &stubClassifier{failOn: map[string]error{"a/b": errors.New("provider error")}}
	orch, tasks := newTestOrchestrator(t, repoStore, classifier, nil)
	created := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{}, created.ID))
	snap := waitForIdle(t, orch)

	assert.Equal(t, 2, snap.Processed)
	assert.Equal(t, 1, snap.Failed)

	final, err := tasks.Get(context.Background(), created.ID)
	require.NoError(t, err)
	// Per-record failures do not fail the run.
	assert.Equal(t, domain.TaskStatusFinished, final.Status)
	assert.JSONEq(t, `{"processed":2,"classified":1,"failed":1}`, string(final.Result))
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan string, 8)
	repoStore := &fakeRepoStore{selected: repos("a/a", "a/b")}
	classifier := &stubClassifier{gate: gate, started: started}
	orch, tasks := newTestOrchestrator(t, repoStore, classifier, nil)
	first := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{Concurrency: 1}, first.ID))
	<-started

	second := createRunTask(t, tasks)
	err := orch.Start(context.Background(), StartOptions{}, second.ID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(gate)
	waitForIdle(t, orch)

	// Once idle, a new run may start.
	third := createRunTask(t, tasks)
	require.NoError(t, orch.Start(context.Background(), StartOptions{}, third.ID))
	waitForIdle(t, orch)
}

// gaugingClassifier tracks how many classifications run at once.
type gaugingClassifier struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (c *gaugingClassifier) ClassifyRecord(context.Context, domain.Repo, bool) error {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	c.mu.Unlock()

	// Hold the slot long enough for the other workers to pile in.
	time.Sleep(5 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return nil
}

func TestRunHonorsConcurrencyLimit(t *testing.T) {
	repoStore := &fakeRepoStore{selected: repos(
		"a/a", "a/b", "a/c", "a/d", "a/e", "a/f", "a/g", "a/h")}
	classifier := &gaugingClassifier{}
	orch, tasks := newTestOrchestrator(t, repoStore, classifier, nil)
	created := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{Concurrency: 2}, created.ID))
	snap := waitForIdle(t, orch)

	assert.Equal(t, 8, snap.Processed)
	classifier.mu.Lock()
	defer classifier.mu.Unlock()
	assert.LessOrEqual(t, classifier.maxSeen, 2)
	// With more records than workers the pool should actually fill.
	assert.Equal(t, 2, classifier.maxSeen)
}

func TestStopIsCooperative(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan string, 8)
	repoStore := &fakeRepoStore{selected: repos("a/a", "a/b", "a/c")}
	classifier := &stubClassifier{gate: gate, started: started}
	orch, tasks := newTestOrchestrator(t, repoStore, classifier, nil)
	created := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{Concurrency: 1}, created.ID))
	<-started

	orch.Stop()
	snap := orch.Status()
	require.NotNil(t, snap.LastError)
	assert.Equal(t, StopMessage, *snap.LastError)

	// Release the in-flight record; the worker then observes the flag.
	close(gate)
	snap = waitForIdle(t, orch)

	assert.Equal(t, 1, snap.Processed)
	assert.Equal(t, 1, classifier.callCount())

	// A stop is not an error; the task finishes with partial results.
	final, err := tasks.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFinished, final.Status)
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeRepoStore{}, &stubClassifier{}, nil)
	orch.Stop()
	snap := orch.Status()
	assert.False(t, snap.Running)
	assert.Nil(t, snap.LastError)
}

func TestSkippedClassificationAbortsRun(t *testing.T) {
	repoStore := &fakeRepoStore{selected: repos("a/a", "a/b", "a/c")}
	classifier := &stubClassifier{failOn: map[string]error{
		"a/a": classify.ErrSkipped,
		"a/b": classify.ErrSkipped,
		"a/c": classify.ErrSkipped,
	}}
	orch, tasks := newTestOrchestrator(t, repoStore, classifier, nil)
	created := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{Concurrency: 1}, created.ID))
	snap := waitForIdle(t, orch)

	require.NotNil(t, snap.LastError)
	// The first skip aborts the run; remaining records are not attempted.
	assert.Less(t, classifier.callCount(), 3)

	final, err := tasks.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)
}

func TestSelectionErrorFailsTask(t *testing.T) {
	repoStore := &fakeRepoStore{selectErr: errors.New("db down")}
	orch, tasks := newTestOrchestrator(t, repoStore, &stubClassifier{}, nil)
	created := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{}, created.ID))
	waitForIdle(t, orch)

	final, err := tasks.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Contains(t, final.Message, "db down")
}

func TestCountErrorIsNotFatal(t *testing.T) {
	repoStore := &fakeRepoStore{selected: repos("a/a"), countErr: errors.New("count broke")}
	orch, tasks := newTestOrchestrator(t, repoStore, &stubClassifier{}, nil)
	created := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{}, created.ID))
	waitForIdle(t, orch)

	final, err := tasks.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFinished, final.Status)
}

func TestStartClampsParameters(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan string, 8)
	repoStore := &fakeRepoStore{selected: repos("a/a")}
	classifier := &stubClassifier{gate: gate, started: started}
	orch, tasks := newTestOrchestrator(t, repoStore, classifier, nil)
	created := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{
		Limit:       10_000,
		Concurrency: 99,
	}, created.ID))
	<-started

	snap := orch.Status()
	assert.Equal(t, DefaultConfig().MaxBatchSize, snap.BatchSize)
	assert.Equal(t, DefaultConfig().MaxConcurrency, snap.Concurrency)

	close(gate)
	waitForIdle(t, orch)
}

func TestStatusReflectsDefaults(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan string, 8)
	repoStore := &fakeRepoStore{selected: repos("a/a")}
	classifier := &stubClassifier{gate: gate, started: started}
	orch, tasks := newTestOrchestrator(t, repoStore, classifier, nil)
	created := createRunTask(t, tasks)

	require.NoError(t, orch.Start(context.Background(), StartOptions{}, created.ID))
	<-started

	snap := orch.Status()
	assert.True(t, snap.Running)
	assert.Equal(t, DefaultConfig().DefaultBatchSize, snap.BatchSize)
	assert.Equal(t, DefaultConfig().DefaultConcurrency, snap.Concurrency)
	require.NotNil(t, snap.TaskID)
	assert.Equal(t, created.ID, *snap.TaskID)

	close(gate)
	waitForIdle(t, orch)
}
