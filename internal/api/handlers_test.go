package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/starsorty/starsorty-api/internal/classify"
	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/metrics"
	"github.com/starsorty/starsorty-api/internal/run"
	"github.com/starsorty/starsorty-api/internal/store"
	"github.com/starsorty/starsorty-api/internal/task"
	"github.com/starsorty/starsorty-api/internal/taxonomy"
)

// fakeRepoStore backs both the foreground batch service and the
// orchestrator in handler tests.
type fakeRepoStore struct {
	mu             sync.Mutex
	selected       []domain.Repo
	failed         []domain.Repo
	remaining      int
	resetCount     int
	lastMinFail    int
	listFailedHits int
	updates        map[string]*domain.Decision
}

func newFakeRepoStore(selected ...domain.Repo) *fakeRepoStore {
	return &fakeRepoStore{
		selected: selected,
		updates:  map[string]*domain.Decision{},
	}
}

func (s *fakeRepoStore) SelectForClassification(_ context.Context, limit int, _ bool) ([]domain.Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && limit < len(s.selected) {
		return s.selected[:limit], nil
	}
	return s.selected, nil
}

func (s *fakeRepoStore) CountForClassification(context.Context, bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selected), nil
}

func (s *fakeRepoStore) CountUnclassified(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining, nil
}

func (s *fakeRepoStore) GetRepo(_ context.Context, fullName string) (*domain.Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.selected {
		if s.selected[i].FullName == fullName {
			repo := s.selected[i]
			return &repo, nil
		}
	}
	return nil, store.ErrRepoNotFound
}

func (s *fakeRepoStore) UpdateClassification(_ context.Context, fullName string, decision *domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[fullName] = decision
	return nil
}

func (s *fakeRepoStore) IncrementFailCount(context.Context, []string) error { return nil }

func (s *fakeRepoStore) ListFailed(_ context.Context, minFailCount int) ([]domain.Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMinFail = minFailCount
	s.listFailedHits++
	return s.failed, nil
}

func (s *fakeRepoStore) ResetFailCount(context.Context, []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetCount, nil
}

func (s *fakeRepoStore) minFailSeen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMinFail
}

// gatedClassifier serves the orchestrator. With a gate set, each record
// blocks until the gate closes, keeping a run deterministically in flight.
type gatedClassifier struct {
	gate    chan struct{}
	started chan struct{}
}

func (c *gatedClassifier) ClassifyRecord(context.Context, domain.Repo, bool) error {
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}
	return nil
}

type testEnv struct {
	repos      *fakeRepoStore
	tasks      *task.Service
	orch       *run.Orchestrator
	classifier *gatedClassifier
	router     chi.Router
}

// newTestEnv wires real services over fakes: a rules-only engine that
// matches any record mentioning "docker", the task ledger on the memory
// store, and the orchestrator over a gated classifier.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	quality := metrics.NewQuality(prometheus.NewRegistry())

	schema := taxonomy.New(
		[]taxonomy.Category{
			{Name: "infrastructure", Subcategories: []string{"containers", "other"}},
			{Name: "uncategorized", Subcategories: []string{"other"}},
		},
		[]taxonomy.TagDef{{ID: "docker"}},
	)
	rule := domain.Rule{
		RuleID:       "docker-tooling",
		MustKeywords: []string{"docker"},
		Priority:     50,
		Category:     "infrastructure",
		Subcategory:  "containers",
		TagIDs:       []string{"docker"},
	}
	engine := classify.NewEngine(schema, []domain.Rule{rule},
		classify.ModeRulesOnly, classify.DefaultPolicy(), nil, quality, logger)

	repos := newFakeRepoStore(
		domain.Repo{FullName: "acme/buildkit", Description: "docker image build toolkit"},
		domain.Repo{FullName: "acme/compose", Description: "docker compose helpers"},
	)
	tasks := task.NewService(task.NewMemoryStore(), logger)
	batches := classify.NewService(engine, repos, nil, quality, logger)
	classifier := &gatedClassifier{}
	orch := run.NewOrchestrator(repos, classifier, tasks, nil, run.DefaultConfig(), logger)

	classifyHandler := NewClassifyHandler(batches, orch, tasks, nil)
	taskHandler := NewTaskHandler(tasks, orch)
	repoHandler := NewRepoHandler(repos, nil)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/classify", classifyHandler.Classify)
		r.Post("/classify/background", classifyHandler.ClassifyBackground)
		r.Get("/classify/status", classifyHandler.Status)
		r.Post("/classify/stop", classifyHandler.Stop)
		r.Get("/tasks/{taskID}", taskHandler.GetTask)
		r.Post("/tasks/{taskID}/retry", taskHandler.RetryTask)
		r.Get("/repos/failed", repoHandler.ListFailed)
		r.Post("/repos/failed/reset", repoHandler.ResetFailed)
	})

	return &testEnv{
		repos:      repos,
		tasks:      tasks,
		orch:       orch,
		classifier: classifier,
		router:     r,
	}
}

func (e *testEnv) request(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !e.orch.Status().Running
	}, 2*time.Second, 2*time.Millisecond)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
