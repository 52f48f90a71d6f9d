package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starsorty/starsorty-api/internal/domain"
)

// memoryListerCache is an in-process ListerCache for handler tests.
type memoryListerCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	hits    int
}

func newMemoryListerCache() *memoryListerCache {
	return &memoryListerCache{entries: map[string][]byte{}}
}

func (c *memoryListerCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryListerCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	c.sets++
	return nil
}

func (c *memoryListerCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func failedRepos() []domain.Repo {
	return []domain.Repo{
		{FullName: "acme/flaky", Name: "flaky", Description: "never classifies", Language: "Go", ClassifyFailCount: 9},
		{FullName: "acme/worse", Name: "worse", ClassifyFailCount: 6},
	}
}

func TestListFailedDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.repos.failed = failedRepos()

	rec := env.request(t, http.MethodGet, "/api/repos/failed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[FailedReposResponse](t, rec)
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "acme/flaky", resp.Items[0].FullName)
	assert.Equal(t, 9, resp.Items[0].ClassifyFailCount)
	assert.Equal(t, defaultMinFailCount, env.repos.minFailSeen())
}

func TestListFailedCustomThreshold(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/repos/failed?min_fail_count=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, env.repos.minFailSeen())
}

func TestListFailedValidatesThreshold(t *testing.T) {
	env := newTestEnv(t)
	for _, raw := range []string{"abc", "0", "-3", "1001"} {
		t.Run(raw, func(t *testing.T) {
			rec := env.request(t, http.MethodGet, "/api/repos/failed?min_fail_count="+raw, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "min_fail_count must be between 1 and 1000")
		})
	}
}

func TestListFailedEmpty(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/api/repos/failed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[FailedReposResponse](t, rec)
	assert.Zero(t, resp.Total)
	assert.NotNil(t, resp.Items)
}

func TestResetFailed(t *testing.T) {
	env := newTestEnv(t)
	env.repos.resetCount = 7

	rec := env.request(t, http.MethodPost, "/api/repos/failed/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reset_count":7}`, rec.Body.String())
}

func TestListFailedReadThroughCache(t *testing.T) {
	env := newTestEnv(t)
	env.repos.failed = failedRepos()
	cache := newMemoryListerCache()
	handler := NewRepoHandler(env.repos, cache)

	r := chi.NewRouter()
	r.Get("/api/repos/failed", handler.ListFailed)
	r.Post("/api/repos/failed/reset", handler.ResetFailed)

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/repos/failed", nil))
		return rec
	}

	first := get()
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 1, cache.sets)

	second := get()
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, env.repos.listFailedHits)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// A reset invalidates the listing so stale counts are never served.
	reset := httptest.NewRecorder()
	r.ServeHTTP(reset, httptest.NewRequest(http.MethodPost, "/api/repos/failed/reset", nil))
	require.Equal(t, http.StatusOK, reset.Code)

	third := get()
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, 2, env.repos.listFailedHits)
}
