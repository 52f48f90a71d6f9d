package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/starsorty/starsorty-api/internal/api/shared"
	"github.com/starsorty/starsorty-api/internal/platform/logger"
	"github.com/starsorty/starsorty-api/internal/store"
)

// failedListCacheKey and TTL for the failed-records listing. Any prefix
// invalidation of "repos" clears it.
const (
	failedListCacheKey = "repos:failed"
	failedListCacheTTL = 30 * time.Second
)

// defaultMinFailCount is the listing threshold when the query parameter is
// absent.
const defaultMinFailCount = 5

// ListerCache is the optional read-through cache used by listing endpoints.
type ListerCache interface {
	Invalidator
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// RepoHandler handles the failed-records listing and reset endpoints.
type RepoHandler struct {
	repos store.RepoStore
	cache ListerCache
}

// NewRepoHandler creates a new RepoHandler. cache may be nil.
func NewRepoHandler(repos store.RepoStore, cache ListerCache) *RepoHandler {
	return &RepoHandler{
		repos: repos,
		cache: cache,
	}
}

// ListFailed handles GET /api/repos/failed requests: records whose fail
// counter is at least min_fail_count, worst offenders first.
func (h *RepoHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	minFailCount := defaultMinFailCount
	if raw := r.URL.Query().Get("min_fail_count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "min_fail_count must be between 1 and 1000")
			return
		}
		minFailCount = parsed
	}

	cacheKey := failedListCacheKey + ":" + strconv.Itoa(minFailCount)
	if h.cache != nil {
		var cached FailedReposResponse
		hit, err := h.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			logger.FromContext(ctx).Warn("failed-list cache read failed", "error", err)
		} else if hit {
			shared.RespondWithJSON(w, r, http.StatusOK, cached)
			return
		}
	}

	repos, err := h.repos.ListFailed(ctx, minFailCount)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	items := make([]FailedRepoItem, 0, len(repos))
	for _, repo := range repos {
		items = append(items, FailedRepoItem{
			FullName:          repo.FullName,
			Name:              repo.Name,
			Description:       repo.Description,
			Language:          repo.Language,
			ClassifyFailCount: repo.ClassifyFailCount,
		})
	}
	response := FailedReposResponse{Items: items, Total: len(items)}

	if h.cache != nil {
		if err := h.cache.SetJSON(ctx, cacheKey, response, failedListCacheTTL); err != nil {
			logger.FromContext(ctx).Warn("failed-list cache write failed", "error", err)
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// ResetFailed handles POST /api/repos/failed/reset requests, zeroing every
// non-zero fail counter so those records become eligible again.
func (h *RepoHandler) ResetFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.repos.ResetFailCount(ctx, nil)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if h.cache != nil {
		if err := h.cache.InvalidatePrefix(ctx, "repos"); err != nil {
			logger.FromContext(ctx).Warn("cache invalidation failed", "prefix", "repos", "error", err)
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ResetFailedResponse{ResetCount: count})
}
