package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/starsorty/starsorty-api/internal/api/shared"
	"github.com/starsorty/starsorty-api/internal/classify"
	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/platform/logger"
	"github.com/starsorty/starsorty-api/internal/run"
	"github.com/starsorty/starsorty-api/internal/task"
)

// Invalidator clears cached listings by key prefix. Nil-safe at the
// handler level; a missing cache is simply skipped.
type Invalidator interface {
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// ClassifyHandler handles classification-related HTTP requests: the
// foreground batch endpoint and the background run lifecycle.
type ClassifyHandler struct {
	batches      *classify.Service
	orchestrator *run.Orchestrator
	tasks        *task.Service
	cache        Invalidator
}

// NewClassifyHandler creates a new ClassifyHandler. cache may be nil.
func NewClassifyHandler(
	batches *classify.Service,
	orchestrator *run.Orchestrator,
	tasks *task.Service,
	cache Invalidator,
) *ClassifyHandler {
	return &ClassifyHandler{
		batches:      batches,
		orchestrator: orchestrator,
		tasks:        tasks,
		cache:        cache,
	}
}

// Classify handles POST /api/classify requests. A force request is promoted
// to a background run, since reclassifying the whole catalog is too slow to
// hold a request open for; everything else runs synchronously.
func (h *ClassifyHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	if req.Force {
		h.startBackground(w, r, BackgroundClassifyRequest{
			Limit:         req.Limit,
			Force:         true,
			IncludeReadme: req.IncludeReadme,
		}, "Force classification queued")
		return
	}

	result, err := h.batches.ClassifyBatch(r.Context(), classify.BatchOptions{
		Limit:         req.Limit,
		IncludeReadme: req.IncludeReadme,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.invalidate(r.Context())
	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// ClassifyBackground handles POST /api/classify/background requests.
func (h *ClassifyHandler) ClassifyBackground(w http.ResponseWriter, r *http.Request) {
	var req BackgroundClassifyRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	h.startBackground(w, r, req, "Background classification queued")
}

// startBackground registers a task for the run and hands it to the
// orchestrator. A conflict fails the freshly created task so its record
// reflects why it never ran.
func (h *ClassifyHandler) startBackground(w http.ResponseWriter, r *http.Request, req BackgroundClassifyRequest, message string) {
	ctx := r.Context()

	created, err := h.tasks.Create(ctx, domain.TaskTypeClassify, message, req)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to create task", err)
		return
	}

	err = h.orchestrator.Start(context.WithoutCancel(ctx), run.StartOptions{
		Limit:         req.Limit,
		Concurrency:   req.Concurrency,
		Force:         req.Force,
		IncludeReadme: req.IncludeReadme,
	}, created.ID)
	if err != nil {
		if errors.Is(err, run.ErrAlreadyRunning) {
			if failErr := h.tasks.MarkFailed(ctx, created.ID, "Classification already running"); failErr != nil {
				logger.FromContext(ctx).Error("failed to mark conflicting task failed",
					"task_id", created.ID,
					"error", failErr)
			}
		}
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, BackgroundClassifyResponse{
		Started: true,
		Running: true,
		Message: "Background classification started",
		TaskID:  created.ID.String(),
	})
}

// Status handles GET /api/classify/status requests.
func (h *ClassifyHandler) Status(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.orchestrator.Status())
}

// Stop handles POST /api/classify/stop requests. Stop is cooperative:
// in-flight classifications complete before workers exit, so status may
// report running=true for a short while afterwards.
func (h *ClassifyHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.Stop()
	shared.RespondWithJSON(w, r, http.StatusOK, StopResponse{Stopped: true})
}

func (h *ClassifyHandler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	for _, prefix := range []string{"stats", "repos"} {
		if err := h.cache.InvalidatePrefix(ctx, prefix); err != nil {
			logger.FromContext(ctx).Warn("cache invalidation failed", "prefix", prefix, "error", err)
		}
	}
}
