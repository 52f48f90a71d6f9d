package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starsorty/starsorty-api/internal/api/shared"
	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/platform/logger"
	"github.com/starsorty/starsorty-api/internal/run"
	"github.com/starsorty/starsorty-api/internal/store"
	"github.com/starsorty/starsorty-api/internal/task"
)

// TaskHandler handles task lifecycle HTTP requests.
type TaskHandler struct {
	tasks        *task.Service
	orchestrator *run.Orchestrator
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks *task.Service, orchestrator *run.Orchestrator) *TaskHandler {
	return &TaskHandler{
		tasks:        tasks,
		orchestrator: orchestrator,
	}
}

// GetTask handles GET /api/tasks/{taskID} requests. An unknown id is an
// expected outcome, not an error: the handler synthesizes a terminal
// snapshot so pollers can clear their local reference and resync.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "taskID")

	id, parseErr := uuid.Parse(rawID)
	if parseErr == nil {
		found, err := h.tasks.Get(r.Context(), id)
		switch {
		case err == nil:
			shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(found))
			return
		case !errors.Is(err, store.ErrTaskNotFound):
			shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}
	}

	// Well-formed ids are presumed pruned by housekeeping; malformed ids
	// never existed.
	inferredType := "missing"
	if parseErr == nil {
		inferredType = "expired"
	}
	now := time.Now().UTC()
	shared.RespondWithJSON(w, r, http.StatusOK, TaskStatusResponse{
		TaskID:     rawID,
		Status:     string(domain.TaskStatusFailed),
		TaskType:   inferredType,
		CreatedAt:  now,
		FinishedAt: &now,
		Message:    "Task record unavailable (expired or cleaned)",
	})
}

// RetryTask handles POST /api/tasks/{taskID}/retry requests. Only failed
// classify tasks are retryable; the retry is a brand-new task pointing back
// at the original, which is never mutated.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}

	original, err := h.tasks.Get(ctx, id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if original.Type != domain.TaskTypeClassify {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Retry is only supported for classify tasks")
		return
	}

	retried, err := h.tasks.PrepareRetry(ctx, id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	var req BackgroundClassifyRequest
	if len(retried.Payload) > 0 {
		if err := json.Unmarshal(retried.Payload, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task payload")
			return
		}
	}

	err = h.orchestrator.Start(context.WithoutCancel(ctx), run.StartOptions{
		Limit:         req.Limit,
		Concurrency:   req.Concurrency,
		Force:         req.Force,
		IncludeReadme: req.IncludeReadme,
	}, retried.ID)
	if err != nil {
		if errors.Is(err, run.ErrAlreadyRunning) {
			if failErr := h.tasks.MarkFailed(ctx, retried.ID, "Classification already running"); failErr != nil {
				logger.FromContext(ctx).Error("failed to mark conflicting retry task failed",
					"task_id", retried.ID,
					"error", failErr)
			}
		}
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskQueuedResponse{
		TaskID:  retried.ID.String(),
		Status:  string(domain.TaskStatusQueued),
		Message: "Retry queued",
	})
}

// taskToResponse converts a domain.Task to a TaskStatusResponse.
func taskToResponse(t *domain.Task) TaskStatusResponse {
	resp := TaskStatusResponse{
		TaskID:     t.ID.String(),
		Status:     string(t.Status),
		TaskType:   t.Type,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		Message:    t.Message,
		Result:     t.Result,
	}
	if t.RetryFromTaskID != nil {
		resp.RetryFromTaskID = t.RetryFromTaskID.String()
	}
	return resp
}
