// Package task manages the lifecycle and retry lineage of persisted
// asynchronous operations. The execution of a task (e.g. a background
// classification run) belongs to other components; this package owns only
// the task records themselves.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/store"
)

// Common errors returned by the task service
var (
	// ErrNotRetryable is returned when retry is requested for a task that
	// is not in the failed state or is of a type that cannot be replayed.
	ErrNotRetryable = errors.New("task is not retryable")
)

// Service provides task lifecycle operations on top of a TaskStore.
type Service struct {
	store  store.TaskStore
	logger *slog.Logger
}

// NewService creates a task Service.
func NewService(s store.TaskStore, logger *slog.Logger) *Service {
	return &Service{store: s, logger: logger}
}

// Create registers a new queued task. payload records the original request
// so a retry can replay it; it may be nil.
func (s *Service) Create(ctx context.Context, taskType, message string, payload any) (*domain.Task, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode task payload: %w", err)
		}
		raw = encoded
	}
	t, err := domain.NewTask(taskType, message, raw)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	s.logger.InfoContext(ctx, "task created",
		"task_id", t.ID,
		"task_type", t.Type)
	return t, nil
}

// Get fetches a task snapshot. Unknown ids return store.ErrTaskNotFound.
func (s *Service) Get(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

// MarkRunning transitions a task to running and stamps started_at.
func (s *Service) MarkRunning(ctx context.Context, taskID uuid.UUID) error {
	now := time.Now().UTC()
	return s.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		Status:    domain.TaskStatusRunning,
		StartedAt: &now,
	})
}

// MarkFinished transitions a task to finished with an optional result.
func (s *Service) MarkFinished(ctx context.Context, taskID uuid.UUID, result any) error {
	now := time.Now().UTC()
	update := store.TaskUpdate{
		Status:     domain.TaskStatusFinished,
		FinishedAt: &now,
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode task result: %w", err)
		}
		update.Result = raw
	}
	return s.store.UpdateTask(ctx, taskID, update)
}

// MarkFailed transitions a task to failed with the given message.
func (s *Service) MarkFailed(ctx context.Context, taskID uuid.UUID, message string) error {
	now := time.Now().UTC()
	return s.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		Status:     domain.TaskStatusFailed,
		FinishedAt: &now,
		Message:    &message,
	})
}

// PrepareRetry creates a brand-new task that retries a failed one. The new
// task carries the original payload and points back at the original via
// RetryFromTaskID; the original record is never mutated. Only failed tasks
// are retryable.
func (s *Service) PrepareRetry(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	original, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if original.Status != domain.TaskStatusFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, original.Status)
	}

	retried, err := domain.NewTask(original.Type, fmt.Sprintf("Retry of %s", original.ID), original.Payload)
	if err != nil {
		return nil, err
	}
	originalID := original.ID
	retried.RetryFromTaskID = &originalID
	if err := s.store.CreateTask(ctx, retried); err != nil {
		return nil, fmt.Errorf("failed to create retry task: %w", err)
	}
	s.logger.InfoContext(ctx, "task retry created",
		"task_id", retried.ID,
		"retry_from_task_id", originalID,
		"task_type", retried.Type)
	return retried, nil
}

// SweepStale marks running tasks older than the cutoff as failed. Intended
// for startup, where tasks orphaned by a crash would otherwise stay running
// forever.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.store.SweepStale(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale tasks: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "swept stale tasks", "count", n, "older_than", olderThan)
	}
	return n, nil
}
