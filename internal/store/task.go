package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/starsorty/starsorty-api/internal/domain"
)

// TaskUpdate carries the mutable fields of a task status transition.
// Nil pointers leave the corresponding column untouched.
type TaskUpdate struct {
	Status     domain.TaskStatus
	StartedAt  *time.Time
	FinishedAt *time.Time
	Message    *string
	Result     json.RawMessage
}

// TaskStore defines the persistence interface for asynchronous operation
// records. Finished and failed tasks are immutable except through pruning;
// a retry never mutates the original task.
type TaskStore interface {
	// CreateTask persists a new task.
	CreateTask(ctx context.Context, task *domain.Task) error

	// UpdateTask applies a status transition to an existing task.
	// Returns ErrTaskNotFound when the task does not exist.
	UpdateTask(ctx context.Context, taskID uuid.UUID, update TaskUpdate) error

	// GetTask fetches a task by id. Returns ErrTaskNotFound for unknown or
	// pruned ids; callers treat that as a normal outcome.
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// SweepStale marks running tasks older than the cutoff as failed.
	// Used at startup to clean up tasks orphaned by a crash. Returns the
	// number of tasks swept.
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}
