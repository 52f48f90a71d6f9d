package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued   TaskStatus = "queued"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusFinished TaskStatus = "finished"
	TaskStatusFailed   TaskStatus = "failed"
)

// Task type constants
const (
	// TaskTypeClassify represents a background classification run.
	TaskTypeClassify = "classify"

	// TaskTypeSync represents a catalog sync operation. Sync itself is an
	// external collaborator; the type exists so its tasks share the same
	// lifecycle and lineage.
	TaskTypeSync = "sync"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskType    = errors.New("task type cannot be empty")
	ErrInvalidTaskState = errors.New("invalid task status")
)

// Task is the persisted record of one asynchronous operation's lifecycle.
// A finished or failed task is immutable; retrying a failed task creates a
// brand-new Task whose RetryFromTaskID points at the original.
type Task struct {
	ID              uuid.UUID       `json:"task_id"`
	Type            string          `json:"task_type"`
	Status          TaskStatus      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Message         string          `json:"message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	RetryFromTaskID *uuid.UUID      `json:"retry_from_task_id,omitempty"`
}

// NewTask creates a queued Task of the given type. The payload records the
// original request so a retry can replay it.
func NewTask(taskType, message string, payload json.RawMessage) (*Task, error) {
	t := &Task{
		ID:        uuid.New(),
		Type:      taskType,
		Status:    TaskStatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Message:   message,
		Payload:   payload,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.Type == "" {
		return ErrEmptyTaskType
	}
	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskState
	}
	return nil
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusFinished || t.Status == TaskStatusFailed
}

func isValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusFinished, TaskStatusFailed:
		return true
	}
	return false
}
