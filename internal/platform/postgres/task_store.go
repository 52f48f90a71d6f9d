package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/platform/logger"
	"github.com/starsorty/starsorty-api/internal/store"
)

const taskColumns = `
	id, type, status, message, payload, result, retry_from_task_id,
	created_at, updated_at, started_at, finished_at`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// CreateTask persists a new task.
func (s *PostgresTaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	var retryFrom any
	if task.RetryFromTaskID != nil {
		retryFrom = *task.RetryFromTaskID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, status, message, payload, result, retry_from_task_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID,
		task.Type,
		string(task.Status),
		task.Message,
		nullableJSON(task.Payload),
		nullableJSON(task.Result),
		retryFrom,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		return MapError(fmt.Errorf("failed to save task: %w", err))
	}
	return nil
}

// UpdateTask applies a status transition to an existing task. Nil update
// fields leave the corresponding column untouched.
func (s *PostgresTaskStore) UpdateTask(ctx context.Context, taskID uuid.UUID, update store.TaskUpdate) error {
	log := logger.FromContext(ctx)

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = $1,
		    message = COALESCE($2, message),
		    result = COALESCE($3, result),
		    started_at = COALESCE($4, started_at),
		    finished_at = COALESCE($5, finished_at),
		    updated_at = $6
		WHERE id = $7`,
		string(update.Status),
		update.Message,
		nullableJSON(update.Result),
		update.StartedAt,
		update.FinishedAt,
		time.Now().UTC(),
		taskID,
	)
	if err != nil {
		log.Error("failed to update task",
			"task_id", taskID,
			"status", update.Status,
			"error", err)
		return MapError(fmt.Errorf("failed to update task: %w", err))
	}

	if err := CheckRowsAffected(result, "task"); err != nil {
		return store.ErrTaskNotFound
	}
	return nil
}

// GetTask fetches a task by id. Returns store.ErrTaskNotFound for unknown
// ids; callers treat that as a normal outcome.
func (s *PostgresTaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+taskColumns+` FROM tasks WHERE id = $1`, taskID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// SweepStale marks running tasks whose last update is older than the
// cutoff as failed. Used at startup to clean up after a crash.
func (s *PostgresTaskStore) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	log := logger.FromContext(ctx)

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = $1,
		    message = $2,
		    finished_at = $3,
		    updated_at = $3
		WHERE status = $4 AND updated_at < $5`,
		string(domain.TaskStatusFailed),
		"stale task reset at startup",
		now,
		string(domain.TaskStatusRunning),
		now.Add(-olderThan),
	)
	if err != nil {
		log.Error("failed to sweep stale tasks", "error", err)
		return 0, MapError(fmt.Errorf("failed to sweep stale tasks: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

// scanTask reads one task row.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task       domain.Task
		status     string
		payload    []byte
		result     []byte
		retryFrom  uuid.NullUUID
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.Type,
		&status,
		&task.Message,
		&payload,
		&result,
		&retryFrom,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, MapError(fmt.Errorf("failed to scan task row: %w", err))
	}

	task.Status = domain.TaskStatus(status)
	if len(payload) > 0 {
		task.Payload = payload
	}
	if len(result) > 0 {
		task.Result = result
	}
	if retryFrom.Valid {
		id := retryFrom.UUID
		task.RetryFromTaskID = &id
	}
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		task.FinishedAt = &t
	}
	return &task, nil
}

// nullableJSON stores empty JSON payloads as NULL rather than zero bytes.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
