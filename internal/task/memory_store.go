package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/store"
)

// MemoryStore is an in-memory TaskStore implementation. It backs tests and
// single-node deployments that run without Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]domain.Task
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[uuid.UUID]domain.Task)}
}

// CreateTask persists a copy of the task.
func (m *MemoryStore) CreateTask(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = *t
	return nil
}

// UpdateTask applies a status transition to an existing task.
func (m *MemoryStore) UpdateTask(_ context.Context, taskID uuid.UUID, update store.TaskUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.Status = update.Status
	t.UpdatedAt = time.Now().UTC()
	if update.StartedAt != nil {
		t.StartedAt = update.StartedAt
	}
	if update.FinishedAt != nil {
		t.FinishedAt = update.FinishedAt
	}
	if update.Message != nil {
		t.Message = *update.Message
	}
	if update.Result != nil {
		t.Result = update.Result
	}
	m.tasks[taskID] = t
	return nil
}

// GetTask fetches a task copy by id.
func (m *MemoryStore) GetTask(_ context.Context, taskID uuid.UUID) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := t
	return &copied, nil
}

// SweepStale marks running tasks older than the cutoff as failed.
func (m *MemoryStore) SweepStale(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	swept := 0
	for id, t := range m.tasks {
		if t.Status != domain.TaskStatusRunning || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		t.Status = domain.TaskStatusFailed
		t.FinishedAt = &now
		t.UpdatedAt = now
		if t.Message == "" {
			t.Message = "stale task reset at startup"
		}
		m.tasks[id] = t
		swept++
	}
	return swept, nil
}
