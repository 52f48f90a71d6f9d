package api

import (
	"encoding/json"
	"time"
)

// Common request/response structures

// ClassifyRequest defines the payload for the foreground classify endpoint.
// A zero Limit means the configured default batch size.
type ClassifyRequest struct {
	Limit         int  `json:"limit"          validate:"gte=0"`
	Force         bool `json:"force"`
	IncludeReadme bool `json:"include_readme"`
}

// BackgroundClassifyRequest defines the payload for starting a background
// classification run. It is also the shape persisted as a task payload so a
// retry can replay the original request.
type BackgroundClassifyRequest struct {
	Limit         int  `json:"limit"          validate:"gte=0"`
	Concurrency   int  `json:"concurrency"    validate:"gte=0"`
	Force         bool `json:"force"`
	IncludeReadme bool `json:"include_readme"`
}

// BackgroundClassifyResponse acknowledges a started background run.
type BackgroundClassifyResponse struct {
	Started bool   `json:"started"`
	Running bool   `json:"running"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

// StopResponse acknowledges a stop request.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// TaskQueuedResponse acknowledges a newly queued task.
type TaskQueuedResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// TaskStatusResponse is the task snapshot returned by the task endpoints.
// For unknown ids a synthesized failed snapshot is returned with TaskType
// "expired" (well-formed id presumed pruned) or "missing" (malformed id);
// callers resync instead of treating it as an error.
type TaskStatusResponse struct {
	TaskID          string          `json:"task_id"`
	Status          string          `json:"status"`
	TaskType        string          `json:"task_type"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at"`
	Message         string          `json:"message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	RetryFromTaskID string          `json:"retry_from_task_id,omitempty"`
}

// FailedRepoItem is one entry in the failed-records listing.
type FailedRepoItem struct {
	FullName          string `json:"full_name"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Language          string `json:"language,omitempty"`
	ClassifyFailCount int    `json:"classify_fail_count"`
}

// FailedReposResponse lists records with repeated classification failures.
type FailedReposResponse struct {
	Items []FailedRepoItem `json:"items"`
	Total int              `json:"total"`
}

// ResetFailedResponse reports how many fail counters were zeroed.
type ResetFailedResponse struct {
	ResetCount int `json:"reset_count"`
}
