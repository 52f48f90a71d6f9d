// Package run owns the background classification run: a single-flight,
// bounded worker pool draining a queue of eligible records, with cooperative
// stop and a pollable status snapshot.
package run

import (
	"time"

	"github.com/google/uuid"
)

// StopMessage is the last_error value reported after a user-initiated stop.
// A stop is not an error; the value exists so pollers can tell a stopped run
// from a naturally finished one.
const StopMessage = "Stopped by user"

// Snapshot is a point-in-time copy of the run state, safe to serialize and
// hand to pollers at any moment, including mid-run.
type Snapshot struct {
	Running     bool       `json:"running"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Processed   int        `json:"processed"`
	Failed      int        `json:"failed"`
	Remaining   int        `json:"remaining"`
	BatchSize   int        `json:"batch_size"`
	Concurrency int        `json:"concurrency"`
	LastError   *string    `json:"last_error"`
	TaskID      *uuid.UUID `json:"task_id,omitempty"`
}

// Result summarizes a finished run; it is stored on the task record.
type Result struct {
	Processed  int `json:"processed"`
	Classified int `json:"classified"`
	Failed     int `json:"failed"`
}

// StartOptions parameterizes one background run.
type StartOptions struct {
	// Limit caps how many records the run selects. Zero or negative means
	// the configured default batch size.
	Limit int

	// Concurrency is the requested worker count. Zero or negative means
	// the configured default; values above the hard maximum are clamped.
	Concurrency int

	// Force reclassifies records that already carry a classification.
	Force bool

	// IncludeReadme enables best-effort README enrichment per record.
	IncludeReadme bool
}

// Config bounds run parameters. All values are service configuration.
type Config struct {
	DefaultBatchSize   int
	MaxBatchSize       int
	DefaultConcurrency int
	MaxConcurrency     int
}

// DefaultConfig returns the production run bounds.
func DefaultConfig() Config {
	return Config{
		DefaultBatchSize:   50,
		MaxBatchSize:       200,
		DefaultConcurrency: 3,
		MaxConcurrency:     10,
	}
}

func (c Config) clampLimit(v int) int {
	if v <= 0 {
		v = c.DefaultBatchSize
	}
	if c.MaxBatchSize > 0 && v > c.MaxBatchSize {
		return c.MaxBatchSize
	}
	return v
}

func (c Config) clampConcurrency(v int) int {
	if v <= 0 {
		v = c.DefaultConcurrency
	}
	if v < 1 {
		v = 1
	}
	if c.MaxConcurrency > 0 && v > c.MaxConcurrency {
		return c.MaxConcurrency
	}
	return v
}
