// Package poller implements the client-side status polling contract: a
// small state machine that polls run and task status on a fixed interval,
// pauses while the client is hidden or after repeated failures, and
// resynchronizes when a tracked task disappears.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/run"
)

// State is the poller's lifecycle state.
type State int

const (
	// StatePolling means the interval timer is live and polls are issued.
	StatePolling State = iota
	// StatePaused means polling stopped after consecutive failures and
	// only an explicit Reconnect resumes it.
	StatePaused
	// StateRecovering means a tracked task vanished and the poller is
	// resyncing run state before returning to normal polling.
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StatePaused:
		return "paused"
	case StateRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// DefaultInterval is the fixed poll cadence.
	DefaultInterval = 8 * time.Second
	// DefaultMaxFailures is the consecutive-failure count that trips the
	// poller into StatePaused.
	DefaultMaxFailures = 3
)

// StatusError is a non-2xx response from the status endpoints.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status request failed with code %d", e.Code)
}

// retriable reports whether the failure should count toward the
// consecutive-failure trip wire. Transport errors (anything that is not a
// StatusError) are always retriable.
func retriable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	return true
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}

// Source provides the status endpoints the poller reads from.
type Source interface {
	RunStatus(ctx context.Context) (run.Snapshot, error)
	TaskStatus(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// Update is delivered to the observer after each successful poll. Task is
// nil when no task is being tracked.
type Update struct {
	Run  run.Snapshot
	Task *domain.Task
}

// Poller drives the polling state machine. All exported methods are safe
// for concurrent use.
type Poller struct {
	source      Source
	interval    time.Duration
	maxFailures int
	onUpdate    func(Update)
	logger      *slog.Logger

	mu       sync.Mutex
	state    State
	visible  bool
	failures int
	taskID   *uuid.UUID
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides the poll cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithMaxFailures overrides the consecutive-failure threshold.
func WithMaxFailures(n int) Option {
	return func(p *Poller) { p.maxFailures = n }
}

// WithObserver registers a callback invoked after each successful poll.
func WithObserver(fn func(Update)) Option {
	return func(p *Poller) { p.onUpdate = fn }
}

// New creates a Poller in StatePolling, considered visible.
func New(source Source, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		source:      source,
		interval:    DefaultInterval,
		maxFailures: DefaultMaxFailures,
		logger:      logger,
		state:       StatePolling,
		visible:     true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current machine state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Track sets the task id the poller follows alongside run status.
func (p *Poller) Track(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	taskID := id
	p.taskID = &taskID
}

// Tracked returns the currently followed task id, or nil.
func (p *Poller) Tracked() *uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.taskID == nil {
		return nil
	}
	id := *p.taskID
	return &id
}

// SetVisible records foreground visibility. The interval is suspended
// entirely while hidden; returning to the foreground triggers one
// immediate poll. Visibility changes never clear a failure pause.
func (p *Poller) SetVisible(ctx context.Context, visible bool) {
	p.mu.Lock()
	was := p.visible
	p.visible = visible
	paused := p.state == StatePaused
	p.mu.Unlock()

	if visible && !was && !paused {
		p.Poll(ctx)
	}
}

// Reconnect is the explicit recovery action after a failure pause. It
// resets the failure counter, re-enters StatePolling and polls once.
func (p *Poller) Reconnect(ctx context.Context) {
	p.mu.Lock()
	if p.state != StatePaused {
		p.mu.Unlock()
		return
	}
	p.state = StatePolling
	p.failures = 0
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "poller reconnected")
	p.Poll(ctx)
}

// Run drives the interval loop until ctx is done. Polls are skipped while
// hidden or paused; Poll may still be invoked directly by SetVisible and
// Reconnect.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			skip := !p.visible || p.state == StatePaused
			p.mu.Unlock()
			if skip {
				continue
			}
			p.Poll(ctx)
		}
	}
}

// Poll performs one status fetch and applies the state transitions.
func (p *Poller) Poll(ctx context.Context) {
	snapshot, err := p.source.RunStatus(ctx)
	if err != nil {
		p.recordFailure(ctx, err)
		return
	}

	update := Update{Run: snapshot}

	if id := p.Tracked(); id != nil {
		taskSnapshot, err := p.source.TaskStatus(ctx, *id)
		switch {
		case err == nil:
			update.Task = taskSnapshot
		case isNotFound(err):
			// The tracked task is gone; drop the reference and resync run
			// state instead of surfacing an error.
			p.resync(ctx, *id)
			return
		default:
			p.recordFailure(ctx, err)
			return
		}
	}

	p.mu.Lock()
	p.failures = 0
	p.state = StatePolling
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(update)
	}
}

func (p *Poller) resync(ctx context.Context, id uuid.UUID) {
	p.mu.Lock()
	p.taskID = nil
	p.state = StateRecovering
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "tracked task not found, resyncing", "task_id", id)

	snapshot, err := p.source.RunStatus(ctx)
	if err != nil {
		p.recordFailure(ctx, err)
		return
	}

	p.mu.Lock()
	p.failures = 0
	p.state = StatePolling
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(Update{Run: snapshot})
	}
}

func (p *Poller) recordFailure(ctx context.Context, err error) {
	if !retriable(err) {
		p.logger.WarnContext(ctx, "poll failed with non-retriable error", "error", err)
		return
	}

	p.mu.Lock()
	p.failures++
	tripped := p.failures >= p.maxFailures
	if tripped {
		p.state = StatePaused
	}
	count := p.failures
	p.mu.Unlock()

	if tripped {
		p.logger.WarnContext(ctx, "polling paused after consecutive failures",
			"failures", count,
			"error", err)
		return
	}
	p.logger.DebugContext(ctx, "poll failed", "failures", count, "error", err)
}
