package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifequery/backend/internal/pkg/logger"
)

// ErrBusy is returned when a run is requested while another is active.
// Ingest-class operations share one slot: the pipeline mutates chunk and
// vector state that concurrent runs would corrupt.
type ErrBusy struct {
	Operation string
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("another operation is already running: %s", e.Operation)
}

// Task is one running ingest-class operation.
type Task struct {
	ID        string
	Operation string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the task is cancelled or the manager shuts
// down.
func (t *Task) Context() context.Context { return t.ctx }

// Status is the externally visible state of the manager.
type Status struct {
	Running   bool   `json:"running"`
	TaskID    string `json:"task_id,omitempty"`
	Operation string `json:"operation,omitempty"`
	StartedAt int64  `json:"started_at,omitempty"`
}

// Manager enforces single-flight execution of ingest-class operations and
// routes cancellation to whichever one is active.
type Manager struct {
	mu      sync.Mutex
	current *Task
	base    context.Context
	log     *logger.Logger
}

func NewManager(base context.Context, log *logger.Logger) *Manager {
	if base == nil {
		base = context.Background()
	}
	return &Manager{base: base, log: log.With("service", "TaskManager")}
}

// Begin claims the single task slot. The caller must call Finish when the
// operation ends, success or not.
func (m *Manager) Begin(operation string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return nil, &ErrBusy{Operation: m.current.Operation}
	}
	ctx, cancel := context.WithCancel(m.base)
	t := &Task{
		ID:        uuid.NewString(),
		Operation: operation,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.current = t
	m.log.Info("Task started", "task_id", t.ID, "operation", operation)
	return t, nil
}

// Finish releases the slot held by t. Stale calls (a newer task already
// holds the slot) are ignored.
func (m *Manager) Finish(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != t {
		return
	}
	t.cancel()
	m.current = nil
	m.log.Info("Task finished", "task_id", t.ID, "operation", t.Operation,
		"duration", time.Since(t.StartedAt).String())
}

// Cancel signals the active task, if any. The task keeps the slot until
// its runner observes the cancellation and calls Finish.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	m.log.Info("Task cancellation requested", "task_id", m.current.ID, "operation", m.current.Operation)
	m.current.cancel()
	return true
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Status{}
	}
	return Status{
		Running:   true,
		TaskID:    m.current.ID,
		Operation: m.current.Operation,
		StartedAt: m.current.StartedAt.Unix(),
	}
}

// Busy reports whether the slot is held.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}
