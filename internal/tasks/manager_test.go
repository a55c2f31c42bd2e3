package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/lifequery/backend/internal/data/repos/testutil"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(context.Background(), testutil.Logger(t))
}

func TestBegin_SingleFlight(t *testing.T) {
	m := newManager(t)

	task, err := m.Begin("sync")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if task.ID == "" || task.Operation != "sync" {
		t.Fatalf("unexpected task: %+v", task)
	}

	_, err = m.Begin("process")
	var busy *ErrBusy
	if !errors.As(err, &busy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if busy.Operation != "sync" {
		t.Fatalf("conflict should name the running operation, got %q", busy.Operation)
	}

	m.Finish(task)
	if _, err := m.Begin("process"); err != nil {
		t.Fatalf("slot should be free after Finish: %v", err)
	}
}

func TestCancel_SignalsTaskContext(t *testing.T) {
	m := newManager(t)
	task, _ := m.Begin("sync")

	if !m.Cancel() {
		t.Fatalf("expected Cancel to report an active task")
	}
	select {
	case <-task.Context().Done():
	default:
		t.Fatalf("task context not cancelled")
	}

	// The slot stays held until the runner observes cancellation.
	if !m.Busy() {
		t.Fatalf("slot released before Finish")
	}
	m.Finish(task)
	if m.Busy() {
		t.Fatalf("slot still held after Finish")
	}
}

func TestCancel_NoTask(t *testing.T) {
	m := newManager(t)
	if m.Cancel() {
		t.Fatalf("expected false with no active task")
	}
}

func TestStatus(t *testing.T) {
	m := newManager(t)
	if st := m.Status(); st.Running {
		t.Fatalf("expected idle status")
	}
	task, _ := m.Begin("reindex")
	st := m.Status()
	if !st.Running || st.Operation != "reindex" || st.TaskID != task.ID {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestFinish_StaleTaskIgnored(t *testing.T) {
	m := newManager(t)
	first, _ := m.Begin("sync")
	m.Finish(first)
	second, _ := m.Begin("process")

	// Finishing the stale handle must not release the new task's slot.
	m.Finish(first)
	if !m.Busy() {
		t.Fatalf("stale Finish released the active slot")
	}
	m.Finish(second)
}
