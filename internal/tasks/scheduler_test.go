package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/lifequery/backend/internal/data/repos/testutil"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return NewScheduler(newManager(t), nil, nil, nil, testutil.Logger(t))
}

func TestWake_NeverBlocks(t *testing.T) {
	s := newScheduler(t)
	// No Run loop is draining; repeated wakes must still return.
	s.Wake()
	s.Wake()
	s.Wake()
}

func TestWait_WokenCutsTheTimerShort(t *testing.T) {
	s := newScheduler(t)
	s.Wake()

	start := time.Now()
	if got := s.wait(context.Background(), time.Hour); got != waitWoken {
		t.Fatalf("expected waitWoken, got %v", got)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("wake did not interrupt the wait")
	}
}

func TestWait_Cancelled(t *testing.T) {
	s := newScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := s.wait(ctx, time.Hour); got != waitCancelled {
		t.Fatalf("expected waitCancelled, got %v", got)
	}
}

func TestWait_Elapsed(t *testing.T) {
	s := newScheduler(t)
	if got := s.wait(context.Background(), time.Millisecond); got != waitElapsed {
		t.Fatalf("expected waitElapsed, got %v", got)
	}
}
