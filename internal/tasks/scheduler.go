package tasks

import (
	"context"
	"time"

	"github.com/lifequery/backend/internal/ingest"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/settings"
	"github.com/lifequery/backend/internal/source"
)

// startupDelay gives the message source sidecar time to come up before the
// first background sync attempt.
const startupDelay = 60 * time.Second

// Scheduler runs the sync pipeline on the configured interval. The
// interval is re-read every cycle, and Wake restarts the current wait, so
// settings changes apply without a restart; interval 0 disables auto-sync.
type Scheduler struct {
	manager *Manager
	ingest  *ingest.Service
	store   *settings.Store
	src     source.Source
	log     *logger.Logger
	wake    chan struct{}
}

func NewScheduler(manager *Manager, svc *ingest.Service, store *settings.Store, src source.Source, log *logger.Logger) *Scheduler {
	return &Scheduler{
		manager: manager,
		ingest:  svc,
		store:   store,
		src:     src,
		log:     log.With("service", "SyncScheduler"),
		wake:    make(chan struct{}, 1),
	}
}

// Wake interrupts the current wait so a changed interval applies
// immediately instead of after the old one elapses. Never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. Call it from its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	if s.wait(ctx, startupDelay) == waitCancelled {
		return
	}
	for {
		interval := time.Duration(s.store.Snapshot().AutoSyncInterval) * time.Minute
		if interval <= 0 {
			// Disabled; wait for a change notification or poll.
			if s.wait(ctx, time.Minute) == waitCancelled {
				return
			}
			continue
		}
		switch s.wait(ctx, interval) {
		case waitCancelled:
			return
		case waitWoken:
			// Interval changed mid-wait; restart with the new value.
			continue
		}
		s.tick(ctx)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	// Checking the slot first skips the source round-trip; Begin below
	// stays the authoritative gate.
	if s.manager.Busy() {
		s.log.Debug("Auto-sync skipped: task slot busy")
		return
	}
	if !s.src.Connected(ctx) {
		s.log.Debug("Auto-sync skipped: source not connected")
		return
	}
	task, err := s.manager.Begin("sync")
	if err != nil {
		s.log.Debug("Auto-sync skipped: task slot busy")
		return
	}
	defer s.manager.Finish(task)

	counts, err := s.ingest.Sync(task.Context(), nil)
	if err != nil {
		s.log.Warn("Auto-sync failed", "error", err)
		return
	}
	s.log.Info("Auto-sync finished",
		"messages_added", counts.MessagesAdded,
		"chunks_created", counts.ChunksCreated,
		"chunks_embedded", counts.ChunksEmbedded,
	)
}

type waitResult int

const (
	waitElapsed waitResult = iota
	waitWoken
	waitCancelled
)

func (s *Scheduler) wait(ctx context.Context, d time.Duration) waitResult {
	select {
	case <-ctx.Done():
		return waitCancelled
	case <-s.wake:
		return waitWoken
	case <-time.After(d):
		return waitElapsed
	}
}
