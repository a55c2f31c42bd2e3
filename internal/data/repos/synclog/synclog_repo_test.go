package synclog

import (
	"context"
	"testing"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/data/repos/testutil"
	"github.com/lifequery/backend/internal/pkg/dbctx"
)

func newRepo(t *testing.T) (SyncLogRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	return NewSyncLogRepo(db, testutil.Logger(t)), dbctx.Context{Ctx: context.Background()}
}

func TestStartFinishRoundTrip(t *testing.T) {
	repo, dbc := newRepo(t)

	row, err := repo.Start(dbc, "sync")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if row.Status != models.SyncStatusRunning || row.StartedAt == 0 {
		t.Fatalf("unexpected started row: %+v", row)
	}

	counts := RunCounts{MessagesAdded: 12, ChunksCreated: 3, SkippedDuplicate: 2, SkippedEmpty: 1}
	if err := repo.Finish(dbc, row.ID, models.SyncStatusSuccess, counts, ""); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	logs, err := repo.ListRecent(dbc, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected 1 log row, got %d (%v)", len(logs), err)
	}
	got := logs[0]
	if got.Status != models.SyncStatusSuccess || got.MessagesAdded != 12 || got.ChunksCreated != 3 {
		t.Fatalf("unexpected finished row: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatalf("expected finished_at set")
	}
}

func TestLastSuccess(t *testing.T) {
	repo, dbc := newRepo(t)

	if last, err := repo.LastSuccess(dbc); err != nil || last != nil {
		t.Fatalf("expected nil with empty table, got %+v (%v)", last, err)
	}

	first, _ := repo.Start(dbc, "sync")
	_ = repo.Finish(dbc, first.ID, models.SyncStatusError, RunCounts{}, "boom")

	if last, _ := repo.LastSuccess(dbc); last != nil {
		t.Fatalf("errored run must not count as success")
	}

	second, _ := repo.Start(dbc, "process")
	_ = repo.Finish(dbc, second.ID, models.SyncStatusSuccess, RunCounts{MessagesAdded: 1}, "")

	last, err := repo.LastSuccess(dbc)
	if err != nil || last == nil {
		t.Fatalf("expected a success row, got %+v (%v)", last, err)
	}
	if last.Operation != "process" {
		t.Fatalf("unexpected operation: %q", last.Operation)
	}
}

func TestListRecent_LimitClamped(t *testing.T) {
	repo, dbc := newRepo(t)
	for i := 0; i < 3; i++ {
		row, _ := repo.Start(dbc, "sync")
		_ = repo.Finish(dbc, row.ID, models.SyncStatusSuccess, RunCounts{}, "")
	}
	logs, err := repo.ListRecent(dbc, -5)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected default limit to include all rows, got %d", len(logs))
	}
}
