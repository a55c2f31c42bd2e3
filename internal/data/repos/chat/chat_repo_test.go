package chat

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/lifequery/backend/internal/data/repos/testutil"
	"github.com/lifequery/backend/internal/pkg/dbctx"
)

func newRepo(t *testing.T) (ChatRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	return NewChatRepo(db, testutil.Logger(t)), dbctx.Context{Ctx: context.Background()}
}

func TestMerge_InsertThenAccumulate(t *testing.T) {
	repo, dbc := newRepo(t)

	if err := repo.Merge(dbc, "100", "Family", "group", 10, 5000); err != nil {
		t.Fatalf("Merge insert failed: %v", err)
	}
	row, err := repo.Get(dbc, "100")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !row.Included {
		t.Fatalf("new chats default to included")
	}
	if row.MessageCount != 10 || row.LastMessageAt != 5000 {
		t.Fatalf("unexpected row after insert: %+v", row)
	}

	// Second merge accumulates the count and keeps the max timestamp.
	if err := repo.Merge(dbc, "100", "Family Renamed", "group", 5, 4000); err != nil {
		t.Fatalf("Merge update failed: %v", err)
	}
	row, _ = repo.Get(dbc, "100")
	if row.MessageCount != 15 {
		t.Fatalf("expected accumulated count 15, got %d", row.MessageCount)
	}
	if row.LastMessageAt != 5000 {
		t.Fatalf("older last_message_at must not regress, got %d", row.LastMessageAt)
	}
	if row.ChatName != "Family Renamed" {
		t.Fatalf("expected refreshed name, got %q", row.ChatName)
	}
}

func TestMerge_PreservesInclusionFlag(t *testing.T) {
	repo, dbc := newRepo(t)
	_ = repo.Merge(dbc, "100", "Family", "group", 0, 0)
	if err := repo.SetIncluded(dbc, "100", false); err != nil {
		t.Fatalf("SetIncluded failed: %v", err)
	}
	_ = repo.Merge(dbc, "100", "Family", "group", 3, 100)
	row, _ := repo.Get(dbc, "100")
	if row.Included {
		t.Fatalf("merge must not reset the exclusion choice")
	}
}

func TestSetIncludedAndIncludedChatIDs(t *testing.T) {
	repo, dbc := newRepo(t)
	_ = repo.Merge(dbc, "100", "A", "private", 0, 0)
	_ = repo.Merge(dbc, "200", "B", "private", 0, 0)

	if err := repo.SetIncluded(dbc, "200", false); err != nil {
		t.Fatalf("SetIncluded failed: %v", err)
	}
	ids, err := repo.IncludedChatIDs(dbc)
	if err != nil {
		t.Fatalf("IncludedChatIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "100" {
		t.Fatalf("unexpected inclusion mask: %v", ids)
	}

	included, _ := repo.CountIncluded(dbc)
	total, _ := repo.Count(dbc)
	if included != 1 || total != 2 {
		t.Fatalf("unexpected counts: %d included of %d", included, total)
	}
}

func TestSetIncluded_MissingChat(t *testing.T) {
	repo, dbc := newRepo(t)
	if err := repo.SetIncluded(dbc, "nope", true); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRenameAndDelete(t *testing.T) {
	repo, dbc := newRepo(t)
	_ = repo.Merge(dbc, "100", "Old", "private", 0, 0)

	if err := repo.Rename(dbc, "100", "New"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	row, _ := repo.Get(dbc, "100")
	if row.ChatName != "New" {
		t.Fatalf("expected renamed chat, got %q", row.ChatName)
	}

	if err := repo.Delete(dbc, "100"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.Get(dbc, "100"); err == nil {
		t.Fatalf("expected Get to fail after delete")
	}
}

func TestSetLastChunkedAt(t *testing.T) {
	repo, dbc := newRepo(t)
	_ = repo.Merge(dbc, "100", "A", "private", 0, 0)
	if err := repo.SetLastChunkedAt(dbc, "100", 4321); err != nil {
		t.Fatalf("SetLastChunkedAt failed: %v", err)
	}
	row, _ := repo.Get(dbc, "100")
	if row.LastChunkedAt != 4321 {
		t.Fatalf("expected watermark 4321, got %d", row.LastChunkedAt)
	}
}
