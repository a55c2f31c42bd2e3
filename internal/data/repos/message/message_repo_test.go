package message

import (
	"context"
	"testing"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/data/repos/testutil"
	"github.com/lifequery/backend/internal/pkg/dbctx"
)

func newRepo(t *testing.T) (MessageRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	return NewMessageRepo(db, testutil.Logger(t)), dbctx.Context{Ctx: context.Background()}
}

func mkMsg(msgID, chatID string, ts int64) *models.Message {
	return &models.Message{
		MessageID:  msgID,
		ChatID:     chatID,
		ChatName:   "Chat",
		SenderName: "Alice",
		Text:       "hello",
		Timestamp:  ts,
		Source:     "telegram",
		ImportedAt: ts,
	}
}

func TestInsertBatch_SkipsDuplicates(t *testing.T) {
	repo, dbc := newRepo(t)

	inserted, skipped, err := repo.InsertBatch(dbc, []*models.Message{
		mkMsg("1", "100", 1000),
		mkMsg("2", "100", 1001),
	})
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if inserted != 2 || skipped != 0 {
		t.Fatalf("expected 2 inserted, got %d inserted %d skipped", inserted, skipped)
	}

	// Re-insert one duplicate plus one new row.
	inserted, skipped, err = repo.InsertBatch(dbc, []*models.Message{
		mkMsg("2", "100", 1001),
		mkMsg("3", "100", 1002),
	})
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if inserted != 1 || skipped != 1 {
		t.Fatalf("expected 1 inserted 1 skipped, got %d / %d", inserted, skipped)
	}
}

func TestInsertBatch_SameMessageIDDifferentChats(t *testing.T) {
	repo, dbc := newRepo(t)
	inserted, _, err := repo.InsertBatch(dbc, []*models.Message{
		mkMsg("7", "100", 1000),
		mkMsg("7", "200", 1000),
	})
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("message ids are only unique per chat, expected 2 inserted, got %d", inserted)
	}
}

func TestMaxMessageID(t *testing.T) {
	repo, dbc := newRepo(t)

	if id, err := repo.MaxMessageID(dbc, "100"); err != nil || id != 0 {
		t.Fatalf("expected 0 for empty chat, got %d (%v)", id, err)
	}

	_, _, err := repo.InsertBatch(dbc, []*models.Message{
		mkMsg("9", "100", 1000),
		mkMsg("10", "100", 1001), // numeric compare: 10 > 9 despite lexicographic order
	})
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	id, err := repo.MaxMessageID(dbc, "100")
	if err != nil {
		t.Fatalf("MaxMessageID failed: %v", err)
	}
	if id != 10 {
		t.Fatalf("expected numeric max 10, got %d", id)
	}
}

func TestListUnchunked_Watermark(t *testing.T) {
	repo, dbc := newRepo(t)
	_, _, err := repo.InsertBatch(dbc, []*models.Message{
		mkMsg("1", "100", 1000),
		mkMsg("2", "100", 2000),
		mkMsg("3", "100", 3000),
	})
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	rows, err := repo.ListUnchunked(dbc, "100", 1000)
	if err != nil {
		t.Fatalf("ListUnchunked failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("watermark is exclusive, expected 2 rows, got %d", len(rows))
	}
	if rows[0].Timestamp != 2000 || rows[1].Timestamp != 3000 {
		t.Fatalf("rows not in ascending order: %v, %v", rows[0].Timestamp, rows[1].Timestamp)
	}
}

func TestDeleteByChat(t *testing.T) {
	repo, dbc := newRepo(t)
	_, _, _ = repo.InsertBatch(dbc, []*models.Message{
		mkMsg("1", "100", 1000),
		mkMsg("2", "200", 1000),
	})
	n, err := repo.DeleteByChat(dbc, "100")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 deleted, got %d (%v)", n, err)
	}
	total, _ := repo.Count(dbc)
	if total != 1 {
		t.Fatalf("expected 1 remaining, got %d", total)
	}
}

func TestCountUnchunked_UsesChatWatermarks(t *testing.T) {
	db := testutil.DB(t)
	repo := NewMessageRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	if err := db.Create(&models.Chat{ChatID: "100", ChatName: "A", ChatType: "private", LastChunkedAt: 1500}).Error; err != nil {
		t.Fatalf("seed chat failed: %v", err)
	}
	_, _, _ = repo.InsertBatch(dbc, []*models.Message{
		mkMsg("1", "100", 1000), // behind watermark
		mkMsg("2", "100", 2000), // ahead
	})

	n, err := repo.CountUnchunked(dbc)
	if err != nil {
		t.Fatalf("CountUnchunked failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unchunked, got %d", n)
	}
}
