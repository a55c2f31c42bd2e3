package chunk

import (
	"context"
	"testing"

	"gorm.io/datatypes"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/data/repos/testutil"
	"github.com/lifequery/backend/internal/pkg/dbctx"
)

func newRepo(t *testing.T) (ChunkRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	return NewChunkRepo(db, testutil.Logger(t)), dbctx.Context{Ctx: context.Background()}
}

func mkChunk(chunkID, chatID string, ts int64) *models.Chunk {
	return &models.Chunk{
		ChunkID:        chunkID,
		ChatID:         chatID,
		ChatName:       "Chat",
		Participants:   datatypes.JSON([]byte(`["Alice"]`)),
		TimestampStart: ts,
		TimestampEnd:   ts + 60,
		MessageCount:   2,
		Content:        "content " + chunkID,
		ContentHash:    "hash-" + chunkID,
	}
}

func TestCreateIgnoreDuplicates(t *testing.T) {
	repo, dbc := newRepo(t)

	n, err := repo.CreateIgnoreDuplicates(dbc, []*models.Chunk{
		mkChunk("a", "100", 1000),
		mkChunk("b", "100", 2000),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 created, got %d", n)
	}

	n, err = repo.CreateIgnoreDuplicates(dbc, []*models.Chunk{
		mkChunk("b", "100", 2000),
		mkChunk("c", "100", 3000),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected duplicate skipped, got %d created", n)
	}
}

func TestLastByChat(t *testing.T) {
	repo, dbc := newRepo(t)

	last, err := repo.LastByChat(dbc, "100")
	if err != nil {
		t.Fatalf("LastByChat failed: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil for empty chat, got %+v", last)
	}

	_, _ = repo.CreateIgnoreDuplicates(dbc, []*models.Chunk{
		mkChunk("a", "100", 1000),
		mkChunk("b", "100", 3000),
		mkChunk("c", "200", 9000), // other chat
	})
	last, err = repo.LastByChat(dbc, "100")
	if err != nil {
		t.Fatalf("LastByChat failed: %v", err)
	}
	if last == nil || last.ChunkID != "b" {
		t.Fatalf("expected newest chunk b, got %+v", last)
	}
}

func TestPendingAndMarkEmbedded(t *testing.T) {
	repo, dbc := newRepo(t)
	_, _ = repo.CreateIgnoreDuplicates(dbc, []*models.Chunk{
		mkChunk("a", "100", 2000),
		mkChunk("b", "100", 1000),
	})

	pending, err := repo.ListPending(dbc, 0)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ChunkID != "b" {
		t.Fatalf("expected pending oldest first, got %+v", pending)
	}

	if err := repo.MarkEmbedded(dbc, []string{"a"}, "model-v1"); err != nil {
		t.Fatalf("MarkEmbedded failed: %v", err)
	}

	pending, _ = repo.ListPending(dbc, 0)
	if len(pending) != 1 || pending[0].ChunkID != "b" {
		t.Fatalf("expected only b pending, got %+v", pending)
	}
	embedded, _ := repo.CountEmbedded(dbc)
	if embedded != 1 {
		t.Fatalf("expected 1 embedded, got %d", embedded)
	}

	versions, err := repo.DistinctEmbeddingVersions(dbc)
	if err != nil {
		t.Fatalf("DistinctEmbeddingVersions failed: %v", err)
	}
	if len(versions) != 1 || versions[0] != "model-v1" {
		t.Fatalf("unexpected versions: %v", versions)
	}
}

func TestMarkAllEmbedded(t *testing.T) {
	repo, dbc := newRepo(t)
	_, _ = repo.CreateIgnoreDuplicates(dbc, []*models.Chunk{
		mkChunk("a", "100", 1000),
		mkChunk("b", "100", 2000),
	})
	if err := repo.MarkEmbedded(dbc, []string{"a"}, "model-v0"); err != nil {
		t.Fatalf("MarkEmbedded failed: %v", err)
	}

	if err := repo.MarkAllEmbedded(dbc, "model-v1"); err != nil {
		t.Fatalf("MarkAllEmbedded failed: %v", err)
	}
	pendingCount, _ := repo.CountPending(dbc)
	if pendingCount != 0 {
		t.Fatalf("expected no pending chunks, got %d", pendingCount)
	}
	// A rebuild restamps previously embedded rows onto the new version.
	versions, _ := repo.DistinctEmbeddingVersions(dbc)
	if len(versions) != 1 || versions[0] != "model-v1" {
		t.Fatalf("unexpected versions: %v", versions)
	}
}

func TestListAll(t *testing.T) {
	repo, dbc := newRepo(t)
	_, _ = repo.CreateIgnoreDuplicates(dbc, []*models.Chunk{
		mkChunk("a", "100", 2000),
		mkChunk("b", "200", 1000),
	})
	if err := repo.MarkEmbedded(dbc, []string{"a"}, "model-v1"); err != nil {
		t.Fatalf("MarkEmbedded failed: %v", err)
	}

	all, err := repo.ListAll(dbc)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	// Embedded or not, every chunk comes back, oldest window first.
	if len(all) != 2 || all[0].ChunkID != "b" {
		t.Fatalf("unexpected listing: %+v", all)
	}
}

func TestClearEmbedded(t *testing.T) {
	repo, dbc := newRepo(t)
	_, _ = repo.CreateIgnoreDuplicates(dbc, []*models.Chunk{mkChunk("a", "100", 1000)})
	if err := repo.MarkEmbedded(dbc, []string{"a"}, "model-v1"); err != nil {
		t.Fatalf("MarkEmbedded failed: %v", err)
	}
	if err := repo.ClearEmbedded(dbc); err != nil {
		t.Fatalf("ClearEmbedded failed: %v", err)
	}
	pendingCount, _ := repo.CountPending(dbc)
	if pendingCount != 1 {
		t.Fatalf("expected chunk back in pending, got %d", pendingCount)
	}
	versions, _ := repo.DistinctEmbeddingVersions(dbc)
	if len(versions) != 0 {
		t.Fatalf("expected no versions after clear, got %v", versions)
	}
}

func TestDeleteSuperseded_KeepsListed(t *testing.T) {
	repo, dbc := newRepo(t)
	_, _ = repo.CreateIgnoreDuplicates(dbc, []*models.Chunk{
		mkChunk("old", "100", 1000),
		mkChunk("tail", "100", 5000),
		mkChunk("rebuilt", "100", 5000),
		mkChunk("other", "200", 5000),
	})

	deleted, err := repo.DeleteSuperseded(dbc, "100", 5000, []string{"rebuilt"})
	if err != nil {
		t.Fatalf("DeleteSuperseded failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "tail" {
		t.Fatalf("expected only the stale tail deleted, got %v", deleted)
	}
	total, _ := repo.Count(dbc)
	if total != 3 {
		t.Fatalf("expected 3 remaining, got %d", total)
	}
}

func TestDeleteByChat(t *testing.T) {
	repo, dbc := newRepo(t)
	_, _ = repo.CreateIgnoreDuplicates(dbc, []*models.Chunk{
		mkChunk("a", "100", 1000),
		mkChunk("b", "200", 1000),
	})

	ids, err := repo.DeleteByChat(dbc, "100")
	if err != nil || len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("expected chunk a deleted, got %v (%v)", ids, err)
	}
	total, _ := repo.Count(dbc)
	if total != 1 {
		t.Fatalf("expected chunk b to survive, got %d rows", total)
	}
}
