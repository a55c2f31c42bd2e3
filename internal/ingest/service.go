package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lifequery/backend/internal/chunker"
	"github.com/lifequery/backend/internal/clients/embedding"
	"github.com/lifequery/backend/internal/clients/qdrant"
	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/settings"
	"github.com/lifequery/backend/internal/source"
)

// RunCounts accumulates over one ingest-class run.
type RunCounts struct {
	MessagesAdded    int64
	SkippedDuplicate int64
	SkippedEmpty     int64
	ChunksCreated    int64
	ChunksEmbedded   int64
	ChatsImported    int64
}

func (c RunCounts) repoCounts() repos.RunCounts {
	return repos.RunCounts{
		MessagesAdded:    c.MessagesAdded,
		ChunksCreated:    c.ChunksCreated,
		SkippedDuplicate: c.SkippedDuplicate,
		SkippedEmpty:     c.SkippedEmpty,
	}
}

// EmbedderProvider hands out an embedding client for a settings snapshot.
// Implementations cache the client and rebuild it when the URL or model
// changes.
type EmbedderProvider interface {
	Embedder(snap settings.Snapshot) (embedding.Client, error)
}

// Service drives the ingest stages: fetch -> persist -> chunk -> embed ->
// mark, with a sync_log row recorded per run.
type Service struct {
	repos     *repos.Repos
	vectors   qdrant.VectorStore
	store     *settings.Store
	embedders EmbedderProvider
	src       source.Source
	log       *logger.Logger
}

func NewService(
	r *repos.Repos,
	vectors qdrant.VectorStore,
	store *settings.Store,
	embedders EmbedderProvider,
	src source.Source,
	log *logger.Logger,
) *Service {
	return &Service{
		repos:     r,
		vectors:   vectors,
		store:     store,
		embedders: embedders,
		src:       src,
		log:       log.With("service", "IngestService"),
	}
}

// record wraps an operation with sync_log bookkeeping.
func (s *Service) record(ctx context.Context, operation string, fn func() (RunCounts, error)) (RunCounts, error) {
	row, err := s.repos.SyncLog.Start(dbctx.Context{Ctx: ctx}, operation)
	if err != nil {
		return RunCounts{}, fmt.Errorf("failed to start sync log: %w", err)
	}

	counts, runErr := fn()

	status := models.SyncStatusSuccess
	detail := ""
	switch {
	case errors.Is(runErr, context.Canceled):
		status = models.SyncStatusCancelled
		detail = "cancelled"
	case runErr != nil:
		status = models.SyncStatusError
		detail = runErr.Error()
	}
	// The log row is finalized even when the run's context died.
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repos.SyncLog.Finish(dbctx.Context{Ctx: finishCtx}, row.ID, status, counts.repoCounts(), detail); err != nil {
		s.log.Error("Failed to finalize sync log", "id", row.ID, "error", err)
	}
	return counts, runErr
}

// DiscoverDialogs pulls chat metadata from the live source into the chats
// table without fetching messages.
func (s *Service) DiscoverDialogs(ctx context.Context, emit EmitFunc) (int, error) {
	if err := progress(emit, StageFetch, "Discovering chats..."); err != nil {
		return 0, err
	}
	dialogs, err := s.src.Dialogs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list dialogs: %w", err)
	}
	for _, d := range dialogs {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err := s.repos.Chat.Merge(dbctx.Context{Ctx: ctx}, d.ChatID, d.ChatName, d.ChatType, 0, d.LastMessageAt); err != nil {
			return 0, fmt.Errorf("failed to upsert chat %s: %w", d.ChatID, err)
		}
	}
	return len(dialogs), nil
}

// Sync runs the full live-source pipeline: discover dialogs, fetch new
// messages incrementally per included chat, then chunk and embed.
func (s *Service) Sync(ctx context.Context, emit EmitFunc) (RunCounts, error) {
	return s.record(ctx, "sync", func() (RunCounts, error) {
		var counts RunCounts
		snap := s.store.Snapshot()

		if _, err := s.DiscoverDialogs(ctx, emit); err != nil {
			return counts, err
		}

		chats, err := s.repos.Chat.List(dbctx.Context{Ctx: ctx})
		if err != nil {
			return counts, err
		}
		for _, chat := range chats {
			// Cancellation lands between chats: the current chat finishes.
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
			if !chat.Included {
				continue
			}
			if err := s.syncChat(ctx, chat, snap, emit, &counts); err != nil {
				return counts, err
			}
		}

		if err := s.chunkAndEmbed(ctx, snap, emit, &counts); err != nil {
			return counts, err
		}
		return counts, nil
	})
}

func (s *Service) syncChat(ctx context.Context, chat *models.Chat, snap settings.Snapshot, emit EmitFunc, counts *RunCounts) error {
	minID, err := s.repos.Message.MaxMessageID(dbctx.Context{Ctx: ctx}, chat.ChatID)
	if err != nil {
		return err
	}
	fetched := int64(0)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tuples, err := s.src.Messages(ctx, chat.ChatID, minID, snap.TelegramFetchBatch)
		if err != nil {
			return fmt.Errorf("failed to fetch messages for %s: %w", chat.ChatID, err)
		}
		if len(tuples) == 0 {
			break
		}

		now := time.Now().Unix()
		rows := make([]*models.Message, 0, len(tuples))
		var lastTS int64
		for _, t := range tuples {
			// The offset advances past skipped messages too, or the next
			// batch would refetch them forever.
			if id, err := strconv.ParseInt(t.MessageID, 10, 64); err == nil && id > minID {
				minID = id
			}
			if t.Timestamp > lastTS {
				lastTS = t.Timestamp
			}
			if strings.TrimSpace(t.Text) == "" {
				counts.SkippedEmpty++
				continue
			}
			rows = append(rows, &models.Message{
				MessageID:  t.MessageID,
				ChatID:     t.ChatID,
				ChatName:   chat.ChatName,
				SenderID:   t.SenderID,
				SenderName: t.SenderName,
				Text:       t.Text,
				Timestamp:  t.Timestamp,
				Source:     "telegram",
				ImportedAt: now,
			})
		}
		inserted, skipped, err := s.repos.Message.InsertBatch(dbctx.Context{Ctx: ctx}, rows)
		if err != nil {
			return err
		}
		counts.MessagesAdded += inserted
		counts.SkippedDuplicate += skipped
		fetched += inserted
		if err := s.repos.Chat.Merge(dbctx.Context{Ctx: ctx}, chat.ChatID, chat.ChatName, chat.ChatType, inserted, lastTS); err != nil {
			return err
		}
		if err := progress(emit, StageFetch, fmt.Sprintf("%s: fetched %d new messages", chat.ChatName, fetched)); err != nil {
			return err
		}
		if len(tuples) < snap.TelegramFetchBatch {
			break
		}
		// Inter-batch delay keeps the source's rate limiter happy.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(snap.TelegramFetchWait) * time.Second):
		}
	}
	return nil
}

// Import ingests a JSON export file, then chunks and embeds the result.
func (s *Service) Import(ctx context.Context, filePath, username string, emit EmitFunc) (RunCounts, error) {
	return s.record(ctx, "import", func() (RunCounts, error) {
		counts, err := s.ImportFile(ctx, filePath, username, emit)
		if err != nil {
			return counts, err
		}
		if err := s.chunkAndEmbed(ctx, s.store.Snapshot(), emit, &counts); err != nil {
			return counts, err
		}
		return counts, nil
	})
}

// Process chunks and embeds whatever is pending, without fetching.
func (s *Service) Process(ctx context.Context, emit EmitFunc) (RunCounts, error) {
	return s.record(ctx, "process", func() (RunCounts, error) {
		var counts RunCounts
		if err := s.chunkAndEmbed(ctx, s.store.Snapshot(), emit, &counts); err != nil {
			return counts, err
		}
		return counts, nil
	})
}

func (s *Service) chunkAndEmbed(ctx context.Context, snap settings.Snapshot, emit EmitFunc, counts *RunCounts) error {
	if err := s.chunkAllChats(ctx, snap, emit, counts); err != nil {
		return err
	}
	return s.embedPending(ctx, snap, emit, counts)
}

func (s *Service) chunkAllChats(ctx context.Context, snap settings.Snapshot, emit EmitFunc, counts *RunCounts) error {
	chats, err := s.repos.Chat.List(dbctx.Context{Ctx: ctx})
	if err != nil {
		return err
	}
	cfg := chunker.Config{
		TargetTokens:  snap.ChunkTarget,
		MaxTokens:     snap.ChunkMax,
		OverlapTokens: snap.ChunkOverlap,
		NoiseKeywords: snap.NoiseKeywords(),
	}
	for _, chat := range chats {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !chat.Included {
			continue
		}
		if err := s.chunkChat(ctx, chat, cfg, emit, counts); err != nil {
			return err
		}
	}
	return nil
}

// chunkChat chunks one chat's messages past its watermark. When the new
// messages land within GapBreak of the chat's last chunk, that chunk's
// window is reloaded and rebuilt together with them, so a conversation
// that straddles two syncs is not split at the sync boundary. Chunks
// replaced by the rebuild are deleted and their vectors evicted.
func (s *Service) chunkChat(ctx context.Context, chat *models.Chat, cfg chunker.Config, emit EmitFunc, counts *RunCounts) error {
	msgs, err := s.repos.Message.ListUnchunked(dbctx.Context{Ctx: ctx}, chat.ChatID, chat.LastChunkedAt)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	rebuilding := false
	var rebuildFrom int64
	last, err := s.repos.Chunk.LastByChat(dbctx.Context{Ctx: ctx}, chat.ChatID)
	if err != nil {
		return err
	}
	if last != nil && time.Duration(msgs[0].Timestamp-last.TimestampEnd)*time.Second < chunker.GapBreak {
		tail, err := s.repos.Message.ListFrom(dbctx.Context{Ctx: ctx}, chat.ChatID, last.TimestampStart)
		if err != nil {
			return err
		}
		if len(tail) > 0 {
			msgs = tail
			rebuilding = true
			rebuildFrom = last.TimestampStart
		}
	}

	built, noisy := chunker.Build(msgs, chat.ChatName, cfg)
	if noisy > 0 {
		s.log.Debug("Noise filter dropped messages", "chat_name", chat.ChatName, "count", noisy)
	}
	created, err := s.persistChunks(ctx, built)
	if err != nil {
		return err
	}
	counts.ChunksCreated += created

	if rebuilding {
		keep := make([]string, 0, len(built))
		for _, c := range built {
			keep = append(keep, c.ChunkID)
		}
		stale, err := s.repos.Chunk.DeleteSuperseded(dbctx.Context{Ctx: ctx}, chat.ChatID, rebuildFrom, keep)
		if err != nil {
			return err
		}
		if len(stale) > 0 {
			if err := s.vectors.DeleteByChunkIDs(ctx, stale); err != nil {
				// Stale vectors linger until the next reindex; retrieval may
				// surface the replaced windows until then.
				s.log.Warn("Failed to evict superseded vectors",
					"chat_id", chat.ChatID, "count", len(stale), "error", err)
			}
		}
	}

	watermark := msgs[len(msgs)-1].Timestamp
	if err := s.repos.Chat.SetLastChunkedAt(dbctx.Context{Ctx: ctx}, chat.ChatID, watermark); err != nil {
		return err
	}
	if created > 0 {
		return progress(emit, StageChunk, fmt.Sprintf("%s: %d new chunks", chat.ChatName, created))
	}
	return nil
}

func (s *Service) persistChunks(ctx context.Context, built []chunker.Chunk) (int64, error) {
	if len(built) == 0 {
		return 0, nil
	}
	rows := make([]*models.Chunk, 0, len(built))
	for _, c := range built {
		participants, err := participantsJSON(c.Participants)
		if err != nil {
			return 0, err
		}
		rows = append(rows, &models.Chunk{
			ChunkID:        c.ChunkID,
			ChatID:         c.ChatID,
			ChatName:       c.ChatName,
			Participants:   participants,
			TimestampStart: c.TimestampStart,
			TimestampEnd:   c.TimestampEnd,
			MessageCount:   c.MessageCount,
			Content:        c.Content,
			ContentHash:    c.ContentHash,
		})
	}
	return s.repos.Chunk.CreateIgnoreDuplicates(dbctx.Context{Ctx: ctx}, rows)
}

func (s *Service) embedPending(ctx context.Context, snap settings.Snapshot, emit EmitFunc, counts *RunCounts) error {
	embedder, err := s.embedders.Embedder(snap)
	if err != nil {
		return fmt.Errorf("embedding client unavailable: %w", err)
	}
	if err := s.handleVersionDrift(ctx, embedder.Model()); err != nil {
		return err
	}

	pending, err := s.repos.Chunk.ListPending(dbctx.Context{Ctx: ctx}, 0)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	if err := s.preflight(ctx, embedder); err != nil {
		return err
	}
	if err := progress(emit, StageEmbed, fmt.Sprintf("Embedding %d chunks...", len(pending))); err != nil {
		return err
	}
	return s.embedBatches(ctx, embedder, pending, emit, counts, false)
}

// preflight verifies the embedding endpoint is reachable and serves the
// configured model, so a run fails with one clear error instead of one
// error per batch.
func (s *Service) preflight(ctx context.Context, embedder embedding.Client) error {
	if err := embedder.CheckConnection(ctx); err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	if ok, err := embedder.CheckModelExists(ctx, embedder.Model()); err != nil {
		return fmt.Errorf("failed to list embedding models: %w", err)
	} else if !ok {
		return fmt.Errorf("embedding model %q not found on the embedding service", embedder.Model())
	}
	return nil
}

// embedBatches embeds rows in concurrent batches and upserts the vectors.
// Live batches go to the main collection and are stamped embedded as they
// land; rebuild batches (toTemp) go to a collection that is not live yet,
// so the caller stamps them only after the swap commits.
func (s *Service) embedBatches(ctx context.Context, embedder embedding.Client, rows []*models.Chunk, emit EmitFunc, counts *RunCounts, toTemp bool) error {
	var mu sync.Mutex
	emitLocked := func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		if emit == nil {
			return nil
		}
		return emit(ev)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	total := len(rows)
	for start := 0; start < total; start += embedding.BatchSize {
		end := start + embedding.BatchSize
		if end > total {
			end = total
		}
		batch := rows[start:end]
		done := end
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}
			vectors, err := embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch failed: %w", err)
			}

			records := make([]qdrant.Record, len(batch))
			ids := make([]string, len(batch))
			for i, c := range batch {
				var participants []string
				_ = unmarshalParticipants(c.Participants, &participants)
				records[i] = qdrant.Record{
					ChunkID:          c.ChunkID,
					ChatID:           c.ChatID,
					ChatName:         c.ChatName,
					Participants:     participants,
					Content:          c.Content,
					ContentHash:      c.ContentHash,
					TimestampStart:   c.TimestampStart,
					TimestampEnd:     c.TimestampEnd,
					MessageCount:     c.MessageCount,
					EmbeddingVersion: embedder.Model(),
					Vector:           vectors[i],
				}
				ids[i] = c.ChunkID
			}

			if toTemp {
				err = s.vectors.UpsertTemp(gctx, records)
			} else {
				err = s.vectors.Upsert(gctx, records)
			}
			if err != nil {
				return err
			}
			if !toTemp {
				if err := s.repos.Chunk.MarkEmbedded(dbctx.Context{Ctx: gctx}, ids, embedder.Model()); err != nil {
					return err
				}
			}
			mu.Lock()
			counts.ChunksEmbedded += int64(len(batch))
			mu.Unlock()
			return emitLocked(Event{
				Type:    EventProgress,
				Stage:   StageEmbed,
				Message: fmt.Sprintf("Embedded %d/%d chunks", done, total),
			})
		})
	}
	return g.Wait()
}

// handleVersionDrift wipes the vector index when embedded chunks carry a
// different embedding version than the active model: distances across
// versions are not comparable.
func (s *Service) handleVersionDrift(ctx context.Context, activeVersion string) error {
	versions, err := s.repos.Chunk.DistinctEmbeddingVersions(dbctx.Context{Ctx: ctx})
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v == activeVersion {
			continue
		}
		s.log.Warn("Embedding version drift detected; re-embedding everything",
			"stored", v, "active", activeVersion)
		if err := s.vectors.DeleteCollection(ctx); err != nil {
			return fmt.Errorf("failed to drop drifted vector collection: %w", err)
		}
		if err := s.repos.Chunk.ClearEmbedded(dbctx.Context{Ctx: ctx}); err != nil {
			return err
		}
		return nil
	}
	return nil
}

// Reindex rebuilds the vector index from the chunk table: every chunk is
// re-embedded into a fresh generation collection that atomically replaces
// the live one on success. Messages and chunks stay untouched, so a failed
// rebuild leaves the old index serving queries.
func (s *Service) Reindex(ctx context.Context, emit EmitFunc) (RunCounts, error) {
	return s.record(ctx, "reindex", func() (RunCounts, error) {
		var counts RunCounts
		snap := s.store.Snapshot()

		embedder, err := s.embedders.Embedder(snap)
		if err != nil {
			return counts, fmt.Errorf("embedding client unavailable: %w", err)
		}
		if err := s.preflight(ctx, embedder); err != nil {
			return counts, err
		}

		chunks, err := s.repos.Chunk.ListAll(dbctx.Context{Ctx: ctx})
		if err != nil {
			return counts, err
		}
		if len(chunks) == 0 {
			return counts, progress(emit, StageReindex, "No chunks to index")
		}

		if err := progress(emit, StageReindex, fmt.Sprintf("Re-embedding %d chunks...", len(chunks))); err != nil {
			return counts, err
		}
		if err := s.vectors.BeginRebuild(ctx); err != nil {
			return counts, err
		}
		if err := s.embedBatches(ctx, embedder, chunks, emit, &counts, true); err != nil {
			s.dropRebuild()
			return counts, err
		}
		if err := s.vectors.CommitRebuild(ctx); err != nil {
			s.dropRebuild()
			return counts, err
		}
		// The swap is live; the stamp must land even if the run's context
		// died in between.
		markCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.repos.Chunk.MarkAllEmbedded(dbctx.Context{Ctx: markCtx}, embedder.Model()); err != nil {
			return counts, err
		}
		return counts, progress(emit, StageReindex, "Reindex complete")
	})
}

// dropRebuild abandons a partially built generation collection. Best
// effort: a leftover generation is also reaped by CleanupStaleTemp at the
// next startup.
func (s *Service) dropRebuild() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.vectors.AbortRebuild(ctx); err != nil {
		s.log.Warn("Failed to drop abandoned rebuild collection", "error", err)
	}
}

// DeleteChat removes a chat's rows and vectors. Returns
// (messagesDeleted, chunksDeleted).
func (s *Service) DeleteChat(ctx context.Context, chatID string) (int64, int64, error) {
	messagesDeleted, err := s.repos.Message.DeleteByChat(dbctx.Context{Ctx: ctx}, chatID)
	if err != nil {
		return 0, 0, err
	}
	chunkIDs, err := s.repos.Chunk.DeleteByChat(dbctx.Context{Ctx: ctx}, chatID)
	if err != nil {
		return 0, 0, err
	}
	if err := s.repos.Chat.Delete(dbctx.Context{Ctx: ctx}, chatID); err != nil {
		return 0, 0, err
	}
	if len(chunkIDs) > 0 {
		if err := s.vectors.DeleteByChunkIDs(ctx, chunkIDs); err != nil {
			// Vectors are derivable; a failed eviction is logged, not fatal.
			s.log.Warn("Failed to evict vectors for deleted chat", "chat_id", chatID, "error", err)
		}
	}
	return messagesDeleted, int64(len(chunkIDs)), nil
}
