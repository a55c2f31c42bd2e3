package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	qd "github.com/qdrant/go-client/qdrant"

	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/utils"
)

const (
	// AliasName is the stable name all point operations address. It points
	// at the live generation collection.
	AliasName = "lifequery_chunks"
	// generationPrefix prefixes the physical collections the alias can point
	// at. Each rebuild creates a fresh generation.
	generationPrefix = AliasName + "_v"

	queryTimeout = 15 * time.Second
)

// Record is one chunk vector plus the payload projected onto it.
type Record struct {
	ChunkID          string
	ChatID           string
	ChatName         string
	Participants     []string
	Content          string
	ContentHash      string
	TimestampStart   int64
	TimestampEnd     int64
	MessageCount     int
	EmbeddingVersion string
	Vector           []float32
}

// RetrievedChunk is a query hit.
type RetrievedChunk struct {
	ChunkID        string
	ChatID         string
	ChatName       string
	Participants   []string
	Content        string
	TimestampStart int64
	TimestampEnd   int64
	Score          float32
}

// DateRange bounds a query by chunk window timestamps. Zero values mean
// unbounded.
type DateRange struct {
	From int64
	To   int64
}

// VectorStore is the chunk vector index. The store is derivable from the
// durable chunk rows: losing it entirely only costs a re-embed.
type VectorStore interface {
	// Upsert writes records into the live collection, creating it on first
	// use with the dimension of the incoming vectors.
	Upsert(ctx context.Context, records []Record) error
	// Query returns the closest chunks among the included chats. Failures
	// and timeouts degrade to an empty result.
	Query(ctx context.Context, vector []float32, topK int, includedChatIDs []string, dateRange *DateRange) []RetrievedChunk
	// DeleteByChunkIDs evicts the given chunks from the live collection.
	DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error
	DeleteCollection(ctx context.Context) error
	Count(ctx context.Context) (uint64, error)

	// Rebuild protocol: BeginRebuild opens a fresh generation collection,
	// UpsertTemp fills it, CommitRebuild repoints the alias in one request
	// so readers see either the old generation or the new one, never
	// neither. AbortRebuild drops a partially built generation.
	// CleanupStaleTemp reaps generations left behind by a crashed rebuild.
	BeginRebuild(ctx context.Context) error
	UpsertTemp(ctx context.Context, records []Record) error
	CommitRebuild(ctx context.Context) error
	AbortRebuild(ctx context.Context) error
	CleanupStaleTemp(ctx context.Context) error
}

type store struct {
	client *qd.Client
	log    *logger.Logger

	mu      sync.Mutex
	rebuild string // generation collection receiving UpsertTemp writes
}

func NewVectorStore(log *logger.Logger) (VectorStore, error) {
	serviceLog := log.With("service", "QdrantVectorStore")

	host := utils.GetEnv("QDRANT_HOST", "localhost", log)
	port := utils.GetEnvAsInt("QDRANT_PORT", 6334, log)

	client, err := qd.NewClient(&qd.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &store{client: client, log: serviceLog}, nil
}

func generationName() string {
	return fmt.Sprintf("%s%d", generationPrefix, time.Now().UnixNano())
}

// liveCollection resolves the alias to its generation collection. Empty
// when the alias does not exist yet.
func (s *store) liveCollection(ctx context.Context) (string, error) {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list aliases: %w", err)
	}
	for _, a := range aliases {
		if a.GetAliasName() == AliasName {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

func (s *store) createCollection(ctx context.Context, name string, dim uint64) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qd.CreateCollection{
		CollectionName: name,
		VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
			Size:     dim,
			Distance: qd.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	s.log.Info("Created qdrant collection", "collection", name, "dim", dim)
	return nil
}

// ensureLive guarantees the alias points at a generation collection,
// creating the first generation when the store is empty.
func (s *store) ensureLive(ctx context.Context, dim uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, err := s.liveCollection(ctx)
	if err != nil {
		return err
	}
	if live != "" {
		return nil
	}
	name := generationName()
	if err := s.createCollection(ctx, name, dim); err != nil {
		return err
	}
	if err := s.client.CreateAlias(ctx, AliasName, name); err != nil {
		return fmt.Errorf("failed to alias %s: %w", name, err)
	}
	return nil
}

// pointID derives a stable UUID point id from the chunk id.
func pointID(chunkID string) *qd.PointId {
	return qd.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String())
}

func toPoints(records []Record) []*qd.PointStruct {
	points := make([]*qd.PointStruct, 0, len(records))
	for _, r := range records {
		participants, _ := json.Marshal(r.Participants)
		points = append(points, &qd.PointStruct{
			Id:      pointID(r.ChunkID),
			Vectors: qd.NewVectors(r.Vector...),
			Payload: qd.NewValueMap(map[string]any{
				"chunk_id":          r.ChunkID,
				"chat_id":           r.ChatID,
				"chat_name":         r.ChatName,
				"participants":      string(participants),
				"content":           r.Content,
				"content_hash":      r.ContentHash,
				"timestamp_start":   r.TimestampStart,
				"timestamp_end":     r.TimestampEnd,
				"message_count":     int64(r.MessageCount),
				"embedding_version": r.EmbeddingVersion,
			}),
		})
	}
	return points
}

func (s *store) upsertInto(ctx context.Context, collection string, records []Record) error {
	_, err := s.client.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: collection,
		Points:         toPoints(records),
		Wait:           qd.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %s: %w", len(records), collection, err)
	}
	return nil
}

func (s *store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureLive(ctx, uint64(len(records[0].Vector))); err != nil {
		return err
	}
	return s.upsertInto(ctx, AliasName, records)
}

func (s *store) Query(ctx context.Context, vector []float32, topK int, includedChatIDs []string, dateRange *DateRange) []RetrievedChunk {
	if len(vector) == 0 || topK <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var must []*qd.Condition
	if len(includedChatIDs) > 0 {
		must = append(must, qd.NewMatchKeywords("chat_id", includedChatIDs...))
	}
	if dateRange != nil {
		if dateRange.From > 0 {
			must = append(must, qd.NewRange("timestamp_start", &qd.Range{Gte: qd.PtrOf(float64(dateRange.From))}))
		}
		if dateRange.To > 0 {
			must = append(must, qd.NewRange("timestamp_end", &qd.Range{Lte: qd.PtrOf(float64(dateRange.To))}))
		}
	}
	var filter *qd.Filter
	if len(must) > 0 {
		filter = &qd.Filter{Must: must}
	}

	hits, err := s.client.Query(ctx, &qd.QueryPoints{
		CollectionName: AliasName,
		Query:          qd.NewQuery(vector...),
		Limit:          qd.PtrOf(uint64(topK)),
		Filter:         filter,
		WithPayload:    qd.NewWithPayload(true),
	})
	if err != nil {
		// Retrieval degrades to "nothing found" rather than failing the
		// whole chat turn. An absent alias lands here too.
		s.log.Warn("Qdrant query failed; returning empty result", "error", err)
		return nil
	}

	out := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		p := h.GetPayload()
		if p == nil {
			continue
		}
		var participants []string
		_ = json.Unmarshal([]byte(p["participants"].GetStringValue()), &participants)
		out = append(out, RetrievedChunk{
			ChunkID:        p["chunk_id"].GetStringValue(),
			ChatID:         p["chat_id"].GetStringValue(),
			ChatName:       p["chat_name"].GetStringValue(),
			Participants:   participants,
			Content:        p["content"].GetStringValue(),
			TimestampStart: p["timestamp_start"].GetIntegerValue(),
			TimestampEnd:   p["timestamp_end"].GetIntegerValue(),
			Score:          h.GetScore(),
		})
	}
	return out
}

func (s *store) DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	live, err := s.liveCollection(ctx)
	if err != nil || live == "" {
		return err
	}
	ids := make([]*qd.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, pointID(id))
	}
	_, err = s.client.Delete(ctx, &qd.DeletePoints{
		CollectionName: AliasName,
		Points:         qd.NewPointsSelector(ids...),
		Wait:           qd.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d vectors: %w", len(chunkIDs), err)
	}
	return nil
}

// DeleteCollection drops the live generation. Qdrant removes the alias
// with it.
func (s *store) DeleteCollection(ctx context.Context) error {
	live, err := s.liveCollection(ctx)
	if err != nil {
		return err
	}
	if live == "" {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, live); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", live, err)
	}
	return nil
}

func (s *store) Count(ctx context.Context) (uint64, error) {
	live, err := s.liveCollection(ctx)
	if err != nil {
		return 0, err
	}
	if live == "" {
		return 0, nil
	}
	n, err := s.client.Count(ctx, &qd.CountPoints{
		CollectionName: live,
		Exact:          qd.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return n, nil
}

func (s *store) BeginRebuild(ctx context.Context) error {
	if err := s.CleanupStaleTemp(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.rebuild = generationName()
	s.mu.Unlock()
	// The collection itself is created lazily by the first UpsertTemp,
	// which knows the vector dimension.
	return nil
}

func (s *store) UpsertTemp(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	name := s.rebuild
	s.mu.Unlock()
	if name == "" {
		return fmt.Errorf("no rebuild in progress")
	}
	if err := s.createCollection(ctx, name, uint64(len(records[0].Vector))); err != nil {
		return err
	}
	return s.upsertInto(ctx, name, records)
}

func (s *store) CommitRebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rebuild == "" {
		return fmt.Errorf("no rebuild in progress")
	}
	exists, err := s.client.CollectionExists(ctx, s.rebuild)
	if err != nil {
		return fmt.Errorf("failed to check rebuild collection: %w", err)
	}
	if !exists {
		return fmt.Errorf("rebuild collection %s was never populated", s.rebuild)
	}
	prev, err := s.liveCollection(ctx)
	if err != nil {
		return err
	}

	// One UpdateAliases request applies both operations atomically: a
	// reader resolves the alias to the old generation or the new one,
	// never to nothing.
	ops := []*qd.AliasOperations{qd.NewAliasCreate(AliasName, s.rebuild)}
	if prev != "" {
		ops = []*qd.AliasOperations{
			qd.NewAliasDelete(AliasName),
			qd.NewAliasCreate(AliasName, s.rebuild),
		}
	}
	if err := s.client.UpdateAliases(ctx, ops); err != nil {
		return fmt.Errorf("failed to repoint alias to %s: %w", s.rebuild, err)
	}
	committed := s.rebuild
	s.rebuild = ""

	if prev != "" {
		if err := s.client.DeleteCollection(ctx, prev); err != nil {
			// The swap already happened; a leftover generation only costs
			// disk and is reaped by the next rebuild.
			s.log.Warn("Failed to drop retired generation", "collection", prev, "error", err)
		}
	}
	s.log.Info("Rebuild committed", "collection", committed)
	return nil
}

func (s *store) AbortRebuild(ctx context.Context) error {
	s.mu.Lock()
	name := s.rebuild
	s.rebuild = ""
	s.mu.Unlock()
	if name == "" {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check rebuild collection: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to drop aborted rebuild collection %s: %w", name, err)
	}
	return nil
}

// CleanupStaleTemp drops every generation collection the alias does not
// point at. Run at startup and before each rebuild.
func (s *store) CleanupStaleTemp(ctx context.Context) error {
	live, err := s.liveCollection(ctx)
	if err != nil {
		return err
	}
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, generationPrefix) || name == live {
			continue
		}
		s.log.Warn("Dropping stale generation from an interrupted rebuild", "collection", name)
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("failed to drop stale collection %s: %w", name, err)
		}
	}
	return nil
}
