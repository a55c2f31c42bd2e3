package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lifequery/backend/internal/clients/llm"
	"github.com/lifequery/backend/internal/clients/qdrant"
	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/data/repos/testutil"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/settings"
)

// fakeEmbedder returns a fixed query vector, or fails on demand.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, input string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) CheckConnection(ctx context.Context) error { return f.err }

func (f *fakeEmbedder) CheckModelExists(ctx context.Context, model string) (bool, error) {
	return f.err == nil, f.err
}

func (f *fakeEmbedder) Model() string { return "test-embed" }

// fakeVectors serves scripted hits and records whether it was queried.
type fakeVectors struct {
	hits    []qdrant.RetrievedChunk
	queried bool
}

func (f *fakeVectors) Upsert(ctx context.Context, records []qdrant.Record) error { return nil }

func (f *fakeVectors) Query(ctx context.Context, vector []float32, topK int, includedChatIDs []string, dateRange *qdrant.DateRange) []qdrant.RetrievedChunk {
	f.queried = true
	return f.hits
}

func (f *fakeVectors) DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error { return nil }
func (f *fakeVectors) DeleteCollection(ctx context.Context) error                    { return nil }
func (f *fakeVectors) Count(ctx context.Context) (uint64, error)                     { return 0, nil }
func (f *fakeVectors) BeginRebuild(ctx context.Context) error                        { return nil }
func (f *fakeVectors) UpsertTemp(ctx context.Context, records []qdrant.Record) error { return nil }
func (f *fakeVectors) CommitRebuild(ctx context.Context) error                       { return nil }
func (f *fakeVectors) AbortRebuild(ctx context.Context) error                        { return nil }
func (f *fakeVectors) CleanupStaleTemp(ctx context.Context) error                    { return nil }

// fakeChat replays a scripted stream, then returns err. When cancel is set
// it fires before the error, simulating a client disconnect.
type fakeChat struct {
	script []llm.StreamEvent
	err    error
	cancel context.CancelFunc
}

func (f *fakeChat) StreamChat(ctx context.Context, req llm.Request, onEvent func(llm.StreamEvent) error) error {
	for _, ev := range f.script {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	if f.cancel != nil {
		f.cancel()
	}
	return f.err
}

func (f *fakeChat) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func newPipeline(t *testing.T, vectors qdrant.VectorStore) *Pipeline {
	t.Helper()
	log := testutil.Logger(t)
	r := repos.New(testutil.DB(t), log)
	dbc := dbctx.Context{Ctx: context.Background()}
	if err := r.Chat.Merge(dbc, "c1", "Family", "private", 0, 0); err != nil {
		t.Fatalf("failed to seed chat: %v", err)
	}
	return NewPipeline(NewRetriever(r.Chat, vectors, log), log)
}

func pipelineSnap() settings.Snapshot {
	return settings.Snapshot{
		EnableRAG:     true,
		TopK:          5,
		ContextCap:    2000,
		ChatModel:     "test-model",
		SystemPrompt:  "Answer for {user_name} on {current_date}.\n{context_text}",
		UserFirstName: "Ada",
	}
}

func collect(events *[]Event) func(Event) error {
	return func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestRun_EventOrderWithCitations(t *testing.T) {
	vectors := &fakeVectors{hits: []qdrant.RetrievedChunk{{
		ChunkID:        "a",
		ChatID:         "c1",
		ChatName:       "Family",
		Content:        "we booked the beach house for july",
		TimestampStart: 1700000000,
		TimestampEnd:   1700003600,
	}}}
	p := newPipeline(t, vectors)
	chat := &fakeChat{script: []llm.StreamEvent{
		{Type: llm.EventReasoning, Text: "checking the records"},
		{Type: llm.EventToken, Text: "You booked"},
		{Type: llm.EventToken, Text: " the beach house."},
	}}

	var events []Event
	err := p.Run(context.Background(), "when did we book the beach house?", nil,
		true, pipelineSnap(), &fakeEmbedder{}, chat, collect(&events))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != EventDebug {
		t.Fatalf("first event must be debug, got %q", events[0].Type)
	}
	if events[0].UserName != "Ada" || len(events[0].Messages) == 0 {
		t.Fatalf("debug event incomplete: %+v", events[0])
	}
	if events[1].Type != EventReasoning || events[2].Type != EventToken || events[3].Type != EventToken {
		t.Fatalf("stream deltas out of order: %+v", events[1:4])
	}
	last := events[4]
	if last.Type != EventCitations || len(last.Citations) != 1 {
		t.Fatalf("expected trailing citations event, got %+v", last)
	}
	if last.Citations[0].ChatName != "Family" || !strings.Contains(last.Citations[0].Content, "beach house") {
		t.Fatalf("unexpected citation: %+v", last.Citations[0])
	}
	if !vectors.queried {
		t.Fatalf("expected a vector query")
	}
}

func TestRun_StreamFailureEndsWithErrorToken(t *testing.T) {
	vectors := &fakeVectors{hits: []qdrant.RetrievedChunk{{
		ChunkID: "a", ChatID: "c1", ChatName: "Family", Content: "context",
	}}}
	p := newPipeline(t, vectors)
	chat := &fakeChat{
		script: []llm.StreamEvent{{Type: llm.EventToken, Text: "partial"}},
		err:    errors.New("dial tcp 127.0.0.1:11434: connection refused"),
	}

	var events []Event
	err := p.Run(context.Background(), "hi", nil,
		true, pipelineSnap(), &fakeEmbedder{}, chat, collect(&events))
	if err != nil {
		t.Fatalf("a model failure must not fail the turn: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != EventToken || !strings.HasPrefix(last.Content, "[Error: ") {
		t.Fatalf("expected trailing error token, got %+v", last)
	}
	for _, ev := range events {
		if ev.Type == EventCitations {
			t.Fatalf("failed turn must not carry citations")
		}
	}
}

func TestRun_CancelledStreamPropagatesContextError(t *testing.T) {
	p := newPipeline(t, &fakeVectors{})
	ctx, cancel := context.WithCancel(context.Background())
	chat := &fakeChat{cancel: cancel, err: context.Canceled}

	var events []Event
	err := p.Run(ctx, "hi", nil, false, pipelineSnap(), &fakeEmbedder{}, chat, collect(&events))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for _, ev := range events {
		if ev.Type == EventToken && strings.HasPrefix(ev.Content, "[Error:") {
			t.Fatalf("cancellation must not produce an error token")
		}
	}
}

func TestRun_RetrievalFailureAnswersWithoutContext(t *testing.T) {
	vectors := &fakeVectors{}
	p := newPipeline(t, vectors)
	chat := &fakeChat{script: []llm.StreamEvent{{Type: llm.EventToken, Text: "answer"}}}

	var events []Event
	err := p.Run(context.Background(), "hi", nil,
		true, pipelineSnap(), &fakeEmbedder{err: errors.New("embedder down")}, chat, collect(&events))
	if err != nil {
		t.Fatalf("retrieval failure must degrade, not fail: %v", err)
	}
	if vectors.queried {
		t.Fatalf("query must not reach the store when embedding fails")
	}
	prompt := events[0].Messages[len(events[0].Messages)-1].Content
	if !strings.Contains(prompt, "couldn't find specific records") {
		t.Fatalf("expected the no-context fallback prompt, got %q", prompt)
	}
	for _, ev := range events {
		if ev.Type == EventCitations {
			t.Fatalf("no citations without used context")
		}
	}
}

func TestRun_RAGOffSkipsRetrieval(t *testing.T) {
	vectors := &fakeVectors{hits: []qdrant.RetrievedChunk{{ChatName: "Family", Content: "context"}}}
	p := newPipeline(t, vectors)
	chat := &fakeChat{script: []llm.StreamEvent{{Type: llm.EventToken, Text: "answer"}}}

	var events []Event
	err := p.Run(context.Background(), "hi", nil,
		false, pipelineSnap(), &fakeEmbedder{}, chat, collect(&events))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if vectors.queried {
		t.Fatalf("useRAG=false must skip retrieval")
	}
	// The per-request override selects the plain-assistant prompt, not the
	// no-records apology.
	prompt := events[0].Messages[len(events[0].Messages)-1].Content
	if !strings.Contains(prompt, "helpful and intelligent assistant") {
		t.Fatalf("expected the rag-off prompt, got %q", prompt)
	}
}

func TestRun_EmitFailureAborts(t *testing.T) {
	p := newPipeline(t, &fakeVectors{})
	chat := &fakeChat{script: []llm.StreamEvent{{Type: llm.EventToken, Text: "answer"}}}

	wantErr := errors.New("client went away")
	err := p.Run(context.Background(), "hi", nil, false, pipelineSnap(), &fakeEmbedder{}, chat,
		func(Event) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the emit error back, got %v", err)
	}
}
