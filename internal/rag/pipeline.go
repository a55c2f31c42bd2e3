package rag

import (
	"context"
	"time"

	"github.com/lifequery/backend/internal/clients/embedding"
	"github.com/lifequery/backend/internal/clients/llm"
	"github.com/lifequery/backend/internal/clients/qdrant"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/settings"
)

// Event is one unit of the chat stream, multiplexed to the client as SSE.
type Event struct {
	Type        string        `json:"type"`
	Content     string        `json:"content,omitempty"`
	Citations   []Citation    `json:"citations,omitempty"`
	Messages    []llm.Message `json:"messages,omitempty"`
	UserName    string        `json:"user_name,omitempty"`
	CurrentDate string        `json:"current_date,omitempty"`
}

const (
	EventDebug     = "debug"
	EventToken     = "token"
	EventReasoning = "reasoning"
	EventCitations = "citations"
)

// Pipeline drives one chat turn: retrieve, assemble, stream, cite.
type Pipeline struct {
	retriever *Retriever
	log       *logger.Logger
}

func NewPipeline(retriever *Retriever, log *logger.Logger) *Pipeline {
	return &Pipeline{retriever: retriever, log: log.With("service", "ChatPipeline")}
}

// Run emits the event sequence for a query: one debug event up front, token
// and reasoning deltas, then citations for the chunks that backed the answer.
// A model failure mid-stream degrades into a literal error token so the
// stream always terminates normally; a failed turn carries no citations.
func (p *Pipeline) Run(
	ctx context.Context,
	queryText string,
	history []llm.Message,
	useRAG bool,
	snap settings.Snapshot,
	embedder embedding.Client,
	chat llm.Client,
	emit func(Event) error,
) error {
	now := time.Now()

	// The per-request override folds into the snapshot copy so retrieval
	// and prompt selection both see the effective flag.
	snap.EnableRAG = snap.EnableRAG && useRAG

	var chunks []qdrant.RetrievedChunk
	if snap.EnableRAG {
		retrieved, err := p.retriever.Retrieve(ctx, embedder, queryText, snap)
		if err != nil {
			// Retrieval failure means answering without memory, not failing
			// the turn.
			p.log.Warn("Retrieval failed; continuing without context", "error", err)
		} else {
			chunks = retrieved
		}
	}

	messages, used, tokens := Assemble(queryText, chunks, snap, history, now)
	p.log.Info("Assembled prompt",
		"chunks_used", len(used),
		"context_tokens", tokens,
		"rag", snap.EnableRAG,
	)

	if err := emit(Event{
		Type:        EventDebug,
		Messages:    messages,
		UserName:    snap.UserName(),
		CurrentDate: now.UTC().Format("2006-01-02"),
	}); err != nil {
		return err
	}
	if snap.DebugLogs {
		for i, m := range messages {
			p.log.Debug("Prompt message", "index", i, "role", m.Role, "content", m.Content)
		}
	}

	req := llm.Request{
		Model:          snap.ChatModel,
		Messages:       messages,
		Temperature:    snap.Temperature,
		MaxTokens:      snap.MaxTokens,
		EnableThinking: snap.EnableThinking,
	}
	streamErr := chat.StreamChat(ctx, req, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.EventReasoning:
			return emit(Event{Type: EventReasoning, Content: ev.Text})
		default:
			return emit(Event{Type: EventToken, Content: ev.Text})
		}
	})
	if streamErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Error("Model stream failed", "error", streamErr)
		// A failed turn ends on the error token; no citations follow.
		return emit(Event{Type: EventToken, Content: "[Error: " + BeautifyError(streamErr) + "]"})
	}

	if len(used) > 0 {
		if err := emit(Event{Type: EventCitations, Citations: Citations(used)}); err != nil {
			return err
		}
	}
	return nil
}
