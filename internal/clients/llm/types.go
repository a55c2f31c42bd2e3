package llm

import (
	"context"
	"time"
)

// streamIdleTimeout bounds how long a chat stream may sit without a delta
// before the request is cancelled. Long generations stay alive as long as
// the provider keeps emitting chunks.
const streamIdleTimeout = 120 * time.Second

// idleWatchdog cancels a context when Reset is not called within the idle
// window. It guards streaming reads, which otherwise block forever on a
// stalled provider.
type idleWatchdog struct {
	timer *time.Timer
	idle  time.Duration
}

func watchIdle(cancel context.CancelFunc, idle time.Duration) *idleWatchdog {
	return &idleWatchdog{timer: time.AfterFunc(idle, cancel), idle: idle}
}

func (w *idleWatchdog) Reset() { w.timer.Reset(w.idle) }

func (w *idleWatchdog) Stop() { w.timer.Stop() }

// Message is one turn in a chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything a provider needs for one completion.
type Request struct {
	Model          string
	Messages       []Message
	Temperature    float64
	MaxTokens      int
	EnableThinking bool
}

// EventType distinguishes answer text from model reasoning in a stream.
type EventType string

const (
	EventToken     EventType = "token"
	EventReasoning EventType = "reasoning"
)

// StreamEvent is one delta from a streaming completion.
type StreamEvent struct {
	Type EventType
	Text string
}

// Client streams chat completions from one provider endpoint.
type Client interface {
	// StreamChat invokes the model and calls onEvent for every delta.
	// Returning an error from onEvent aborts the stream.
	StreamChat(ctx context.Context, req Request, onEvent func(StreamEvent) error) error
	ListModels(ctx context.Context) ([]string, error)
}
