package rag

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lifequery/backend/internal/chunker"
	"github.com/lifequery/backend/internal/clients/llm"
	"github.com/lifequery/backend/internal/clients/qdrant"
	"github.com/lifequery/backend/internal/settings"
)

const (
	thinkingOnDirective = "INSTRUCTION: If you need to reason or think step-by-step, wrap your internal monologue " +
		"entirely within <think> and </think> tags before providing your final answer.\n\n"
	thinkingOffDirective = "INSTRUCTION: DO NOT provide internal reasoning or show your thought process. " +
		"Respond directly with the final answer.\n\n"

	noContextPrompt = "You are LifeQuery, a personal memory assistant. I couldn't find specific records in your chat history " +
		"to answer this query with high precision, so I will answer based on my general knowledge. " +
		"To help me find relevant details, ensure your chats are indexed and your query contains specific keywords."
	ragDisabledPrompt = "You are LifeQuery, a helpful and intelligent assistant. Answer the user's questions clearly and accurately."
)

// BuildContext renders retrieved chunks into the context block, oldest
// first, greedily filling the token budget. A chunk that would overflow is
// skipped and later (smaller) chunks are still considered.
func BuildContext(chunks []qdrant.RetrievedChunk, contextCap int) (string, []qdrant.RetrievedChunk, int) {
	sorted := append([]qdrant.RetrievedChunk{}, chunks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampStart < sorted[j].TimestampStart
	})

	var parts []string
	var used []qdrant.RetrievedChunk
	tokens := 0
	for _, chunk := range sorted {
		name := chunk.ChatName
		if name == "" {
			name = "Unknown"
		}
		header := fmt.Sprintf("--- CHAT: %s | DATES: %s to %s ---",
			name, dateUTC(chunk.TimestampStart), dateUTC(chunk.TimestampEnd))
		text := header + "\n" + chunk.Content

		cost := chunker.EstimateTokens(text)
		if tokens+cost > contextCap {
			continue
		}
		parts = append(parts, text)
		tokens += cost
		used = append(used, chunk)
	}
	if len(parts) == 0 {
		return "", nil, 0
	}
	return strings.Join(parts, "\n\n"), used, tokens
}

func dateUTC(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

// RenderSystemPrompt substitutes the template placeholders. Context lands at
// {context_text} when present, otherwise it is appended under a CONTEXT
// divider.
func RenderSystemPrompt(template, userName, contextText string, now time.Time) string {
	out := strings.ReplaceAll(template, "{user_name}", userName)
	out = strings.ReplaceAll(out, "{current_date}", now.UTC().Format("2006-01-02"))
	if strings.Contains(out, "{context_text}") {
		return strings.ReplaceAll(out, "{context_text}", contextText)
	}
	return out + "\n\n--- CONTEXT ---\n" + contextText
}

// BuildMessages assembles the final message list. The system content is
// folded into the user turn: small local models follow instructions placed
// there more reliably than in a system slot.
func BuildMessages(queryText, systemContent string, history []llm.Message) []llm.Message {
	userContent := systemContent + "\n\nQuestion: " + queryText
	out := append([]llm.Message{}, history...)
	return append(out, llm.Message{Role: "user", Content: userContent})
}

// Assemble builds the full prompt for a query: context from retrieved
// chunks when available, fallback prompts otherwise. Returns the messages
// and the chunks actually used (empty on fallback).
func Assemble(queryText string, chunks []qdrant.RetrievedChunk, snap settings.Snapshot, history []llm.Message, now time.Time) ([]llm.Message, []qdrant.RetrievedChunk, int) {
	contextText, used, tokens := BuildContext(chunks, snap.ContextCap)

	var systemContent string
	if contextText == "" {
		if snap.EnableRAG {
			systemContent = noContextPrompt
		} else {
			systemContent = ragDisabledPrompt
		}
	} else {
		systemContent = RenderSystemPrompt(snap.SystemPrompt, snap.UserName(), contextText, now)
	}

	if snap.EnableThinking {
		systemContent = thinkingOnDirective + systemContent
	} else {
		systemContent = thinkingOffDirective + systemContent
	}

	return BuildMessages(queryText, systemContent, history), used, tokens
}
