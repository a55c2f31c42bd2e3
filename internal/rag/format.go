package rag

import (
	"fmt"
	"strings"

	"github.com/lifequery/backend/internal/clients/qdrant"
)

// Citation is the source reference attached to an answer.
type Citation struct {
	ChatName     string   `json:"chat_name"`
	DateRange    string   `json:"date_range"`
	Participants []string `json:"participants"`
	Content      string   `json:"content"`
}

// Citations projects the used chunks into the wire shape, date range
// rendered as "YYYY-MM-DD – YYYY-MM-DD".
func Citations(used []qdrant.RetrievedChunk) []Citation {
	out := make([]Citation, 0, len(used))
	for _, chunk := range used {
		name := chunk.ChatName
		if name == "" {
			name = "Unknown"
		}
		out = append(out, Citation{
			ChatName:     name,
			DateRange:    fmt.Sprintf("%s – %s", dateUTC(chunk.TimestampStart), dateUTC(chunk.TimestampEnd)),
			Participants: chunk.Participants,
			Content:      chunk.Content,
		})
	}
	return out
}

// BeautifyError maps raw provider errors onto messages fit for the chat
// stream. Short provider messages pass through untouched.
func BeautifyError(err error) string {
	if err == nil {
		return "Unknown error"
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication"):
		return "Authentication failed. Check your API key in Settings."
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
		return "The model provider is rate limiting requests. Wait a moment and try again."
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return "The configured model was not found on the provider. Check the model name in Settings."
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") || strings.Contains(lower, "dial tcp") || strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "Could not reach the model endpoint. Check that the service is running and the URL is correct."
	}
	if len(msg) < 200 {
		return msg
	}
	return "The model request failed. Check the backend logs for details."
}
