package rag

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lifequery/backend/internal/clients/qdrant"
)

func TestCitations_RendersDateRange(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2024, 3, 2, 18, 0, 0, 0, time.UTC).Unix()
	out := Citations([]qdrant.RetrievedChunk{{
		ChatName:       "Family",
		TimestampStart: start,
		TimestampEnd:   end,
		Participants:   []string{"Alice", "Bob"},
		Content:        "some content",
	}})
	if len(out) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(out))
	}
	if out[0].DateRange != "2024-03-01 – 2024-03-02" {
		t.Fatalf("unexpected date range: %q", out[0].DateRange)
	}
	if out[0].ChatName != "Family" || len(out[0].Participants) != 2 {
		t.Fatalf("unexpected citation: %+v", out[0])
	}
}

func TestCitations_UnknownChatName(t *testing.T) {
	out := Citations([]qdrant.RetrievedChunk{{Content: "x"}})
	if out[0].ChatName != "Unknown" {
		t.Fatalf("expected Unknown fallback, got %q", out[0].ChatName)
	}
}

func TestBeautifyError_KnownPatterns(t *testing.T) {
	cases := []struct {
		err  string
		want string
	}{
		{"status 401: unauthorized", "Authentication failed"},
		{"status 429: rate limit exceeded", "rate limiting"},
		{"status 404: model not found", "was not found"},
		{"dial tcp 127.0.0.1:11434: connection refused", "Could not reach"},
		{"context deadline exceeded", "Could not reach"},
	}
	for _, tc := range cases {
		got := BeautifyError(fmt.Errorf("%s", tc.err))
		if !strings.Contains(got, tc.want) {
			t.Fatalf("BeautifyError(%q) = %q, expected to contain %q", tc.err, got, tc.want)
		}
	}
}

func TestBeautifyError_ShortMessagesPassThrough(t *testing.T) {
	msg := "model returned an empty response"
	if got := BeautifyError(fmt.Errorf("%s", msg)); got != msg {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestBeautifyError_LongMessagesGeneric(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := BeautifyError(fmt.Errorf("%s", long))
	if strings.Contains(got, "xxx") {
		t.Fatalf("expected generic message for long errors, got %q", got)
	}
}
