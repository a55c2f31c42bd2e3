package chunker

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lifequery/backend/internal/data/models"
)

func msg(chatID string, ts int64, sender, text string) *models.Message {
	return &models.Message{
		ChatID:     chatID,
		ChatName:   "Test Chat",
		SenderName: sender,
		Text:       text,
		Timestamp:  ts,
	}
}

func TestFormatMessage_RendersUTCLine(t *testing.T) {
	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC).Unix()
	got := FormatMessage(msg("1", ts, "Alice", "hello"))
	want := "[2024-03-15 09:30] Alice: hello"
	if got != want {
		t.Fatalf("expected %q got %q", want, got)
	}
}

func TestFormatMessage_UnknownSender(t *testing.T) {
	got := FormatMessage(msg("1", 0, "", "hi"))
	if !strings.Contains(got, "Unknown: hi") {
		t.Fatalf("expected Unknown sender, got %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0 for empty, got %d", got)
	}
	// 100 words * 1.35 = 135
	if got := EstimateTokens(strings.TrimSpace(strings.Repeat("word ", 100))); got != 135 {
		t.Fatalf("expected 135, got %d", got)
	}
}

func TestContentHash_Stable(t *testing.T) {
	h1 := ContentHash("same content")
	h2 := ContentHash("same content")
	if h1 != h2 {
		t.Fatalf("hash not stable: %q vs %q", h1, h2)
	}
	if len(h1) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(h1))
	}
	if h1 == ContentHash("other content") {
		t.Fatalf("distinct content produced equal hashes")
	}
}

func TestChunkID_Length(t *testing.T) {
	id := ChunkID("42", ContentHash("x"))
	if len(id) != 20 {
		t.Fatalf("expected 20 hex chars, got %d", len(id))
	}
}

func TestBuild_SingleChunk(t *testing.T) {
	msgs := []*models.Message{
		msg("1", 1000, "Alice", "hey"),
		msg("1", 1060, "Bob", "hi there"),
	}
	chunks, _ := Build(msgs, "Test Chat", Config{TargetTokens: 1000, MaxTokens: 1500})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.MessageCount != 2 || c.TimestampStart != 1000 || c.TimestampEnd != 1060 {
		t.Fatalf("unexpected chunk window: %+v", c)
	}
	if len(c.Participants) != 2 || c.Participants[0] != "Alice" || c.Participants[1] != "Bob" {
		t.Fatalf("expected sorted participants, got %v", c.Participants)
	}
}

func TestBuild_HardGapSeals(t *testing.T) {
	base := int64(1_700_000_000)
	msgs := []*models.Message{
		msg("1", base, "Alice", "before"),
		msg("1", base+int64(GapBreak/time.Second), "Alice", "after"),
	}
	chunks, _ := Build(msgs, "Test Chat", Config{})
	if len(chunks) != 2 {
		t.Fatalf("gap equal to the break threshold should seal, got %d chunks", len(chunks))
	}
}

func TestBuild_SoftGapRequiresTargetTokens(t *testing.T) {
	base := int64(1_700_000_000)
	gap := int64(GapJoin / time.Second)

	// Tiny chunk: a soft gap must not seal below the target size.
	small := []*models.Message{
		msg("1", base, "Alice", "one"),
		msg("1", base+gap, "Alice", "two"),
	}
	if got, _ := Build(small, "Test Chat", Config{}); len(got) != 1 {
		t.Fatalf("soft gap sealed below the target size: %d chunks", len(got))
	}

	// Past the default 1000-token target the same gap seals.
	long := strings.TrimSpace(strings.Repeat("word ", 800))
	big := []*models.Message{
		msg("1", base, "Alice", long),
		msg("1", base+gap, "Alice", "follow up"),
	}
	if got, _ := Build(big, "Test Chat", Config{}); len(got) != 2 {
		t.Fatalf("soft gap past the target size should seal, got %d chunks", len(got))
	}
}

func TestBuild_OverflowSealsAndSeedsOverlap(t *testing.T) {
	base := int64(1_700_000_000)
	var msgs []*models.Message
	for i := 0; i < 8; i++ {
		// 50 words per message, 53 per rendered line.
		text := fmt.Sprintf("msg%02d %s", i, strings.TrimSpace(strings.Repeat("w ", 49)))
		msgs = append(msgs, msg("1", base+int64(i*60), "Alice", text))
	}
	cfg := Config{TargetTokens: 5000, MaxTokens: 300, OverlapTokens: 100}
	chunks, _ := Build(msgs, "Test Chat", cfg)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if EstimateTokens(c.Content) > cfg.MaxTokens {
			t.Fatalf("chunk %d over max: %d tokens", i, EstimateTokens(c.Content))
		}
	}

	// The successor opens with the predecessor's tail line, then its own
	// first message.
	second := chunks[1]
	if !strings.HasPrefix(second.Content, FormatMessage(msgs[3])) {
		t.Fatalf("expected overlap seed from msg 3, got %q", second.Content[:80])
	}
	if second.MessageCount != 3 {
		t.Fatalf("seed lines must not count as messages, got %d", second.MessageCount)
	}
	if second.TimestampStart != msgs[4].Timestamp {
		t.Fatalf("seed lines must not extend the window, got start %d", second.TimestampStart)
	}
	if !strings.HasPrefix(chunks[2].Content, FormatMessage(msgs[6])) {
		t.Fatalf("expected overlap seed from msg 6, got %q", chunks[2].Content[:80])
	}
}

func TestBuild_ExactlyAtMaxSealsCleanly(t *testing.T) {
	base := int64(1_700_000_000)
	// 197 text words render to a 200-word line: exactly 270 tokens.
	exact := strings.TrimSpace(strings.Repeat("word ", 197))
	cfg := Config{TargetTokens: 5000, MaxTokens: 270, OverlapTokens: 50}

	chunks, _ := Build([]*models.Message{msg("1", base, "Alice", exact)}, "Test Chat", cfg)
	if len(chunks) != 1 {
		t.Fatalf("a chunk exactly at max must not split, got %d chunks", len(chunks))
	}
	if got := EstimateTokens(chunks[0].Content); got != 270 {
		t.Fatalf("expected 270 tokens, got %d", got)
	}

	// A following message seals the full chunk and starts fresh; the tail
	// line is over the overlap budget, so no seed carries over.
	chunks, _ = Build([]*models.Message{
		msg("1", base, "Alice", exact),
		msg("1", base+60, "Bob", "and then"),
	}, "Test Chat", cfg)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Content != FormatMessage(msg("1", base+60, "Bob", "and then")) {
		t.Fatalf("unexpected successor content: %q", chunks[1].Content)
	}
}

func TestBuild_DuplicateChunksSkipped(t *testing.T) {
	dup := strings.TrimSpace(strings.Repeat("dup ", 150))
	msgs := []*models.Message{
		msg("1", 1000, "Alice", dup),
		msg("1", 1000, "Alice", dup),
	}
	// The size seal splits the pair into two chunks with identical content;
	// the second is dropped by hash.
	chunks, _ := Build(msgs, "Test Chat", Config{TargetTokens: 5000, MaxTokens: 200})
	if len(chunks) != 1 {
		t.Fatalf("expected duplicate chunk to be skipped, got %d chunks", len(chunks))
	}
	if chunks[0].MessageCount != 1 {
		t.Fatalf("expected single-message chunk, got %d", chunks[0].MessageCount)
	}
}

func TestBuild_DropsNoiseAndEmpty(t *testing.T) {
	msgs := []*models.Message{
		msg("1", 1000, "Alice", "keep this"),
		msg("1", 1001, "Bot", "Your verification CODE is 1234"),
		msg("1", 1002, "Alice", "   "),
	}
	chunks, noisy := Build(msgs, "Test Chat", Config{NoiseKeywords: []string{"verification code"}})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].MessageCount != 1 || !strings.Contains(chunks[0].Content, "keep this") {
		t.Fatalf("unexpected chunk content: %q", chunks[0].Content)
	}
	if noisy != 1 {
		t.Fatalf("expected 1 noise-dropped message, got %d", noisy)
	}
}

func TestBuild_SortsOutOfOrderInput(t *testing.T) {
	msgs := []*models.Message{
		msg("1", 2000, "Alice", "second"),
		msg("1", 1000, "Alice", "first"),
	}
	chunks, _ := Build(msgs, "Test Chat", Config{})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	first := strings.Index(chunks[0].Content, "first")
	second := strings.Index(chunks[0].Content, "second")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("content not in timestamp order: %q", chunks[0].Content)
	}
}

func TestBuild_DeterministicIDs(t *testing.T) {
	mk := func() []*models.Message {
		return []*models.Message{
			msg("7", 1000, "Alice", "alpha"),
			msg("7", 1060, "Bob", "beta"),
		}
	}
	a, _ := Build(mk(), "Test Chat", Config{})
	b, _ := Build(mk(), "Test Chat", Config{})
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected single chunks")
	}
	if a[0].ChunkID != b[0].ChunkID || a[0].ContentHash != b[0].ContentHash {
		t.Fatalf("ids not deterministic: %+v vs %+v", a[0], b[0])
	}
}
