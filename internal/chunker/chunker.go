package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lifequery/backend/internal/data/models"
)

// Gap thresholds for sealing a chunk. A gap equal to the threshold counts
// as exceeding it.
const (
	GapBreak = 4 * time.Hour    // hard break: always seal
	GapJoin  = 20 * time.Minute // soft break: seal only past the target size
)

// tokensPerWord converts a whitespace word count into an approximate token
// count. The factor is part of the chunk schema: changing it shifts chunk
// boundaries, so it requires an embedding version bump.
const tokensPerWord = 1.35

// Config carries the per-run chunking parameters from the settings snapshot.
type Config struct {
	TargetTokens  int
	MaxTokens     int
	OverlapTokens int      // tail carried from a size-sealed chunk into its successor
	NoiseKeywords []string // lowered substrings; matching messages are dropped
}

// Chunk is one sealed window of messages, ready to persist.
type Chunk struct {
	ChunkID        string
	ChatID         string
	ChatName       string
	Participants   []string
	TimestampStart int64
	TimestampEnd   int64
	MessageCount   int
	Content        string
	ContentHash    string
}

// EstimateTokens approximates the token count of a string from its
// whitespace word count.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return wordsToTokens(len(strings.Fields(s)))
}

func wordsToTokens(words int) int {
	return int(float64(words) * tokensPerWord)
}

// FormatMessage renders one message line as it appears in chunk content:
// "[YYYY-MM-DD HH:MM] Sender: text" with the timestamp in UTC.
func FormatMessage(m *models.Message) string {
	ts := time.Unix(m.Timestamp, 0).UTC().Format("2006-01-02 15:04")
	sender := m.SenderName
	if sender == "" {
		sender = "Unknown"
	}
	return fmt.Sprintf("[%s] %s: %s", ts, sender, m.Text)
}

// ContentHash is the first 16 hex chars of sha256 over the chunk content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// ChunkID derives a stable id from the chat and content hash: first 20 hex
// chars of sha256("<chat_id>:<content_hash>").
func ChunkID(chatID, contentHash string) string {
	sum := sha256.Sum256([]byte(chatID + ":" + contentHash))
	return hex.EncodeToString(sum[:])[:20]
}

// Build slices one chat's messages into time-window chunks and reports how
// many messages the noise filter dropped. Messages must belong to a single
// chat; they are sorted by timestamp ascending before processing. Empty
// messages are dropped silently, and chunks whose content hash was already
// sealed in this run are skipped.
//
// Sealing rules, applied per message:
//   - a gap of GapBreak or more always seals the open chunk;
//   - a gap of GapJoin or more seals once the chunk holds TargetTokens;
//   - a message that would push the chunk past MaxTokens seals it and
//     seeds the next chunk with the last OverlapTokens of its text, so
//     a conversation cut mid-flow keeps its immediate context.
func Build(messages []*models.Message, chatName string, cfg Config) ([]Chunk, int) {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = 1000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}

	noisy := 0
	filtered := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		if isNoise(m.Text, cfg.NoiseKeywords) {
			noisy++
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) == 0 {
		return nil, noisy
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp < filtered[j].Timestamp
	})

	var out []Chunk
	seen := map[string]struct{}{}
	cur := newWindow(nil)

	seal := func() {
		c, ok := cur.seal(chatName)
		if !ok {
			return
		}
		if _, dup := seen[c.ContentHash]; dup {
			return
		}
		seen[c.ContentHash] = struct{}{}
		out = append(out, c)
	}

	for _, m := range filtered {
		line := FormatMessage(m)
		words := len(strings.Fields(line))

		if len(cur.msgs) > 0 {
			gap := time.Duration(m.Timestamp-cur.endTS) * time.Second
			switch {
			case gap >= GapBreak:
				seal()
				cur = newWindow(nil)
			case gap >= GapJoin && cur.tokens() >= cfg.TargetTokens:
				seal()
				cur = newWindow(nil)
			}
		}
		// Size seal is a pre-check: the chunk never grows past MaxTokens
		// except when a single message (plus seed) alone exceeds it.
		if len(cur.msgs) > 0 && wordsToTokens(cur.words+words) > cfg.MaxTokens {
			seed := cur.tail(cfg.OverlapTokens)
			seal()
			cur = newWindow(seed)
		}
		cur.append(m, line, words)
	}
	seal()
	return out, noisy
}

// window is one open chunk: seed lines carried over from a size-sealed
// predecessor, then appended message lines. The seed contributes text and
// tokens only; timestamps, participants and the message count come from the
// appended messages.
type window struct {
	seed  []string
	lines []string
	msgs  []*models.Message
	words int
	endTS int64
}

func newWindow(seed []string) *window {
	w := &window{seed: seed}
	for _, line := range seed {
		w.words += len(strings.Fields(line))
	}
	return w
}

func (w *window) tokens() int { return wordsToTokens(w.words) }

func (w *window) append(m *models.Message, line string, words int) {
	w.msgs = append(w.msgs, m)
	w.lines = append(w.lines, line)
	w.words += words
	w.endTS = m.Timestamp
}

func (w *window) content() string {
	all := make([]string, 0, len(w.seed)+len(w.lines))
	all = append(all, w.seed...)
	all = append(all, w.lines...)
	return strings.Join(all, "\n")
}

// tail returns the trailing whole lines of the window's content that fit
// the overlap token budget. Empty when the budget is zero or even the last
// line alone exceeds it.
func (w *window) tail(overlapTokens int) []string {
	if overlapTokens <= 0 {
		return nil
	}
	all := make([]string, 0, len(w.seed)+len(w.lines))
	all = append(all, w.seed...)
	all = append(all, w.lines...)
	words := 0
	i := len(all)
	for i > 0 {
		n := len(strings.Fields(all[i-1]))
		if wordsToTokens(words+n) > overlapTokens {
			break
		}
		words += n
		i--
	}
	return all[i:]
}

func (w *window) seal(chatName string) (Chunk, bool) {
	if len(w.msgs) == 0 {
		return Chunk{}, false
	}
	content := w.content()
	hash := ContentHash(content)
	chatID := w.msgs[0].ChatID
	return Chunk{
		ChunkID:        ChunkID(chatID, hash),
		ChatID:         chatID,
		ChatName:       chatName,
		Participants:   participants(w.msgs),
		TimestampStart: w.msgs[0].Timestamp,
		TimestampEnd:   w.endTS,
		MessageCount:   len(w.msgs),
		Content:        content,
		ContentHash:    hash,
	}, true
}

func participants(msgs []*models.Message) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range msgs {
		name := m.SenderName
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func isNoise(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
