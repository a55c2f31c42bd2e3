package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/pkg/dbctx"
)

// MaxImportFileSize caps uploads and server-side imports at 500MB.
const MaxImportFileSize = 500 * 1024 * 1024

const importBatchSize = 500

// chatExport is one chat object in a Telegram JSON export.
type chatExport struct {
	ID       json.Number     `json:"id"`
	Name     string          `json:"name"`
	Messages []messageExport `json:"messages"`
}

type messageExport struct {
	ID     json.Number     `json:"id"`
	Type   string          `json:"type"`
	Date   string          `json:"date"`
	From   string          `json:"from"`
	FromID string          `json:"from_id"`
	Text   json.RawMessage `json:"text"`
}

// flattenText handles the export's text field, which is either a plain
// string or a list of strings and entity objects.
func flattenText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range parts {
		var ps string
		if err := json.Unmarshal(part, &ps); err == nil {
			sb.WriteString(ps)
			continue
		}
		var entity struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &entity); err == nil {
			sb.WriteString(entity.Text)
		}
	}
	return sb.String()
}

// ImportFile ingests a Telegram JSON export. The top level is either a
// single chat object or a list of chats; lists are stream-decoded so large
// exports never load fully into memory.
func (s *Service) ImportFile(ctx context.Context, filePath, username string, emit EmitFunc) (RunCounts, error) {
	var counts RunCounts

	info, err := os.Stat(filePath)
	if err != nil {
		return counts, fmt.Errorf("file not found")
	}
	if info.Size() > MaxImportFileSize {
		return counts, fmt.Errorf("file too large, maximum size is %dMB", MaxImportFileSize/(1024*1024))
	}

	f, err := os.Open(filePath)
	if err != nil {
		return counts, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	if err := progress(emit, StageImport, "Validating JSON structure..."); err != nil {
		return counts, err
	}

	dec := json.NewDecoder(f)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return counts, fmt.Errorf("invalid JSON: %w", err)
	}

	switch delim, _ := tok.(json.Delim); delim {
	case '[':
		if err := progress(emit, StageImport, "Importing chat list..."); err != nil {
			return counts, err
		}
		for dec.More() {
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
			var chat chatExport
			if err := dec.Decode(&chat); err != nil {
				return counts, fmt.Errorf("invalid JSON: %w", err)
			}
			counts.ChatsImported++
			if err := progress(emit, StageImport, fmt.Sprintf("Processing chat %d: %s", counts.ChatsImported, chatDisplayName(chat))); err != nil {
				return counts, err
			}
			if err := s.importChat(ctx, chat, username, emit, &counts); err != nil {
				return counts, err
			}
		}
	case '{':
		// Single chat: rewind and decode the whole object.
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return counts, err
		}
		dec = json.NewDecoder(f)
		dec.UseNumber()
		var chat chatExport
		if err := dec.Decode(&chat); err != nil {
			return counts, fmt.Errorf("invalid JSON: %w", err)
		}
		counts.ChatsImported = 1
		if err := progress(emit, StageImport, "Processing: "+chatDisplayName(chat)); err != nil {
			return counts, err
		}
		if err := s.importChat(ctx, chat, username, emit, &counts); err != nil {
			return counts, err
		}
	default:
		return counts, fmt.Errorf("invalid JSON: expected object or array")
	}

	return counts, nil
}

func chatDisplayName(chat chatExport) string {
	if chat.Name != "" {
		return chat.Name
	}
	return "Unknown"
}

func (s *Service) importChat(ctx context.Context, chat chatExport, username string, emit EmitFunc, counts *RunCounts) error {
	chatID := chat.ID.String()
	chatName := chatDisplayName(chat)
	importedAt := time.Now().Unix()
	var lastTimestamp int64
	var imported int64

	flush := func(batch []*models.Message) error {
		if len(batch) == 0 {
			return nil
		}
		inserted, skipped, err := s.repos.Message.InsertBatch(dbctx.Context{Ctx: ctx}, batch)
		if err != nil {
			return fmt.Errorf("failed to insert messages: %w", err)
		}
		imported += inserted
		counts.MessagesAdded += inserted
		counts.SkippedDuplicate += skipped
		return nil
	}

	var batch []*models.Message
	for _, msg := range chat.Messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Service events (joins, pins, calls) carry no ingestable text.
		if msg.Type != "message" {
			counts.SkippedEmpty++
			continue
		}
		text := flattenText(msg.Text)
		if strings.TrimSpace(text) == "" {
			counts.SkippedEmpty++
			continue
		}

		timestamp := importedAt
		if ts, err := time.Parse(time.RFC3339, msg.Date); err == nil {
			timestamp = ts.Unix()
		} else if ts, err := time.Parse("2006-01-02T15:04:05", msg.Date); err == nil {
			timestamp = ts.Unix()
		}
		if timestamp > lastTimestamp {
			lastTimestamp = timestamp
		}

		fromName := msg.From
		if username != "" && (fromName == "" || fromName == "Unknown") {
			// Attribution override for exports from deleted accounts.
			fromName = username
		}
		if fromName == "" {
			fromName = "Unknown"
		}

		batch = append(batch, &models.Message{
			MessageID:  msg.ID.String(),
			ChatID:     chatID,
			ChatName:   chatName,
			SenderID:   msg.FromID,
			SenderName: fromName,
			Text:       text,
			Timestamp:  timestamp,
			Source:     "json_import",
			ImportedAt: importedAt,
		})

		if len(batch) >= importBatchSize {
			if err := flush(batch); err != nil {
				return err
			}
			batch = nil
			if err := progress(emit, StageImport, fmt.Sprintf("Chat %s: imported %d messages...", chatName, imported)); err != nil {
				return err
			}
		}
	}
	if err := flush(batch); err != nil {
		return err
	}

	return s.repos.Chat.Merge(dbctx.Context{Ctx: ctx}, chatID, chatName, "private", imported, lastTimestamp)
}

// ScanImportDir lists JSON export files dropped into the configured import
// directory.
func ScanImportDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
