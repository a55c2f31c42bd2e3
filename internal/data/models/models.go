package models

import (
	"gorm.io/datatypes"
)

// Message is one imported chat message. Uniqueness is per (message_id,
// chat_id) so the same export can be imported twice without duplicates.
type Message struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID  string `gorm:"column:message_id;not null;uniqueIndex:idx_messages_msg_chat" json:"message_id"`
	ChatID     string `gorm:"column:chat_id;not null;uniqueIndex:idx_messages_msg_chat;index" json:"chat_id"`
	ChatName   string `gorm:"column:chat_name" json:"chat_name"`
	SenderID   string `gorm:"column:sender_id" json:"sender_id"`
	SenderName string `gorm:"column:sender_name" json:"sender_name"`
	Text       string `gorm:"column:text;not null" json:"text"`
	Timestamp  int64  `gorm:"column:timestamp;not null;index" json:"timestamp"`
	Source     string `gorm:"column:source;not null" json:"source"`
	ImportedAt int64  `gorm:"column:imported_at;not null" json:"imported_at"`
}

func (Message) TableName() string { return "messages" }

// Chunk is a sealed window of messages from one chat. Chunks are immutable:
// when source messages change a new chunk_id/content_hash pair is created,
// never an in-place update. embedded_at NULL means the chunk still needs a
// vector.
type Chunk struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ChunkID          string         `gorm:"column:chunk_id;not null;uniqueIndex" json:"chunk_id"`
	ChatID           string         `gorm:"column:chat_id;not null;index" json:"chat_id"`
	ChatName         string         `gorm:"column:chat_name" json:"chat_name"`
	Participants     datatypes.JSON `gorm:"column:participants" json:"participants"`
	TimestampStart   int64          `gorm:"column:timestamp_start;not null;index" json:"timestamp_start"`
	TimestampEnd     int64          `gorm:"column:timestamp_end;not null" json:"timestamp_end"`
	MessageCount     int            `gorm:"column:message_count;not null" json:"message_count"`
	Content          string         `gorm:"column:content;not null" json:"content"`
	ContentHash      string         `gorm:"column:content_hash;not null;index" json:"content_hash"`
	EmbeddingVersion string         `gorm:"column:embedding_version" json:"embedding_version"`
	EmbeddedAt       *int64         `gorm:"column:embedded_at" json:"embedded_at,omitempty"`
	CreatedAt        int64          `gorm:"column:created_at;not null" json:"created_at"`
}

func (Chunk) TableName() string { return "chunks" }

// Chat is the per-conversation metadata row, including the inclusion flag
// that gates retrieval and sync.
type Chat struct {
	ChatID        string `gorm:"column:chat_id;primaryKey" json:"chat_id"`
	ChatName      string `gorm:"column:chat_name;not null" json:"chat_name"`
	ChatType      string `gorm:"column:chat_type;not null;default:private" json:"chat_type"`
	Included      bool   `gorm:"column:included;not null;default:true" json:"included"`
	MessageCount  int64  `gorm:"column:message_count;not null;default:0" json:"message_count"`
	LastMessageAt int64  `gorm:"column:last_message_at;not null;default:0" json:"last_message_at"`
	CreatedAt     int64  `gorm:"column:created_at;not null" json:"created_at"`
	LastChunkedAt int64  `gorm:"column:last_chunked_at;not null;default:0" json:"last_chunked_at"`
}

func (Chat) TableName() string { return "chats" }

// ConfigEntry is one key/value settings row.
type ConfigEntry struct {
	Key       string `gorm:"column:key;primaryKey" json:"key"`
	Value     string `gorm:"column:value;not null" json:"value"`
	UpdatedAt int64  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (ConfigEntry) TableName() string { return "config" }

// SyncLog records one ingest-class run.
type SyncLog struct {
	ID               int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Operation        string `gorm:"column:operation;not null" json:"operation"`
	StartedAt        int64  `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt       *int64 `gorm:"column:finished_at" json:"finished_at,omitempty"`
	Status           string `gorm:"column:status;not null" json:"status"`
	MessagesAdded    int64  `gorm:"column:messages_added;not null;default:0" json:"messages_added"`
	ChunksCreated    int64  `gorm:"column:chunks_created;not null;default:0" json:"chunks_created"`
	SkippedDuplicate int64  `gorm:"column:skipped_duplicate;not null;default:0" json:"skipped_duplicate"`
	SkippedEmpty     int64  `gorm:"column:skipped_empty;not null;default:0" json:"skipped_empty"`
	Detail           string `gorm:"column:detail" json:"detail"`
}

func (SyncLog) TableName() string { return "sync_log" }

// SyncLog status values.
const (
	SyncStatusRunning   = "running"
	SyncStatusSuccess   = "success"
	SyncStatusError     = "error"
	SyncStatusCancelled = "cancelled"
)

// Provider is a persistent LLM provider profile. Switching chat_provider in
// settings loads from and writes back to these rows.
type Provider struct {
	ID           string `gorm:"column:id;primaryKey" json:"id"`
	Name         string `gorm:"column:name;not null" json:"name"`
	ProviderType string `gorm:"column:provider_type;not null" json:"provider_type"`
	BaseURL      string `gorm:"column:base_url" json:"base_url"`
	APIKey       string `gorm:"column:api_key" json:"api_key"`
	LastModel    string `gorm:"column:last_model" json:"last_model"`
	UpdatedAt    int64  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Provider) TableName() string { return "providers" }
