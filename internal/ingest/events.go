package ingest

// Event is one progress frame from an ingest-class operation. The terminal
// frame has Type "done" (or "error"/"cancelled") and carries the counts.
type Event struct {
	Type    string `json:"type"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`

	Inserted         int64 `json:"inserted,omitempty"`
	SkippedDuplicate int64 `json:"skipped_duplicate,omitempty"`
	SkippedEmpty     int64 `json:"skipped_empty,omitempty"`
	ChunksCreated    int64 `json:"chunks_created,omitempty"`
	ChunksEmbedded   int64 `json:"chunks_embedded,omitempty"`
	ChatsImported    int64 `json:"chats_imported,omitempty"`
}

const (
	EventProgress  = "progress"
	EventDone      = "done"
	EventError     = "error"
	EventCancelled = "cancelled"
)

const (
	StageFetch   = "fetch"
	StageImport  = "import"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageReindex = "reindex"
)

// EmitFunc receives progress frames; returning an error aborts the run.
type EmitFunc func(Event) error

func progress(emit EmitFunc, stage, message string) error {
	if emit == nil {
		return nil
	}
	return emit(Event{Type: EventProgress, Stage: stage, Message: message})
}
