package settings

// Settings keys. The config table is the source of truth; anything not
// present falls back to the defaults below.
const (
	KeyTelegramAPIID       = "telegram_api_id"
	KeyTelegramAPIHash     = "telegram_api_hash"
	KeyTelegramFetchBatch  = "telegram_fetch_batch"
	KeyTelegramFetchWait   = "telegram_fetch_wait"
	KeyOllamaURL           = "ollama_url"
	KeyEmbeddingModel      = "embedding_model"
	KeyChatProvider        = "chat_provider"
	KeyChatModel           = "chat_model"
	KeyChatURL             = "chat_url"
	KeyChatAPIKey          = "chat_api_key"
	KeyOpenRouterAPIKey    = "openrouter_api_key"
	KeyCustomChatURL       = "custom_chat_url"
	KeyTemperature         = "temperature"
	KeyMaxTokens           = "max_tokens"
	KeyTopK                = "top_k"
	KeyContextCap          = "context_cap"
	KeyChunkTarget         = "chunk_target"
	KeyChunkMax            = "chunk_max"
	KeyChunkOverlap        = "chunk_overlap"
	KeyAPIKey              = "api_key"
	KeyAutoSyncInterval    = "auto_sync_interval"
	KeyEnableThinking      = "enable_thinking"
	KeyEnableRAG           = "enable_rag"
	KeySystemPrompt        = "system_prompt"
	KeyUserFirstName       = "user_first_name"
	KeyUserLastName        = "user_last_name"
	KeyUserUsername        = "user_username"
	KeyDebugLogs           = "debug_logs"
	KeyNoiseFilterKeywords = "noise_filter_keywords"
)

// DefaultSystemPrompt is the answer template. {user_name}, {current_date}
// and {context_text} are substituted at assembly time.
const DefaultSystemPrompt = `You are LifeQuery, a personal memory assistant for {user_name}. Today's date is {current_date}.

Answer the user's question using ONLY the chat history excerpts below. Each excerpt is labeled with the chat name and date range it comes from.

Rules:
- Base your answer on the excerpts; do not invent details that are not there.
- When you reference something from an excerpt, mention which chat and rough date it came from.
- If the excerpts do not contain enough information, say so plainly.

--- CONTEXT ---
{context_text}`

var defaultStrings = map[string]string{
	KeyTelegramAPIID:       "",
	KeyTelegramAPIHash:     "",
	KeyOllamaURL:           "http://localhost:11434",
	KeyEmbeddingModel:      "qwen3-Embedding-0.6B:Q8_0",
	KeyChatProvider:        "ollama",
	KeyChatModel:           "qwen3:8b",
	KeyChatURL:             "",
	KeyChatAPIKey:          "",
	KeyOpenRouterAPIKey:    "",
	KeyCustomChatURL:       "",
	KeyAPIKey:              "",
	KeySystemPrompt:        DefaultSystemPrompt,
	KeyUserFirstName:       "",
	KeyUserLastName:        "",
	KeyUserUsername:        "",
	KeyNoiseFilterKeywords: "",
}

var defaultInts = map[string]int{
	KeyTelegramFetchBatch: 2000,
	KeyTelegramFetchWait:  5,
	KeyMaxTokens:          4096,
	KeyTopK:               15,
	KeyContextCap:         10000,
	KeyChunkTarget:        1000,
	KeyChunkMax:           1500,
	KeyChunkOverlap:       250,
	KeyAutoSyncInterval:   30,
}

var defaultFloats = map[string]float64{
	KeyTemperature: 0.2,
}

var defaultBools = map[string]bool{
	KeyEnableThinking: false,
	KeyEnableRAG:      true,
	KeyDebugLogs:      false,
}

var sensitiveKeys = map[string]struct{}{
	KeyTelegramAPIHash:  {},
	KeyOpenRouterAPIKey: {},
	KeyChatAPIKey:       {},
	KeyAPIKey:           {},
}

var knownKeys = func() map[string]struct{} {
	out := map[string]struct{}{}
	for k := range defaultStrings {
		out[k] = struct{}{}
	}
	for k := range defaultInts {
		out[k] = struct{}{}
	}
	for k := range defaultFloats {
		out[k] = struct{}{}
	}
	for k := range defaultBools {
		out[k] = struct{}{}
	}
	return out
}()
