package settings

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

// MaskSentinel is what sensitive values read back as; writing it keeps the
// stored value.
const MaskSentinel = "****"

// Snapshot is one immutable view of every setting. Operations read a
// snapshot at start and never observe mid-run changes.
type Snapshot struct {
	TelegramAPIID       string
	TelegramAPIHash     string
	TelegramFetchBatch  int
	TelegramFetchWait   int
	OllamaURL           string
	EmbeddingModel      string
	ChatProvider        string
	ChatModel           string
	ChatURL             string
	ChatAPIKey          string
	OpenRouterAPIKey    string
	CustomChatURL       string
	Temperature         float64
	MaxTokens           int
	TopK                int
	ContextCap          int
	ChunkTarget         int
	ChunkMax            int
	ChunkOverlap        int
	APIKey              string
	AutoSyncInterval    int
	EnableThinking      bool
	EnableRAG           bool
	SystemPrompt        string
	UserFirstName       string
	UserLastName        string
	UserUsername        string
	DebugLogs           bool
	NoiseFilterKeywords string
}

// UserName joins the configured first/last name, falling back to username.
func (s Snapshot) UserName() string {
	name := strings.TrimSpace(strings.TrimSpace(s.UserFirstName) + " " + strings.TrimSpace(s.UserLastName))
	if name == "" {
		name = strings.TrimSpace(s.UserUsername)
	}
	if name == "" {
		name = "the user"
	}
	return name
}

// NoiseKeywords parses the comma-separated noise filter into lowered terms.
func (s Snapshot) NoiseKeywords() []string {
	if strings.TrimSpace(s.NoiseFilterKeywords) == "" {
		return nil
	}
	parts := strings.Split(s.NoiseFilterKeywords, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Store is the typed settings layer over the config table. Reads are served
// from an in-memory copy loaded at startup and refreshed on every write.
type Store struct {
	db       *gorm.DB
	provider repos.ProviderRepo
	log      *logger.Logger

	mu     sync.RWMutex
	values map[string]string

	changeMu sync.Mutex
	onChange []func(keys []string)
}

func NewStore(db *gorm.DB, providerRepo repos.ProviderRepo, log *logger.Logger) (*Store, error) {
	s := &Store{
		db:       db,
		provider: providerRepo,
		log:      log.With("service", "SettingsStore"),
		values:   map[string]string{},
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the whole config table into memory.
func (s *Store) Load() error {
	var rows []models.ConfigEntry
	if err := s.db.Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load config table: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string, len(rows))
	for _, row := range rows {
		s.values[row.Key] = row.Value
	}
	return nil
}

// OnChange registers a callback invoked with the keys of every committed
// update. Used to invalidate cached API clients.
func (s *Store) OnChange(fn func(keys []string)) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Store) get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Store) str(key string) string {
	if v, ok := s.get(key); ok {
		return v
	}
	return defaultStrings[key]
}

func (s *Store) intVal(key string) int {
	raw, ok := s.get(key)
	if ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return n
		}
	}
	return defaultInts[key]
}

func (s *Store) floatVal(key string) float64 {
	raw, ok := s.get(key)
	if ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return f
		}
	}
	return defaultFloats[key]
}

func (s *Store) boolVal(key string) bool {
	raw, ok := s.get(key)
	if ok {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultBools[key]
}

// Snapshot returns an immutable copy of every setting.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		TelegramAPIID:       s.str(KeyTelegramAPIID),
		TelegramAPIHash:     s.str(KeyTelegramAPIHash),
		TelegramFetchBatch:  s.intVal(KeyTelegramFetchBatch),
		TelegramFetchWait:   s.intVal(KeyTelegramFetchWait),
		OllamaURL:           s.str(KeyOllamaURL),
		EmbeddingModel:      s.str(KeyEmbeddingModel),
		ChatProvider:        s.str(KeyChatProvider),
		ChatModel:           s.str(KeyChatModel),
		ChatURL:             s.str(KeyChatURL),
		ChatAPIKey:          s.str(KeyChatAPIKey),
		OpenRouterAPIKey:    s.str(KeyOpenRouterAPIKey),
		CustomChatURL:       s.str(KeyCustomChatURL),
		Temperature:         s.floatVal(KeyTemperature),
		MaxTokens:           s.intVal(KeyMaxTokens),
		TopK:                s.intVal(KeyTopK),
		ContextCap:          s.intVal(KeyContextCap),
		ChunkTarget:         s.intVal(KeyChunkTarget),
		ChunkMax:            s.intVal(KeyChunkMax),
		ChunkOverlap:        s.intVal(KeyChunkOverlap),
		APIKey:              s.str(KeyAPIKey),
		AutoSyncInterval:    s.intVal(KeyAutoSyncInterval),
		EnableThinking:      s.boolVal(KeyEnableThinking),
		EnableRAG:           s.boolVal(KeyEnableRAG),
		SystemPrompt:        s.str(KeySystemPrompt),
		UserFirstName:       s.str(KeyUserFirstName),
		UserLastName:        s.str(KeyUserLastName),
		UserUsername:        s.str(KeyUserUsername),
		DebugLogs:           s.boolVal(KeyDebugLogs),
		NoiseFilterKeywords: s.str(KeyNoiseFilterKeywords),
	}
}

// Masked returns every setting as strings with sensitive fields replaced by
// the mask sentinel (empty values stay empty so the UI shows them unset).
func (s *Store) Masked() map[string]interface{} {
	snap := s.Snapshot()
	out := map[string]interface{}{
		KeyTelegramAPIID:       snap.TelegramAPIID,
		KeyTelegramAPIHash:     snap.TelegramAPIHash,
		KeyTelegramFetchBatch:  snap.TelegramFetchBatch,
		KeyTelegramFetchWait:   snap.TelegramFetchWait,
		KeyOllamaURL:           snap.OllamaURL,
		KeyEmbeddingModel:      snap.EmbeddingModel,
		KeyChatProvider:        snap.ChatProvider,
		KeyChatModel:           snap.ChatModel,
		KeyChatURL:             snap.ChatURL,
		KeyChatAPIKey:          snap.ChatAPIKey,
		KeyOpenRouterAPIKey:    snap.OpenRouterAPIKey,
		KeyCustomChatURL:       snap.CustomChatURL,
		KeyTemperature:         snap.Temperature,
		KeyMaxTokens:           snap.MaxTokens,
		KeyTopK:                snap.TopK,
		KeyContextCap:          snap.ContextCap,
		KeyChunkTarget:         snap.ChunkTarget,
		KeyChunkMax:            snap.ChunkMax,
		KeyChunkOverlap:        snap.ChunkOverlap,
		KeyAPIKey:              snap.APIKey,
		KeyAutoSyncInterval:    snap.AutoSyncInterval,
		KeyEnableThinking:      snap.EnableThinking,
		KeyEnableRAG:           snap.EnableRAG,
		KeySystemPrompt:        snap.SystemPrompt,
		KeyUserFirstName:       snap.UserFirstName,
		KeyUserLastName:        snap.UserLastName,
		KeyUserUsername:        snap.UserUsername,
		KeyDebugLogs:           snap.DebugLogs,
		KeyNoiseFilterKeywords: snap.NoiseFilterKeywords,
	}
	for key := range sensitiveKeys {
		if v, ok := out[key].(string); ok && v != "" {
			out[key] = MaskSentinel
		}
	}
	return out
}

// MaskValue masks a single value if non-empty.
func MaskValue(v string) string {
	if v == "" {
		return ""
	}
	return MaskSentinel
}

// IsSensitive reports whether a settings key is masked on read.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[key]
	return ok
}

// Update persists a set of key/value updates. Empty strings and mask
// sentinels on sensitive keys are dropped. Changing chat_provider pulls that
// provider's stored profile into the chat settings; changing chat
// url/key/model writes back to the active provider's profile.
func (s *Store) Update(dbc dbctx.Context, updates map[string]string) error {
	filtered := make(map[string]string, len(updates))
	for key, value := range updates {
		if _, known := knownKeys[key]; !known {
			s.log.Warn("Ignoring unknown settings key", "key", key)
			continue
		}
		if value == "" {
			continue
		}
		if IsSensitive(key) && value == MaskSentinel {
			continue
		}
		filtered[key] = value
	}
	if len(filtered) == 0 {
		return nil
	}

	// Provider switch: load the target profile before applying so explicit
	// values in the same update still win.
	if newProvider, ok := filtered[KeyChatProvider]; ok && newProvider != s.str(KeyChatProvider) {
		profile, err := s.provider.Get(dbc, newProvider)
		if err != nil {
			return fmt.Errorf("failed to load provider profile %s: %w", newProvider, err)
		}
		if profile != nil {
			if _, set := filtered[KeyChatURL]; !set && profile.BaseURL != "" {
				filtered[KeyChatURL] = profile.BaseURL
			}
			if _, set := filtered[KeyChatAPIKey]; !set && profile.APIKey != "" {
				filtered[KeyChatAPIKey] = profile.APIKey
			}
			if _, set := filtered[KeyChatModel]; !set && profile.LastModel != "" {
				filtered[KeyChatModel] = profile.LastModel
			}
		}
	}

	now := time.Now().Unix()
	rows := make([]models.ConfigEntry, 0, len(filtered))
	for key, value := range filtered {
		rows = append(rows, models.ConfigEntry{Key: key, Value: value, UpdatedAt: now})
	}
	txx := dbc.Tx
	if txx == nil {
		txx = s.db
	}
	if err := txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	s.mu.Lock()
	for key, value := range filtered {
		s.values[key] = value
	}
	s.mu.Unlock()

	// Write chat config back onto the active provider profile so switching
	// away and back restores it.
	activeProvider := s.str(KeyChatProvider)
	if activeProvider != "" {
		_, urlChanged := filtered[KeyChatURL]
		_, keyChanged := filtered[KeyChatAPIKey]
		_, modelChanged := filtered[KeyChatModel]
		if urlChanged || keyChanged || modelChanged {
			if err := s.provider.SaveProfile(dbc, activeProvider,
				filtered[KeyChatURL], filtered[KeyChatAPIKey], filtered[KeyChatModel]); err != nil {
				s.log.Warn("Failed to persist provider profile", "provider", activeProvider, "error", err)
			}
		}
	}

	keys := make([]string, 0, len(filtered))
	for key := range filtered {
		keys = append(keys, key)
	}
	s.changeMu.Lock()
	callbacks := append([]func(keys []string){}, s.onChange...)
	s.changeMu.Unlock()
	for _, fn := range callbacks {
		fn(keys)
	}
	return nil
}

