package settings

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/data/repos/provider"
	"github.com/lifequery/backend/internal/data/repos/testutil"
	"github.com/lifequery/backend/internal/pkg/dbctx"
)

func newStore(t *testing.T) (*Store, *gorm.DB, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	store, err := NewStore(db, provider.NewProviderRepo(db, log), log)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store, db, dbctx.Context{Ctx: context.Background()}
}

func TestSnapshot_Defaults(t *testing.T) {
	store, _, _ := newStore(t)
	snap := store.Snapshot()

	if snap.OllamaURL != "http://localhost:11434" {
		t.Fatalf("unexpected default ollama url: %q", snap.OllamaURL)
	}
	if snap.EmbeddingModel != "qwen3-Embedding-0.6B:Q8_0" {
		t.Fatalf("unexpected default embedding model: %q", snap.EmbeddingModel)
	}
	if snap.ChatModel != "qwen3:8b" || snap.ChatProvider != "ollama" {
		t.Fatalf("unexpected chat defaults: %q / %q", snap.ChatModel, snap.ChatProvider)
	}
	if snap.Temperature != 0.2 || snap.TopK != 15 || snap.ContextCap != 10000 {
		t.Fatalf("unexpected retrieval defaults: %+v", snap)
	}
	if snap.ChunkTarget != 1000 || snap.ChunkMax != 1500 || snap.ChunkOverlap != 250 {
		t.Fatalf("unexpected chunk defaults: %+v", snap)
	}
	if snap.AutoSyncInterval != 30 || snap.TelegramFetchBatch != 2000 || snap.TelegramFetchWait != 5 {
		t.Fatalf("unexpected sync defaults: %+v", snap)
	}
	if !snap.EnableRAG || snap.EnableThinking {
		t.Fatalf("unexpected toggles: rag=%v thinking=%v", snap.EnableRAG, snap.EnableThinking)
	}
}

func TestUpdate_RoundTrip(t *testing.T) {
	store, _, dbc := newStore(t)
	err := store.Update(dbc, map[string]string{
		KeyTopK:        "25",
		KeyTemperature: "0.7",
		KeyEnableRAG:   "false",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	snap := store.Snapshot()
	if snap.TopK != 25 || snap.Temperature != 0.7 || snap.EnableRAG {
		t.Fatalf("updates not applied: %+v", snap)
	}

	// A fresh store over the same DB sees the persisted values.
	store2, err := NewStore(store.db, store.provider, store.log)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if store2.Snapshot().TopK != 25 {
		t.Fatalf("updates not persisted")
	}
}

func TestUpdate_DropsUnknownAndEmpty(t *testing.T) {
	store, _, dbc := newStore(t)
	err := store.Update(dbc, map[string]string{
		"not_a_real_key": "x",
		KeyTopK:          "",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if store.Snapshot().TopK != 15 {
		t.Fatalf("empty value should not override the default")
	}
	if v, ok := store.get("not_a_real_key"); ok {
		t.Fatalf("unknown key was stored: %q", v)
	}
}

func TestUpdate_MaskSentinelKeepsStoredSecret(t *testing.T) {
	store, _, dbc := newStore(t)
	if err := store.Update(dbc, map[string]string{KeyChatAPIKey: "sk-real-key"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	// The UI echoes the mask back on save; the stored key must survive.
	if err := store.Update(dbc, map[string]string{KeyChatAPIKey: MaskSentinel}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if store.Snapshot().ChatAPIKey != "sk-real-key" {
		t.Fatalf("mask sentinel overwrote the stored key: %q", store.Snapshot().ChatAPIKey)
	}
}

func TestMasked_HidesSensitiveValues(t *testing.T) {
	store, _, dbc := newStore(t)
	_ = store.Update(dbc, map[string]string{KeyChatAPIKey: "sk-real-key"})

	masked := store.Masked()
	if masked[KeyChatAPIKey] != MaskSentinel {
		t.Fatalf("expected masked api key, got %v", masked[KeyChatAPIKey])
	}
	// Unset secrets stay empty so the UI shows them as blank.
	if masked[KeyTelegramAPIHash] != "" {
		t.Fatalf("expected empty unset secret, got %v", masked[KeyTelegramAPIHash])
	}
	if masked[KeyOllamaURL] != "http://localhost:11434" {
		t.Fatalf("non-sensitive value must pass through, got %v", masked[KeyOllamaURL])
	}
}

func TestUpdate_ProviderSwitchPullsProfile(t *testing.T) {
	store, db, dbc := newStore(t)
	if err := db.Create(&models.Provider{
		ID:           "openrouter",
		Name:         "OpenRouter",
		ProviderType: "openai_compat",
		BaseURL:      "https://openrouter.ai/api/v1",
		APIKey:       "sk-or-stored",
		LastModel:    "qwen/qwen3-235b-a22b",
	}).Error; err != nil {
		t.Fatalf("seed provider failed: %v", err)
	}

	if err := store.Update(dbc, map[string]string{KeyChatProvider: "openrouter"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	snap := store.Snapshot()
	if snap.ChatURL != "https://openrouter.ai/api/v1" || snap.ChatAPIKey != "sk-or-stored" || snap.ChatModel != "qwen/qwen3-235b-a22b" {
		t.Fatalf("provider switch did not pull the profile: %+v", snap)
	}
}

func TestUpdate_WritesBackToActiveProfile(t *testing.T) {
	store, db, dbc := newStore(t)
	if err := db.Create(&models.Provider{
		ID: "ollama", Name: "Ollama", ProviderType: "ollama",
	}).Error; err != nil {
		t.Fatalf("seed provider failed: %v", err)
	}

	if err := store.Update(dbc, map[string]string{KeyChatModel: "llama3:70b"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	var row models.Provider
	if err := db.Where("id = ?", "ollama").First(&row).Error; err != nil {
		t.Fatalf("profile lookup failed: %v", err)
	}
	if row.LastModel != "llama3:70b" {
		t.Fatalf("chat model not written back to the profile: %q", row.LastModel)
	}
}

func TestOnChange_FiresWithUpdatedKeys(t *testing.T) {
	store, _, dbc := newStore(t)
	var got []string
	store.OnChange(func(keys []string) { got = keys })

	if err := store.Update(dbc, map[string]string{KeyTopK: "20"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(got) != 1 || got[0] != KeyTopK {
		t.Fatalf("unexpected change keys: %v", got)
	}
}

func TestUserNameAndNoiseKeywords(t *testing.T) {
	snap := Snapshot{UserFirstName: "Ada", UserLastName: "Lovelace"}
	if snap.UserName() != "Ada Lovelace" {
		t.Fatalf("unexpected name: %q", snap.UserName())
	}
	if (Snapshot{}).UserName() != "the user" {
		t.Fatalf("expected fallback name")
	}

	snap = Snapshot{NoiseFilterKeywords: "Verification Code, , OTP "}
	kws := snap.NoiseKeywords()
	if len(kws) != 2 || kws[0] != "verification code" || kws[1] != "otp" {
		t.Fatalf("unexpected noise keywords: %v", kws)
	}
}
