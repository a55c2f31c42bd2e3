package app

import (
	"path/filepath"

	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/utils"
)

type Config struct {
	Port      string
	DataDir   string
	ImportDir string
	BridgeURL string
}

func LoadConfig(log *logger.Logger) Config {
	dataDir := utils.GetEnv("LIFEQUERY_DATA_DIR", "./data", log)
	return Config{
		Port:      utils.GetEnv("PORT", "8000", log),
		DataDir:   dataDir,
		ImportDir: utils.GetEnv("LIFEQUERY_IMPORT_DIR", filepath.Join(dataDir, "imports"), log),
		BridgeURL: utils.GetEnv("TELEGRAM_BRIDGE_URL", "", log),
	}
}
