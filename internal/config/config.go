package config

import (
	"fmt"
	"path/filepath"
)

type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Memory   MemoryConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type DatabaseConfig struct {
	Path string
}

type StorageConfig struct {
	DataDir string
}

type MemoryConfig struct {
	MaxHistory int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.1-8b-instant",
		},
		Database: DatabaseConfig{
			Path: "", // resolved to <data dir>/data.db after overrides
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Memory: MemoryConfig{
			MaxHistory: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/askdb/config.json and from environment variables.
// Environment variables (ASKDB_*) override file values.
//
// Secrets are never written to the config file; the LLM API key must be
// supplied through ASKDB_LLM_API_KEY.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: LLM API key. " +
			"Set it via environment variable ASKDB_LLM_API_KEY")
	}

	if cfg.Memory.MaxHistory <= 0 {
		cfg.Memory.MaxHistory = 10
	}

	// An empty sqlite path would open a private temporary database.
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.Storage.DataDir, "data.db")
	}

	return cfg, nil
}
