package config

import (
	"path/filepath"
	"strings"
	"testing"
)

// mapBackend is a test double for the Backend interface.
type mapBackend struct {
	data map[string]any
}

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (m mapBackend) SetString(key, val string) error  { m.data[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m mapBackend) Delete(key string) error          { delete(m.data, key); return nil }

// TestDefaults verifies default values survive loading an empty backend.
func TestDefaults(t *testing.T) {
	t.Setenv("ASKDB_LLM_API_KEY", "test-key")

	cfg, err := loadWith(mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.LLM.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("LLM.BaseURL = %q, want groq base URL", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "llama-3.1-8b-instant" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "llama-3.1-8b-instant")
	}
	if cfg.Memory.MaxHistory != 10 {
		t.Errorf("Memory.MaxHistory = %d, want 10", cfg.Memory.MaxHistory)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

// TestBackendValues verifies backend values are applied over defaults.
func TestBackendValues(t *testing.T) {
	t.Setenv("ASKDB_LLM_API_KEY", "test-key")

	cfg, err := loadWith(mapBackend{data: map[string]any{
		"server.port":        5000,
		"llm.model":          "llama-3.3-70b-versatile",
		"memory.max_history": 25,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.LLM.Model != "llama-3.3-70b-versatile" {
		t.Errorf("LLM.Model = %q, want override", cfg.LLM.Model)
	}
	if cfg.Memory.MaxHistory != 25 {
		t.Errorf("Memory.MaxHistory = %d, want 25", cfg.Memory.MaxHistory)
	}
}

// TestEnvOverride verifies environment variables win over backend values.
func TestEnvOverride(t *testing.T) {
	t.Setenv("ASKDB_LLM_API_KEY", "env-key")
	t.Setenv("ASKDB_SERVER_PORT", "9999")

	cfg, err := loadWith(mapBackend{data: map[string]any{"server.port": 5000}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "env-key")
	}
}

// TestMissingAPIKey verifies loading fails without an LLM API key.
func TestMissingAPIKey(t *testing.T) {
	t.Setenv("ASKDB_LLM_API_KEY", "")

	_, err := loadWith(mapBackend{data: map[string]any{}})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
}

// TestDatabasePathDefault verifies an unset database path resolves to a file
// under the data dir rather than staying empty (an empty sqlite path would
// open a private temporary database).
func TestDatabasePathDefault(t *testing.T) {
	t.Setenv("ASKDB_LLM_API_KEY", "test-key")
	t.Setenv("ASKDB_STORAGE_DATA_DIR", "/tmp/askdb-test")

	cfg, err := loadWith(mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != filepath.Join("/tmp/askdb-test", "data.db") {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/askdb-test/data.db")
	}
}

// TestDatabasePathExplicit verifies an explicit database path is left alone.
func TestDatabasePathExplicit(t *testing.T) {
	t.Setenv("ASKDB_LLM_API_KEY", "test-key")
	t.Setenv("ASKDB_DATABASE_PATH", "/srv/school.db")

	cfg, err := loadWith(mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != "/srv/school.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/srv/school.db")
	}
}

// TestMaxHistoryFloor verifies a non-positive max history falls back to the default.
func TestMaxHistoryFloor(t *testing.T) {
	t.Setenv("ASKDB_LLM_API_KEY", "test-key")

	cfg, err := loadWith(mapBackend{data: map[string]any{"memory.max_history": -3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Memory.MaxHistory != 10 {
		t.Errorf("Memory.MaxHistory = %d, want 10", cfg.Memory.MaxHistory)
	}
}

// TestSetKeyUnknownListsValidKeys verifies the unknown-key error names the
// keys that would have been accepted.
func TestSetKeyUnknownListsValidKeys(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	err := SetKey("server.prot", "4200")
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	for _, want := range []string{"server.port", "llm.model", "database.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to list %q", err.Error(), want)
		}
	}
}

// TestShowAllExcludesSecrets verifies secrets never appear in config listings.
func TestShowAllExcludesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "should-not-appear"
	cfg.Server.APIToken = "also-hidden"

	for _, k := range ShowAll(cfg) {
		if k.Key == "llm.api_key" || k.Key == "server.api_token" {
			t.Errorf("secret key %q listed by ShowAll", k.Key)
		}
		if k.Value == "should-not-appear" || k.Value == "also-hidden" {
			t.Errorf("secret value leaked for key %q", k.Key)
		}
	}
}
