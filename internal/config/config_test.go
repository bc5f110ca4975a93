package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every MEMOCHAT_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key := strings.SplitN(kv, "=", 2)[0]
		if strings.HasPrefix(key, "MEMOCHAT_") {
			t.Setenv(key, "")
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "sqlite", cfg.Storage.StorageEngine)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.OllamaURL)
	assert.Equal(t, "llama3.2", cfg.LLM.Model)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.InDelta(t, 0.9, cfg.LLM.TopP, 1e-9)
	assert.Equal(t, 5, cfg.Chat.HistoryWindow)
	assert.Equal(t, DefaultPersona, cfg.Chat.Persona)
	assert.Equal(t, "development", cfg.Log.Mode)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMOCHAT_PORT", "8080")
	t.Setenv("MEMOCHAT_OLLAMA_MODEL", "mistral")
	t.Setenv("MEMOCHAT_TEMPERATURE", "0.2")
	t.Setenv("MEMOCHAT_OLLAMA_TIMEOUT", "30s")
	t.Setenv("MEMOCHAT_STORAGE_ENGINE", "POSTGRES")
	t.Setenv("MEMOCHAT_POSTGRES_DSN", "postgres://localhost/memochat")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "postgres", cfg.Storage.StorageEngine)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMOCHAT_PORT", "not-a-number")
	t.Setenv("MEMOCHAT_TOP_P", "abc")
	t.Setenv("MEMOCHAT_OLLAMA_TIMEOUT", "forever")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.InDelta(t, 0.9, cfg.LLM.TopP, 1e-9)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
}

func TestLoadConfigFile_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "memochat.yaml")
	content := `
server:
  port: 9000
llm:
  model: phi3:mini
  timeout: 45s
chat:
  history_window: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("MEMOCHAT_PORT", "9100")

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "phi3:mini", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.Chat.HistoryWindow)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset keys keep defaults")
}

func TestLoadConfigFile_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	_, err = LoadConfigFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.StorageEngine = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Storage.StorageEngine = "postgres"
	assert.Error(t, cfg.Validate(), "postgres without DSN")

	cfg = defaultConfig()
	cfg.Chat.HistoryWindow = 0
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.LLM.Model = ""
	assert.Error(t, cfg.Validate())
}

func TestAddr(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "127.0.0.1:3001", cfg.Addr())
}

func TestLoadConfig_AllowedOrigins(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMOCHAT_ALLOWED_ORIGINS", "localhost:5173, ,example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:5173", "example.com"}, cfg.Server.AllowedOrigins)
}
