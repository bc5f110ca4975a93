// Package config provides configuration management for memochat.
// It loads settings from environment variables with the MEMOCHAT_ prefix,
// optionally layered over a YAML file, and provides sensible defaults for
// all configuration options.
//
// Precedence (highest first): environment variable, YAML file, default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPersona is the fixed system preamble placed at the top of every prompt.
const DefaultPersona = "You are a helpful, friendly assistant with a long-term memory. " +
	"Use the remembered facts and the recent conversation below when they are relevant, " +
	"and answer the user's latest message directly."

// Config holds all configuration settings for the memochat relay.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Chat    ChatConfig    `yaml:"chat"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`            // Server port (default: 3001)
	Host           string   `yaml:"host"`            // Server host (default: 127.0.0.1)
	AllowedOrigins []string `yaml:"allowed_origins"` // Extra WebSocket origin patterns (e.g. "localhost:5173")
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"engine"`       // Storage engine: sqlite or postgres (default: sqlite)
	DataPath      string `yaml:"data_path"`    // Directory for the sqlite database (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn"` // Connection string when engine is postgres
}

// LLMConfig contains inference backend configuration.
type LLMConfig struct {
	OllamaURL   string        `yaml:"ollama_url"`  // Ollama API URL (default: http://localhost:11434)
	Model       string        `yaml:"model"`       // Model used for chat completions (default: llama3.2)
	Timeout     time.Duration `yaml:"timeout"`     // Non-streaming request timeout (default: 120s)
	Temperature float64       `yaml:"temperature"` // Default sampling temperature (default: 0.7)
	TopP        float64       `yaml:"top_p"`       // Default nucleus sampling threshold (default: 0.9)
	TopK        int           `yaml:"top_k"`       // Default top-k (default: 40)
	NumPredict  int           `yaml:"num_predict"` // Max tokens to generate, 0 leaves the backend default
}

// ChatConfig contains prompt assembly settings.
type ChatConfig struct {
	HistoryWindow int    `yaml:"history_window"` // Recent exchanges injected into the prompt (default: 5)
	Persona       string `yaml:"persona"`        // System preamble (default: DefaultPersona)
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Mode string `yaml:"mode"` // development or production (default: development)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the MEMOCHAT_ prefix.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()
	applyEnv(cfg)
	return cfg, nil
}

// LoadConfigFile loads a YAML configuration file, then applies environment
// overrides on top of it. Keys missing from the file keep their defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: postgres storage engine requires MEMOCHAT_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine %q", c.Storage.StorageEngine)
	}

	if c.Chat.HistoryWindow < 1 {
		return fmt.Errorf("config: history window must be positive, got %d", c.Chat.HistoryWindow)
	}
	if c.LLM.Model == "" {
		return errors.New("config: model name is required")
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// defaultConfig returns a Config populated with built-in defaults only.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3001,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
		},
		LLM: LLMConfig{
			OllamaURL:   "http://localhost:11434",
			Model:       "llama3.2",
			Timeout:     120 * time.Second,
			Temperature: 0.7,
			TopP:        0.9,
			TopK:        40,
		},
		Chat: ChatConfig{
			HistoryWindow: 5,
			Persona:       DefaultPersona,
		},
		Log: LogConfig{
			Mode: "development",
		},
	}
}

// applyEnv overlays MEMOCHAT_ environment variables onto cfg. The value
// already in cfg acts as the fallback for each variable.
func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("MEMOCHAT_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("MEMOCHAT_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvList("MEMOCHAT_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Storage.StorageEngine = strings.ToLower(getEnv("MEMOCHAT_STORAGE_ENGINE", cfg.Storage.StorageEngine))
	cfg.Storage.DataPath = getEnv("MEMOCHAT_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("MEMOCHAT_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.LLM.OllamaURL = getEnv("MEMOCHAT_OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.Model = getEnv("MEMOCHAT_OLLAMA_MODEL", cfg.LLM.Model)
	cfg.LLM.Timeout = getEnvDuration("MEMOCHAT_OLLAMA_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.Temperature = getEnvFloat("MEMOCHAT_TEMPERATURE", cfg.LLM.Temperature)
	cfg.LLM.TopP = getEnvFloat("MEMOCHAT_TOP_P", cfg.LLM.TopP)
	cfg.LLM.TopK = getEnvInt("MEMOCHAT_TOP_K", cfg.LLM.TopK)
	cfg.LLM.NumPredict = getEnvInt("MEMOCHAT_NUM_PREDICT", cfg.LLM.NumPredict)

	cfg.Chat.HistoryWindow = getEnvInt("MEMOCHAT_HISTORY_WINDOW", cfg.Chat.HistoryWindow)
	cfg.Chat.Persona = getEnv("MEMOCHAT_PERSONA", cfg.Chat.Persona)

	cfg.Log.Mode = getEnv("MEMOCHAT_LOG_MODE", cfg.Log.Mode)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated environment variable as a list,
// dropping blank entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (e.g. "90s") or
// returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
