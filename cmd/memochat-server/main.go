package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/scrypster/memochat/internal/config"
	"github.com/scrypster/memochat/internal/llm"
	"github.com/scrypster/memochat/internal/logger"
	"github.com/scrypster/memochat/internal/server"
	"github.com/scrypster/memochat/internal/storage"
	"github.com/scrypster/memochat/internal/storage/postgres"
	"github.com/scrypster/memochat/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (environment variables still override it)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", "engine", cfg.Storage.StorageEngine, "error", err)
	}
	defer store.Close()

	backend := newBackend(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := server.Start(ctx, cfg, store, backend, log)
	if err != nil {
		log.Fatal("failed to start server", "error", err)
	}
	log.Info("memochat relay running", "url", "http://"+addr, "model", cfg.LLM.Model, "engine", cfg.Storage.StorageEngine)

	if status := backend.CheckStatus(ctx); !status.Reachable {
		log.Warn("ollama is not reachable, chat will return 503 until it is", "url", cfg.LLM.OllamaURL, "detail", status.Detail)
	} else if !status.ModelAvailable {
		log.Warn("configured model is not installed, POST /ollama/pull to fetch it", "model", cfg.LLM.Model)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down gracefully")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// loadConfig reads the YAML file when given, otherwise the environment only.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadConfigFile(path)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured storage engine.
func openStore(cfg *config.Config, log *logger.Logger) (storage.Store, error) {
	if cfg.Storage.StorageEngine == "postgres" {
		store, err := postgres.NewMemoryStore(cfg.Storage.PostgresDSN, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := sqlite.NewMemoryStore(filepath.Join(cfg.Storage.DataPath, "memochat.db"), log)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// newBackend builds the Ollama client from cfg.LLM.
func newBackend(cfg *config.Config, log *logger.Logger) *llm.OllamaClient {
	defaults := llm.Options{
		Temperature: llm.Float(cfg.LLM.Temperature),
		TopP:        llm.Float(cfg.LLM.TopP),
	}
	if cfg.LLM.TopK > 0 {
		defaults.TopK = llm.Int(cfg.LLM.TopK)
	}
	if cfg.LLM.NumPredict > 0 {
		defaults.NumPredict = llm.Int(cfg.LLM.NumPredict)
	}

	return llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL:  cfg.LLM.OllamaURL,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.Timeout,
		Defaults: defaults,
		Logger:   log,
	})
}
