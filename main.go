// ollamachat - a terminal chat client for a local Ollama server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ollamachat/internal/config"
	"ollamachat/internal/ollama"
	"ollamachat/internal/session"
	"ollamachat/internal/storage"
	"ollamachat/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		modelFlag   = flag.String("model", "", "model to chat with (overrides config)")
		configFlag  = flag.String("config", "", "path to config file")
		remoteFlag  = flag.Bool("remote", false, "use the chatd daemon for storage")
		versionFlag = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("ollamachat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*modelFlag, *configFlag, *remoteFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(modelFlag, configPath string, remote bool) error {
	if err := config.EnsureDir(); err != nil {
		return err
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if remote {
		cfg.Storage.Mode = config.StorageRemote
	}

	// Diagnostics go to a file: the terminal belongs to the TUI.
	logger, closeLog, err := openLogger()
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Printf("STARTUP | version=%s storage=%s", Version, cfg.Storage.Mode)

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:       cfg.Ollama.URL,
		Timeout:       time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
		StreamTimeout: time.Duration(cfg.Ollama.StreamTimeoutSecs) * time.Second,
		DefaultModel:  cfg.Ollama.Model,
		Logger:        logger,
	})

	store, images, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	modelName := chooseStartupModel(client, cfg, modelFlag, logger)

	sess := session.New(client, store, images, session.Options{
		Model:  modelName,
		Logger: logger,
	})

	// Config edits take effect on the next start; note them in the log
	// instead of reloading mid-session.
	if path := configFilePath(configPath); path != "" {
		watcher, werr := config.NewWatcher(path, func() {
			logger.Printf("CONFIG_CHANGED | restart to apply")
		})
		if werr == nil {
			if werr := watcher.Watch(); werr != nil {
				logger.Printf("CONFIG_WATCH_FAILED | err=%v", werr)
			}
			defer watcher.Close()
		}
	}

	p := tea.NewProgram(chat.New(sess, cfg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running ollamachat: %w", err)
	}
	return nil
}

// openStores picks the storage backend from config: an embedded SQLite
// database, or the chatd daemon over HTTP.
func openStores(cfg *config.Config, logger *log.Logger) (storage.Store, storage.ImageStore, error) {
	if cfg.Storage.Mode == config.StorageRemote {
		rest := storage.NewRESTStore(cfg.Storage.ChatdURL, 10*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rest.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("chatd at %s is unreachable: %w (is it running?)", cfg.Storage.ChatdURL, err)
		}
		logger.Printf("STORAGE_OPEN | mode=remote url=%s", cfg.Storage.ChatdURL)
		return rest, rest, nil
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening chat database: %w", err)
	}

	imageDir, err := cfg.ImageDir()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	images, err := storage.NewLocalImageStore(imageDir)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	logger.Printf("STORAGE_OPEN | mode=local db=%s", dbPath)
	return store, images, nil
}

// chooseStartupModel resolves the model for this run: CLI flag first,
// then the saved preference checked against what is installed.
func chooseStartupModel(client *ollama.Client, cfg *config.Config, modelFlag string, logger *log.Logger) string {
	if modelFlag != "" {
		return modelFlag
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	models, err := client.ListModels(ctx)
	if err != nil {
		logger.Printf("MODEL_LIST_FAILED | err=%v", err)
		return cfg.Ollama.Model
	}
	return ollama.ChooseModel(models, cfg.Ollama.Model, client.GetDefaultModel())
}

// openLogger opens the diagnostic log file in the data directory.
func openLogger() (*log.Logger, func(), error) {
	path, err := config.LogPath()
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := log.New(f, "", log.LstdFlags)
	return logger, func() { f.Close() }, nil
}

func configFilePath(override string) string {
	if override != "" {
		return override
	}
	path, err := config.Path()
	if err != nil {
		return ""
	}
	return path
}
