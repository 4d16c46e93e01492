// chatd - the ollamachat storage daemon.
//
// chatd serves the chat store over HTTP so several ollamachat clients
// can share one database. It listens on loopback by default.
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
	"os/signal"
	"syscall"
	"time"

	"ollamachat/internal/config"
	"ollamachat/internal/server"
	"ollamachat/internal/storage"
)

func main() {
	var (
		hostFlag   = flag.String("host", "", "bind address (default 127.0.0.1)")
		portFlag   = flag.Int("port", 0, "listen port (default 11555)")
		dbFlag     = flag.String("db", "", "database path (default ~/.ollamachat/chat.db)")
		configFlag = flag.String("config", "", "path to config file")
	)
	flag.Parse()

	if err := run(*hostFlag, *portFlag, *dbFlag, *configFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(host string, port int, dbPath, configPath string) error {
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

	// Flags override config.
	if host == "" {
		host = cfg.Server.Host
	}
	if port == 0 {
		port = cfg.Server.Port
	}
	if dbPath == "" {
		dbPath, err = cfg.DatabasePath()
		if err != nil {
			return err
		}
	}
	imageDir, err := cfg.ImageDir()
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening chat database: %w", err)
	}
	defer store.Close()

	srv, err := server.New(store, server.Config{
		Host:     host,
		Port:     port,
		ImageDir: imageDir,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Printf("SIGNAL_RECEIVED | sig=%s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
