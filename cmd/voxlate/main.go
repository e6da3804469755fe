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

	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/session"
	"github.com/voxlate/voxlate/internal/storage/sqlite"
	"github.com/voxlate/voxlate/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: "console", // Always use console format for better readability
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Voxlate",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Ensure the database directory exists
	dbDir := filepath.Dir(cfg.Storage.SQLitePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dbDir))
		os.Exit(1)
	}

	// Create transcription history storage
	history, err := sqlite.NewHistoryStorage(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create history storage", logger.Error(err))
		os.Exit(1)
	}
	defer history.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Create the session orchestrator. Credentials come from the
	// environment when not set in the config file; no semantic recognizer
	// is wired here, so the amplitude strategy is used.
	orchestrator, err := session.New(session.Options{
		Config:      cfg,
		History:     history,
		Credentials: envCredentials{},
		Logger:      log,
	})
	if err != nil {
		log.Error("Failed to create session orchestrator", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := orchestrator.Connect(ctx); err != nil {
		cancel()
		log.Error("Failed to connect session", logger.Error(err))
		os.Exit(1)
	}
	cancel()

	if err := orchestrator.StartCapture(); err != nil {
		log.Error("Failed to start capture", logger.Error(err))
		orchestrator.Disconnect()
		os.Exit(1)
	}

	log.Info("Listening; press Ctrl+C to stop",
		logger.String("target_language", cfg.Session.TargetLanguage),
		logger.String("mode", cfg.Session.Mode),
	)

	// Mirror live translation updates to stdout until interrupted.
	printStop := make(chan struct{})
	go printLive(orchestrator, printStop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	close(printStop)

	log.Info("Stopping capture")
	if err := orchestrator.StopCapture(); err != nil {
		log.Error("Failed to stop capture", logger.Error(err))
	}

	// Wait for the finalize protocol to settle: either the terminal
	// response arrives or the safety-net timeout fires.
	waitFinalize(orchestrator, time.Duration(cfg.Session.FinalizeTimeoutS+2)*time.Second)

	if err := orchestrator.Disconnect(); err != nil {
		log.Error("Failed to disconnect", logger.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown error", logger.Error(err))
	}

	snap := orchestrator.Snapshot()
	log.Info("Session ended",
		logger.Int("input_tokens", snap.Usage.InputTokens),
		logger.Int("output_tokens", snap.Usage.OutputTokens),
		logger.Int("total_tokens", snap.Usage.TotalTokens),
	)
}

// printLive polls the session snapshot and prints translation changes.
func printLive(orchestrator *session.Orchestrator, stop <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := orchestrator.Snapshot()
			if snap.Translation != "" && snap.Translation != last {
				fmt.Printf("\n> %s\n", snap.Translation)
				last = snap.Translation
			}
		}
	}
}

// waitFinalize blocks until the finalize protocol completes or the given
// deadline passes.
func waitFinalize(orchestrator *session.Orchestrator, deadline time.Duration) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return
		case <-ticker.C:
			if !orchestrator.Snapshot().Finalizing {
				return
			}
		}
	}
}

// envCredentials reads the API key from the environment.
type envCredentials struct{}

func (envCredentials) APIKey() (string, error) {
	return os.Getenv("OPENAI_API_KEY"), nil
}
