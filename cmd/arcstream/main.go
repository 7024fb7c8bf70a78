package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mindgrid/arcstream/internal/config"
	"github.com/mindgrid/arcstream/internal/gamehost"
	"github.com/mindgrid/arcstream/internal/provider"
	"github.com/mindgrid/arcstream/internal/storage"
	"github.com/mindgrid/arcstream/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "play":
		if err := runPlay(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("arcstream %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: arcstream <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve     Start the game host")
	fmt.Fprintln(os.Stderr, "  play      Run an agent session in a TUI")
	fmt.Fprintln(os.Stderr, "  version   Print version")
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Setup logger
	logLevel := slog.LevelInfo
	switch cfg.Service.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting arcstream", "version", version, "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open SQLite
	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cards := store.NewScorecardStore(db)

	// Pick the agent policy: the scripted solver unless an LLM provider
	// is configured.
	var policy gamehost.Policy = gamehost.ScriptedPolicy{}
	if cfg.LLM.Provider != "" {
		chatModel, err := provider.NewChatModel(ctx, cfg.LLM)
		if err != nil {
			return fmt.Errorf("create llm provider: %w", err)
		}
		policy = gamehost.NewLLMPolicy(chatModel, logger)
		logger.Info("llm policy enabled", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	}

	host := gamehost.NewHost(gamehost.Settings{
		GridSize:        cfg.Agent.GridSize,
		ActionBudget:    cfg.Agent.ActionBudget,
		DefaultMaxTurns: cfg.Agent.DefaultMaxTurns,
		TurnDelay:       cfg.Agent.TurnDelay,
	}, policy, cards, logger)

	srv := gamehost.NewServer(gamehost.ServerConfig{
		Listen:            cfg.API.Listen,
		Token:             cfg.API.Token,
		HeartbeatInterval: cfg.API.HeartbeatInterval,
	}, host, logger)

	// Signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}
