// Package main is the entrypoint for the Immich image describer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/immich-tools/describer/internal/config"
	"github.com/immich-tools/describer/internal/describe"
	"github.com/immich-tools/describer/internal/hostpool"
	"github.com/immich-tools/describer/internal/logging"
	"github.com/immich-tools/describer/internal/ollama"
	"github.com/immich-tools/describer/internal/orchestrator"
	"github.com/immich-tools/describer/internal/store"
)

type cliFlags struct {
	monitor  bool
	combined bool

	immichRoot     string
	postgresURL    string
	ollamaHosts    string
	ollamaJWTToken string
	modelName      string
	prompt         string
	ignoreExisting bool
	lang           string

	maxConcurrent       int
	unavailableDuration int
	timeout             int
	retryDelay          int
	queueWaitTimeout    int

	fileWriteTimeout  int
	fileCheckInterval int
	eventCooldown     int

	logFormat string
	logLevel  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "describer",
		Short: "Generate AI descriptions for Immich photos",
		Long: "describer scans an Immich library for preview images without a\n" +
			"description, sends them to one or more Ollama-compatible hosts and\n" +
			"writes the generated descriptions back to the Immich database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&flags.monitor, "monitor", false, "watch for new images instead of scanning the library")
	f.BoolVar(&flags.combined, "combined", false, "process existing images, then keep watching for new ones")
	f.StringVar(&flags.immichRoot, "immich-root", "", "root of the Immich library on disk")
	f.StringVar(&flags.postgresURL, "postgres-url", "", "Immich Postgres connection URL")
	f.StringVar(&flags.ollamaHosts, "ollama-hosts", "", "comma-separated Ollama-compatible host URLs")
	f.StringVar(&flags.ollamaJWTToken, "ollama-jwt-token", "", "bearer token sent with inference requests")
	f.StringVar(&flags.modelName, "model-name", "", "model name to request from the inference hosts")
	f.StringVar(&flags.prompt, "prompt", "", "prompt sent with each image")
	f.BoolVar(&flags.ignoreExisting, "ignore-existing", false, "regenerate descriptions that already exist")
	f.StringVar(&flags.lang, "lang", "", "interface language (en, ru)")
	f.IntVar(&flags.maxConcurrent, "max-concurrent", 0, "maximum concurrent inference requests")
	f.IntVar(&flags.unavailableDuration, "unavailable-duration", 0, "seconds a failed host sits out of rotation")
	f.IntVar(&flags.timeout, "timeout", 0, "inference request timeout in seconds")
	f.IntVar(&flags.retryDelay, "retry-delay", 0, "seconds before retrying a job that found no host")
	f.IntVar(&flags.queueWaitTimeout, "queue-wait-timeout", 0, "seconds a job may wait for a host before failing")
	f.IntVar(&flags.fileWriteTimeout, "file-write-timeout", 0, "seconds to wait for a new preview to stabilize")
	f.IntVar(&flags.fileCheckInterval, "file-check-interval", 0, "milliseconds between stability checks")
	f.IntVar(&flags.eventCooldown, "event-cooldown", 0, "seconds of event quiet before stability sampling")
	f.StringVar(&flags.logFormat, "log-format", "", "log output format (console, json)")
	f.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.MarkFlagsMutuallyExclusive("monitor", "combined")

	return cmd
}

func run(cmd *cobra.Command, flags *cliFlags) error {
	// A .env next to the binary is a convenience for manual runs; its
	// absence is not an error.
	_ = godotenv.Load()

	logFormat := flags.logFormat
	if logFormat == "" {
		logFormat = os.Getenv("LOG_FORMAT")
	}
	logLevel := flags.logLevel
	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	log := logging.New(logFormat, logLevel)
	slog.SetDefault(log)

	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Info("config loaded",
		"mode", cfg.Mode,
		"hosts", len(cfg.Ollama.Hosts),
		"model", cfg.Ollama.Model,
		"max_concurrent", cfg.Dispatch.MaxConcurrent,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	log.Info("database connected")

	st := store.NewPostgresStore(pool)
	hosts := hostpool.New(cfg.Ollama.Hosts, cfg.Ollama.UnavailableDuration, log)
	client := ollama.NewClient(cfg.Ollama.Model, cfg.Ollama.JWTToken, cfg.Ollama.Timeout)
	svc := describe.NewService(hosts, client, st, log)
	orch := orchestrator.New(cfg, st, svc, log, os.Stdout)

	switch cfg.Mode {
	case config.ModeMonitor:
		err = orch.RunMonitor(ctx)
	case config.ModeCombined:
		err = orch.RunCombined(ctx)
	default:
		err = orch.RunBatch(ctx)
	}
	if errors.Is(err, context.Canceled) {
		log.Info("shutdown requested, stopping")
		return nil
	}
	return err
}

// loadConfig reads the environment and applies any flags the user set
// on top, then re-validates the merged result.
func loadConfig(cmd *cobra.Command, flags *cliFlags) (*config.Config, error) {
	cfg := config.FromEnv()

	if flags.monitor {
		cfg.Mode = config.ModeMonitor
	}
	if flags.combined {
		cfg.Mode = config.ModeCombined
	}
	if flags.ignoreExisting {
		cfg.Library.IgnoreExisting = true
	}

	changed := cmd.Flags().Changed
	if changed("immich-root") {
		cfg.Library.Root = flags.immichRoot
	}
	if changed("postgres-url") {
		cfg.Database.URL = flags.postgresURL
	}
	if changed("ollama-hosts") {
		cfg.Ollama.Hosts = config.SplitHosts(flags.ollamaHosts)
	}
	if changed("ollama-jwt-token") {
		cfg.Ollama.JWTToken = flags.ollamaJWTToken
	}
	if changed("model-name") {
		cfg.Ollama.Model = flags.modelName
	}
	if changed("prompt") {
		cfg.Ollama.Prompt = flags.prompt
	}
	if changed("lang") {
		cfg.Lang = flags.lang
	}
	if changed("max-concurrent") {
		cfg.Dispatch.MaxConcurrent = flags.maxConcurrent
	}
	if changed("unavailable-duration") {
		cfg.Ollama.UnavailableDuration = time.Duration(flags.unavailableDuration) * time.Second
	}
	if changed("timeout") {
		cfg.Ollama.Timeout = time.Duration(flags.timeout) * time.Second
	}
	if changed("retry-delay") {
		cfg.Dispatch.RetryDelay = time.Duration(flags.retryDelay) * time.Second
	}
	if changed("queue-wait-timeout") {
		cfg.Dispatch.QueueWaitTimeout = time.Duration(flags.queueWaitTimeout) * time.Second
	}
	if changed("file-write-timeout") {
		cfg.Monitor.FileWriteTimeout = time.Duration(flags.fileWriteTimeout) * time.Second
	}
	if changed("file-check-interval") {
		cfg.Monitor.FileCheckInterval = time.Duration(flags.fileCheckInterval) * time.Millisecond
	}
	if changed("event-cooldown") {
		cfg.Monitor.EventCooldown = time.Duration(flags.eventCooldown) * time.Second
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
