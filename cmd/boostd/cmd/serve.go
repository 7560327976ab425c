package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/boostd/internal/api"
	"github.com/Dicklesworthstone/boostd/internal/config"
	"github.com/Dicklesworthstone/boostd/internal/coordinator"
	"github.com/Dicklesworthstone/boostd/internal/db"
	"github.com/Dicklesworthstone/boostd/internal/events"
	"github.com/Dicklesworthstone/boostd/internal/remote/sim"
	"github.com/Dicklesworthstone/boostd/internal/signals"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session daemon",
	Long: `Run the boostd daemon in the foreground.

The daemon serves the HTTP API on listen_addr, keeps at most one live
session per registered account and records session and activity history.

Signals:
  SIGINT, SIGTERM  stop every session and exit (bounded by shutdown_timeout)
  SIGHUP           re-read the config file and apply log.level
  SIGUSR1          log the current session table

Examples:
  boostd serve
  boostd serve --listen 127.0.0.1:7891 --verbose
  BOOSTD_REMOTE_CHALLENGE_CODE=12345 boostd serve`,
	RunE: runServe,
}

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "API listen address (overrides listen_addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configPath, nil)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = serveListen
	}

	logger, level := config.NewLogger(cfg.Log, os.Stderr)
	if verbose {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(logger)

	pidPath := cfg.PIDFile
	if pidPath == "" {
		pidPath = signals.DefaultPIDFilePath()
	}
	if err := signals.AcquirePIDFile(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := signals.RemovePIDFile(pidPath); err != nil {
			logger.Warn("remove pid file", "path", pidPath, "error", err)
		}
	}()

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = db.DefaultPath()
	}
	store, err := db.OpenAt(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Rows left over from a previous run that did not shut down cleanly.
	if n, err := store.ResetAccountStatuses(ctx); err != nil {
		logger.Warn("reset account statuses", "error", err)
	} else if n > 0 {
		logger.Info("reset stale account statuses", "accounts", n)
	}

	hub := events.NewHub(logger)
	coord := coordinator.New(coordinator.Config{
		LoginTimeout:   cfg.LoginTimeout,
		StatusInterval: cfg.StatusInterval,
		Dialer: sim.NewDialer(sim.Config{
			AuthDelay:     cfg.Remote.AuthDelay,
			ChallengeCode: cfg.Remote.ChallengeCode,
			ChallengeKind: coordinator.ChallengeKind(cfg.Remote.ChallengeKind),
			Logger:        logger,
		}),
		Store:    store,
		Notifier: events.Fanout{hub, events.LogNotifier{Logger: logger}},
		Logger:   logger,
	})
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	sig, err := signals.New()
	if err != nil {
		return fmt.Errorf("install signal handlers: %w", err)
	}
	defer sig.Close()

	applyLevel := func(c *config.Config) {
		if verbose {
			return
		}
		if l, err := config.ParseLevel(c.Log.Level); err == nil && l != level.Level() {
			level.Set(l)
			logger.Info("log level changed", "level", l.String())
		}
	}
	if loader.Watch(applyLevel) {
		logger.Debug("watching config file", "path", loader.Path())
	}

	server := api.NewServer(coord, store, hub, cfg.ListenAddr, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	_ = signals.AppendLogLine("", fmt.Sprintf("started pid=%d addr=%s run_id=%s", os.Getpid(), cfg.ListenAddr, coord.RunID()))
	fmt.Printf("boostd started\n")
	fmt.Printf("  API:      http://%s\n", cfg.ListenAddr)
	fmt.Printf("  Database: %s\n", dbPath)
	fmt.Printf("  Run ID:   %s\n", coord.RunID())
	fmt.Println("Press Ctrl+C to stop.")

	var serveErr error
loop:
	for {
		select {
		case s := <-sig.Shutdown():
			logger.Info("shutdown requested", "signal", s.String())
			break loop
		case err := <-errCh:
			if err != nil {
				serveErr = fmt.Errorf("API server error: %w", err)
			}
			break loop
		case <-ctx.Done():
			break loop
		case <-sig.Reload():
			c, err := loader.Load()
			if err != nil {
				logger.Warn("reload failed", "error", err)
				continue
			}
			applyLevel(c)
			logger.Info("config reloaded", "path", loader.Path())
		case <-sig.DumpStats():
			dumpSessions(logger, coord, hub)
		}
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown error", "error", err)
	}
	if err := coord.ShutdownAll(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Error("forced exit after shutdown timeout", "timeout", cfg.ShutdownTimeout)
		} else {
			logger.Warn("coordinator shutdown error", "error", err)
		}
	}

	_ = signals.AppendLogLine("", fmt.Sprintf("stopped pid=%d run_id=%s", os.Getpid(), coord.RunID()))
	fmt.Println("boostd stopped.")
	return serveErr
}

func dumpSessions(logger *slog.Logger, coord *coordinator.Coordinator, hub *events.Hub) {
	sessions := coord.ListActive()
	logger.Info("session dump",
		"sessions", len(sessions),
		"subscribers", hub.Subscribers(),
		"notifications_sent", hub.Sent())
	for _, s := range sessions {
		logger.Info("session",
			"account_id", s.AccountID,
			"session_id", s.SessionID,
			"state", s.State.String(),
			"activity", s.Activity,
			"uptime", s.Uptime.Round(time.Second).String())
	}
}
