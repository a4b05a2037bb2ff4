// Command scheduler is the main entry point for one xlatesched instance.
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

	"github.com/urfave/cli/v3"

	"github.com/MrWong99/xlatesched/internal/observe"
	"github.com/MrWong99/xlatesched/internal/sched/app"
	"github.com/MrWong99/xlatesched/internal/sched/config"
)

func main() {
	cmd := &cli.Command{
		Name:  "scheduler",
		Usage: "runs one instance of the translation job scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.yaml", Usage: "path to the YAML configuration file"},
			&cli.StringFlag{Name: "instance-id", Usage: "override the instance_id from config/env"},
			&cli.StringFlag{Name: "redis-addr", Usage: "override the first Redis address from config/env"},
			&cli.StringFlag{Name: "log-level", Usage: "override log_level from config/env"},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found", cmd.String("config"))
		}
		return err
	}
	if v := cmd.String("instance-id"); v != "" {
		cfg.InstanceID = v
	}
	if v := cmd.String("redis-addr"); v != "" {
		cfg.Redis.Addrs = []string{v}
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if cfg.InstanceID == "" {
		return errors.New("instance_id is required (config, SCHED_INSTANCE_ID, or --instance-id)")
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("scheduler starting", "instance_id", cfg.InstanceID, "log_level", cfg.LogLevel)

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "xlatesched"})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(runCtx, &cfg)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}

	slog.Info("scheduler ready",
		"session_listen_addr", cfg.Server.SessionListenAddr,
		"node_listen_addr", cfg.Server.NodeListenAddr,
		"admin_listen_addr", cfg.Server.AdminListenAddr,
	)

	if err := application.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
