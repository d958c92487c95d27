// Package main implements the entry point for the dcsd daemon: it loads
// the configured module plugins, assembles a control system and serves
// Prometheus metrics until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/config"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/metric"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/system"
)

const (
	// Version is the build version
	Version = "0.1.0"
	appName = "dcsd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()
	if flags.showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfiguration(flags)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	if flags.validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting dcsd",
		"version", Version,
		"config_path", flags.configPath,
		"plugins", len(cfg.Plugins))

	cs, err := system.New(cfg, system.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("assemble control system: %w", err)
	}
	defer func() {
		if cerr := cs.Close(); cerr != nil {
			slog.Error("Close failed", "error", cerr)
		}
	}()

	cs.SetErrorCallback(func(name, description string) {
		slog.Error("Runtime failure", "source", name, "description", description)
	})

	for _, path := range cfg.Plugins {
		mod, lerr := cs.LoadModule(path)
		if lerr != nil {
			return fmt.Errorf("load plugin %s: %w", path, lerr)
		}
		slog.Info("Plugin loaded", "module", mod.Name(), "version", mod.Version(), "path", path)
	}

	var metricsServer *metric.Server
	if cfg.EnableMetrics && cfg.MetricsAddr != "" {
		metricsServer = metric.NewServer(cfg.MetricsAddr, "/metrics", cs.MetricsRegistry(), logger)
		if serr := metricsServer.Start(); serr != nil {
			return fmt.Errorf("start metrics server: %w", serr)
		}
	}

	if serr := cs.Start(); serr != nil {
		return fmt.Errorf("start control system: %w", serr)
	}
	slog.Info("dcsd started")

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if serr := metricsServer.Stop(shutdownCtx); serr != nil {
			slog.Error("Metrics server shutdown failed", "error", serr)
		}
	}
	if serr := cs.Stop(); serr != nil {
		return fmt.Errorf("stop control system: %w", serr)
	}
	slog.Info("dcsd stopped")
	return nil
}

func loadConfiguration(flags *cliFlags) (config.Config, error) {
	if flags.configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	if flags.natsURL != "" {
		cfg.NATSURL = flags.natsURL
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, nil
}

func setupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
