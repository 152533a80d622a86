// Package main is the entry point for the PrismFlow Exporter.
//
// PrismFlow Exporter - Nutanix Prism Metrics for Prometheus
// Copyright (c) 2024-2026 PrismFlow. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/prismflow/nutanix-exporter/internal/config"
	"github.com/prismflow/nutanix-exporter/internal/exporter"
	"github.com/prismflow/nutanix-exporter/internal/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nutanix-exporter",
		Short: "PrismFlow Exporter - Nutanix Prism metrics for Prometheus",
		Long: fmt.Sprintf(`%s
PrismFlow Exporter polls Nutanix Prism Central and Prism Element v2.0
APIs in the background and serves the results as Prometheus metrics.

Features:
  • Background polling with per-target snapshot caching
  • VM, host, cluster, storage container, and alert metrics
  • Stale snapshots keep serving while a target is unreachable
  • Filtered scrapes via /metrics?target= and /metrics?vm=
  • Optional OTLP forwarding to an OpenTelemetry collector
  • Graceful shutdown with signal handling

Usage:
  nutanix-exporter [flags]            Start the exporter (default behavior)
  nutanix-exporter start [flags]      Start the exporter
  nutanix-exporter version [flags]    Print version information
  nutanix-exporter config <command>   Configuration management

  `, version.Banner()),
		// Run the exporter by default when no subcommand is provided
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExporter()
		},
	}

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// startCmd returns the start command
func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the PrismFlow exporter",
		Long:  `Start the PrismFlow exporter and begin polling the configured Prism targets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExporter()
		},
	}
}

// versionCmd returns the version command
func versionCmd() *cobra.Command {
	var jsonOutput bool
	var shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and license information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				out, err := json.Marshal(version.Get())
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			} else if shortOutput {
				fmt.Println(version.OneLiner())
			} else {
				fmt.Println(version.String())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVarP(&shortOutput, "short", "s", false, "output short version")
	return cmd
}

// configCmd returns the config command
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	// config validate subcommand
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			cfg, err := loader.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			usable := 0
			for _, t := range cfg.EnabledTargets() {
				if err := cfg.ValidateTarget(t); err != nil {
					fmt.Printf("Warning: target excluded: %v\n", err)
					continue
				}
				usable++
			}

			fmt.Printf("Configuration is valid\n")
			if file := loader.ConfigFileUsed(); file != "" {
				fmt.Printf("  Config file:   %s\n", file)
			}
			fmt.Printf("  Listen:        %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Targets:       %d configured, %d usable\n", len(cfg.Targets), usable)
			fmt.Printf("  Poll interval: %s\n", cfg.Poll.Interval)
			fmt.Printf("  Forwarding:    %v\n", cfg.Forward.Enabled)
			return nil
		},
	}

	// config show subcommand
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			cfg, err := loader.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return printConfig(cfg, loader.ConfigFileUsed())
		},
	}

	cmd.AddCommand(validateCmd, showCmd)
	return cmd
}

// runExporter loads the configuration and runs the exporter until a
// shutdown signal arrives.
func runExporter() error {
	loader := config.NewLoader()
	cfg, err := loader.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override log settings from flags
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Print startup banner
	fmt.Print(version.Banner())

	logger.Info("Starting PrismFlow Exporter",
		zap.String("product", version.ProductName),
		zap.String("version", version.Short()),
		zap.String("listen_address", cfg.Server.ListenAddress),
		zap.Int("targets", len(cfg.EnabledTargets())),
		zap.String("config_file", loader.ConfigFileUsed()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exp, err := exporter.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create exporter: %w", err)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errChan := make(chan error, 1)
	go func() {
		errChan <- exp.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		if err := <-errChan; err != nil && err != context.Canceled {
			logger.Error("Exporter error during shutdown", zap.Error(err))
		}
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error("Exporter error", zap.Error(err))
			return err
		}
	}

	logger.Info("PrismFlow Exporter stopped")
	return nil
}

// initLogger initializes the logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		zapCfg.OutputPaths = []string{cfg.File}
		zapCfg.ErrorOutputPaths = []string{cfg.File}
	}

	return zapCfg.Build()
}

// printConfig renders the effective configuration as YAML. Durations are
// stringified and credentials are masked before rendering.
func printConfig(cfg *config.Config, file string) error {
	fmt.Println("PrismFlow Exporter Configuration")
	fmt.Println("================================")
	if file != "" {
		fmt.Printf("# config file: %s\n", file)
	}

	targets := make([]map[string]interface{}, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		target := map[string]interface{}{
			"name":    t.Name,
			"url":     t.URL,
			"enabled": t.IsEnabled(),
		}
		if t.Username != "" {
			target["username"] = t.Username
		}
		if t.Password != "" {
			target["password"] = redacted
		}
		if t.PollInterval != 0 {
			target["poll_interval"] = t.PollInterval.String()
		}
		if len(t.Labels) > 0 {
			target["labels"] = t.Labels
		}
		targets = append(targets, target)
	}

	view := map[string]interface{}{
		"server": map[string]interface{}{
			"listen_address":   cfg.Server.ListenAddress,
			"metrics_path":     cfg.Server.MetricsPath,
			"read_timeout":     cfg.Server.ReadTimeout.String(),
			"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
		},
		"prism": map[string]interface{}{
			"timeout":         cfg.Prism.Timeout.String(),
			"page_size":       cfg.Prism.PageSize,
			"max_pages":       cfg.Prism.MaxPages,
			"tls_skip_verify": cfg.Prism.TLSSkipVerify,
			"username":        cfg.Prism.Username,
			"password":        maskSecret(cfg.Prism.Password),
			"retry": map[string]interface{}{
				"max_attempts":    cfg.Prism.Retry.MaxAttempts,
				"initial_backoff": cfg.Prism.Retry.InitialBackoff.String(),
				"max_backoff":     cfg.Prism.Retry.MaxBackoff.String(),
			},
		},
		"poll": map[string]interface{}{
			"interval":           cfg.Poll.Interval.String(),
			"degraded_threshold": cfg.Poll.DegradedThreshold,
		},
		"targets": targets,
		"forward": map[string]interface{}{
			"enabled":     cfg.Forward.Enabled,
			"endpoint":    cfg.Forward.Endpoint,
			"protocol":    cfg.Forward.Protocol,
			"interval":    cfg.Forward.Interval.String(),
			"timeout":     cfg.Forward.Timeout.String(),
			"compression": cfg.Forward.Compression,
			"tls": map[string]interface{}{
				"enabled":     cfg.Forward.TLS.Enabled,
				"skip_verify": cfg.Forward.TLS.SkipVerify,
			},
			"headers": maskHeaders(cfg.Forward.Headers),
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"file":   cfg.Logging.File,
		},
	}

	out, err := yaml.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

const redacted = "[REDACTED]"

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

// maskHeaders hides header values; OTLP headers usually carry auth tokens.
func maskHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	masked := make(map[string]string, len(headers))
	for k := range headers {
		masked[k] = redacted
	}
	return masked
}
