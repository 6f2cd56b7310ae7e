// Package main is the entry point for the quotes service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/quotes-service/internal/config"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	bootstrap := initLogger(observability.LogConfig{Level: flags.logLevel, Format: flags.logFormat})
	cfg := loadAndValidateConfig(flags.configPath, bootstrap)

	logger := initLogger(effectiveLogConfig(flags, cfg))
	defer func() { _ = logger.Sync() }()

	app, err := newApplication(cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize application", observability.Error(err))
		return
	}

	run(context.Background(), app, logger)
}

// parseFlags parses command line flags. Environment variables supply the
// defaults.
func parseFlags(fs *flag.FlagSet, args []string) (cliFlags, error) {
	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("QUOTES_CONFIG_PATH", "configs/quotes-service.yaml"),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("QUOTES_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the config file")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("QUOTES_LOG_FORMAT", ""),
		"Log format (json, console); overrides the config file")
	fs.BoolVar(&f.showVersion, "version", getEnvBool("QUOTES_SHOW_VERSION", false), "Show version information")
	err := fs.Parse(args)
	return f, err
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "quotes-service version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger and installs it globally.
func initLogger(cfg observability.LogConfig) observability.Logger {
	logger, err := observability.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// effectiveLogConfig merges the flags over the config file's logging section.
func effectiveLogConfig(flags cliFlags, cfg *config.ServiceConfig) observability.LogConfig {
	logCfg := observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	}
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}
	return logCfg
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.ServiceConfig {
	logger.Info("starting quotes-service",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil
	}

	logger.Info("configuration loaded",
		observability.String("service", cfg.Service.Name),
		observability.String("address", cfg.Server.Address),
		observability.Bool("tls", cfg.Server.TLS.Enabled),
		observability.Strings("public_prefixes", cfg.Security.PublicPaths.Prefixes),
		observability.String("jwks_url", cfg.Security.JWT.JWKSURL),
		observability.Bool("upstream", cfg.Upstream.BaseURL != ""),
		observability.String("cache", cfg.Cache.Type),
	)
	return cfg
}

// loadConfig reads and validates the file at path.
func loadConfig(path string) (*config.ServiceConfig, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// fatalWithSync flushes the logger before exiting.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	_ = logger.Sync()
	logger.Fatal(msg, fields...)
}
