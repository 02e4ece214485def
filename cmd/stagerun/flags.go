package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	MetricsAddr     string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// parseFlags parses args (without the program name). Every flag falls back to
// a STAGEGRAPH_* environment variable.
func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("STAGEGRAPH_CONFIG", ""),
		"Path to pipeline configuration, JSON or YAML; empty runs the built-in pipeline (env: STAGEGRAPH_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("STAGEGRAPH_CONFIG", ""),
		"Path to pipeline configuration (env: STAGEGRAPH_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("STAGEGRAPH_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: STAGEGRAPH_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("STAGEGRAPH_LOG_FORMAT", "json"),
		"Log format: json, text (env: STAGEGRAPH_LOG_FORMAT)")

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr",
		getEnv("STAGEGRAPH_METRICS_ADDR", ""),
		"Metrics listen address, e.g. :9090; overrides the config file (env: STAGEGRAPH_METRICS_ADDR)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("STAGEGRAPH_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: STAGEGRAPH_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.Validate, "validate",
		getEnvBool("STAGEGRAPH_VALIDATE", false),
		"Validate configuration and exit")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - run a stage graph pipeline

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Sum the built-in range
  %s

  # Run a pipeline file with text logs
  %s --config=pipeline.yaml --log-format=text

  # Serve metrics while running
  STAGEGRAPH_METRICS_ADDR=:9090 %s --config=pipeline.yaml

  # Validate configuration only
  %s --config=pipeline.yaml --validate

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
