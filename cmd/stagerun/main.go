// Package main implements stagerun, which loads a pipeline configuration,
// assembles it into a stage graph and runs it to completion.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/stagegraph/config"
	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/health"
	"github.com/c360/stagegraph/metric"
	"github.com/c360/stagegraph/natsclient"
	"github.com/c360/stagegraph/pkg/retry"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "stagerun"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// run is main without the process concerns: ctx ends the run early and logs
// go to stdout.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	cliCfg, logger, done, err := initializeCLI(args, stdout)
	if done || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}
	logger.Debug("Configuration loaded", "config", cfg.String())

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "pipeline", cfg.Pipeline.Name)
		return nil
	}

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	var transport natsclient.Transport
	if cfg.Pipeline.UsesNATS() {
		client, err := connectToNATS(ctx, cfg.NATS, registry, monitor, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				logger.Warn("NATS close failed", "error", err)
			}
		}()
		transport = client
	}

	return runPipeline(ctx, cfg, cliCfg.ShutdownTimeout, transport, registry, monitor, logger)
}

// initializeCLI parses flags and sets up logging. done reports that a flag
// such as --version was fully handled.
func initializeCLI(args []string, stdout io.Writer) (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags(args, stdout)
	if err != nil {
		return nil, nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil, nil, true, nil
	}

	logger := setupLogger(stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting stagerun",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig layers the config file, if any, over the defaults and applies
// the --metrics-addr override.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()

	var (
		cfg *config.Config
		err error
	)
	if cliCfg.ConfigPath != "" {
		cfg, err = loader.LoadFile(cliCfg.ConfigPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.MetricsAddr != "" {
		cfg.Engine.MetricsAddr = cliCfg.MetricsAddr
	}
	return cfg, nil
}

// connectToNATS dials the first configured server, retrying while the server
// is not up yet, and waits for the connection to be ready. Connection health
// is reported to monitor under "nats".
func connectToNATS(ctx context.Context, nc config.NATSConfig, registry *metric.MetricsRegistry,
	monitor *health.Monitor, logger *slog.Logger) (*natsclient.Client, error) {
	if len(nc.URLs) == 0 {
		return nil, fmt.Errorf("connect to NATS: no server URLs configured")
	}

	client, err := natsclient.NewClient(nc.URLs[0], natsOptions(nc, registry, monitor, logger)...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", nc.URLs[0])
	monitor.UpdateDegraded("nats", "connecting")

	backoff := retry.Startup()
	backoff.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("NATS connect failed, retrying", "attempt", attempt, "error", err, "delay", delay)
	}
	connect := func() error {
		err := client.Connect(ctx)
		if stderrors.Is(err, natsclient.ErrClientClosed) {
			return errors.WrapFatal(err, appName, "connectToNATS", "connect")
		}
		return err
	}
	if err := retry.Do(ctx, backoff, connect); err != nil {
		monitor.Update("nats", health.FromError("nats", err))
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	monitor.UpdateHealthy("nats", "connected")
	return client, nil
}

// natsOptions maps the NATS section of the config to client options.
// Connection events are logged and reported to monitor under "nats".
func natsOptions(nc config.NATSConfig, registry *metric.MetricsRegistry, monitor *health.Monitor,
	logger *slog.Logger) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.UpdateHealthy("nats", "connected")
			} else {
				monitor.UpdateDegraded("nats", "reconnecting")
			}
		}),
		natsclient.WithDisconnectCallback(func(err error) {
			logger.Warn("NATS connection lost", "error", err)
		}),
		natsclient.WithReconnectCallback(func() {
			logger.Info("NATS connection restored")
		}),
	}
	if nc.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(nc.ReconnectWait.Std()))
	}
	if nc.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(nc.Timeout.Std()))
	}
	if nc.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(nc.DrainTimeout.Std()))
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}
	if nc.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(natsclient.TLSFiles{
			CertFile: nc.TLS.CertFile,
			KeyFile:  nc.TLS.KeyFile,
			CAFile:   nc.TLS.CAFile,
		}))
	}
	return opts
}

// logStageCounts logs what each stage pushed during the run.
func logStageCounts(registry *metric.MetricsRegistry, logger *slog.Logger) {
	if registry == nil {
		return
	}
	counts, err := registry.StageCounts()
	if err != nil {
		logger.Warn("Stage counts unavailable", "error", err)
		return
	}
	for _, c := range counts {
		logger.Info("Stage counts", "stage", c.Stage, "pushed", c.Pushed, "failures", c.Failures)
	}
}

// runPipeline runs the configured graph next to the metrics server. The run
// ends when the graph finishes, ctx ends or the metrics server fails. The
// outcome is reported to monitor under "pipeline".
func runPipeline(ctx context.Context, cfg *config.Config, grace time.Duration,
	transport natsclient.Transport, registry *metric.MetricsRegistry, monitor *health.Monitor,
	logger *slog.Logger) error {
	group, groupCtx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(groupCtx)
	defer cancelRun()

	p, err := buildPipeline(runCtx, cfg, transport, registry, logger)
	if err != nil {
		monitor.Update("pipeline", health.FromError("pipeline", err))
		return fmt.Errorf("build pipeline: %w", err)
	}
	monitor.UpdateHealthy("pipeline", "running")

	if addr := cfg.Engine.MetricsAddr; addr != "" {
		server := metric.NewServer(addr, cfg.Engine.MetricsPath, registry)
		server.SetHealthHandler(monitor.Handler(appName))
		logger.Info("Serving metrics", "address", server.Address())
		group.Go(func() error {
			return server.Run(runCtx)
		})
	}

	group.Go(func() error {
		// The metrics server stops with the pipeline.
		defer cancelRun()

		result, err := p.run(runCtx, grace)
		switch {
		case err == nil:
			monitor.UpdateHealthy("pipeline", "finished")
			logger.Info("Pipeline finished",
				"graph", p.graph.ID(),
				"sink", cfg.Pipeline.Sink.Type,
				"result", result)
			logStageCounts(registry, logger)
			return nil
		case stderrors.Is(err, context.Canceled) && ctx.Err() != nil:
			monitor.UpdateDegraded("pipeline", "interrupted")
			logger.Info("Pipeline interrupted", "graph", p.graph.ID())
			return nil
		default:
			monitor.Update("pipeline", health.FromError("pipeline", err))
			return fmt.Errorf("run pipeline: %w", err)
		}
	})

	return group.Wait()
}
