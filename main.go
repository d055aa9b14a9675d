package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"orbit-metrics/collector"
	"orbit-metrics/config"
	"orbit-metrics/metrics"
)

const version = "0.1.0"

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath string
	logLevel   string
	logFile    string
	logFormat  string
}

func main() {
	_ = godotenv.Load()

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.OutOrStderr(), err)
		os.Exit(1)
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "orbit-metrics",
		Short:         "Prometheus exporter for Cosmos-SDK chains",
		Long:          "Polls Cosmos-SDK REST APIs for chain, wallet, validator and parameter data and serves them on /metrics.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", getenvDefault("ORBIT_METRICS_CONFIG", "config.yml"), "Path to the YAML configuration file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", os.Getenv("ORBIT_METRICS_LOG_LEVEL"), "Log level: debug|info|warn|error (overrides config)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", os.Getenv("ORBIT_METRICS_LOG_FILE"), "Also write logs to this file (overrides config)")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "", "Log format: json|text (overrides config)")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		logger.Error("Failed to load config", "path", opts.configPath, "error", err)
		return err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.Logging.File = opts.logFile
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	m := metrics.New(version)
	driver := collector.NewDriver(cfg, collector.NewClientFactory(cfg, m, logger), m, logger)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           newMux(m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		logger.Info("Starting collection loop",
			"nodes", len(cfg.Nodes),
			"refresh_interval", cfg.RefreshDuration().String(),
			"client_lifecycle", cfg.ClientLifecycle,
		)
		driver.Run(ctx, cfg.RefreshDuration())
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Failed to start server", "error", err)
			stop()
			<-loopDone
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	<-loopDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func newMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger. With a log file configured, records go
// to both stdout and the file.
func newLogger(cfg config.Logging) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stdout
	closeFn := func() {}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}

	return slog.New(newHandler(out, cfg)), closeFn, nil
}

func newHandler(out io.Writer, cfg config.Logging) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}
