package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ebogdum/cloudfs/auth"
	"github.com/ebogdum/cloudfs/config"
	"github.com/ebogdum/cloudfs/core"
	logpkg "github.com/ebogdum/cloudfs/core/log"
	"github.com/ebogdum/cloudfs/server"
)

var rootCmd = &cobra.Command{
	Use:   "cloudfs",
	Short: "CloudFS - personal file storage server",
	Long: `CloudFS stores files under virtual paths with tags, enforces a storage
quota and serves everything over an authenticated REST API.`,
	SilenceUsage: true,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the CloudFS server",
	RunE:  runServer,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the CloudFS configuration and display the loaded settings",
	RunE:  validateConfig,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Audit stored bytes against the metadata index",
	Long: `Compare the byte store with the metadata index and print a JSON report of
orphan bytes, dangling metadata and size mismatches. Nothing is repaired.
Exits non-zero when the store is inconsistent. Run it while the server is stopped.`,
	RunE: runReconcile,
}

var configFilePath string

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", "", "Path to configuration file")

	configCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serverCmd, configCmd, reconcileCmd)

	// If no command specified, default to server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "server")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadAndLog loads configuration and builds the logger it describes
func loadAndLog() (config.AppConfig, *zap.Logger, error) {
	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logpkg.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// runServer starts the CloudFS server and blocks until SIGINT or SIGTERM
func runServer(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadAndLog()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting CloudFS server",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.Bool("tls", cfg.Server.TLSEnabled()),
		zap.Stringer("log_mode", logpkg.Mode()))

	if slices.Contains(cfg.Auth.APIKeys, config.DefaultAPIKey) {
		logger.Warn("The default API key is enabled; set auth.api_keys before exposing the server")
	}

	engine, err := core.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("Failed to close storage engine", zap.Error(err))
		}
	}()

	// Divergence is reported, never repaired, and does not block startup
	if _, err := engine.Reconcile(ctx); err != nil {
		logger.Warn("Startup reconciliation failed", zap.Error(err))
	}

	authenticator := auth.NewAPIKeyAuthenticator(cfg.Auth.APIKeys)
	separateMetrics := cfg.Metrics.Enabled && cfg.Metrics.ListenAddr != ""
	router := server.NewRouter(engine, authenticator, &cfg.Server, server.RouterOptions{
		ServeMetrics: cfg.Metrics.Enabled && !separateMetrics,
	}, logger)

	servers := []*http.Server{{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}}
	if separateMetrics {
		servers = append(servers, &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           server.NewMetricsHandler(),
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		g.Go(func() error {
			var err error
			if i == 0 && cfg.Server.TLSEnabled() {
				logger.Info("Starting HTTPS server", zap.String("addr", srv.Addr))
				err = srv.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			} else {
				logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown of %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("Server exited gracefully")
	return nil
}

// validateConfig validates the CloudFS configuration and displays settings
func validateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Validating configuration...")

	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		fmt.Fprintf(out, "Configuration is invalid: %v\n", err)
		return err
	}

	capacityBytes, _ := cfg.Storage.CapacityBytes()
	maxFileSize, _ := cfg.Storage.MaxFileSizeBytes()
	chunkSize, _ := cfg.Storage.ChunkSizeBytes()

	fmt.Fprintln(out, "Configuration is valid")
	fmt.Fprintf(out, "Listen Address: %s (TLS: %t)\n", cfg.Server.ListenAddr, cfg.Server.TLSEnabled())
	fmt.Fprintf(out, "API Keys: %d configured\n", len(cfg.Auth.APIKeys))
	fmt.Fprintf(out, "Storage Root: %s\n", cfg.Storage.RootPath)
	fmt.Fprintf(out, "Capacity: %s\n", humanize.Bytes(uint64(capacityBytes)))
	fmt.Fprintf(out, "Max File Size: %s (chunk %s)\n", humanize.Bytes(uint64(maxFileSize)), humanize.IBytes(uint64(chunkSize)))
	fmt.Fprintf(out, "Tags: at most %d per file, %d characters each\n", cfg.Storage.MaxTagsPerFile, cfg.Storage.MaxTagLength)
	fmt.Fprintf(out, "Manifest: %s (%s)\n", cfg.Manifest.Path, cfg.Manifest.Format)
	if cfg.Manifest.FlushInterval > 0 {
		fmt.Fprintf(out, "Manifest Flush: every %s\n", cfg.Manifest.FlushInterval)
	} else {
		fmt.Fprintln(out, "Manifest Flush: write-through")
	}
	fmt.Fprintf(out, "Thumbnails: %t (%dx%d)\n", cfg.Thumbnails.Enabled, cfg.Thumbnails.Width, cfg.Thumbnails.Height)
	if slices.Contains(cfg.Auth.APIKeys, config.DefaultAPIKey) {
		fmt.Fprintln(out, "Warning: the default API key is enabled")
	}
	return nil
}

// runReconcile prints a consistency report for the configured store
func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadAndLog()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := cmd.Context()

	engine, err := core.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage engine: %w", err)
	}
	defer engine.Close()

	report, err := engine.Reconcile(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	if !report.Consistent() {
		return errors.New("storage is inconsistent")
	}
	return nil
}
