package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/plume/internal/config"
	"github.com/ifuryst/plume/internal/server"
	"github.com/ifuryst/plume/internal/service"
	"github.com/ifuryst/plume/pkg/logger"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "plume",
	Short: "Plume - scheduled social media publishing",
	Long:  `Plume publishes scheduled posts to social channels while respecting each channel's posting window, daily cap and spacing.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Plume %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one scheduler tick and exit",
	RunE:  runProcess,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(processCmd)
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, appLogger, nil
}

func runServer(*cobra.Command, []string) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Plume server", zap.String("version", version))

	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func runProcess(cmd *cobra.Command, _ []string) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	pipeline, err := service.NewPipeline(cfg, db, appLogger, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary := pipeline.Scheduler.ProcessNow(ctx)
	fmt.Printf("due=%d published=%d denied=%d failed=%d skipped=%d errors=%d (%s)\n",
		summary.Due, summary.Published, summary.Denied, summary.Failed, summary.Skipped, summary.Errors, summary.Duration)
	if summary.Errors > 0 {
		return fmt.Errorf("tick finished with %d errors", summary.Errors)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
