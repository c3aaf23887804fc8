package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/scribeworks/orchestrator/internal/api/handler"
	"github.com/scribeworks/orchestrator/internal/api/router"
	"github.com/scribeworks/orchestrator/internal/config"
	"github.com/scribeworks/orchestrator/internal/logger"
	"github.com/scribeworks/orchestrator/internal/orchestrator"
)

func runServer(flags *serverFlags) error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	appLogger := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	appLogger.Info("Starting orchestrator service",
		slog.String("version", version),
		slog.Int("max_concurrent_jobs", cfg.Orchestrator.MaxConcurrentJobs),
		slog.String("worker_command", cfg.Orchestrator.WorkerCommand),
		slog.String("worker_script", cfg.Orchestrator.WorkerScript),
	)

	o, err := orchestrator.New(orchestrator.Config{
		MaxConcurrentJobs: cfg.Orchestrator.MaxConcurrentJobs,
		WorkerCommand:     cfg.Orchestrator.WorkerCommand,
		WorkerScript:      cfg.Orchestrator.WorkerScript,
		JobTimeout:        cfg.Orchestrator.JobTimeout,
		RetentionWindow:   cfg.Orchestrator.RetentionWindow,
		SweepInterval:     cfg.Orchestrator.SweepInterval,
		KillGrace:         cfg.Orchestrator.KillGrace,
		ShutdownGrace:     cfg.Orchestrator.ShutdownGrace,
		MaxCaptureBytes:   cfg.Orchestrator.MaxCaptureBytes,
		DefaultOutputDir:  cfg.Orchestrator.DefaultOutputDir,
	}, nil, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	if flags.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:       appLogger,
		Orchestrator: o,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	appLogger.Info("Orchestrator service is running", slog.String("address", addr))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		appLogger.Info("Shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting new requests first, then drain running jobs.
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	if err := o.Shutdown(ctx); err != nil {
		appLogger.Error("Orchestrator drain interrupted", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutdown complete")

	return nil
}

func loadConfig(flags *serverFlags) (*config.Config, error) {
	cfg := config.Default()

	configPath := flags.configPath
	if configPath == "" {
		configPath = os.Getenv("ORCHESTRATOR_CONFIG_PATH")
	}

	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}

		cfg = loaded
	}

	if flags.port != 0 {
		cfg.Server.Port = int(flags.port)
	}

	if flags.debug {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
