package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pep299/legal-doc-analyzer/internal/config"
	"github.com/pep299/legal-doc-analyzer/internal/handlers"
	"github.com/pep299/legal-doc-analyzer/internal/logging"
)

var (
	Commit    string = "unknown"
	BuildTime string = "unknown"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		fmt.Printf("Legal Document Analyzer Server\n")
		fmt.Printf("Version: %s\n", handlers.Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create server
	server, err := handlers.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}
	defer server.Close()

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      server.SetupRoutes(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute, // whole-document analysis is slow
		IdleTimeout:  60 * time.Second,
	}

	scheduler, err := newScheduler(ctx, cfg, server, logger)
	if err != nil {
		logger.Fatal("failed to schedule maintenance jobs", zap.Error(err))
	}
	scheduler.Start()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr), zap.String("version", handlers.Version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	logger.Info("shutting down server")

	// Stop scheduled jobs and wait for running ones
	<-scheduler.Stop().Done()
	cancel()

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// newScheduler registers the upload sweep and cache purge jobs
func newScheduler(ctx context.Context, cfg *config.Config, server *handlers.Server, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"upload sweep", cfg.UploadSweepSchedule, server.SweepUploads},
		{"cache purge", "@hourly", server.PurgeCache},
	}

	for _, job := range jobs {
		job := job
		_, err := c.AddFunc(job.schedule, func() {
			if err := job.run(ctx); err != nil {
				logger.Error("scheduled job failed", zap.String("job", job.name), zap.Error(err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("scheduling %s %q: %w", job.name, job.schedule, err)
		}
	}

	return c, nil
}

func printUsage() {
	fmt.Printf("Legal Document Analyzer Server\n\n")
	fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nEnvironment Variables:\n")
	fmt.Printf("  GEMINI_API_KEY          Gemini API key (required)\n")
	fmt.Printf("  GEMINI_MODEL            Gemini model (default: gemini-2.5-flash)\n")
	fmt.Printf("  PORT                    Server port (default: 8080)\n")
	fmt.Printf("  HOST                    Server host (default: 0.0.0.0)\n")
	fmt.Printf("  LOG_LEVEL               debug, info, warn or error (default: info)\n")
	fmt.Printf("  UPLOAD_DIR              Directory for uploaded files\n")
	fmt.Printf("  MAX_UPLOAD_MB           Upload size limit in MB (default: 25)\n")
	fmt.Printf("  PROMPTS_FILE            YAML file overriding the built-in prompts\n")
	fmt.Printf("  CACHE_TYPE              none, memory, sqlite or cloud-storage (default: memory)\n")
	fmt.Printf("  CACHE_DURATION_HOURS    Cache entry lifetime in hours (default: 24)\n")
	fmt.Printf("  SLACK_BOT_TOKEN         Slack bot token for analysis notifications\n")
	fmt.Printf("  SLACK_CHANNEL           Slack channel (default: #legal-docs)\n")
}
