package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pep299/legal-doc-analyzer/internal/analysis"
	"github.com/pep299/legal-doc-analyzer/internal/cache"
	"github.com/pep299/legal-doc-analyzer/internal/config"
	"github.com/pep299/legal-doc-analyzer/internal/document"
	"github.com/pep299/legal-doc-analyzer/internal/gemini"
	"github.com/pep299/legal-doc-analyzer/internal/handlers"
	"github.com/pep299/legal-doc-analyzer/internal/logging"
	"github.com/pep299/legal-doc-analyzer/internal/prompts"
)

var (
	outputFormat string
	noCache      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "legaldoc",
		Short:        "Analyze legal documents with Gemini",
		Version:      handlers.Version,
		SilenceUsage: true,
	}

	analyze := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Summarize a document and flag risky terms",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	analyze.Flags().StringVarP(&outputFormat, "format", "f", "markdown", "output format: json or markdown")
	analyze.Flags().BoolVar(&noCache, "no-cache", false, "skip the analysis cache")

	root.AddCommand(analyze)
	return root
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if outputFormat != "json" && outputFormat != "markdown" {
		return fmt.Errorf("unknown format %q: use json or markdown", outputFormat)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// The CLI logs to stderr only when something goes wrong.
	level := cfg.LogLevel
	if level == "info" {
		level = "warn"
	}
	logger, err := logging.New(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	result, err := analyzeFile(ctx, cfg, logger, args[0])
	if err != nil {
		return err
	}

	return writeResult(cmd.OutOrStdout(), result.Analysis, outputFormat)
}

// analyzeFile runs the pipeline, consulting the persistent cache first
func analyzeFile(ctx context.Context, cfg *config.Config, logger *zap.Logger, path string) (*analysis.Result, error) {
	var cacheManager *cache.Manager
	// A memory cache dies with the process, so only persistent backends help here.
	if !noCache && cfg.CacheType != "none" && cfg.CacheType != "memory" {
		m, err := cache.NewManager(ctx, cache.Options{
			Type:            cfg.CacheType,
			Duration:        time.Duration(cfg.CacheDuration) * time.Hour,
			SQLitePath:      cfg.CacheSQLitePath,
			Bucket:          cfg.CacheBucket,
			StorageEndpoint: cfg.CacheStorageEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		defer m.Close()
		cacheManager = m
	}

	var documentID string
	if cacheManager != nil {
		id, err := document.FingerprintFile(path)
		if err != nil {
			return nil, err
		}
		documentID = id
		result, err := cacheManager.GetAnalysis(ctx, documentID)
		if err == nil {
			logger.Info("served from cache", zap.String("document_id", documentID))
			return result, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("reading cache", zap.Error(err))
		}
	}

	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	promptSet, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	analyzer := analysis.NewAnalyzer(client, document.NewLoader(cfg.PageChunkChars), promptSet, logger, analysis.Options{
		MaxConcurrent:  cfg.MaxConcurrentRequests,
		TreeChunkChars: cfg.TreeChunkChars,
	})

	result, err := analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", path, err)
	}

	if cacheManager != nil {
		if err := cacheManager.SetAnalysis(ctx, result); err != nil {
			logger.Warn("caching analysis", zap.String("document_id", documentID), zap.Error(err))
		}
	}

	return result, nil
}

func writeResult(w io.Writer, a *analysis.Analysis, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}

	rendered, err := renderMarkdown(a)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, rendered)
	return err
}
