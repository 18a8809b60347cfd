package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pep299/legal-doc-analyzer/internal/analysis"
	"github.com/pep299/legal-doc-analyzer/internal/cache"
	"github.com/pep299/legal-doc-analyzer/internal/config"
	"github.com/pep299/legal-doc-analyzer/internal/document"
	"github.com/pep299/legal-doc-analyzer/internal/gemini"
	"github.com/pep299/legal-doc-analyzer/internal/prompts"
	"github.com/pep299/legal-doc-analyzer/internal/slack"
	"github.com/pep299/legal-doc-analyzer/internal/upload"
)

// Version is reported by the health endpoint and the -version flag
const Version = "v1.0.0"

// DocumentAnalyzer runs the summarization pipeline over a file on disk
type DocumentAnalyzer interface {
	AnalyzeFile(ctx context.Context, path string) (*analysis.Result, error)
}

// Notifier announces finished analyses and failed ones
type Notifier interface {
	SendAnalysis(ctx context.Context, filename string, result *analysis.Analysis) error
	SendSimpleMessage(ctx context.Context, text string) error
}

// Server holds the HTTP server and its dependencies
type Server struct {
	config       *config.Config
	logger       *zap.Logger
	analyzer     DocumentAnalyzer
	uploads      *upload.Store
	cacheManager *cache.Manager // nil when CACHE_TYPE=none
	notifier     Notifier       // nil when Slack is not configured
	startedAt    time.Time
}

// NewServer creates a new HTTP server
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	geminiClient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	promptSet, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	analyzer := analysis.NewAnalyzer(
		geminiClient,
		document.NewLoader(cfg.PageChunkChars),
		promptSet,
		logger.Named("analysis"),
		analysis.Options{
			MaxConcurrent:  cfg.MaxConcurrentRequests,
			TreeChunkChars: cfg.TreeChunkChars,
		},
	)

	uploads, err := upload.NewStore(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("creating upload store: %w", err)
	}

	var cacheManager *cache.Manager
	if cfg.CacheType != "none" {
		cacheManager, err = cache.NewManager(ctx, cache.Options{
			Type:            cfg.CacheType,
			Duration:        time.Duration(cfg.CacheDuration) * time.Hour,
			SQLitePath:      cfg.CacheSQLitePath,
			Bucket:          cfg.CacheBucket,
			StorageEndpoint: cfg.CacheStorageEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("creating cache manager: %w", err)
		}
	}

	server := NewServerWith(cfg, logger, analyzer, uploads, cacheManager)
	if cfg.SlackEnabled() {
		server.notifier = slack.NewClient(cfg.SlackBotToken, cfg.SlackChannel)
	}

	logger.Info("server configured",
		zap.String("model", geminiClient.Model()),
		zap.String("cache", cfg.CacheType),
		zap.Bool("slack", cfg.SlackEnabled()),
		zap.String("upload_dir", uploads.Dir()),
	)

	return server, nil
}

// NewServerWith assembles a server from already built parts. cacheManager may
// be nil to disable caching.
func NewServerWith(cfg *config.Config, logger *zap.Logger, analyzer DocumentAnalyzer, uploads *upload.Store, cacheManager *cache.Manager) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:       cfg,
		logger:       logger,
		analyzer:     analyzer,
		uploads:      uploads,
		cacheManager: cacheManager,
		startedAt:    time.Now(),
	}
}

// SetNotifier replaces the completion notifier; nil disables notifications.
func (s *Server) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.HandleFunc("/", s.rootHandler).Methods(http.MethodGet)
	// Both spellings are served directly; a redirect would turn POST into GET for many clients.
	for _, path := range []string{"/process-legal-doc/", "/process-legal-doc"} {
		r.HandleFunc(path, s.processLegalDocHandler).Methods(http.MethodPost, http.MethodOptions)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", s.cacheStatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/cache/clear", s.cacheClearHandler).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/config", s.configHandler).Methods(http.MethodGet)

	return r
}

// SweepUploads removes upload files older than the configured age
func (s *Server) SweepUploads(ctx context.Context) error {
	maxAge := time.Duration(s.config.UploadMaxAgeMinutes) * time.Minute
	removed, err := s.uploads.Sweep(maxAge)
	if err != nil {
		return fmt.Errorf("sweeping uploads: %w", err)
	}
	if removed > 0 {
		s.logger.Info("swept stale uploads", zap.Int("removed", removed))
	}
	return nil
}

// PurgeCache drops expired cache entries
func (s *Server) PurgeCache(ctx context.Context) error {
	if s.cacheManager == nil {
		return nil
	}
	purged, err := s.cacheManager.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	if purged > 0 {
		s.logger.Info("purged expired analyses", zap.Int("purged", purged))
	}
	return nil
}

// Close releases the cache backend
func (s *Server) Close() error {
	if s.cacheManager == nil {
		return nil
	}
	return s.cacheManager.Close()
}

// Middleware functions

type requestIDKey struct{}

const requestIDHeader = "X-Request-Id"

// requestIDMiddleware tags every request with an ID, reusing the caller's one
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// isTooLarge reports whether err came from the MaxBytesReader limit. The
// multipart reader does not always wrap it, so the message is checked too.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}
