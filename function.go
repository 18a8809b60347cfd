// Package legaldoc exposes the analyzer as a Cloud Function.
package legaldoc

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"go.uber.org/zap"

	"github.com/pep299/legal-doc-analyzer/internal/config"
	"github.com/pep299/legal-doc-analyzer/internal/handlers"
	"github.com/pep299/legal-doc-analyzer/internal/logging"
)

// FunctionTarget is the name the function is registered under
const FunctionTarget = "ProcessLegalDoc"

var (
	initOnce sync.Once
	router   http.Handler
	initErr  error
)

func init() {
	functions.HTTP(FunctionTarget, ProcessLegalDoc)
}

// ProcessLegalDoc serves every route of the analyzer. The server is built on
// the first request and reused by warm instances.
func ProcessLegalDoc(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		router, initErr = newRouter(context.Background())
	})
	if initErr != nil {
		log.Printf("Failed to initialize function: %v", initErr)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}

func newRouter(ctx context.Context) (http.Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	// Cloud Functions instances are frozen between requests, so there is no
	// scheduler here; uploads are removed per request and cache entries
	// expire on read.
	server, err := handlers.NewServer(ctx, cfg, logger.With(zap.String("function", FunctionTarget)))
	if err != nil {
		return nil, err
	}
	return server.SetupRoutes(), nil
}
