package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pep299/legal-doc-analyzer/internal/analysis"
	"github.com/pep299/legal-doc-analyzer/internal/cache"
	"github.com/pep299/legal-doc-analyzer/internal/document"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// errorResponse mirrors the {"detail": ...} error body clients expect
type errorResponse struct {
	Detail string `json:"detail"`
}

// rootHandler answers the liveness check at /
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "Hello World")
}

// processLegalDocHandler accepts a multipart upload in the "file" field and
// returns the five-field analysis.
func (s *Server) processLegalDocHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := s.logger.With(zap.String("request_id", requestID(ctx)))

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MB", s.config.MaxUploadMB))
			return
		}
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "field required: file")
		return
	}
	defer file.Close()

	path, err := s.uploads.Save(file, header.Filename)
	if err != nil {
		logger.Error("saving upload", zap.String("filename", header.Filename), zap.Error(err))
		writeDetail(w, http.StatusNotFound, err.Error())
		return
	}
	defer func() {
		if err := s.uploads.Remove(path); err != nil {
			logger.Warn("removing upload", zap.String("path", path), zap.Error(err))
		}
	}()

	result, cached, err := s.analyze(ctx, path)
	if err != nil {
		logger.Error("analyzing document", zap.String("filename", header.Filename), zap.Error(err))
		if s.notifier != nil {
			text := fmt.Sprintf(":x: Analysis failed for *%s*: %v", header.Filename, err)
			if err := s.notifier.SendSimpleMessage(ctx, text); err != nil {
				logger.Warn("sending failure notification", zap.Error(err))
			}
		}
		writeDetail(w, http.StatusNotFound, err.Error())
		return
	}

	logger.Info("document analyzed",
		zap.String("filename", header.Filename),
		zap.String("document_id", result.DocumentID),
		zap.Int("pages", result.Pages),
		zap.Int("complexity_rating", result.Analysis.ComplexityRating),
		zap.Bool("cached", cached),
	)

	if !cached && s.notifier != nil {
		if err := s.notifier.SendAnalysis(ctx, header.Filename, result.Analysis); err != nil {
			logger.Warn("sending notification", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, result.Analysis)
}

// analyze serves the result from the cache when the same bytes were analyzed
// before, otherwise runs the pipeline and stores the outcome.
func (s *Server) analyze(ctx context.Context, path string) (*analysis.Result, bool, error) {
	var documentID string
	if s.cacheManager != nil {
		id, err := document.FingerprintFile(path)
		if err != nil {
			return nil, false, err
		}
		documentID = id

		result, err := s.cacheManager.GetAnalysis(ctx, documentID)
		switch {
		case err == nil:
			return result, true, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			s.logger.Warn("reading cache", zap.String("document_id", documentID), zap.Error(err))
		}
	}

	result, err := s.analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return nil, false, err
	}

	if s.cacheManager != nil {
		if result.DocumentID == "" {
			result.DocumentID = documentID
		}
		if err := s.cacheManager.SetAnalysis(ctx, result); err != nil {
			s.logger.Warn("caching analysis", zap.String("document_id", result.DocumentID), zap.Error(err))
		}
	}

	return result, false, nil
}

// healthHandler provides health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   Version,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// cacheStatsHandler returns cache statistics
func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	if s.cacheManager == nil {
		writeJSON(w, http.StatusOK, &cache.Stats{Backend: "none"})
		return
	}

	stats, err := s.cacheManager.GetStats(r.Context())
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Error getting cache stats: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// cacheClearHandler clears the cache
func (s *Server) cacheClearHandler(w http.ResponseWriter, r *http.Request) {
	if s.cacheManager != nil {
		if err := s.cacheManager.Clear(r.Context()); err != nil {
			writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Error clearing cache: %v", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Cache cleared successfully",
	})
}

// configHandler returns the configuration without secrets
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
