package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pep299/legal-doc-analyzer/internal/analysis"
	"github.com/pep299/legal-doc-analyzer/internal/cache"
	"github.com/pep299/legal-doc-analyzer/internal/config"
	"github.com/pep299/legal-doc-analyzer/internal/document"
	"github.com/pep299/legal-doc-analyzer/internal/upload"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    int
	existed  []bool
	err      error
	analysis *analysis.Analysis
}

func (f *fakeAnalyzer) AnalyzeFile(ctx context.Context, path string) (*analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	_, statErr := os.Stat(path)
	f.existed = append(f.existed, statErr == nil)

	if f.err != nil {
		return nil, f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &analysis.Result{
		DocumentID: document.Fingerprint(data),
		Pages:      1,
		Analysis:   f.analysis,
	}, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	filenames []string
	messages  []string
	err       error
}

func (f *fakeNotifier) SendAnalysis(ctx context.Context, filename string, result *analysis.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filenames = append(f.filenames, filename)
	return f.err
}

func (f *fakeNotifier) SendSimpleMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return f.err
}

// brokenCache fails every read and records writes
type brokenCache struct {
	mu   sync.Mutex
	sets []string
}

func (c *brokenCache) Get(ctx context.Context, key string) (*cache.CacheEntry, error) {
	return nil, errors.New("bucket unreachable")
}

func (c *brokenCache) Set(ctx context.Context, key string, entry *cache.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, key)
	return nil
}

func (c *brokenCache) Delete(ctx context.Context, key string) error { return nil }
func (c *brokenCache) Exists(ctx context.Context, key string) (bool, error) { return false, nil }
func (c *brokenCache) Clear(ctx context.Context) error { return nil }
func (c *brokenCache) GetStats(ctx context.Context) (*cache.Stats, error) { return &cache.Stats{}, nil }
func (c *brokenCache) PurgeExpired(ctx context.Context) (int, error) { return 0, nil }
func (c *brokenCache) Close() error { return nil }

func sampleAnalysis() *analysis.Analysis {
	return &analysis.Analysis{
		Summary:           "Mutual NDA with a two year term.",
		ComplexityRating:  4,
		RedFlagDetection:  []string{"Unlimited liability for the recipient"},
		FiguresExtraction: []string{"$50,000 liquidated damages"},
		Loopholes:         []string{},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		GeminiModel:         "gemini-test",
		GeminiAPIKey:        "secret-key",
		SlackBotToken:       "xoxb-secret",
		UploadDir:           t.TempDir(),
		MaxUploadMB:         1,
		UploadMaxAgeMinutes: 60,
		CacheType:           "memory",
		CacheDuration:       1,
	}
}

func newTestServer(t *testing.T, analyzer DocumentAnalyzer, cacheManager *cache.Manager) (*Server, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	uploads, err := upload.NewStore(cfg.UploadDir)
	require.NoError(t, err)
	return NewServerWith(cfg, nil, analyzer, uploads, cacheManager), cfg
}

func multipartRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/process-legal-doc/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(server *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	server.SetupRoutes().ServeHTTP(w, req)
	return w
}

func assertUploadDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "uploaded files must be removed after the request")
}

func TestRootHandler(t *testing.T) {
	server, _ := newTestServer(t, &fakeAnalyzer{}, nil)

	w := serve(server, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"Hello World"`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestProcessLegalDoc(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	server, cfg := newTestServer(t, analyzer, nil)
	notifier := &fakeNotifier{}
	server.SetNotifier(notifier)

	w := serve(server, multipartRequest(t, "file", "nda.txt", []byte("This agreement is made between...")))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 5)
	assert.Equal(t, "Mutual NDA with a two year term.", got["summary"])
	assert.EqualValues(t, 4, got["complexity_rating"])
	assert.Equal(t, []interface{}{"Unlimited liability for the recipient"}, got["red_flag_detection"])
	assert.Equal(t, []interface{}{"$50,000 liquidated damages"}, got["figures_extraction"])
	assert.Equal(t, []interface{}{}, got["loopholes"])

	require.Equal(t, 1, analyzer.calls)
	assert.True(t, analyzer.existed[0], "file must exist while the pipeline runs")
	assertUploadDirEmpty(t, cfg.UploadDir)
	assert.Equal(t, []string{"nda.txt"}, notifier.filenames)
}

func TestProcessLegalDocPipelineFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("model unavailable")}
	server, cfg := newTestServer(t, analyzer, nil)
	notifier := &fakeNotifier{}
	server.SetNotifier(notifier)

	w := serve(server, multipartRequest(t, "file", "lease.pdf", []byte("%PDF-1.4")))

	assert.Equal(t, http.StatusNotFound, w.Code)
	var got errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "model unavailable", got.Detail)

	assertUploadDirEmpty(t, cfg.UploadDir)
	assert.Empty(t, notifier.filenames)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "lease.pdf")
	assert.Contains(t, notifier.messages[0], "model unavailable")
}

func TestProcessLegalDocNotifierFailureIsIgnored(t *testing.T) {
	server, _ := newTestServer(t, &fakeAnalyzer{analysis: sampleAnalysis()}, nil)
	server.SetNotifier(&fakeNotifier{err: errors.New("slack down")})

	w := serve(server, multipartRequest(t, "file", "nda.txt", []byte("terms")))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProcessLegalDocValidation(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name: "missing file field",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "document", "nda.txt", []byte("terms"))
			},
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/process-legal-doc/", strings.NewReader(`{"file":"x"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "file", "big.txt", bytes.Repeat([]byte("a"), 2<<20))
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
			server, cfg := newTestServer(t, analyzer, nil)

			w := serve(server, test.req(t))

			assert.Equal(t, test.status, w.Code, w.Body.String())
			var got errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.NotEmpty(t, got.Detail)
			assert.Zero(t, analyzer.calls)
			assertUploadDirEmpty(t, cfg.UploadDir)
		})
	}
}

func TestProcessLegalDocCacheHit(t *testing.T) {
	cacheManager, err := cache.NewManager(context.Background(), cache.Options{Type: "memory", Duration: time.Hour})
	require.NoError(t, err)
	defer cacheManager.Close()

	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	server, cfg := newTestServer(t, analyzer, cacheManager)
	notifier := &fakeNotifier{}
	server.SetNotifier(notifier)

	content := []byte("Same contract uploaded twice")
	first := serve(server, multipartRequest(t, "file", "a.txt", content))
	second := serve(server, multipartRequest(t, "file", "b.txt", content))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assertUploadDirEmpty(t, cfg.UploadDir)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, analyzer.calls, "second upload is served from cache")
	assert.Equal(t, []string{"a.txt"}, notifier.filenames)

	cached, err := cacheManager.IsCached(context.Background(), document.Fingerprint(content))
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestProcessLegalDocCacheReadError(t *testing.T) {
	backend := &brokenCache{}
	cacheManager := cache.NewManagerWithCache(backend, "broken")

	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	server, cfg := newTestServer(t, analyzer, cacheManager)

	content := []byte("Contract behind a failing cache")
	w := serve(server, multipartRequest(t, "file", "c.txt", content))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, analyzer.calls, "a cache read error falls through to the pipeline")
	assert.Equal(t, []string{cache.GenerateKey(document.Fingerprint(content))}, backend.sets)
	assertUploadDirEmpty(t, cfg.UploadDir)
}

func TestProcessLegalDocWithoutTrailingSlash(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	server, _ := newTestServer(t, analyzer, nil)

	req := multipartRequest(t, "file", "nda.txt", []byte("terms"))
	req.URL.Path = "/process-legal-doc"
	w := serve(server, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, analyzer.calls)
}

func TestHealthHandler(t *testing.T) {
	server, _ := newTestServer(t, &fakeAnalyzer{}, nil)

	w := serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, Version, got["version"])
}

func TestConfigHandlerHidesSecrets(t *testing.T) {
	server, _ := newTestServer(t, &fakeAnalyzer{}, nil)

	w := serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cache_type":"memory"`)
	assert.NotContains(t, w.Body.String(), "secret-key")
	assert.NotContains(t, w.Body.String(), "xoxb-secret")
}

func TestCacheHandlers(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		server, _ := newTestServer(t, &fakeAnalyzer{}, nil)

		w := serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"backend":"none"`)

		w = serve(server, httptest.NewRequest(http.MethodDelete, "/api/v1/cache/clear", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("memory", func(t *testing.T) {
		cacheManager, err := cache.NewManager(context.Background(), cache.Options{Type: "memory", Duration: time.Hour})
		require.NoError(t, err)
		defer cacheManager.Close()

		ctx := context.Background()
		require.NoError(t, cacheManager.SetAnalysis(ctx, &analysis.Result{DocumentID: "abc", Analysis: sampleAnalysis()}))

		server, _ := newTestServer(t, &fakeAnalyzer{}, cacheManager)

		w := serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		var stats cache.Stats
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Equal(t, "memory", stats.Backend)
		assert.Equal(t, 1, stats.TotalEntries)

		w = serve(server, httptest.NewRequest(http.MethodDelete, "/api/v1/cache/clear", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		cached, err := cacheManager.IsCached(ctx, "abc")
		require.NoError(t, err)
		assert.False(t, cached)
	})
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t, &fakeAnalyzer{}, nil)

	w := serve(server, httptest.NewRequest(http.MethodOptions, "/process-legal-doc/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagation(t *testing.T) {
	server, _ := newTestServer(t, &fakeAnalyzer{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "7b0f4a8e-2f7c-4a53-9d51-3a1c2e1b9f00")

	w := serve(server, req)

	assert.Equal(t, "7b0f4a8e-2f7c-4a53-9d51-3a1c2e1b9f00", w.Header().Get("X-Request-Id"))
}

func TestSweepUploads(t *testing.T) {
	server, cfg := newTestServer(t, &fakeAnalyzer{}, nil)
	cfg.UploadMaxAgeMinutes = 0

	path, err := server.uploads.Save(strings.NewReader("stale"), "old.txt")
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, server.SweepUploads(context.Background()))
	assertUploadDirEmpty(t, cfg.UploadDir)
}

func TestPurgeCacheWithoutBackend(t *testing.T) {
	server, _ := newTestServer(t, &fakeAnalyzer{}, nil)

	assert.NoError(t, server.PurgeCache(context.Background()))
	assert.NoError(t, server.Close())
}
