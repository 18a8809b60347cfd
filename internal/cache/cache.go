package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pep299/legal-doc-analyzer/internal/analysis"
)

// Cache interface defines cache operations
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	PurgeExpired(ctx context.Context) (int, error)
	Close() error
}

// CacheEntry represents a cached analysis
type CacheEntry struct {
	Key         string          `json:"key"`
	Result      analysis.Result `json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	AccessedAt  time.Time       `json:"accessed_at"`
	AccessCount int             `json:"access_count"`
}

// Stats represents cache statistics
type Stats struct {
	Backend        string        `json:"backend"`
	TotalEntries   int           `json:"total_entries"`
	HitCount       int64         `json:"hit_count"`
	MissCount      int64         `json:"miss_count"`
	HitRate        float64       `json:"hit_rate"`
	MemoryUsage    int64         `json:"memory_usage_bytes"`
	OldestEntry    time.Time     `json:"oldest_entry"`
	AverageAge     time.Duration `json:"average_age"`
	ExpiredEntries int           `json:"expired_entries"`
}

// Common cache errors
var (
	ErrCacheMiss = errors.New("cache miss")
)

// Options selects and configures a cache backend
type Options struct {
	Type            string // "memory", "sqlite" or "cloud-storage"
	Duration        time.Duration
	SQLitePath      string
	Bucket          string
	StorageEndpoint string
}

// Manager handles cache operations with convenience methods
type Manager struct {
	cache   Cache
	backend string
}

// NewManager creates a new cache manager
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	var (
		c   Cache
		err error
	)

	switch opts.Type {
	case "memory":
		c = NewMemoryCache(opts.Duration)
	case "sqlite":
		c, err = NewSQLiteCache(ctx, opts.SQLitePath, opts.Duration)
	case "cloud-storage":
		c, err = NewCloudStorageCache(ctx, opts.Bucket, opts.StorageEndpoint, opts.Duration)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", opts.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s cache: %w", opts.Type, err)
	}

	return NewManagerWithCache(c, opts.Type), nil
}

// NewManagerWithCache wraps an existing backend
func NewManagerWithCache(c Cache, backend string) *Manager {
	return &Manager{cache: c, backend: backend}
}

// GetAnalysis retrieves the cached result for a document fingerprint
func (m *Manager) GetAnalysis(ctx context.Context, documentID string) (*analysis.Result, error) {
	entry, err := m.cache.Get(ctx, GenerateKey(documentID))
	if err != nil {
		return nil, err
	}
	return &entry.Result, nil
}

// SetAnalysis caches a pipeline result under its document fingerprint
func (m *Manager) SetAnalysis(ctx context.Context, result *analysis.Result) error {
	if result == nil || result.DocumentID == "" {
		return fmt.Errorf("result has no document id")
	}
	return m.cache.Set(ctx, GenerateKey(result.DocumentID), &CacheEntry{Result: *result})
}

// IsCached checks if a document already has an analysis
func (m *Manager) IsCached(ctx context.Context, documentID string) (bool, error) {
	return m.cache.Exists(ctx, GenerateKey(documentID))
}

// GetStats returns cache statistics
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats, err := m.cache.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.Backend = m.backend
	return stats, nil
}

// Clear clears all cached entries
func (m *Manager) Clear(ctx context.Context) error {
	return m.cache.Clear(ctx)
}

// PurgeExpired drops expired entries and returns how many were removed
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	return m.cache.PurgeExpired(ctx)
}

// Close releases the backend
func (m *Manager) Close() error {
	return m.cache.Close()
}

// GenerateKey generates a cache key for a document fingerprint
func GenerateKey(documentID string) string {
	return "document:" + documentID
}
