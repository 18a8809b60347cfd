package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server settings
	Port     string `json:"port"`
	Host     string `json:"host"`
	LogLevel string `json:"log_level"`

	// Gemini API settings
	GeminiAPIKey  string `json:"-"` // Don't expose in JSON
	GeminiModel   string `json:"gemini_model"`
	GeminiBaseURL string `json:"gemini_base_url,omitempty"`

	// Upload settings
	UploadDir           string `json:"upload_dir"`
	MaxUploadMB         int    `json:"max_upload_mb"`
	UploadMaxAgeMinutes int    `json:"upload_max_age_minutes"`
	UploadSweepSchedule string `json:"upload_sweep_schedule"`

	// Pipeline settings
	PageChunkChars        int    `json:"page_chunk_chars"`
	TreeChunkChars        int    `json:"tree_chunk_chars"`
	MaxConcurrentRequests int    `json:"max_concurrent_requests"`
	PromptsFile           string `json:"prompts_file,omitempty"`

	// Cache settings
	CacheType            string `json:"cache_type"`     // "none", "memory", "sqlite" or "cloud-storage"
	CacheDuration        int    `json:"cache_duration"` // in hours
	CacheSQLitePath      string `json:"cache_sqlite_path"`
	CacheBucket          string `json:"cache_bucket"`
	CacheStorageEndpoint string `json:"cache_storage_endpoint,omitempty"`

	// Slack settings
	SlackBotToken string `json:"-"` // Don't expose in JSON
	SlackChannel  string `json:"slack_channel"`
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	config := &Config{
		Port:                  getEnvOrDefault("PORT", "8080"),
		Host:                  getEnvOrDefault("HOST", "0.0.0.0"),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		GeminiAPIKey:          getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:           getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:         getEnvOrDefault("GEMINI_BASE_URL", ""),
		UploadDir:             getEnvOrDefault("UPLOAD_DIR", filepath.Join(os.TempDir(), "legal-doc-uploads")),
		MaxUploadMB:           getEnvOrDefaultInt("MAX_UPLOAD_MB", 25),
		UploadMaxAgeMinutes:   getEnvOrDefaultInt("UPLOAD_MAX_AGE_MINUTES", 60),
		UploadSweepSchedule:   getEnvOrDefault("UPLOAD_SWEEP_SCHEDULE", "@every 15m"),
		PageChunkChars:        getEnvOrDefaultInt("PAGE_CHUNK_CHARS", 6000),
		TreeChunkChars:        getEnvOrDefaultInt("TREE_CHUNK_CHARS", 24000),
		MaxConcurrentRequests: getEnvOrDefaultInt("MAX_CONCURRENT_REQUESTS", 5),
		PromptsFile:           getEnvOrDefault("PROMPTS_FILE", ""),
		CacheType:             getEnvOrDefault("CACHE_TYPE", "memory"),
		CacheDuration:         getEnvOrDefaultInt("CACHE_DURATION_HOURS", 24),
		CacheSQLitePath:       getEnvOrDefault("CACHE_SQLITE_PATH", filepath.Join("db", "analyses.db")),
		CacheBucket:           getEnvOrDefault("CACHE_BUCKET", "legal-doc-analyzer-cache"),
		CacheStorageEndpoint:  getEnvOrDefault("CACHE_STORAGE_ENDPOINT", ""),
		SlackBotToken:         getEnvOrDefault("SLACK_BOT_TOKEN", ""),
		SlackChannel:          getEnvOrDefault("SLACK_CHANNEL", "#legal-docs"),
	}

	return config, config.validate()
}

// validate checks if required configuration values are present
func (c *Config) validate() error {
	if c.GeminiAPIKey == "" {
		return &ConfigError{Field: "GEMINI_API_KEY", Message: "Gemini API key is required"}
	}
	if c.MaxUploadMB <= 0 {
		return &ConfigError{Field: "MAX_UPLOAD_MB", Message: "must be positive"}
	}
	if c.PageChunkChars <= 0 {
		return &ConfigError{Field: "PAGE_CHUNK_CHARS", Message: "must be positive"}
	}
	if c.TreeChunkChars <= 0 {
		return &ConfigError{Field: "TREE_CHUNK_CHARS", Message: "must be positive"}
	}
	if c.MaxConcurrentRequests <= 0 {
		return &ConfigError{Field: "MAX_CONCURRENT_REQUESTS", Message: "must be positive"}
	}
	if c.UploadMaxAgeMinutes <= 0 {
		return &ConfigError{Field: "UPLOAD_MAX_AGE_MINUTES", Message: "must be positive"}
	}
	if c.CacheDuration <= 0 {
		return &ConfigError{Field: "CACHE_DURATION_HOURS", Message: "must be positive"}
	}
	switch c.CacheType {
	case "none", "memory", "sqlite", "cloud-storage":
	default:
		return &ConfigError{Field: "CACHE_TYPE", Message: "unsupported cache type: " + c.CacheType}
	}
	if c.SlackBotToken != "" && !strings.HasPrefix(c.SlackBotToken, "xoxb-") {
		return &ConfigError{Field: "SLACK_BOT_TOKEN", Message: "must start with xoxb-"}
	}
	return nil
}

// MaxUploadBytes returns the upload size limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// SlackEnabled reports whether analysis notifications should be posted
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != ""
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default if not set
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
