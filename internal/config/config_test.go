package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("SLACK_BOT_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.GeminiAPIKey)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.CacheType)
	assert.Equal(t, 5, cfg.MaxConcurrentRequests)
	assert.Equal(t, int64(25)<<20, cfg.MaxUploadBytes())
	assert.False(t, cfg.SlackEnabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("CACHE_TYPE", "sqlite")
	t.Setenv("MAX_UPLOAD_MB", "2")
	t.Setenv("PAGE_CHUNK_CHARS", "not-a-number")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.CacheType)
	assert.Equal(t, int64(2)<<20, cfg.MaxUploadBytes())
	assert.Equal(t, 6000, cfg.PageChunkChars, "invalid ints fall back to the default")
	assert.True(t, cfg.SlackEnabled())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{
			name:  "missing api key",
			env:   map[string]string{"GEMINI_API_KEY": ""},
			field: "GEMINI_API_KEY",
		},
		{
			name:  "unknown cache type",
			env:   map[string]string{"GEMINI_API_KEY": "k", "CACHE_TYPE": "redis"},
			field: "CACHE_TYPE",
		},
		{
			name:  "zero concurrency",
			env:   map[string]string{"GEMINI_API_KEY": "k", "MAX_CONCURRENT_REQUESTS": "0"},
			field: "MAX_CONCURRENT_REQUESTS",
		},
		{
			name:  "negative upload max age",
			env:   map[string]string{"GEMINI_API_KEY": "k", "UPLOAD_MAX_AGE_MINUTES": "-1"},
			field: "UPLOAD_MAX_AGE_MINUTES",
		},
		{
			name:  "negative cache duration",
			env:   map[string]string{"GEMINI_API_KEY": "k", "CACHE_DURATION_HOURS": "-5"},
			field: "CACHE_DURATION_HOURS",
		},
		{
			name:  "bad slack token",
			env:   map[string]string{"GEMINI_API_KEY": "k", "SLACK_BOT_TOKEN": "token"},
			field: "SLACK_BOT_TOKEN",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			for k, v := range test.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, test.field, cfgErr.Field)
		})
	}
}
