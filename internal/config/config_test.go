package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthMode(t *testing.T) {
	m, err := ParseAuthMode("")
	require.NoError(t, err)
	assert.Equal(t, AuthStrict, m)
	assert.False(t, m.AllowsPlaceholder())

	m, err = ParseAuthMode(" Development ")
	require.NoError(t, err)
	assert.True(t, m.AllowsPlaceholder())

	_, err = ParseAuthMode("yolo")
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_MODE", "")
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("DEFAULT_MODEL", "")
	t.Setenv("FIRST_BYTE_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, AuthStrict, cfg.AuthMode)
	assert.Equal(t, "openrouter", cfg.AIProvider)
	assert.Equal(t, 30*time.Second, cfg.FirstByteTimeout)
	assert.Equal(t, "scam_reports", cfg.RabbitQueue)
}

func TestLoad_OllamaDefaultModel(t *testing.T) {
	t.Setenv("AI_PROVIDER", "ollama")
	t.Setenv("DEFAULT_MODEL", "")
	t.Setenv("OLLAMA_MODEL", "mistral")
	t.Setenv("FIRST_BYTE_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ollama/mistral", cfg.DefaultModel)
	assert.Equal(t, 5*time.Second, cfg.FirstByteTimeout)
}

func TestLoad_RejectsUnknownAuthMode(t *testing.T) {
	t.Setenv("AUTH_MODE", "open")
	_, err := Load()
	assert.Error(t, err)
}
