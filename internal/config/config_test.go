package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9999"
session:
  idle_timeout: 90s
turn:
  strict: false
  timeouts:
    listening: 12s
audio:
  vad_threshold: 0.02
  silence_duration: 800ms
stt:
  url: http://stt.local/transcribe
  max_attempts: 3
`)
	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 90*time.Second, cfg.Session.IdleTimeout)
	assert.False(t, cfg.Turn.Strict)
	assert.Equal(t, 12*time.Second, cfg.Turn.Timeouts.Listening)
	assert.Equal(t, 0.02, cfg.Audio.VADThreshold)
	assert.Equal(t, 800*time.Millisecond, cfg.Audio.SilenceDuration)
	assert.Equal(t, "http://stt.local/transcribe", cfg.STT.URL)
	assert.Equal(t, 3, cfg.STT.MaxAttempts)

	// Untouched keys keep defaults.
	assert.Equal(t, 30*time.Minute, cfg.Session.MaxDuration)
	assert.Equal(t, "lumi-warm", cfg.TTS.VoiceID)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "user:\n  id: from-file\n")
	t.Setenv("LUMI_USER_ID", "from-env")
	t.Setenv("LUMI_TTS_API_KEY", "secret")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.User.ID)
	assert.Equal(t, "secret", cfg.TTS.APIKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeConfig(t, "audio:\n  vad_threshold: 2\n")
	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vad_threshold")
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.IdleTimeout = 0
	cfg.STT.MaxAttempts = 0
	cfg.Reply.URL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle_timeout")
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "reply.url")
}

func TestYAML_OmitsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STT.APIKey = "stt-secret"
	cfg.Events.RedisPassword = "redis-secret"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, out, "stt-secret")
	assert.NotContains(t, out, "redis-secret")
	assert.Contains(t, out, "idle_timeout: 5m0s")
}
