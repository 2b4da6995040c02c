package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresAPIKey(t *testing.T) {
	t.Setenv("VOICEBRIDGE_REALTIME_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	t.Setenv("VOICEBRIDGE_REALTIME_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 40000, cfg.RTPListenPort)
	assert.Equal(t, 8888, cfg.RegistrarPort)
	assert.Equal(t, 40, cfg.JitterTargetMS)
	assert.Equal(t, 0.08, cfg.VADRMSThreshold)
}

func TestLoad_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("VOICEBRIDGE_REALTIME_API_KEY", "test-key")
	t.Setenv("VOICEBRIDGE_RTP_PORT", "50000")
	t.Setenv("VOICEBRIDGE_BARGE_IN_FRAMES", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50000, cfg.RTPListenPort)
	assert.Equal(t, 3, cfg.BargeInFrames)
}

func TestLoad_RejectsMalformedInteger(t *testing.T) {
	t.Setenv("VOICEBRIDGE_REALTIME_API_KEY", "test-key")
	t.Setenv("VOICEBRIDGE_RTP_PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
