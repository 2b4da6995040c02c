// Package config loads the bridge's settings once at startup into an
// immutable struct, passed explicitly to every component constructor.
// There is no global configuration state anywhere else in the module.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the complete, immutable set of settings the bridge runs with.
type Config struct {
	// RTP leg
	RTPListenHost string
	RTPListenPort int

	// Call-control registrar HTTP surface
	RegistrarHost string
	RegistrarPort int

	// Metrics/health HTTP surface, kept separate from the registrar
	MetricsHost string
	MetricsPort int

	// Jitter and output buffers
	JitterTargetMS int
	JitterMaxFrames int
	OutputMaxFrames int

	// Voice activity detection and barge-in
	VADRMSThreshold float64
	BargeInFrames int

	// Realtime model connection
	RealtimeEndpoint string
	RealtimeAPIKey string
	RealtimeModel string
	RealtimeVoice string
	RealtimeInstructions string

	// Sample rates for the two legs
	TelephonySampleRateHz int
	ModelSampleRateHz int

	// Conversation transcript logging
	TranscriptLogDir string
	TranscriptLogOn bool

	// Call-control boundary (pkg/callcontrol) — optional; when disabled
	// the bridge only answers calls the PBX has already pointed at its
	// registrar, without driving channel/bridge lifecycle itself.
	CallControlEnabled bool
	CallControlBaseURL string

	DevMode bool
}

// defaults mirror the environment variable names and fallback values the
// original bridge documents.
func defaults() Config {
	return Config{
		RTPListenHost: "0.0.0.0",
		RTPListenPort: 40000,
		RegistrarHost: "0.0.0.0",
		RegistrarPort: 8888,
		MetricsHost: "0.0.0.0",
		MetricsPort: 9090,
		JitterTargetMS: 40,
		JitterMaxFrames: 200,
		OutputMaxFrames: 200,
		VADRMSThreshold: 0.08,
		BargeInFrames: 2,
		RealtimeEndpoint: "wss://api.openai.com/v1/realtime",
		RealtimeModel: "gpt-4o-realtime-preview",
		RealtimeVoice: "alloy",
		TelephonySampleRateHz: 8000,
		ModelSampleRateHz: 24000,
		TranscriptLogDir: "./transcripts",
		TranscriptLogOn: true,
		CallControlEnabled: false,
		CallControlBaseURL: "",
		DevMode: false,
	}
}

// Load reads environment variables over the documented defaults. It never
// panics; a malformed numeric or boolean value is reported as an error so
// startup fails loudly instead of running with a guessed value.
func Load() (Config, error) {
	cfg := defaults()

	var err error
	cfg.RTPListenHost = getString("VOICEBRIDGE_RTP_HOST", cfg.RTPListenHost)
	if cfg.RTPListenPort, err = getInt("VOICEBRIDGE_RTP_PORT", cfg.RTPListenPort); err != nil {
		return Config{}, err
	}
	cfg.RegistrarHost = getString("VOICEBRIDGE_REGISTRAR_HOST", cfg.RegistrarHost)
	if cfg.RegistrarPort, err = getInt("VOICEBRIDGE_REGISTRAR_PORT", cfg.RegistrarPort); err != nil {
		return Config{}, err
	}
	cfg.MetricsHost = getString("VOICEBRIDGE_METRICS_HOST", cfg.MetricsHost)
	if cfg.MetricsPort, err = getInt("VOICEBRIDGE_METRICS_PORT", cfg.MetricsPort); err != nil {
		return Config{}, err
	}
	if cfg.JitterTargetMS, err = getInt("VOICEBRIDGE_JITTER_TARGET_MS", cfg.JitterTargetMS); err != nil {
		return Config{}, err
	}
	if cfg.JitterMaxFrames, err = getInt("VOICEBRIDGE_JITTER_MAX_FRAMES", cfg.JitterMaxFrames); err != nil {
		return Config{}, err
	}
	if cfg.OutputMaxFrames, err = getInt("VOICEBRIDGE_OUTPUT_MAX_FRAMES", cfg.OutputMaxFrames); err != nil {
		return Config{}, err
	}
	if cfg.VADRMSThreshold, err = getFloat("VOICEBRIDGE_VAD_RMS_THRESHOLD", cfg.VADRMSThreshold); err != nil {
		return Config{}, err
	}
	if cfg.BargeInFrames, err = getInt("VOICEBRIDGE_BARGE_IN_FRAMES", cfg.BargeInFrames); err != nil {
		return Config{}, err
	}
	cfg.RealtimeEndpoint = getString("VOICEBRIDGE_REALTIME_ENDPOINT", cfg.RealtimeEndpoint)
	cfg.RealtimeAPIKey = getString("VOICEBRIDGE_REALTIME_API_KEY", cfg.RealtimeAPIKey)
	cfg.RealtimeModel = getString("VOICEBRIDGE_REALTIME_MODEL", cfg.RealtimeModel)
	cfg.RealtimeVoice = getString("VOICEBRIDGE_REALTIME_VOICE", cfg.RealtimeVoice)
	cfg.RealtimeInstructions = getString("VOICEBRIDGE_REALTIME_INSTRUCTIONS", cfg.RealtimeInstructions)

	if cfg.TelephonySampleRateHz, err = getInt("VOICEBRIDGE_TELEPHONY_RATE_HZ", cfg.TelephonySampleRateHz); err != nil {
		return Config{}, err
	}
	if cfg.ModelSampleRateHz, err = getInt("VOICEBRIDGE_MODEL_RATE_HZ", cfg.ModelSampleRateHz); err != nil {
		return Config{}, err
	}
	cfg.TranscriptLogDir = getString("VOICEBRIDGE_TRANSCRIPT_DIR", cfg.TranscriptLogDir)
	if cfg.TranscriptLogOn, err = getBool("VOICEBRIDGE_TRANSCRIPT_ENABLED", cfg.TranscriptLogOn); err != nil {
		return Config{}, err
	}
	if cfg.DevMode, err = getBool("VOICEBRIDGE_DEV", cfg.DevMode); err != nil {
		return Config{}, err
	}
	if cfg.CallControlEnabled, err = getBool("VOICEBRIDGE_CALLCONTROL_ENABLED", cfg.CallControlEnabled); err != nil {
		return Config{}, err
	}
	cfg.CallControlBaseURL = getString("VOICEBRIDGE_CALLCONTROL_BASE_URL", cfg.CallControlBaseURL)

	if cfg.RealtimeAPIKey == "" {
		return Config{}, fmt.Errorf("config: VOICEBRIDGE_REALTIME_API_KEY is required")
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number: %w", key, err)
	}
	return f, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean: %w", key, err)
	}
	return b, nil
}
