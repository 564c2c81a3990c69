// Package config loads the call server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// Postgres DSN. Empty switches to the in-memory store (local dev).
	DatabaseURL string
	// RunMigrations applies embedded migrations at startup.
	RunMigrations bool

	// Vendor credentials.
	DeepgramAPIKey string
	CartesiaAPIKey string
	GeminiAPIKey   string
	OpenAIAPIKey   string
	OpenAIBaseURL  string

	// LLMProvider selects the dialogue backend: "gemini" or "openai".
	LLMProvider string
	LLMModel    string

	// Synthesized audio wire contract.
	TTSEncoding   string
	TTSSampleRate int
	// SampleWidthBytes is the size of one synthesized sample; drives pacing.
	SampleWidthBytes int

	// SpeechPacing is the fraction of a chunk's estimated playback duration
	// to wait between chunk emissions.
	SpeechPacing float64

	// STT session shape.
	STTModel      string
	STTLanguage   string
	STTEncoding   string
	STTSampleRate int

	// DefaultGreeting is spoken when an assistant has none configured.
	DefaultGreeting string

	// Call session eviction.
	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration

	// Websocket timeouts.
	WSWriteTimeout     time.Duration
	WSPingInterval     time.Duration
	WSMaxMessageBytes  int64
	WSHandshakeTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("AUTOCALLY_ADDR", ":8080"),
		AuthMode:             AuthMode(envOr("AUTOCALLY_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:              make(map[string]struct{}),
		DatabaseURL:          strings.TrimSpace(os.Getenv("AUTOCALLY_DATABASE_URL")),
		RunMigrations:        envBoolOr("AUTOCALLY_RUN_MIGRATIONS", true),
		DeepgramAPIKey:       strings.TrimSpace(os.Getenv("AUTOCALLY_DEEPGRAM_API_KEY")),
		CartesiaAPIKey:       strings.TrimSpace(os.Getenv("AUTOCALLY_CARTESIA_API_KEY")),
		GeminiAPIKey:         strings.TrimSpace(os.Getenv("AUTOCALLY_GEMINI_API_KEY")),
		OpenAIAPIKey:         strings.TrimSpace(os.Getenv("AUTOCALLY_OPENAI_API_KEY")),
		OpenAIBaseURL:        strings.TrimSpace(os.Getenv("AUTOCALLY_OPENAI_BASE_URL")),
		LLMProvider:          envOr("AUTOCALLY_LLM_PROVIDER", "gemini"),
		LLMModel:             envOr("AUTOCALLY_LLM_MODEL", "gemini-2.0-flash"),
		TTSEncoding:          envOr("AUTOCALLY_TTS_ENCODING", "pcm_f32le"),
		TTSSampleRate:        envIntOr("AUTOCALLY_TTS_SAMPLE_RATE", 22050),
		SampleWidthBytes:     envIntOr("AUTOCALLY_TTS_SAMPLE_WIDTH_BYTES", 4),
		SpeechPacing:         envFloat64Or("AUTOCALLY_SPEECH_PACING", 0.9),
		STTModel:             envOr("AUTOCALLY_STT_MODEL", "nova-2-general"),
		STTLanguage:          envOr("AUTOCALLY_STT_LANGUAGE", "en"),
		STTEncoding:          envOr("AUTOCALLY_STT_ENCODING", "linear16"),
		STTSampleRate:        envIntOr("AUTOCALLY_STT_SAMPLE_RATE", 16000),
		DefaultGreeting:      envOr("AUTOCALLY_DEFAULT_GREETING", "Hello! How can I help you today?"),
		SessionIdleTTL:       envDurationOr("AUTOCALLY_SESSION_IDLE_TTL", 15*time.Minute),
		SessionSweepInterval: envDurationOr("AUTOCALLY_SESSION_SWEEP_INTERVAL", time.Minute),
		WSWriteTimeout:       envDurationOr("AUTOCALLY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:       envDurationOr("AUTOCALLY_WS_PING_INTERVAL", 20*time.Second),
		WSMaxMessageBytes:    envInt64Or("AUTOCALLY_WS_MAX_MESSAGE_BYTES", 1<<20), // 1 MiB
		WSHandshakeTimeout:   envDurationOr("AUTOCALLY_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:    envDurationOr("AUTOCALLY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:          envDurationOr("AUTOCALLY_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:  envDurationOr("AUTOCALLY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("AUTOCALLY_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("AUTOCALLY_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	switch cfg.LLMProvider {
	case "gemini", "openai":
	default:
		return Config{}, fmt.Errorf("AUTOCALLY_LLM_PROVIDER must be gemini or openai")
	}
	if cfg.TTSSampleRate <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_TTS_SAMPLE_RATE must be > 0")
	}
	if cfg.SampleWidthBytes <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_TTS_SAMPLE_WIDTH_BYTES must be > 0")
	}
	if cfg.SpeechPacing <= 0 || cfg.SpeechPacing > 1 {
		return Config{}, fmt.Errorf("AUTOCALLY_SPEECH_PACING must be in (0, 1]")
	}
	if cfg.STTSampleRate <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_STT_SAMPLE_RATE must be > 0")
	}
	if cfg.SessionIdleTTL <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_SESSION_IDLE_TTL must be > 0")
	}
	if cfg.SessionSweepInterval <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_SESSION_SWEEP_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("AUTOCALLY_API_KEYS must be set when AUTOCALLY_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
