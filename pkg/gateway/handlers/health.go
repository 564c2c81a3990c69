package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/autocally/autocally/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the server configuration is coherent enough
// to take calls.
type ReadyHandler struct {
	Config config.Config
	// ActiveCalls reports live registry size; optional.
	ActiveCalls func() int
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		AuthMode    string   `json:"auth_mode"`
		LLMProvider string   `json:"llm_provider"`
		Persistent  bool     `json:"persistent"`
		ActiveCalls int      `json:"active_calls"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}

	switch h.Config.LLMProvider {
	case "gemini":
		if h.Config.GeminiAPIKey == "" {
			issues = append(issues, "llm_provider=gemini but no gemini api key configured")
		}
	case "openai":
		if h.Config.OpenAIAPIKey == "" {
			issues = append(issues, "llm_provider=openai but no openai api key configured")
		}
	default:
		issues = append(issues, "invalid llm_provider")
	}

	if h.Config.DeepgramAPIKey == "" {
		issues = append(issues, "no deepgram api key configured")
	}
	if h.Config.CartesiaAPIKey == "" {
		issues = append(issues, "no cartesia api key configured")
	}
	if h.Config.SpeechPacing <= 0 || h.Config.SpeechPacing > 1 {
		issues = append(issues, "speech pacing must be in (0, 1]")
	}
	if h.Config.SessionIdleTTL <= 0 || h.Config.SessionSweepInterval <= 0 {
		issues = append(issues, "session eviction intervals must be > 0")
	}

	active := 0
	if h.ActiveCalls != nil {
		active = h.ActiveCalls()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:          ok,
		AuthMode:    string(h.Config.AuthMode),
		LLMProvider: h.Config.LLMProvider,
		Persistent:  h.Config.DatabaseURL != "",
		ActiveCalls: active,
		Issues:      issues,
	})
}
