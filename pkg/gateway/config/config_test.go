package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("AUTOCALLY_AUTH_MODE", "disabled")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.LLMProvider != "gemini" {
		t.Fatalf("LLMProvider = %q", cfg.LLMProvider)
	}
	if cfg.TTSEncoding != "pcm_f32le" || cfg.TTSSampleRate != 22050 {
		t.Fatalf("TTS defaults = %q/%d", cfg.TTSEncoding, cfg.TTSSampleRate)
	}
	if cfg.SpeechPacing != 0.9 {
		t.Fatalf("SpeechPacing = %v", cfg.SpeechPacing)
	}
	if cfg.STTModel != "nova-2-general" || cfg.STTSampleRate != 16000 {
		t.Fatalf("STT defaults = %q/%d", cfg.STTModel, cfg.STTSampleRate)
	}
	if cfg.SessionIdleTTL != 15*time.Minute {
		t.Fatalf("SessionIdleTTL = %v", cfg.SessionIdleTTL)
	}
	if !cfg.RunMigrations {
		t.Fatal("RunMigrations should default to true")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("AUTOCALLY_AUTH_MODE", "required")
	t.Setenv("AUTOCALLY_API_KEYS", "k1, k2 ,,k3")
	t.Setenv("AUTOCALLY_ADDR", ":9999")
	t.Setenv("AUTOCALLY_LLM_PROVIDER", "openai")
	t.Setenv("AUTOCALLY_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("AUTOCALLY_SPEECH_PACING", "0.5")
	t.Setenv("AUTOCALLY_SESSION_IDLE_TTL", "2m")
	t.Setenv("AUTOCALLY_RUN_MIGRATIONS", "false")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if len(cfg.APIKeys) != 3 {
		t.Fatalf("APIKeys = %v", cfg.APIKeys)
	}
	if _, ok := cfg.APIKeys["k2"]; !ok {
		t.Fatal("k2 should be trimmed and kept")
	}
	if cfg.LLMProvider != "openai" || cfg.LLMModel != "gpt-4o-mini" {
		t.Fatalf("LLM = %q/%q", cfg.LLMProvider, cfg.LLMModel)
	}
	if cfg.SpeechPacing != 0.5 {
		t.Fatalf("SpeechPacing = %v", cfg.SpeechPacing)
	}
	if cfg.SessionIdleTTL != 2*time.Minute {
		t.Fatalf("SessionIdleTTL = %v", cfg.SessionIdleTTL)
	}
	if cfg.RunMigrations {
		t.Fatal("RunMigrations should be off")
	}
}

func TestLoadFromEnvValidation(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "required auth without keys",
			env:     map[string]string{"AUTOCALLY_AUTH_MODE": "required"},
			wantErr: "AUTOCALLY_API_KEYS",
		},
		{
			name:    "bad auth mode",
			env:     map[string]string{"AUTOCALLY_AUTH_MODE": "sometimes"},
			wantErr: "AUTOCALLY_AUTH_MODE",
		},
		{
			name: "bad llm provider",
			env: map[string]string{
				"AUTOCALLY_AUTH_MODE":    "disabled",
				"AUTOCALLY_LLM_PROVIDER": "llama",
			},
			wantErr: "AUTOCALLY_LLM_PROVIDER",
		},
		{
			name: "pacing above one",
			env: map[string]string{
				"AUTOCALLY_AUTH_MODE":     "disabled",
				"AUTOCALLY_SPEECH_PACING": "1.5",
			},
			wantErr: "AUTOCALLY_SPEECH_PACING",
		},
		{
			name: "zero idle ttl",
			env: map[string]string{
				"AUTOCALLY_AUTH_MODE":        "disabled",
				"AUTOCALLY_SESSION_IDLE_TTL": "0s",
			},
			wantErr: "AUTOCALLY_SESSION_IDLE_TTL",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}
