package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

// clearEnv unsets keys for the duration of the test, restoring originals via
// t.Setenv's cleanup.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadEnvFile_FeedsLoadFromEnv(t *testing.T) {
	clearEnv(t,
		"AUTOCALLY_ADDR",
		"AUTOCALLY_AUTH_MODE",
		"AUTOCALLY_LLM_PROVIDER",
		"AUTOCALLY_OPENAI_API_KEY",
		"AUTOCALLY_SPEECH_PACING",
	)
	path := writeEnvFile(t, `
# local development settings
AUTOCALLY_ADDR=:9090
AUTOCALLY_AUTH_MODE=disabled
export AUTOCALLY_LLM_PROVIDER="openai"
AUTOCALLY_OPENAI_API_KEY='sk-local'
AUTOCALLY_SPEECH_PACING = 0.8

not a key value line
`)

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.LLMProvider != "openai" || cfg.OpenAIAPIKey != "sk-local" {
		t.Fatalf("cfg = addr %q provider %q key %q", cfg.Addr, cfg.LLMProvider, cfg.OpenAIAPIKey)
	}
	if cfg.SpeechPacing != 0.8 {
		t.Fatalf("pacing = %v", cfg.SpeechPacing)
	}
}

func TestLoadEnvFile_EnvironmentWins(t *testing.T) {
	path := writeEnvFile(t, "AUTOCALLY_ADDR=:9090\n")
	t.Setenv("AUTOCALLY_ADDR", ":7070")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("AUTOCALLY_ADDR"); got != ":7070" {
		t.Fatalf("AUTOCALLY_ADDR = %q, want the pre-set value", got)
	}
}

func TestLoadEnvFile_MissingFileIsFine(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line     string
		key, val string
		wantSkip bool
	}{
		{line: "A=1", key: "A", val: "1"},
		{line: "export B=two", key: "B", val: "two"},
		{line: `C="quoted value"`, key: "C", val: "quoted value"},
		{line: "D='single'", key: "D", val: "single"},
		{line: "  E = spaced  ", key: "E", val: "spaced"},
		{line: "# comment", wantSkip: true},
		{line: "", wantSkip: true},
		{line: "no assignment here", wantSkip: true},
		{line: "=orphan", wantSkip: true},
	}
	for _, tc := range cases {
		key, val, ok := parseEnvLine(tc.line)
		if tc.wantSkip {
			if ok {
				t.Fatalf("%q: expected skip, got %q=%q", tc.line, key, val)
			}
			continue
		}
		if !ok || key != tc.key || val != tc.val {
			t.Fatalf("%q: got %q=%q ok=%v, want %q=%q", tc.line, key, val, ok, tc.key, tc.val)
		}
	}
}
