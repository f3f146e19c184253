package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/stepwise/pkg/config"
)

// isolate points HOME and the working directory at empty temp dirs and
// clears provider env vars so host settings cannot leak in.
func isolate(t *testing.T) (home, project string) {
	t.Helper()
	home = t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
		"OLLAMA_HOST", "STEPWISE_BIND", "STEPWISE_LOG_LEVEL", "STEPWISE_NATS_URL", "STEPWISE_ARCHIVE_PATH",
		"STEPWISE_JWT_SECRET", "STEPWISE_NETWORK_LOGS", "STEPWISE_OLLAMA_ENABLED", "STEPWISE_RATE_LIMIT",
		"STEPWISE_COUNT_TOKENS", "STEPWISE_TRACING",
	} {
		t.Setenv(key, "")
	}

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(project); err != nil {
		t.Fatalf("chdir project: %v", err)
	}
	return home, project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Loop.Window != 5 || cfg.Loop.Threshold != 3 {
		t.Fatalf("unexpected loop defaults: %+v", cfg.Loop)
	}
	if cfg.Tools.MaxParallel != 0 {
		t.Fatalf("dispatch should be unbounded by default, got %d", cfg.Tools.MaxParallel)
	}
	if cfg.Providers.HasReadyProvider() {
		t.Fatalf("no provider should be ready without keys: %v", cfg.Providers.ReadyProviders())
	}
}

func TestLoadHierarchy(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, filepath.Join(home, ".stepwise", "config.yaml"), `
server:
  bind: 127.0.0.1:9000
tools:
  endpoints:
    get_time: http://tools.local/time
    web_search: http://tools.local/search
loop:
  window: 6
`)
	writeFile(t, filepath.Join(project, ".stepwise", "config.yaml"), `
tools:
  endpoints:
    web_search: http://project.local/search
  per_tool_timeouts:
    web_search: 90s
loop:
  threshold: 4
`)
	t.Setenv("STEPWISE_BIND", "127.0.0.1:7000")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Server.Bind != "127.0.0.1:7000" {
		t.Fatalf("expected env bind override, got %s", cfg.Server.Bind)
	}
	if got := cfg.Tools.Endpoints["get_time"]; got != "http://tools.local/time" {
		t.Fatalf("expected user get_time endpoint, got %q", got)
	}
	if got := cfg.Tools.Endpoints["web_search"]; got != "http://project.local/search" {
		t.Fatalf("expected project web_search endpoint, got %q", got)
	}
	if got := cfg.Tools.PerToolTimeouts["web_search"]; got != 90*time.Second {
		t.Fatalf("expected 90s web_search timeout, got %v", got)
	}
	if cfg.Loop.Window != 6 || cfg.Loop.Threshold != 4 {
		t.Fatalf("expected merged loop config, got %+v", cfg.Loop)
	}
	if cfg.Server.RateBurst != 20 {
		t.Fatalf("untouched defaults should survive, got burst %d", cfg.Server.RateBurst)
	}
	if cfg.Providers.Anthropic.APIKey != "env-key" {
		t.Fatalf("expected anthropic key from env")
	}
	if ready := cfg.Providers.ReadyProviders(); len(ready) != 1 || ready[0] != "anthropic" {
		t.Fatalf("unexpected ready providers: %v", ready)
	}
}

func TestLoadFromPathLayersOnTop(t *testing.T) {
	_, project := isolate(t)

	writeFile(t, filepath.Join(project, ".stepwise", "config.yaml"), "logging:\n  level: warn\n")
	explicit := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, explicit, "logging:\n  level: debug\narchive:\n  path: /tmp/stepwise.db\n")

	cfg, err := config.LoadFromPath(explicit)
	if err != nil {
		t.Fatalf("LoadFromPath returned error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected explicit file to win, got %s", cfg.Logging.Level)
	}
	if cfg.Archive.Path != "/tmp/stepwise.db" {
		t.Fatalf("unexpected archive path %q", cfg.Archive.Path)
	}

	if _, err := config.LoadFromPath(filepath.Join(project, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestEnvOverrides(t *testing.T) {
	home, _ := isolate(t)

	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("OLLAMA_HOST", "ollama.internal:11434")
	t.Setenv("STEPWISE_NETWORK_LOGS", "yes")
	t.Setenv("STEPWISE_ARCHIVE_PATH", "~/archive.db")
	t.Setenv("STEPWISE_LOG_LEVEL", "DEBUG")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Providers.Google.APIKey != "google-key" || !cfg.Providers.Google.Enabled {
		t.Fatalf("expected google enabled from GOOGLE_API_KEY: %+v", cfg.Providers.Google)
	}
	if cfg.Providers.Ollama.BaseURL != "http://ollama.internal:11434" || !cfg.Providers.Ollama.Enabled {
		t.Fatalf("expected ollama from OLLAMA_HOST: %+v", cfg.Providers.Ollama)
	}
	if !cfg.Diagnostics.NetworkLogs {
		t.Fatalf("expected network logs enabled")
	}
	if cfg.Archive.Path != filepath.Join(home, "archive.db") {
		t.Fatalf("expected home expansion, got %q", cfg.Archive.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected lowercased level, got %q", cfg.Logging.Level)
	}
}

func TestGeminiKeyTakesPrecedence(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "gemini")
	t.Setenv("GOOGLE_API_KEY", "google")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Providers.Google.APIKey != "gemini" {
		t.Fatalf("expected GEMINI_API_KEY to win, got %q", cfg.Providers.Google.APIKey)
	}
}

func TestConfigEnvFileFillsMissingKeys(t *testing.T) {
	home, _ := isolate(t)
	writeFile(t, filepath.Join(home, ".stepwise", "config.env"), "# provider keys\nexport OPENROUTER_API_KEY=\"from-file\"\n")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Providers.OpenRouter.APIKey != "from-file" {
		t.Fatalf("expected key from config.env, got %q", cfg.Providers.OpenRouter.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"empty bind", func(c *config.Config) { c.Server.Bind = "" }, "server.bind"},
		{"negative rate", func(c *config.Config) { c.Server.RateLimit = -1 }, "rate_limit"},
		{"zero burst", func(c *config.Config) { c.Server.RateBurst = 0 }, "rate_burst"},
		{"bad endpoint", func(c *config.Config) { c.Tools.Endpoints["x"] = "ftp://nope" }, "tools.endpoints.x"},
		{"relative endpoint", func(c *config.Config) { c.Tools.Endpoints["y"] = "/just/a/path" }, "tools.endpoints.y"},
		{"negative parallel", func(c *config.Config) { c.Tools.MaxParallel = -2 }, "max_parallel"},
		{"threshold above window", func(c *config.Config) { c.Loop.Threshold = 9 }, "loop.threshold"},
		{"zero window", func(c *config.Config) { c.Loop.Window = 0 }, "loop.window"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "verbose" }, "logging level"},
		{"bad provider url", func(c *config.Config) { c.Providers.OpenAI.BaseURL = "not a url" }, "providers.openai.base_url"},
		{"nats without prefix", func(c *config.Config) {
			c.Events.NATSURL = "nats://localhost:4222"
			c.Events.SubjectPrefix = ""
		}, "subject_prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInvalidProjectConfigFailsLoad(t *testing.T) {
	_, project := isolate(t)
	writeFile(t, filepath.Join(project, ".stepwise", "config.yaml"), "loop:\n  threshold: 1\n")

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected validation failure")
	}
}

func TestRemoteBindWithoutAuthWarns(t *testing.T) {
	t.Setenv("STEPWISE_JWT_SECRET", "")
	cfg := config.DefaultConfig()
	cfg.Server.Bind = "0.0.0.0:8080"

	found := false
	for _, w := range cfg.ValidationWarnings() {
		if strings.Contains(w, "without JWT authentication") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected remote bind warning, got %v", cfg.ValidationWarnings())
	}

	cfg.Server.Bind = "localhost:8080"
	for _, w := range cfg.ValidationWarnings() {
		if strings.Contains(w, "without JWT authentication") {
			t.Fatalf("loopback bind should not warn: %s", w)
		}
	}
}
