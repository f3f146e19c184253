package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all stepwise configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProviderConfig    `yaml:"providers"`
	Tools       ToolsConfig       `yaml:"tools"`
	Loop        LoopConfig        `yaml:"loop"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Events      EventsConfig      `yaml:"events"`
	Archive     ArchiveConfig     `yaml:"archive"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Bind         string        `yaml:"bind"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RateLimit is requests per second on /api/v1/iterate; 0 disables.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// JWTSecret enables HMAC bearer auth when non-empty.
	JWTSecret    string `yaml:"jwt_secret"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// ProviderSettings configures one model provider family.
type ProviderSettings struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ProviderConfig configures the model providers.
type ProviderConfig struct {
	Anthropic  ProviderSettings `yaml:"anthropic"`
	OpenAI     ProviderSettings `yaml:"openai"`
	OpenRouter ProviderSettings `yaml:"openrouter"`
	Google     ProviderSettings `yaml:"google"`
	Ollama     ProviderSettings `yaml:"ollama"`
	Timeout    time.Duration    `yaml:"timeout"`
	MaxTokens  int              `yaml:"max_tokens"`
}

// ToolsConfig maps tool names to collaborator endpoints.
type ToolsConfig struct {
	Endpoints       map[string]string        `yaml:"endpoints"`
	Timeout         time.Duration            `yaml:"timeout"`
	PerToolTimeouts map[string]time.Duration `yaml:"per_tool_timeouts"`
	MaxParallel     int                      `yaml:"max_parallel"`
}

// LoopConfig tunes the loop detector.
type LoopConfig struct {
	Window    int `yaml:"window"`
	Threshold int `yaml:"threshold"`
}

// DiagnosticsConfig toggles debugging aids.
type DiagnosticsConfig struct {
	NetworkLogs bool `yaml:"network_logs"`
	CountTokens bool `yaml:"count_tokens"`
}

// LoggingConfig sets the structured log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Tracing     bool   `yaml:"tracing"`
	ServiceName string `yaml:"service_name"`
}

// EventsConfig configures iteration event publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ArchiveConfig configures the iteration archive. An empty path disables it.
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

var providerOrder = []string{"anthropic", "openai", "openrouter", "google", "ollama"}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:         "127.0.0.1:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			RateLimit:    10,
			RateBurst:    20,
			MaxBodyBytes: 10 << 20,
		},
		Providers: ProviderConfig{
			Anthropic:  ProviderSettings{Enabled: true},
			OpenAI:     ProviderSettings{Enabled: true},
			OpenRouter: ProviderSettings{Enabled: true},
			Google:     ProviderSettings{Enabled: true},
			Ollama:     ProviderSettings{Enabled: false, BaseURL: "http://localhost:11434"},
			Timeout:    2 * time.Minute,
			MaxTokens:  4096,
		},
		Tools: ToolsConfig{
			Endpoints:       map[string]string{},
			Timeout:         60 * time.Second,
			PerToolTimeouts: map[string]time.Duration{},
		},
		Loop: LoopConfig{
			Window:    5,
			Threshold: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stepwise",
		},
		Events: EventsConfig{
			SubjectPrefix: "stepwise",
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.stepwise/config.yaml, ./.stepwise/config.yaml, then env.
func Load() (*Config, error) {
	return load("")
}

// LoadFromPath loads the default locations and then path on top. The file
// at path must exist.
func LoadFromPath(path string) (*Config, error) {
	return load(path)
}

func load(explicit string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".stepwise", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", ".stepwise", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	if explicit != "" {
		if err := loadAndMerge(cfg, explicit); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", explicit, err)
		}
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. configEnv
// holds values from ~/.stepwise/config.env and only fills provider keys
// that are still empty.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	setKey := func(p *ProviderSettings, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				p.APIKey = v
				p.Enabled = true
				return
			}
		}
		if p.APIKey != "" {
			return
		}
		for _, key := range keys {
			if v := configEnv[key]; v != "" {
				p.APIKey = v
				return
			}
		}
	}
	setKey(&cfg.Providers.Anthropic, "ANTHROPIC_API_KEY")
	setKey(&cfg.Providers.OpenAI, "OPENAI_API_KEY")
	setKey(&cfg.Providers.OpenRouter, "OPENROUTER_API_KEY")
	setKey(&cfg.Providers.Google, "GEMINI_API_KEY", "GOOGLE_API_KEY")

	if v := strings.TrimSpace(os.Getenv("OLLAMA_HOST")); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		cfg.Providers.Ollama.BaseURL = v
		cfg.Providers.Ollama.Enabled = true
	}
	if v, ok := envBool("STEPWISE_OLLAMA_ENABLED"); ok {
		cfg.Providers.Ollama.Enabled = v
	}

	if v := os.Getenv("STEPWISE_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("STEPWISE_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("STEPWISE_RATE_LIMIT")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("STEPWISE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("STEPWISE_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("STEPWISE_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if val, ok := envBool("STEPWISE_NETWORK_LOGS"); ok {
		cfg.Diagnostics.NetworkLogs = val
	}
	if val, ok := envBool("STEPWISE_COUNT_TOKENS"); ok {
		cfg.Diagnostics.CountTokens = val
	}
	if val, ok := envBool("STEPWISE_TRACING"); ok {
		cfg.Telemetry.Tracing = val
	}

	cfg.Archive.Path = expandHomeDir(cfg.Archive.Path)
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0, got %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be >= 1 when rate limiting is enabled, got %d", c.Server.RateBurst)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if c.Providers.Timeout < 0 {
		return fmt.Errorf("providers.timeout must not be negative")
	}
	for id, p := range c.Providers.All() {
		if p.BaseURL == "" {
			continue
		}
		if err := validateURL(p.BaseURL); err != nil {
			return fmt.Errorf("providers.%s.base_url: %w", id, err)
		}
	}

	if c.Tools.MaxParallel < 0 {
		return fmt.Errorf("tools.max_parallel must be >= 0, got %d", c.Tools.MaxParallel)
	}
	for _, name := range sortedKeys(c.Tools.Endpoints) {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("tools.endpoints contains an empty tool name")
		}
		if err := validateURL(c.Tools.Endpoints[name]); err != nil {
			return fmt.Errorf("tools.endpoints.%s: %w", name, err)
		}
	}
	for name, d := range c.Tools.PerToolTimeouts {
		if d < 0 {
			return fmt.Errorf("tools.per_tool_timeouts.%s must not be negative", name)
		}
	}

	if c.Loop.Window < 1 {
		return fmt.Errorf("loop.window must be >= 1, got %d", c.Loop.Window)
	}
	if c.Loop.Threshold < 2 || c.Loop.Threshold > c.Loop.Window {
		return fmt.Errorf("loop.threshold must be between 2 and loop.window (%d), got %d", c.Loop.Window, c.Loop.Threshold)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if c.Events.NATSURL != "" && strings.TrimSpace(c.Events.SubjectPrefix) == "" {
		return fmt.Errorf("events.subject_prefix is required when events.nats_url is set")
	}
	return nil
}

// ValidationWarnings returns non-fatal configuration concerns.
func (c *Config) ValidationWarnings() []string {
	var warnings []string

	if c.Providers.OpenRouter.APIKey != "" && os.Getenv("OPENROUTER_API_KEY") == "" {
		warnings = append(warnings, "SECURITY: OpenRouter API key is stored in config file. Consider using OPENROUTER_API_KEY environment variable instead.")
	}
	if c.Providers.OpenAI.APIKey != "" && os.Getenv("OPENAI_API_KEY") == "" {
		warnings = append(warnings, "SECURITY: OpenAI API key is stored in config file. Consider using OPENAI_API_KEY environment variable instead.")
	}
	if c.Providers.Anthropic.APIKey != "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		warnings = append(warnings, "SECURITY: Anthropic API key is stored in config file. Consider using ANTHROPIC_API_KEY environment variable instead.")
	}
	if c.Providers.Google.APIKey != "" && os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
		warnings = append(warnings, "SECURITY: Google API key is stored in config file. Consider using GEMINI_API_KEY environment variable instead.")
	}
	if c.Server.JWTSecret != "" && os.Getenv("STEPWISE_JWT_SECRET") == "" {
		warnings = append(warnings, "SECURITY: JWT secret is stored in config file. Consider using STEPWISE_JWT_SECRET environment variable instead.")
	}

	if !isLoopbackBindAddress(c.Server.Bind) && c.Server.JWTSecret == "" {
		warnings = append(warnings, fmt.Sprintf("SECURITY: server binds to %s without JWT authentication. Set server.jwt_secret or bind to a loopback address.", c.Server.Bind))
	}

	if c.Diagnostics.NetworkLogs {
		warnings = append(warnings, "SECURITY: Network request/response logging is enabled. Prompts and model output will appear in the logs; disable it when not actively debugging.")
	}
	if !c.Providers.HasReadyProvider() {
		warnings = append(warnings, "No model provider is ready. Set an API key (e.g. ANTHROPIC_API_KEY) or enable ollama.")
	}
	return warnings
}

// All returns every provider's settings keyed by provider id.
func (p *ProviderConfig) All() map[string]ProviderSettings {
	return map[string]ProviderSettings{
		"anthropic":  p.Anthropic,
		"openai":     p.OpenAI,
		"openrouter": p.OpenRouter,
		"google":     p.Google,
		"ollama":     p.Ollama,
	}
}

// ReadyProviders returns identifiers for providers that have usable configuration.
func (p *ProviderConfig) ReadyProviders() []string {
	var providers []string
	for _, providerID := range providerOrder {
		if p.ready(providerID) {
			providers = append(providers, providerID)
		}
	}
	return providers
}

// HasReadyProvider returns true when at least one provider can be used.
func (p *ProviderConfig) HasReadyProvider() bool {
	return len(p.ReadyProviders()) > 0
}

func (p *ProviderConfig) ready(providerID string) bool {
	settings, ok := p.All()[providerID]
	if !ok || !settings.Enabled {
		return false
	}
	if providerID == "ollama" {
		return true
	}
	return settings.APIKey != ""
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// loadConfigEnvVars reads ~/.stepwise/config.env, a dotenv file of provider
// keys kept outside the YAML config.
func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	vars, err := godotenv.Read(filepath.Join(home, ".stepwise", "config.env"))
	if err != nil {
		return nil
	}
	return vars
}
