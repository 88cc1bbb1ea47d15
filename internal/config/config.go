// Package config handles Weekend Wizard configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/wizard/config.yaml, /etc/wizard/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wizard", "config.yaml"))
	}

	paths = append(paths, "/etc/wizard/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Weekend Wizard configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Models      ModelsConfig      `yaml:"models"`
	Agent       AgentConfig       `yaml:"agent"`
	Tools       ToolsConfig       `yaml:"tools"`
	Preferences PreferencesConfig `yaml:"preferences"`
	MCP         MCPConfig         `yaml:"mcp"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig selects the decision model and its providers.
type ModelsConfig struct {
	Default     string        `yaml:"default"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	MaxTokens   int           `yaml:"max_tokens"`
	OllamaURL   string        `yaml:"ollama_url"`
	OpenAI      OpenAIConfig  `yaml:"openai"`
	Available   []ModelConfig `yaml:"available"`
	// HealthPollSec is how often serve re-probes providers (0 = 60s).
	HealthPollSec int `yaml:"health_poll_sec"`
}

// HealthPollInterval returns the provider probe interval.
func (m ModelsConfig) HealthPollInterval() time.Duration {
	return time.Duration(m.HealthPollSec) * time.Second
}

// Providers returns the distinct providers serving the default model
// and every model in models.available.
func (c *Config) Providers() []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	add(c.ProviderFor(c.Models.Default))
	for _, m := range c.Models.Available {
		add(m.Provider)
	}
	return out
}

// OpenAIConfig points at any OpenAI-compatible chat completions API
// (OpenAI, Groq, Cerebras, ...).
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ModelConfig binds a model name to a provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai or ollama
}

// AgentConfig holds the orchestration loop policy.
type AgentConfig struct {
	MaxSteps           int    `yaml:"max_steps"`
	AllowRepeats       bool   `yaml:"allow_repeats"`
	InferRequiredTools bool   `yaml:"infer_required_tools"`
	MalformedRetries   int    `yaml:"malformed_retries"`
	MaxPromptChars     int    `yaml:"max_prompt_chars"`
	SystemPromptFile   string `yaml:"system_prompt_file"`
	// DecisionTimeoutSec bounds a single model call (0 = no limit beyond ctx).
	DecisionTimeoutSec int               `yaml:"decision_timeout_sec"`
	Compression        CompressionConfig `yaml:"compression"`
}

// DecisionTimeout returns the per-decision timeout.
func (a AgentConfig) DecisionTimeout() time.Duration {
	return time.Duration(a.DecisionTimeoutSec) * time.Second
}

// CompressionConfig configures the auxiliary input compression call.
type CompressionConfig struct {
	Model       string  `yaml:"model"` // empty = models.default
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ToolsConfig holds retry policy and builtin tool endpoints.
type ToolsConfig struct {
	TimeoutSec       int           `yaml:"timeout_sec"`
	RetryCount       int           `yaml:"retry_count"`
	RetryBaseDelayMs int           `yaml:"retry_base_delay_ms"`
	RetryJitter      float64       `yaml:"retry_jitter"`
	Weekend          WeekendConfig `yaml:"weekend"`
}

// Timeout returns the per-call tool timeout.
func (t ToolsConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSec) * time.Second
}

// RetryBaseDelay returns the first backoff interval.
func (t ToolsConfig) RetryBaseDelay() time.Duration {
	return time.Duration(t.RetryBaseDelayMs) * time.Millisecond
}

// WeekendConfig configures the builtin leisure tools.
type WeekendConfig struct {
	Enabled         bool   `yaml:"enabled"`
	GeocodingURL    string `yaml:"geocoding_url"`
	GeocodingCount  int    `yaml:"geocoding_count"`
	WeatherURL      string `yaml:"weather_url"`
	WeatherCurrent  string `yaml:"weather_current"`
	WeatherTimezone string `yaml:"weather_timezone"`
	BooksURL        string `yaml:"books_url"`
	BookRecsLimit   int    `yaml:"book_recs_limit"`
	DogURL          string `yaml:"dog_url"`
	TriviaURL       string `yaml:"trivia_url"`
	TriviaAmount    int    `yaml:"trivia_amount"`
	TriviaType      string `yaml:"trivia_type"`
}

// PreferencesConfig selects the preference store backend.
type PreferencesConfig struct {
	Backend string   `yaml:"backend"` // file, sqlite or none
	Path    string   `yaml:"path"`
	Genres  []string `yaml:"genres"`
}

// MCPConfig lists external MCP servers whose tools join the registry.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one MCP server connection.
type MCPServerConfig struct {
	Name         string            `yaml:"name"`
	Transport    string            `yaml:"transport"` // stdio or http
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args"`
	Env          []string          `yaml:"env"`
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	ToolPrefix   string            `yaml:"tool_prefix"`
	IncludeTools []string          `yaml:"include_tools"`
	ExcludeTools []string          `yaml:"exclude_tools"`
}

// MQTTConfig configures the optional cycle-event publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883; empty disables
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`
	TopicPrefix string `yaml:"topic_prefix"`

	// DiscoveryPrefix enables Home Assistant discovery when non-empty.
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// Configured reports whether a broker is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// DefaultGenres is the genre vocabulary used for preference learning.
var DefaultGenres = []string{
	"sci-fi", "science fiction", "fantasy", "romance",
	"mystery", "thriller", "history", "philosophy",
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, and keys absent from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults fills values an explicit file may have zeroed.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.Models.Default == "" {
		c.Models.Default = d.Models.Default
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = d.Models.OllamaURL
	}
	if c.Agent.Compression.MaxTokens == 0 {
		c.Agent.Compression.MaxTokens = d.Agent.Compression.MaxTokens
	}
	if c.Preferences.Backend == "" {
		c.Preferences.Backend = d.Preferences.Backend
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = d.MQTT.DeviceName
	}
}

// Validate checks documented minimums and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	if c.Agent.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("agent.max_steps must be >= 1, got %d", c.Agent.MaxSteps))
	}
	if c.Agent.MalformedRetries < 0 {
		errs = append(errs, fmt.Errorf("agent.malformed_retries must be >= 0, got %d", c.Agent.MalformedRetries))
	}
	if c.Agent.MaxPromptChars < 0 {
		errs = append(errs, fmt.Errorf("agent.max_prompt_chars must be >= 0, got %d", c.Agent.MaxPromptChars))
	}
	if c.Tools.RetryCount < 1 {
		errs = append(errs, fmt.Errorf("tools.retry_count must be >= 1, got %d", c.Tools.RetryCount))
	}
	if c.Tools.TimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("tools.timeout_sec must be >= 1, got %d", c.Tools.TimeoutSec))
	}
	if c.Tools.RetryBaseDelayMs < 0 {
		errs = append(errs, fmt.Errorf("tools.retry_base_delay_ms must be >= 0, got %d", c.Tools.RetryBaseDelayMs))
	}
	if c.Tools.RetryJitter < 0 || c.Tools.RetryJitter >= 1 {
		errs = append(errs, fmt.Errorf("tools.retry_jitter must be in [0, 1), got %v", c.Tools.RetryJitter))
	}
	if c.Models.HealthPollSec < 0 {
		errs = append(errs, fmt.Errorf("models.health_poll_sec must be >= 0, got %d", c.Models.HealthPollSec))
	}
	if c.Models.Temperature < 0 || c.Models.Temperature > 2 {
		errs = append(errs, fmt.Errorf("models.temperature must be in [0, 2], got %v", c.Models.Temperature))
	}

	switch c.Preferences.Backend {
	case "file", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("preferences.backend must be file, sqlite or none, got %q", c.Preferences.Backend))
	}

	for _, m := range c.Models.Available {
		switch m.Provider {
		case "openai", "ollama":
		default:
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider))
		}
	}
	if c.ProviderFor(c.Models.Default) == "openai" && c.Models.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("models.openai.api_key is required for the openai provider"))
	}

	for i, s := range c.MCP.Servers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: name is required", i))
		}
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				errs = append(errs, fmt.Errorf("mcp server %q: command is required for stdio", s.Name))
			}
		case "http":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("mcp server %q: url is required for http", s.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("mcp server %q: transport must be stdio or http", s.Name))
		}
	}

	return errors.Join(errs...)
}

// ProviderFor returns the provider serving model. Models not listed in
// models.available use the openai provider when an API key is present
// and ollama otherwise.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Models.Available {
		if m.Name == model {
			return m.Provider
		}
	}
	if c.Models.OpenAI.APIKey != "" || strings.TrimSpace(c.Models.OpenAI.BaseURL) != "" {
		return "openai"
	}
	return "ollama"
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Default:     "qwen-3-32b",
			Temperature: 0.2,
			TopP:        0.9,
			OllamaURL:   "http://localhost:11434",
		},
		Agent: AgentConfig{
			MaxSteps:       8,
			AllowRepeats:   true,
			MaxPromptChars: 8000,
			Compression: CompressionConfig{
				Temperature: 0.1,
				MaxTokens:   300,
			},
		},
		Tools: ToolsConfig{
			TimeoutSec:       15,
			RetryCount:       3,
			RetryBaseDelayMs: 1000,
			Weekend: WeekendConfig{
				Enabled:         true,
				GeocodingURL:    "https://geocoding-api.open-meteo.com/v1/search",
				GeocodingCount:  1,
				WeatherURL:      "https://api.open-meteo.com/v1/forecast",
				WeatherCurrent:  "temperature_2m,weather_code,wind_speed_10m",
				WeatherTimezone: "auto",
				BooksURL:        "https://www.googleapis.com/books/v1/volumes",
				BookRecsLimit:   5,
				DogURL:          "https://dog.ceo/api/breeds/image/random",
				TriviaURL:       "https://opentdb.com/api.php",
				TriviaAmount:    1,
				TriviaType:      "multiple",
			},
		},
		Preferences: PreferencesConfig{
			Backend: "file",
			Path:    "preferences.json",
			Genres:  append([]string(nil), DefaultGenres...),
		},
		MQTT: MQTTConfig{
			DeviceName:      "wizard",
			TopicPrefix:     "wizard",
			DiscoveryPrefix: "homeassistant",
		},
		DataDir: "./data",
	}
}
