// Package config layers anvil settings from three sources, later wins:
// built-in defaults, an optional YAML file (~/.config/anvil/config.yaml or
// --config), and ANVIL_* environment variables. Command-line flags are
// applied on top by the entrypoint. YAML values may reference environment
// variables with ${VAR} or $VAR syntax.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/anvilworks/anvil/internal/llm"
)

// envPrefix turns the field tags below into ANVIL_PROVIDER, ANVIL_MODEL, ...
const envPrefix = "anvil"

// Defaults for fields the provider packages don't default themselves.
const (
	DefaultModel          = "claude-sonnet-4-5"
	DefaultRetries        = 3
	DefaultCommandTimeout = 300
	DefaultBuildAttempts  = 3
	DefaultLogLevel       = "info"
	DefaultLogFile        = ".anvil/anvil.log"
)

// Config holds every tunable the session reads at startup. Durations are
// plain seconds so the YAML side stays numeric.
type Config struct {
	// Provider is anthropic, openai, or ollama. Empty means infer from the
	// model name (claude* selects anthropic, anything else openai).
	Provider string `yaml:"provider" envconfig:"PROVIDER"`
	Model    string `yaml:"model" envconfig:"MODEL"`

	// BaseURL overrides the hosted provider endpoint; OllamaURL is the local
	// server for the ollama provider.
	BaseURL   string `yaml:"base_url" envconfig:"BASE_URL"`
	OllamaURL string `yaml:"ollama_url" envconfig:"OLLAMA_URL"`

	// APIKeyEnv names the environment variable holding the provider key.
	// Empty selects the provider's conventional name (ANTHROPIC_API_KEY,
	// OPENAI_API_KEY).
	APIKeyEnv string `yaml:"api_key_env" envconfig:"API_KEY_ENV"`

	// Sampling parameters for every completion.
	Temperature float64 `yaml:"temperature" envconfig:"TEMPERATURE"`
	TopP        float64 `yaml:"top_p" envconfig:"TOP_P"`
	MaxTokens   int     `yaml:"max_tokens" envconfig:"MAX_TOKENS"`

	// RequestTimeoutSec bounds one completion call; Retries is how many
	// times a transport failure is attempted before giving up.
	RequestTimeoutSec int `yaml:"request_timeout_seconds" envconfig:"REQUEST_TIMEOUT_SECONDS"`
	Retries           int `yaml:"retries" envconfig:"RETRIES"`

	// CommandTimeoutSec bounds one approved shell command; BuildAttempts is
	// the fix-loop budget for a failing build command.
	CommandTimeoutSec int `yaml:"command_timeout_seconds" envconfig:"COMMAND_TIMEOUT_SECONDS"`
	BuildAttempts     int `yaml:"build_attempts" envconfig:"BUILD_ATTEMPTS"`

	// HistoryWindow turns ride in each prompt; at HistoryCap the stored
	// history is compacted back down to the window.
	HistoryWindow int `yaml:"history_window" envconfig:"HISTORY_WINDOW"`
	HistoryCap    int `yaml:"history_cap" envconfig:"HISTORY_CAP"`

	// FileListLimit bounds the project listing shown to the model and the
	// ls built-in.
	FileListLimit int `yaml:"file_list_limit" envconfig:"FILE_LIST_LIMIT"`

	// AutoApprove lets the safety policy wave through commands it allows;
	// file deletions always prompt regardless.
	AutoApprove bool `yaml:"auto_approve" envconfig:"AUTO_APPROVE"`

	// PolicyPath points at a Starlark policy file; empty uses the embedded
	// default policy.
	PolicyPath string `yaml:"policy" envconfig:"POLICY"`

	// PTYCommands run under a pseudo-terminal. Comma-separated in the
	// environment, a list in YAML.
	PTYCommands []string `yaml:"pty_commands" envconfig:"PTY_COMMANDS"`

	// Archive mirrors every history turn into .anvil/transcript.db.
	Archive bool `yaml:"archive" envconfig:"ARCHIVE"`

	// LogLevel is a zerolog level name. LogFile is resolved relative to the
	// project root when not absolute; empty disables the file sink.
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFile  string `yaml:"log_file" envconfig:"LOG_FILE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model:             DefaultModel,
		OllamaURL:         llm.DefaultOllamaURL,
		Temperature:       llm.DefaultTemperature,
		TopP:              llm.DefaultTopP,
		MaxTokens:         llm.DefaultMaxTokens,
		RequestTimeoutSec: int(llm.DefaultTimeout / time.Second),
		Retries:           DefaultRetries,
		CommandTimeoutSec: DefaultCommandTimeout,
		BuildAttempts:     DefaultBuildAttempts,
		HistoryWindow:     0, // 0 lets the store pick its own default
		HistoryCap:        0,
		FileListLimit:     0,
		Archive:           true,
		LogLevel:          DefaultLogLevel,
		LogFile:           DefaultLogFile,
	}
}

// DefaultPath returns ~/.config/anvil/config.yaml, or "" when the home
// directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "anvil", "config.yaml")
}

// Load builds the layered configuration. An explicit path must exist; the
// default path is optional. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal([]byte(expandEnvVars(string(raw))), cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
			// No config file is fine; defaults stand.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "", llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderOllama:
	default:
		return fmt.Errorf("config: unknown provider %q (anthropic, openai, ollama)", c.Provider)
	}
	if c.Model == "" {
		return errors.New("config: model must not be empty")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("config: temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.TopP <= 0 || c.TopP > 1 {
		return fmt.Errorf("config: top_p %v out of range (0, 1]", c.TopP)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("config: max_tokens %d must be positive", c.MaxTokens)
	}
	if c.RequestTimeoutSec <= 0 {
		return fmt.Errorf("config: request_timeout_seconds %d must be positive", c.RequestTimeoutSec)
	}
	if c.Retries < 1 {
		return fmt.Errorf("config: retries %d must be at least 1", c.Retries)
	}
	if c.CommandTimeoutSec <= 0 {
		return fmt.Errorf("config: command_timeout_seconds %d must be positive", c.CommandTimeoutSec)
	}
	if c.BuildAttempts < 1 {
		return fmt.Errorf("config: build_attempts %d must be at least 1", c.BuildAttempts)
	}
	if c.HistoryWindow < 0 || c.HistoryCap < 0 {
		return errors.New("config: history window and cap must not be negative")
	}
	if c.HistoryCap > 0 && c.HistoryWindow > c.HistoryCap {
		return fmt.Errorf("config: history_window %d exceeds history_cap %d", c.HistoryWindow, c.HistoryCap)
	}
	return nil
}

// ResolvedProvider returns the provider after model-name inference.
func (c *Config) ResolvedProvider() string {
	if p := strings.ToLower(c.Provider); p != "" {
		return p
	}
	return llm.InferProvider(c.Model)
}

// ResolveAPIKey reads the provider key from the environment. Ollama needs
// no key, so the ollama provider always resolves to "".
func (c *Config) ResolveAPIKey() string {
	name := c.APIKeyEnv
	if name == "" {
		switch c.ResolvedProvider() {
		case llm.ProviderAnthropic:
			name = "ANTHROPIC_API_KEY"
		case llm.ProviderOpenAI:
			name = "OPENAI_API_KEY"
		default:
			return ""
		}
	}
	return os.Getenv(name)
}

// ResolveBaseURL returns the endpoint override for the resolved provider.
func (c *Config) ResolveBaseURL() string {
	if c.ResolvedProvider() == llm.ProviderOllama {
		if c.BaseURL != "" {
			return c.BaseURL
		}
		return c.OllamaURL
	}
	return c.BaseURL
}

// Params returns the sampling parameters for completion requests.
func (c *Config) Params() llm.Params {
	return llm.Params{
		Temperature: c.Temperature,
		TopP:        c.TopP,
		MaxTokens:   c.MaxTokens,
		Timeout:     c.RequestTimeout(),
	}
}

// RequestTimeout returns the completion deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// CommandTimeout returns the shell command deadline as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSec) * time.Second
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR in the raw YAML with environment
// values. Missing variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
