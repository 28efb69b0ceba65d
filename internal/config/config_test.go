package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilworks/anvil/internal/llm"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Empty(t, cfg.Provider)
	assert.Equal(t, llm.DefaultOllamaURL, cfg.OllamaURL)
	assert.Equal(t, llm.DefaultTemperature, cfg.Temperature)
	assert.Equal(t, llm.DefaultTopP, cfg.TopP)
	assert.Equal(t, llm.DefaultMaxTokens, cfg.MaxTokens)
	assert.Equal(t, 120, cfg.RequestTimeoutSec)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Equal(t, DefaultCommandTimeout, cfg.CommandTimeoutSec)
	assert.Equal(t, DefaultBuildAttempts, cfg.BuildAttempts)
	assert.True(t, cfg.Archive)
	assert.False(t, cfg.AutoApprove)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfigFile(t, `
model: gpt-4o
temperature: 0.7
build_attempts: 5
pty_commands:
  - top
  - htop
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// File values win over defaults.
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 5, cfg.BuildAttempts)
	assert.Equal(t, []string{"top", "htop"}, cfg.PTYCommands)

	// Untouched keys keep their defaults.
	assert.Equal(t, llm.DefaultTopP, cfg.TopP)
	assert.Equal(t, DefaultRetries, cfg.Retries)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfigFile(t, "model: gpt-4o\nretries: 5\n")
	t.Setenv("ANVIL_MODEL", "llama3")
	t.Setenv("ANVIL_PROVIDER", "ollama")
	t.Setenv("ANVIL_PTY_COMMANDS", "vim,less")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3", cfg.Model)
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, []string{"vim", "less"}, cfg.PTYCommands)
	// File value untouched by environment stays.
	assert.Equal(t, 5, cfg.Retries)
}

func TestLoadExpandsEnvVarsInYAML(t *testing.T) {
	t.Setenv("MY_ENDPOINT", "http://gateway.local:8080")
	path := writeConfigFile(t, "base_url: ${MY_ENDPOINT}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://gateway.local:8080", cfg.BaseURL)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	// Point HOME at an empty directory so no real user config interferes.
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Model)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "model: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"explicit provider", func(c *Config) { c.Provider = "Anthropic" }, true},
		{"unknown provider", func(c *Config) { c.Provider = "bard" }, false},
		{"empty model", func(c *Config) { c.Model = "" }, false},
		{"temperature too high", func(c *Config) { c.Temperature = 3 }, false},
		{"top_p zero", func(c *Config) { c.TopP = 0 }, false},
		{"negative max_tokens", func(c *Config) { c.MaxTokens = -1 }, false},
		{"zero retries", func(c *Config) { c.Retries = 0 }, false},
		{"zero build attempts", func(c *Config) { c.BuildAttempts = 0 }, false},
		{"window above cap", func(c *Config) { c.HistoryWindow = 30; c.HistoryCap = 20 }, false},
		{"window within cap", func(c *Config) { c.HistoryWindow = 5; c.HistoryCap = 20 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestResolvedProvider(t *testing.T) {
	cfg := Default()
	cfg.Model = "claude-sonnet-4-5"
	assert.Equal(t, llm.ProviderAnthropic, cfg.ResolvedProvider())

	cfg.Model = "gpt-4o"
	assert.Equal(t, llm.ProviderOpenAI, cfg.ResolvedProvider())

	cfg.Provider = "OLLAMA"
	assert.Equal(t, llm.ProviderOllama, cfg.ResolvedProvider())
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("CUSTOM_KEY", "custom-secret")

	cfg := Default()
	cfg.Model = "claude-sonnet-4-5"
	assert.Equal(t, "sk-ant-test", cfg.ResolveAPIKey())

	cfg.APIKeyEnv = "CUSTOM_KEY"
	assert.Equal(t, "custom-secret", cfg.ResolveAPIKey())

	cfg = Default()
	cfg.Provider = "ollama"
	assert.Empty(t, cfg.ResolveAPIKey())
}

func TestResolveBaseURL(t *testing.T) {
	cfg := Default()
	cfg.Provider = "ollama"
	assert.Equal(t, llm.DefaultOllamaURL, cfg.ResolveBaseURL())

	cfg.OllamaURL = "http://gpu-box:11434"
	assert.Equal(t, "http://gpu-box:11434", cfg.ResolveBaseURL())

	cfg = Default()
	cfg.Provider = "anthropic"
	assert.Empty(t, cfg.ResolveBaseURL())
	cfg.BaseURL = "http://proxy:9000"
	assert.Equal(t, "http://proxy:9000", cfg.ResolveBaseURL())
}

func TestParamsCarriesTimeout(t *testing.T) {
	cfg := Default()
	cfg.RequestTimeoutSec = 30
	p := cfg.Params()
	assert.Equal(t, cfg.Temperature, p.Temperature)
	assert.Equal(t, cfg.MaxTokens, p.MaxTokens)
	assert.Equal(t, "30s", p.Timeout.String())
}
