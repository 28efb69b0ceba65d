// anvil is an interactive development assistant: it keeps a durable project
// context, proposes file and command actions through an LLM, and applies
// them only after operator confirmation.
//
// Usage:
//
//	anvil                          Start a session in the current directory
//	anvil -m "add a Makefile"      Dispatch an utterance, then stay interactive
//	anvil --dir ~/src/proj         Work on another project root
//	anvil --model gpt-4o           Use a specific model
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/anvilworks/anvil/internal/cli"
	"github.com/anvilworks/anvil/internal/config"
	"github.com/anvilworks/anvil/internal/fileop"
	"github.com/anvilworks/anvil/internal/llm"
	"github.com/anvilworks/anvil/internal/project"
	"github.com/anvilworks/anvil/internal/safety"
	"github.com/anvilworks/anvil/internal/shell"
)

func main() {
	message := flag.String("m", "", "Initial utterance to dispatch")
	message2 := flag.String("message", "", "Initial utterance (alias for -m)")
	configPath := flag.String("config", "", "Config file (default ~/.config/anvil/config.yaml)")
	dir := flag.String("dir", "", "Project root (default: current directory)")
	provider := flag.String("provider", "", "LLM provider: anthropic, openai, ollama")
	model := flag.String("model", "", "Model name")
	baseURL := flag.String("base-url", "", "Provider endpoint override")
	autoApprove := flag.Bool("auto-approve", false, "Run policy-approved commands without prompting")
	policyPath := flag.String("policy", "", "Starlark auto-approval policy file")
	noMarkdown := flag.Bool("no-markdown", false, "Disable markdown rendering")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	// Flags override the file and environment layers.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "provider":
			cfg.Provider = *provider
		case "model":
			cfg.Model = *model
		case "base-url":
			cfg.BaseURL = *baseURL
		case "auto-approve":
			cfg.AutoApprove = *autoApprove
		case "policy":
			cfg.PolicyPath = *policyPath
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	root := *dir
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			fatal(fmt.Errorf("resolve working directory: %w", err))
		}
	}
	root, err = filepath.Abs(root)
	if err != nil {
		fatal(fmt.Errorf("resolve project root: %w", err))
	}

	msg := *message
	if msg == "" {
		msg = *message2
	}

	// Styling off when stdout is not a terminal, regardless of flags.
	stdoutTTY := term.IsTerminal(int(os.Stdout.Fd()))

	if err := run(cfg, root, msg, *noMarkdown || !stdoutTTY, *noColor || !stdoutTTY); err != nil {
		fatal(err)
	}
}

func run(cfg *config.Config, root, message string, noMarkdown, noColor bool) error {
	logger := newLogger(cfg, root)

	store, err := project.Open(root, project.Options{
		HistoryWindow: cfg.HistoryWindow,
		HistoryCap:    cfg.HistoryCap,
		FileListLimit: cfg.FileListLimit,
		Archive:       cfg.Archive,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := llm.New(llm.Options{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.ResolveAPIKey(),
		BaseURL:  cfg.ResolveBaseURL(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	client = llm.WithRetry(client, cfg.Retries, logger)

	policy, err := loadPolicy(cfg, logger)
	if err != nil {
		return err
	}

	runner := shell.NewRunner(shell.Options{
		LoginShell:  true,
		PTYCommands: cfg.PTYCommands,
		Logger:      logger,
	})

	app := cli.NewApp(cli.Options{
		Store:            store,
		Client:           client,
		Files:            fileop.New(root),
		Runner:           runner,
		Policy:           policy,
		Provider:         cfg.ResolvedProvider(),
		Model:            cfg.Model,
		Params:           cfg.Params(),
		AutoApprove:      cfg.AutoApprove,
		MaxBuildAttempts: cfg.BuildAttempts,
		CommandTimeout:   cfg.CommandTimeout(),
		Message:          message,
		NoMarkdown:       noMarkdown,
		NoColor:          noColor,
		Logger:           logger,
	})
	return app.Run()
}

func loadPolicy(cfg *config.Config, logger zerolog.Logger) (*safety.Policy, error) {
	if cfg.PolicyPath == "" {
		return safety.Default(logger), nil
	}
	return safety.LoadFile(cfg.PolicyPath, logger)
}

// newLogger builds the session logger: human-readable console on stderr plus
// an optional JSON file sink resolved against the project root.
func newLogger(cfg *config.Config, root string) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var sink io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if cfg.LogFile != "" {
		path := cfg.LogFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr == nil {
			if f, openErr := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); openErr == nil {
				sink = zerolog.MultiLevelWriter(sink, f)
			}
		}
	}
	return zerolog.New(sink).Level(level).With().Timestamp().Logger()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
