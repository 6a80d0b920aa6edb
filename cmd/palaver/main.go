package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
	"pkt.systems/pslog"
)

const (
	defaultModel     = "llama3.2:3b"
	defaultOllamaAPI = "http://127.0.0.1:11434"
)

const defaultSystemPrompt = "You are palaver, a workspace assistant running in a terminal. " +
	"Answer questions about the workspace with tool-backed evidence. Available tools: " +
	"read_file(path), write_file(path, content), edit_file(path, old_str, new_str), list_dir(path). " +
	"Request tools with tagged syntax:\n<function=tool_name>\n<parameter=arg>value</parameter>\n</function>\n" +
	"Keep answers concise."

type appConfig struct {
	workDir                string
	apiBase                string
	model                  string
	modelTimeoutSeconds    int
	maxToolRounds          int
	approvalTimeoutSeconds int
	oneshot                string
	logFile                string
	debug                  bool
	altScreen              bool
}

func parseFlags() appConfig {
	cwd, _ := os.Getwd()
	workDirDefault := cwd
	if workDirDefault == "" {
		workDirDefault = "."
	}

	cfg := appConfig{}
	flag.StringVar(&cfg.workDir, "workdir", envOr("PALAVER_WORKDIR", workDirDefault), "Workspace root the tools operate in")
	flag.StringVar(&cfg.apiBase, "api", envOr("PALAVER_OLLAMA_API", defaultOllamaAPI), "Ollama API base URL")
	flag.StringVar(&cfg.model, "model", envOr("PALAVER_MODEL", defaultModel), "Ollama model name")
	flag.IntVar(&cfg.modelTimeoutSeconds, "model-timeout", envOrInt("PALAVER_MODEL_TIMEOUT", 120), "Per-request model timeout seconds")
	flag.IntVar(&cfg.maxToolRounds, "max-tool-rounds", envOrInt("PALAVER_MAX_TOOL_ROUNDS", 16), "Tool rounds per turn before guarded completion")
	flag.IntVar(&cfg.approvalTimeoutSeconds, "approval-timeout", envOrInt("PALAVER_APPROVAL_TIMEOUT", 120), "Seconds before an unanswered approval counts as deny")
	flag.StringVar(&cfg.oneshot, "oneshot", "", "Run a single prompt headless and exit")
	flag.StringVar(&cfg.logFile, "log-file", envOr("PALAVER_LOG_FILE", ""), "Structured log destination (empty: discard in TUI, stderr in oneshot)")
	flag.BoolVar(&cfg.debug, "debug", envOrBool("PALAVER_DEBUG", false), "Log at debug level")
	flag.BoolVar(&cfg.altScreen, "alt-screen", true, "Use alternate screen buffer")
	flag.Parse()

	resolved, _ := filepath.Abs(cfg.workDir)
	cfg.workDir = resolved
	cfg.modelTimeoutSeconds = clampInt(cfg.modelTimeoutSeconds, 1, 600)
	cfg.maxToolRounds = clampInt(cfg.maxToolRounds, 1, 64)
	cfg.approvalTimeoutSeconds = clampInt(cfg.approvalTimeoutSeconds, 5, 3600)
	return cfg
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func newLogger(cfg appConfig) (pslog.Logger, func(), error) {
	var writer io.Writer = io.Discard
	cleanup := func() {}
	switch {
	case cfg.logFile != "":
		f, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			discard := pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
			return discard, nil, fmt.Errorf("open log file: %w", err)
		}
		writer = f
		cleanup = func() { _ = f.Close() }
	case cfg.oneshot != "":
		writer = os.Stderr
	}
	level := pslog.InfoLevel
	if cfg.debug {
		level = pslog.DebugLevel
	}
	logger := pslog.NewWithOptions(writer, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: level,
	})
	return logger, cleanup, nil
}

func buildEngine(cfg appConfig, policy corePolicy, log pslog.Logger) (*conversation, error) {
	tools, err := newToolExecutor(cfg.workDir)
	if err != nil {
		return nil, err
	}
	client := newOllamaClient(cfg.apiBase, cfg.model, time.Duration(cfg.modelTimeoutSeconds)*time.Second)
	engine := newConversation(client, tools, policy, log)
	engine.systemPrompt = defaultSystemPrompt
	engine.maxRounds = cfg.maxToolRounds
	engine.approvalTimeout = time.Duration(cfg.approvalTimeoutSeconds) * time.Second
	return engine, nil
}

func main() {
	cfg := parseFlags()

	logger, cleanup, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "palaver: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	ctx := pslog.ContextWithLogger(context.Background(), logger)

	policy := newDefaultPolicy()
	engine, err := buildEngine(cfg, policy, logger)
	if err != nil {
		logger.With("err", err).Error("startup failed")
		fmt.Fprintf(os.Stderr, "palaver: %v\n", err)
		os.Exit(1)
	}

	if cfg.oneshot != "" {
		if err := runOneShot(cfg.oneshot, engine, os.Stdout, logger); err != nil {
			fmt.Fprintf(os.Stderr, "palaver: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "palaver: stdout is not a terminal (use -oneshot for scripted runs)")
		os.Exit(1)
	}

	sink := &programSink{}
	rc := newRuntimeContext(ctx, engine, sink.send, logger)
	mode := newInteractiveMode(policy)
	model := newUIModel(cfg, mode, rc, policy)

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if cfg.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(model, opts...)
	sink.attach(p)
	if _, err := p.Run(); err != nil {
		logger.With("err", err).Error("palaver fatal error")
		fmt.Fprintf(os.Stderr, "palaver fatal error: %v\n", err)
		os.Exit(1)
	}
}
