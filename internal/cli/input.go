package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"mapweaver/internal/config"
	"mapweaver/internal/logging"
	"mapweaver/internal/merge"
	"mapweaver/internal/official"
)

const (
	ExitSuccess           = 0
	ExitResolveFailure    = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

type TraceConfig struct {
	Enabled bool
	Path    string
}

// CLIInvocation is the fully canonicalized, deterministic description of a run.
//
// All paths are cleaned and relative paths are resolved against WorkDir,
// which must be absolute. Values from the optional config file are merged in;
// explicitly passed flags win.
type CLIInvocation struct {
	WorkDir      string
	ConfigPath   string
	CacheDir     string
	Repositories []string
	Channel      string
	Versions     []string
	OutputPath   string
	Trace        TraceConfig
	LogLevel     string
	LogFormat    string
	Workers      int
	Merge        merge.Options
	CodeVersion  string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// ParseInvocation parses CLI flags into a canonical CLIInvocation.
//
// It does not read environment variables or the process CWD.
func ParseInvocation(args []string) (CLIInvocation, error) {
	fs := pflag.NewFlagSet("mapweaver", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	var (
		workDir      string
		configPath   string
		cacheDir     string
		repos        []string
		channel      string
		versions     []string
		outputPath   string
		tracePath    string
		logLevel     string
		logFormat    string
		workers      int
		fieldPrefix  string
		methodPrefix string
	)
	fs.StringVar(&workDir, "workdir", "", "Absolute working directory. Required.")
	fs.StringVar(&configPath, "config", "", "YAML config file (optional).")
	fs.StringVar(&cacheDir, "cache-dir", "", "Cache directory. Required unless set in config.")
	fs.StringSliceVar(&repos, "repo", nil, "Local Maven-layout directory holding upstream artifacts (repeatable).")
	fs.StringVar(&channel, "channel", official.Channel, "Mapping channel.")
	fs.StringSliceVar(&versions, "version", nil, "Version to resolve (repeatable). Required.")
	fs.StringVarP(&outputPath, "output", "o", "", "Copy the archive here (single version only).")
	fs.StringVar(&tracePath, "trace", "", "Trace output path (optional).")
	fs.StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&logFormat, "log-format", logging.FormatTerminal, "Log format: terminal|text|json")
	fs.IntVar(&workers, "workers", 1, "Versions resolved concurrently.")
	fs.StringVar(&fieldPrefix, "field-prefix", merge.DefaultFieldPrefix, "Intermediate field name prefix to keep.")
	fs.StringVar(&methodPrefix, "method-prefix", merge.DefaultMethodPrefix, "Intermediate method name prefix to keep.")

	if err := fs.Parse(args); err != nil {
		return CLIInvocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return CLIInvocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}

	if strings.TrimSpace(workDir) == "" {
		return CLIInvocation{}, invalidInvocationf("--workdir is required")
	}
	workDir = filepath.Clean(workDir)
	if !filepath.IsAbs(workDir) {
		return CLIInvocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", workDir)
	}

	inv := CLIInvocation{WorkDir: workDir, CodeVersion: official.CodeVersion}

	if configPath != "" {
		resolved, err := resolveUnderWorkDir(workDir, configPath)
		if err != nil {
			return CLIInvocation{}, err
		}
		cfg, err := config.Load(resolved)
		if err != nil {
			return CLIInvocation{}, configErrorf("%v", err)
		}
		inv.ConfigPath = resolved
		applyConfig(&inv, cfg, workDir)
	}

	if fs.Changed("cache-dir") || inv.CacheDir == "" {
		if cacheDir == "" {
			return CLIInvocation{}, invalidInvocationf("--cache-dir is required")
		}
		resolved, err := resolveUnderWorkDir(workDir, cacheDir)
		if err != nil {
			return CLIInvocation{}, err
		}
		inv.CacheDir = resolved
	}
	if fs.Changed("repo") || len(inv.Repositories) == 0 {
		inv.Repositories = nil
		for _, r := range repos {
			resolved, err := resolveUnderWorkDir(workDir, r)
			if err != nil {
				return CLIInvocation{}, err
			}
			inv.Repositories = append(inv.Repositories, resolved)
		}
	}
	if len(inv.Repositories) == 0 {
		return CLIInvocation{}, invalidInvocationf("at least one --repo is required")
	}

	inv.Channel = strings.TrimSpace(channel)
	if inv.Channel == "" {
		return CLIInvocation{}, invalidInvocationf("--channel must not be empty")
	}
	seen := make(map[string]bool, len(versions))
	for _, v := range versions {
		v = strings.TrimSpace(v)
		if v == "" {
			return CLIInvocation{}, invalidInvocationf("--version must not be empty")
		}
		if seen[v] {
			return CLIInvocation{}, invalidInvocationf("--version %q given twice", v)
		}
		seen[v] = true
		inv.Versions = append(inv.Versions, v)
	}
	if len(inv.Versions) == 0 {
		return CLIInvocation{}, invalidInvocationf("--version is required")
	}

	if outputPath != "" {
		if len(inv.Versions) != 1 {
			return CLIInvocation{}, invalidInvocationf("--output requires exactly one --version")
		}
		resolved, err := resolveUnderWorkDir(workDir, outputPath)
		if err != nil {
			return CLIInvocation{}, err
		}
		inv.OutputPath = resolved
	}
	if strings.TrimSpace(tracePath) != "" {
		resolved, err := resolveUnderWorkDir(workDir, tracePath)
		if err != nil {
			return CLIInvocation{}, err
		}
		inv.Trace = TraceConfig{Enabled: true, Path: resolved}
	}

	if fs.Changed("log-level") || inv.LogLevel == "" {
		inv.LogLevel = logLevel
	}
	if _, err := logging.ParseLevel(inv.LogLevel); err != nil {
		return CLIInvocation{}, invalidInvocationf("invalid --log-level: %v", err)
	}
	if fs.Changed("log-format") || inv.LogFormat == "" {
		inv.LogFormat = logFormat
	}
	switch inv.LogFormat {
	case logging.FormatTerminal, logging.FormatText, logging.FormatJSON:
	default:
		return CLIInvocation{}, invalidInvocationf("invalid --log-format %q (expected terminal|text|json)", inv.LogFormat)
	}

	if fs.Changed("workers") || inv.Workers == 0 {
		inv.Workers = workers
	}
	if inv.Workers < 1 {
		return CLIInvocation{}, invalidInvocationf("--workers must be >= 1")
	}
	if fs.Changed("field-prefix") || inv.Merge.FieldPrefix == "" {
		inv.Merge.FieldPrefix = fieldPrefix
	}
	if fs.Changed("method-prefix") || inv.Merge.MethodPrefix == "" {
		inv.Merge.MethodPrefix = methodPrefix
	}
	return inv, nil
}

func applyConfig(inv *CLIInvocation, cfg *config.Config, workDir string) {
	if cfg.CacheDir != "" {
		if p, err := resolveUnderWorkDir(workDir, cfg.CacheDir); err == nil {
			inv.CacheDir = p
		}
	}
	for _, r := range cfg.Repository {
		if p, err := resolveUnderWorkDir(workDir, r); err == nil {
			inv.Repositories = append(inv.Repositories, p)
		}
	}
	if cfg.CodeVersion != "" {
		inv.CodeVersion = cfg.CodeVersion
	}
	inv.Workers = cfg.Workers
	inv.LogLevel = cfg.Log.Level
	inv.LogFormat = strings.ToLower(cfg.Log.Format)
	inv.Merge = merge.Options{FieldPrefix: cfg.Prefixes.Field, MethodPrefix: cfg.Prefixes.Method}
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	// WorkDir is absolute, so Join never consults the process CWD.
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode extracts a semantic exit code from a ParseInvocation error.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
