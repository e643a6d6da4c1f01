package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"mapweaver/internal/archive"
	"mapweaver/internal/artifact"
	"mapweaver/internal/atomicfile"
	"mapweaver/internal/logging"
	"mapweaver/internal/mapping"
	"mapweaver/internal/official"
	"mapweaver/internal/trace"
)

type CLIResult struct {
	ExitCode int
	Sets     []*mapping.Set
}

// Env holds the process-level collaborators Execute depends on.
type Env struct {
	Stderr io.Writer

	// Locator overrides the repository locator built from the invocation.
	Locator artifact.Locator
}

// Execute runs inv against the real process environment.
func Execute(ctx context.Context, inv CLIInvocation) (CLIResult, error) {
	return ExecuteWithEnv(ctx, inv, Env{Stderr: os.Stderr})
}

// ExecuteWithEnv maps a canonical CLIInvocation to resolution.
//
// Responsibilities:
//   - Build the logger and the source registry explicitly.
//   - Resolve every requested version, concurrently up to inv.Workers.
//   - Copy the archive to OutputPath when requested.
//   - Write the trace even when resolution fails.
//   - Translate outcomes, including panics, to semantic exit codes.
func ExecuteWithEnv(ctx context.Context, inv CLIInvocation, env Env) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	if env.Stderr == nil {
		env.Stderr = io.Discard
	}

	level, err := logging.ParseLevel(inv.LogLevel)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	logger, err := logging.New(env.Stderr, level, inv.LogFormat)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	recorder := trace.NewRecorder()
	defer func() {
		if r := recover(); r != nil {
			res = CLIResult{ExitCode: ExitInternalError}
			execErr = fmt.Errorf("panic: %v", r)
		}
		if inv.Trace.Enabled {
			if err := writeTrace(inv, recorder); err != nil {
				logger.Error("writing trace", "path", inv.Trace.Path, "error", err)
				if execErr == nil {
					res.ExitCode = ExitInternalError
					execErr = err
				}
			}
		}
	}()

	locator := env.Locator
	if locator == nil {
		locator = artifact.NewRepoLocator(inv.Repositories...)
	}
	src, err := official.New(official.Config{
		CacheRoot:   inv.CacheDir,
		Locator:     locator,
		Merge:       inv.Merge,
		CodeVersion: inv.CodeVersion,
		Logger:      logger,
		Trace:       recorder,
	})
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	registry := mapping.NewRegistry(src)
	if err := registry.Validate(); err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	requests := make([]mapping.Request, len(inv.Versions))
	for i, v := range inv.Versions {
		requests[i] = mapping.Request{Channel: inv.Channel, Version: v}
	}
	sets, err := registry.ResolveAll(ctx, requests, inv.Workers)
	if err != nil {
		res.ExitCode = exitCodeFor(err)
		return res, err
	}
	res.Sets = sets

	for _, set := range sets {
		logger.Info("resolved", "channel", set.Channel, "version", set.Version, "entries", set.Len())
	}

	if inv.OutputPath != "" {
		if err := archive.Write(inv.OutputPath, sets[0]); err != nil {
			res.ExitCode = exitCodeFor(err)
			return res, err
		}
		logger.Info("wrote archive", "path", inv.OutputPath)
	}

	res.ExitCode = ExitSuccess
	return res, nil
}

func writeTrace(inv CLIInvocation, recorder *trace.Recorder) error {
	request := inv.Channel
	for _, v := range inv.Versions {
		request += "@" + v
	}
	b, err := recorder.Trace(request).CanonicalJSON()
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	return atomicfile.Write(inv.Trace.Path, append(b, '\n'), 0o644)
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, mapping.ErrUnresolvedMapping),
		errors.Is(err, mapping.ErrMissingUpstreamArtifact),
		errors.Is(err, mapping.ErrMalformedInput),
		errors.Is(err, mapping.ErrIO):
		return ExitResolveFailure
	default:
		return ExitInternalError
	}
}
