// Package official resolves the "official" mapping channel: readable names
// published by the vendor as per-variant ProGuard files, re-keyed onto
// intermediate names from the MCPConfig distribution.
//
// Resolution is gated by fingerprint records. The derived TSRG and the final
// archive are rebuilt only when one of their tracked inputs changed or the
// derived file went missing; otherwise the existing archive is read back.
package official

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"github.com/sourcegraph/conc/pool"

	"mapweaver/internal/archive"
	"mapweaver/internal/artifact"
	"mapweaver/internal/atomicfile"
	"mapweaver/internal/fingerprint"
	"mapweaver/internal/mapping"
	"mapweaver/internal/merge"
	"mapweaver/internal/srg"
	"mapweaver/internal/trace"
)

// Channel is the channel identifier served by Source.
const Channel = "official"

// CodeVersion is tracked in every fingerprint record. Bump it whenever the
// derivation logic changes so stale outputs are rebuilt.
const CodeVersion = "2"

// timestampSuffix matches the MCPConfig build stamp in "1.16.5-20210115.111550".
var timestampSuffix = regexp.MustCompile(`^(.+)-\d{8}\.\d{6}$`)

// Config configures a Source.
type Config struct {
	// CacheRoot holds derived files and fingerprint records. Required.
	CacheRoot string

	// Locator finds upstream artifacts. Required.
	Locator artifact.Locator

	// Merge selects which intermediate names are emitted.
	Merge merge.Options

	// CodeVersion overrides the tracked code version token.
	CodeVersion string

	Logger *slog.Logger
	Trace  trace.Sink
}

// Source is the official channel mapping source.
type Source struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns a Source.
func New(cfg Config) (*Source, error) {
	if cfg.CacheRoot == "" {
		return nil, errors.New("official: cache root is required")
	}
	if cfg.Locator == nil {
		return nil, errors.New("official: locator is required")
	}
	if cfg.CodeVersion == "" {
		cfg.CodeVersion = CodeVersion
	}
	if cfg.Trace == nil {
		cfg.Trace = trace.NopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{cfg: cfg, logger: logger.With("channel", Channel)}, nil
}

func (s *Source) Channels() []string {
	return []string{Channel}
}

// GameVersion strips a trailing MCPConfig build stamp from version.
func GameVersion(version string) string {
	if m := timestampSuffix.FindStringSubmatch(version); m != nil {
		return m[1]
	}
	return version
}

func clientMappings(game string) artifact.Coordinate {
	return artifact.Coordinate{Group: "net.minecraft", Name: "client", Version: game, Classifier: "mappings", Ext: "txt"}
}

func serverMappings(game string) artifact.Coordinate {
	return artifact.Coordinate{Group: "net.minecraft", Name: "server", Version: game, Classifier: "mappings", Ext: "txt"}
}

func mcpConfig(version string) artifact.Coordinate {
	return artifact.Coordinate{Group: "de.oceanlabs.mcp", Name: "mcp_config", Version: version, Ext: "zip"}
}

func renamesFile(version string) artifact.Coordinate {
	return artifact.Coordinate{Group: "de.oceanlabs.mcp", Name: "mcp_config", Version: version, Classifier: "obf_to_srg", Ext: "tsrg"}
}

func mappingArchive(version string) artifact.Coordinate {
	return artifact.Coordinate{Group: "net.minecraft", Name: "mapping", Version: version, Classifier: "mapping", Ext: "zip"}
}

// ArchivePath returns where the archive for version is cached.
func (s *Source) ArchivePath(version string) string {
	return artifact.CachePath(s.cfg.CacheRoot, mappingArchive(version))
}

// Resolve produces the official mapping set for version.
func (s *Source) Resolve(ctx context.Context, channel, version string) (*mapping.Set, error) {
	if channel != Channel {
		return nil, mapping.Errorf(mapping.ErrUnresolvedMapping, "channel %q is not served by the official source", channel)
	}
	if version == "" {
		return nil, mapping.Errorf(mapping.ErrMalformedInput, "version is required")
	}
	game := GameVersion(version)
	logger := s.logger.With("version", version)

	clientPG, err := s.locate(ctx, clientMappings(game))
	if err != nil {
		return nil, err
	}
	serverPG, err := s.locate(ctx, serverMappings(game))
	if err != nil {
		return nil, err
	}
	mcp, err := s.locate(ctx, mcpConfig(version))
	if err != nil {
		return nil, err
	}
	tsrg, err := s.renames(ctx, logger, mcp, version)
	if err != nil {
		return nil, err
	}

	out := s.ArchivePath(version)
	resource := mappingArchive(version).RepoPath() + ".input"
	store, err := fingerprint.New(s.cfg.CacheRoot, resource)
	if err != nil {
		return nil, err
	}
	store.TrackFile("mcp", mcp).
		TrackFile("pg_client", clientPG).
		TrackFile("pg_server", serverPG).
		TrackFile("tsrg", tsrg).
		TrackString("codever", s.cfg.CodeVersion).
		TrackString("options", s.cfg.Merge.Token())

	if err := store.Lock(ctx); err != nil {
		return nil, mapping.Wrap(mapping.ErrIO, err, "locking %s", resource)
	}
	defer store.Unlock()

	fresh, err := s.upToDate(store, resource, out)
	if err != nil {
		return nil, err
	}
	if fresh {
		set, err := archive.Read(out, channel, version)
		if err == nil {
			logger.Debug("reusing cached mappings", "archive", out)
			return set, nil
		}
		logger.Warn("cached archive unreadable, rebuilding", "archive", out, "error", err)
		trace.SafeRecord(s.cfg.Trace, trace.Event{Kind: trace.EventResourceInvalidated, Resource: resource, Reason: trace.ReasonOutputMissing})
	}

	client, server, intermediate, err := loadTables(clientPG, serverPG, tsrg)
	if err != nil {
		s.fail(resource)
		return nil, err
	}
	res, err := merge.Merge(client, server, intermediate, s.cfg.Merge)
	if err != nil {
		s.fail(resource)
		return nil, err
	}
	set := res.Set(channel, version)
	trace.SafeRecord(s.cfg.Trace, trace.Event{Kind: trace.EventMappingMerged, Resource: resource})
	logger.Info("merged mappings", "fields", len(set.Fields), "methods", len(set.Methods))

	if err := archive.Write(out, set); err != nil {
		s.fail(resource)
		return nil, err
	}
	if err := archive.WriteChecksum(out); err != nil {
		s.fail(resource)
		return nil, err
	}
	trace.SafeRecord(s.cfg.Trace, trace.Event{Kind: trace.EventArchiveWritten, Resource: resource})

	// Only after the archive is durable.
	if err := store.Commit(); err != nil {
		return nil, mapping.Wrap(mapping.ErrIO, err, "committing %s", resource)
	}
	return set, nil
}

func (s *Source) locate(ctx context.Context, c artifact.Coordinate) (string, error) {
	p, err := s.cfg.Locator.Locate(ctx, c)
	if err != nil {
		return "", mapping.Wrap(mapping.ErrMissingUpstreamArtifact, err, "locating %s", c)
	}
	return p, nil
}

// upToDate reports whether output can be reused, recording why not.
func (s *Source) upToDate(store *fingerprint.Store, resource, output string) (bool, error) {
	valid, err := store.Valid()
	if err != nil {
		return false, mapping.Wrap(mapping.ErrIO, err, "fingerprinting %s", resource)
	}
	if valid && atomicfile.Exists(output) {
		trace.SafeRecord(s.cfg.Trace, trace.Event{Kind: trace.EventResourceReused, Resource: resource})
		return true, nil
	}

	ev := trace.Event{Kind: trace.EventResourceInvalidated, Resource: resource}
	switch changed, hadRecord, err := store.Changed(); {
	case err != nil:
		return false, mapping.Wrap(mapping.ErrIO, err, "fingerprinting %s", resource)
	case !hadRecord:
		ev.Reason = trace.ReasonNoRecord
	case len(changed) > 0:
		ev.Reason = trace.ReasonInputsChanged
		ev.Inputs = changed
	default:
		ev.Reason = trace.ReasonOutputMissing
	}
	trace.SafeRecord(s.cfg.Trace, ev)
	s.logger.Debug("cache miss", "resource", resource, "reason", ev.Reason, "inputs", ev.Inputs)
	return false, nil
}

func (s *Source) fail(resource string) {
	trace.SafeRecord(s.cfg.Trace, trace.Event{Kind: trace.EventResourceFailed, Resource: resource})
}

// loadTables loads the three mapping files concurrently. Either all three
// load or an error is returned.
func loadTables(clientPath, serverPath, intermediatePath string) (client, server, intermediate *srg.Table, err error) {
	p := pool.New().WithErrors()
	p.Go(func() error {
		t, err := srg.Load(clientPath)
		client = t
		return err
	})
	p.Go(func() error {
		t, err := srg.Load(serverPath)
		server = t
		return err
	})
	p.Go(func() error {
		t, err := srg.Load(intermediatePath)
		intermediate = t
		return err
	})
	if err := p.Wait(); err != nil {
		return nil, nil, nil, fmt.Errorf("loading mappings: %w", err)
	}
	return client, server, intermediate, nil
}
