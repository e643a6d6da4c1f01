package official

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zip"
	"github.com/tidwall/gjson"

	"mapweaver/internal/archive"
	"mapweaver/internal/artifact"
	"mapweaver/internal/fingerprint"
	"mapweaver/internal/mapping"
	"mapweaver/internal/srg"
	"mapweaver/internal/trace"
)

// configEntry is the MCPConfig manifest naming the files in the archive.
const configEntry = "config.json"

// renames derives the obfuscated → intermediate TSRG file from the MCPConfig
// archive, reusing the cached copy while the archive is unchanged.
func (s *Source) renames(ctx context.Context, logger *slog.Logger, mcp, version string) (string, error) {
	coord := renamesFile(version)
	out := artifact.CachePath(s.cfg.CacheRoot, coord)
	resource := coord.RepoPath() + ".input"

	store, err := fingerprint.New(s.cfg.CacheRoot, resource)
	if err != nil {
		return "", err
	}
	store.TrackFile("mcp", mcp).TrackString("codever", s.cfg.CodeVersion)

	if err := store.Lock(ctx); err != nil {
		return "", mapping.Wrap(mapping.ErrIO, err, "locking %s", resource)
	}
	defer store.Unlock()

	fresh, err := s.upToDate(store, resource, out)
	if err != nil {
		return "", err
	}
	if fresh {
		return out, nil
	}

	table, err := ExtractMappings(mcp)
	if err != nil {
		s.fail(resource)
		return "", err
	}
	if err := srg.WriteFile(out, table); err != nil {
		s.fail(resource)
		return "", err
	}
	if err := archive.WriteChecksum(out); err != nil {
		s.fail(resource)
		return "", err
	}
	trace.SafeRecord(s.cfg.Trace, trace.Event{Kind: trace.EventRenamesWritten, Resource: resource})
	logger.Debug("derived intermediate mappings", "path", out)

	if err := store.Commit(); err != nil {
		return "", mapping.Wrap(mapping.ErrIO, err, "committing %s", resource)
	}
	return out, nil
}

// ExtractMappings reads the obfuscated → intermediate table named by the
// "data.mappings" key of the MCPConfig manifest.
func ExtractMappings(mcpZip string) (*srg.Table, error) {
	zr, err := zip.OpenReader(mcpZip)
	if err != nil {
		return nil, mapping.Wrap(mapping.ErrMalformedInput, err, "opening %s", mcpZip)
	}
	defer zr.Close()

	manifest, err := readEntry(&zr.Reader, configEntry)
	if err != nil {
		return nil, mapping.Wrap(mapping.ErrMalformedInput, err, "%s", mcpZip)
	}
	if !gjson.ValidBytes(manifest) {
		return nil, mapping.Errorf(mapping.ErrMalformedInput, "%s: %s is not valid JSON", mcpZip, configEntry)
	}
	name := gjson.GetBytes(manifest, "data.mappings")
	if name.Type != gjson.String || name.String() == "" {
		return nil, mapping.Errorf(mapping.ErrMalformedInput, "%s: %s has no data.mappings entry", mcpZip, configEntry)
	}

	data, err := readEntry(&zr.Reader, name.String())
	if err != nil {
		return nil, mapping.Wrap(mapping.ErrMalformedInput, err, "%s", mcpZip)
	}
	return srg.Parse(bytes.NewReader(data))
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
