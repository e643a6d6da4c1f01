package official

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapweaver/internal/artifact"
	"mapweaver/internal/mapping"
	"mapweaver/internal/merge"
	"mapweaver/internal/trace"
)

const (
	testVersion = "1.16.5-20210115.111550"
	testGame    = "1.16.5"
)

const joinedTSRG = `djz net/minecraft/client/Minecraft
	a field_71470_ab
	b field_71471_b
	c (Lbrx;)V func_71407_l
brx net/minecraft/world/World
`

const clientTxt = `net.minecraft.client.Minecraft -> djz:
    int fps -> a
    java.lang.String title -> b
    void tick(net.minecraft.world.World) -> c
net.minecraft.world.World -> brx:
`

const serverTxt = `net.minecraft.client.Minecraft -> djz:
    int fps -> a
    java.lang.String windowTitle -> b
net.minecraft.world.World -> brx:
`

var (
	archiveResource = "net/minecraft/mapping/" + testVersion + "/mapping-" + testVersion + "-mapping.zip.input"
	renamesResource = "de/oceanlabs/mcp/mcp_config/" + testVersion + "/mcp_config-" + testVersion + "-obf_to_srg.tsrg.input"
)

type fixture struct {
	repo  string
	cache string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{repo: filepath.Join(dir, "repo"), cache: filepath.Join(dir, "cache")}
	f.put(t, clientMappings(testGame), clientTxt)
	f.put(t, serverMappings(testGame), serverTxt)
	f.putMCP(t, map[string]string{
		"config.json":        `{"spec":2,"version":"1.16.5","data":{"mappings":"config/joined.tsrg"}}`,
		"config/joined.tsrg": joinedTSRG,
	})
	return f
}

func (f *fixture) path(c artifact.Coordinate) string {
	return filepath.Join(f.repo, filepath.FromSlash(c.RepoPath()))
}

func (f *fixture) put(t *testing.T, c artifact.Coordinate, content string) {
	t.Helper()
	p := f.path(c)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *fixture) putMCP(t *testing.T, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	f.put(t, mcpConfig(testVersion), buf.String())
}

func (f *fixture) source(t *testing.T, rec trace.Sink, opts merge.Options) *Source {
	t.Helper()
	src, err := New(Config{
		CacheRoot: f.cache,
		Locator:   artifact.NewRepoLocator(f.repo),
		Merge:     opts,
		Trace:     rec,
	})
	require.NoError(t, err)
	return src
}

func eventsFor(rec *trace.Recorder, resource string) []trace.Event {
	var out []trace.Event
	for _, e := range rec.Snapshot() {
		if e.Resource == resource {
			out = append(out, e)
		}
	}
	return out
}

func kinds(events []trace.Event) []trace.EventKind {
	out := make([]trace.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func expectedSet() *mapping.Set {
	return mapping.NewSet(Channel, testVersion, nil,
		[]mapping.Entry{
			{Intermediate: "field_71470_ab", Mapped: "fps", Side: mapping.Joined},
			{Intermediate: "field_71471_b", Mapped: "title", Side: mapping.ClientOnly},
			{Intermediate: "field_71471_b", Mapped: "windowTitle", Side: mapping.ServerOnly},
		},
		[]mapping.Entry{
			{Intermediate: "func_71407_l", Mapped: "tick", Side: mapping.ClientOnly},
		},
		nil)
}

// The first resolve builds and commits; the second reuses without rewriting.
func TestResolve_BuildsThenReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := trace.NewRecorder()
	set, err := f.source(t, first, merge.DefaultOptions()).Resolve(ctx, Channel, testVersion)
	require.NoError(t, err)
	assert.Equal(t, expectedSet(), set)

	assert.Equal(t, []trace.Event{
		{Kind: trace.EventResourceInvalidated, Resource: renamesResource, Reason: trace.ReasonNoRecord},
		{Kind: trace.EventRenamesWritten, Resource: renamesResource},
	}, eventsFor(first, renamesResource))
	assert.Equal(t, []trace.EventKind{
		trace.EventResourceInvalidated, trace.EventMappingMerged, trace.EventArchiveWritten,
	}, kinds(eventsFor(first, archiveResource)))

	src := f.source(t, nil, merge.DefaultOptions())
	assert.FileExists(t, src.ArchivePath(testVersion))
	assert.FileExists(t, src.ArchivePath(testVersion)+".sha1")
	assert.FileExists(t, artifact.CachePath(f.cache, renamesFile(testVersion))+".sha1")
	archiveBytes, err := os.ReadFile(src.ArchivePath(testVersion))
	require.NoError(t, err)

	second := trace.NewRecorder()
	again, err := f.source(t, second, merge.DefaultOptions()).Resolve(ctx, Channel, testVersion)
	require.NoError(t, err)
	assert.Equal(t, set, again)
	assert.Equal(t, []trace.EventKind{trace.EventResourceReused}, kinds(eventsFor(second, renamesResource)))
	assert.Equal(t, []trace.EventKind{trace.EventResourceReused}, kinds(eventsFor(second, archiveResource)))

	unchanged, err := os.ReadFile(src.ArchivePath(testVersion))
	require.NoError(t, err)
	assert.Equal(t, archiveBytes, unchanged, "a cache hit must not rewrite the archive")
}

// A changed upstream file invalidates the archive record.
func TestResolve_ChangedInputRebuilds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.source(t, nil, merge.DefaultOptions()).Resolve(ctx, Channel, testVersion)
	require.NoError(t, err)

	f.put(t, clientMappings(testGame), clientTxt+"    int extra -> z\n")

	rec := trace.NewRecorder()
	_, err = f.source(t, rec, merge.DefaultOptions()).Resolve(ctx, Channel, testVersion)
	require.NoError(t, err)

	assert.Equal(t, []trace.EventKind{trace.EventResourceReused}, kinds(eventsFor(rec, renamesResource)))
	events := eventsFor(rec, archiveResource)
	require.NotEmpty(t, events)
	assert.Equal(t, trace.Event{
		Kind:     trace.EventResourceInvalidated,
		Resource: archiveResource,
		Reason:   trace.ReasonInputsChanged,
		Inputs:   []string{"pg_client"},
	}, events[0])
	assert.Contains(t, kinds(events), trace.EventMappingMerged)
}

// Changed merge options invalidate the archive record.
func TestResolve_ChangedOptionsRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.source(t, nil, merge.DefaultOptions()).Resolve(ctx, Channel, testVersion)
	require.NoError(t, err)

	rec := trace.NewRecorder()
	set, err := f.source(t, rec, merge.Options{FieldPrefix: "field_", MethodPrefix: "m_"}).Resolve(ctx, Channel, testVersion)
	require.NoError(t, err)
	assert.Empty(t, set.Methods)
	assert.Len(t, set.Fields, 3)

	events := eventsFor(rec, archiveResource)
	require.NotEmpty(t, events)
	assert.Equal(t, []string{"options"}, events[0].Inputs)
}

// A valid record with a missing archive still rebuilds.
func TestResolve_MissingArchiveRebuilds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.source(t, nil, merge.DefaultOptions())
	_, err := src.Resolve(ctx, Channel, testVersion)
	require.NoError(t, err)
	require.NoError(t, os.Remove(src.ArchivePath(testVersion)))

	rec := trace.NewRecorder()
	set, err := f.source(t, rec, merge.DefaultOptions()).Resolve(ctx, Channel, testVersion)
	require.NoError(t, err)
	assert.Equal(t, expectedSet(), set)

	events := eventsFor(rec, archiveResource)
	require.NotEmpty(t, events)
	assert.Equal(t, trace.ReasonOutputMissing, events[0].Reason)
	assert.FileExists(t, src.ArchivePath(testVersion))
}

// An absent upstream artifact fails before any archive is written.
func TestResolve_MissingUpstreamArtifact(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.path(serverMappings(testGame))))

	src := f.source(t, nil, merge.DefaultOptions())
	_, err := src.Resolve(context.Background(), Channel, testVersion)
	require.Error(t, err)
	assert.ErrorIs(t, err, mapping.ErrMissingUpstreamArtifact)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
	assert.NoFileExists(t, src.ArchivePath(testVersion))
}

// A failed build leaves no record behind.
func TestResolve_MalformedInputIsNotCommitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, clientMappings(testGame), "net.minecraft.client.Minecraft -> djz\n")

	rec := trace.NewRecorder()
	_, err := f.source(t, rec, merge.DefaultOptions()).Resolve(ctx, Channel, testVersion)
	require.Error(t, err)
	assert.ErrorIs(t, err, mapping.ErrMalformedInput)
	assert.Contains(t, kinds(eventsFor(rec, archiveResource)), trace.EventResourceFailed)

	f.put(t, clientMappings(testGame), clientTxt)
	rec = trace.NewRecorder()
	_, err = f.source(t, rec, merge.DefaultOptions()).Resolve(ctx, Channel, testVersion)
	require.NoError(t, err)

	events := eventsFor(rec, archiveResource)
	require.NotEmpty(t, events)
	assert.Equal(t, trace.ReasonNoRecord, events[0].Reason, "a failed build must leave no record behind")
}

// Only the official channel is served.
func TestResolve_RejectsOtherChannels(t *testing.T) {
	f := newFixture(t)
	_, err := f.source(t, nil, merge.DefaultOptions()).Resolve(context.Background(), "stable", testVersion)
	assert.ErrorIs(t, err, mapping.ErrUnresolvedMapping)

	_, err = f.source(t, nil, merge.DefaultOptions()).Resolve(context.Background(), Channel, "")
	assert.ErrorIs(t, err, mapping.ErrMalformedInput)
}

// Concurrent resolves of one version return the same set.
func TestResolve_ConcurrentCallersAgree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 4
	sets := make([]*mapping.Set, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			src, err := New(Config{CacheRoot: f.cache, Locator: artifact.NewRepoLocator(f.repo)})
			if err != nil {
				errs[i] = err
				return
			}
			sets[i], errs[i] = src.Resolve(ctx, Channel, testVersion)
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, expectedSet(), sets[i])
	}
}

// A source needs a cache root and a locator.
func TestNew_RequiresCacheAndLocator(t *testing.T) {
	_, err := New(Config{Locator: artifact.NewRepoLocator()})
	assert.Error(t, err)
	_, err = New(Config{CacheRoot: t.TempDir()})
	assert.Error(t, err)
}

// Timestamped versions strip to the game version.
func TestGameVersion(t *testing.T) {
	cases := map[string]string{
		"1.16.5-20210115.111550": "1.16.5",
		"1.16.5":                 "1.16.5",
		"1.17-pre1":              "1.17-pre1",
		"1.16.5-2021011.111550":  "1.16.5-2021011.111550",
	}
	for in, want := range cases {
		assert.Equal(t, want, GameVersion(in), "input %q", in)
	}
}

// Broken MCPConfig archives are malformed input.
func TestExtractMappings_Errors(t *testing.T) {
	f := newFixture(t)

	f.putMCP(t, map[string]string{"config.json": `{"data":{}}`})
	_, err := ExtractMappings(f.path(mcpConfig(testVersion)))
	assert.ErrorIs(t, err, mapping.ErrMalformedInput)

	f.putMCP(t, map[string]string{"config.json": `{"data":{"mappings":"config/joined.tsrg"}}`})
	_, err = ExtractMappings(f.path(mcpConfig(testVersion)))
	assert.ErrorIs(t, err, mapping.ErrMalformedInput)

	f.putMCP(t, map[string]string{"config.json": `{not json`})
	_, err = ExtractMappings(f.path(mcpConfig(testVersion)))
	assert.ErrorIs(t, err, mapping.ErrMalformedInput)

	f.put(t, mcpConfig(testVersion), "not a zip")
	_, err = ExtractMappings(f.path(mcpConfig(testVersion)))
	assert.ErrorIs(t, err, mapping.ErrMalformedInput)
}

// The table named by data.mappings is loaded.
func TestExtractMappings(t *testing.T) {
	f := newFixture(t)
	tbl, err := ExtractMappings(f.path(mcpConfig(testVersion)))
	require.NoError(t, err)
	assert.Equal(t, "func_71407_l", tbl.Class("djz").RemapMethod("c", "(Lbrx;)V"))
}
