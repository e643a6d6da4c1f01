// Package merge combines the client and server ProGuard tables of one
// release into a single intermediate-keyed mapping.
//
// Each variant is translated independently: a ProGuard class is located in
// the intermediate table by its obfuscated name, and each of its members is
// translated to an intermediate name. Only intermediate names carrying the
// tool-generated prefix are kept, since hand-assigned names are already
// stable upstream. The two per-variant maps are then merged per category
// into joined, client-only and server-only entries.
package merge

import (
	"sort"
	"strings"

	"mapweaver/internal/mapping"
	"mapweaver/internal/srg"
)

const (
	DefaultFieldPrefix  = "field_"
	DefaultMethodPrefix = "func_"
)

// Options selects which intermediate names are eligible for output.
type Options struct {
	FieldPrefix  string
	MethodPrefix string
}

// DefaultOptions returns the prefixes generated by the classic intermediate
// naming scheme.
func DefaultOptions() Options {
	return Options{FieldPrefix: DefaultFieldPrefix, MethodPrefix: DefaultMethodPrefix}
}

func (o Options) withDefaults() Options {
	if o.FieldPrefix == "" {
		o.FieldPrefix = DefaultFieldPrefix
	}
	if o.MethodPrefix == "" {
		o.MethodPrefix = DefaultMethodPrefix
	}
	return o
}

// Token is a stable string identifying o, suitable as a fingerprint input.
func (o Options) Token() string {
	o = o.withDefaults()
	return "field=" + o.FieldPrefix + ";method=" + o.MethodPrefix
}

// Result holds the merged fields and methods, each sorted by intermediate
// name. Classes and parameters are never produced by this merge.
type Result struct {
	Fields  []mapping.Entry
	Methods []mapping.Entry
}

// Set wraps r into a mapping set for channel and version.
func (r Result) Set(channel, version string) *mapping.Set {
	return mapping.NewSet(channel, version, nil, r.Fields, r.Methods, nil)
}

// side is one variant's translated members, keyed by intermediate name.
type side struct {
	fields  map[string]string
	methods map[string]string
}

// Merge produces the joined mapping of client and server through
// intermediate. Either all three tables are present or nothing is merged.
func Merge(client, server, intermediate *srg.Table, opts Options) (Result, error) {
	switch {
	case client == nil:
		return Result{}, mapping.Errorf(mapping.ErrMissingUpstreamArtifact, "client mappings not loaded")
	case server == nil:
		return Result{}, mapping.Errorf(mapping.ErrMissingUpstreamArtifact, "server mappings not loaded")
	case intermediate == nil:
		return Result{}, mapping.Errorf(mapping.ErrMissingUpstreamArtifact, "intermediate mappings not loaded")
	}
	opts = opts.withDefaults()

	c := translate(client, intermediate, opts)
	s := translate(server, intermediate, opts)
	return Result{
		Fields:  mergeSides(c.fields, s.fields),
		Methods: mergeSides(c.methods, s.methods),
	}, nil
}

// translate maps every member of a ProGuard table to its intermediate name.
// In a ProGuard table Original is the readable name and Mapped the
// obfuscated one.
func translate(pg, intermediate *srg.Table, opts Options) side {
	out := side{fields: make(map[string]string), methods: make(map[string]string)}
	for _, cls := range pg.Classes() {
		obf := intermediate.Class(cls.Mapped)
		if obf == nil {
			// Stripped by the obfuscator; there is no intermediate name to key on.
			continue
		}
		for _, f := range cls.Fields() {
			name := obf.RemapField(f.Mapped)
			if strings.HasPrefix(name, opts.FieldPrefix) {
				out.fields[name] = f.Original
			}
		}
		for _, m := range cls.Methods() {
			name := obf.RemapMethod(m.Mapped, m.MappedDescriptor())
			if strings.HasPrefix(name, opts.MethodPrefix) {
				out.methods[name] = m.Original
			}
		}
	}
	return out
}

// mergeSides classifies every intermediate name present in either map.
// Names agreeing on both sides become Joined; names present on only one
// side, or mapped differently, become exclusive to that side. The server
// map is not modified.
func mergeSides(client, server map[string]string) []mapping.Entry {
	remaining := make(map[string]string, len(server))
	for k, v := range server {
		remaining[k] = v
	}

	out := make([]mapping.Entry, 0, len(client)+len(server))
	for _, name := range sortedKeys(client) {
		mapped := client[name]
		if other, ok := remaining[name]; ok && other == mapped {
			out = append(out, mapping.Entry{Intermediate: name, Mapped: mapped, Side: mapping.Joined})
			delete(remaining, name)
			continue
		}
		out = append(out, mapping.Entry{Intermediate: name, Mapped: mapped, Side: mapping.ClientOnly})
	}
	for _, name := range sortedKeys(remaining) {
		out = append(out, mapping.Entry{Intermediate: name, Mapped: remaining[name], Side: mapping.ServerOnly})
	}
	return mapping.SortedEntries(out)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
