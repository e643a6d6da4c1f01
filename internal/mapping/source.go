package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
)

// Source resolves mapping sets for the channels it declares.
type Source interface {
	// Channels returns the channel identifiers this source can resolve.
	Channels() []string

	// Resolve produces the mapping set for channel at version.
	Resolve(ctx context.Context, channel, version string) (*Set, error)
}

// Registry is an explicit, ordered list of sources built at process start.
//
// Lookup is first-match in registration order. Two sources claiming the same
// channel is a configuration error reported by Validate.
type Registry struct {
	sources []Source
}

// NewRegistry builds a registry from sources in registration order.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register appends s. Nil sources are ignored.
func (r *Registry) Register(s Source) {
	if s == nil {
		return
	}
	r.sources = append(r.sources, s)
}

// Channels returns every channel claimed by a registered source, sorted.
func (r *Registry) Channels() []string {
	set := make(map[string]struct{})
	for _, s := range r.sources {
		for _, ch := range s.Channels() {
			set[ch] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Validate reports channels claimed by more than one source.
func (r *Registry) Validate() error {
	owners := make(map[string]int)
	var dups []string
	for _, s := range r.sources {
		claimed := make(map[string]struct{})
		for _, ch := range s.Channels() {
			if _, again := claimed[ch]; again {
				continue
			}
			claimed[ch] = struct{}{}
			owners[ch]++
			if owners[ch] == 2 {
				dups = append(dups, ch)
			}
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	return fmt.Errorf("channels claimed by multiple sources: %s", strings.Join(dups, ", "))
}

// Lookup returns the first source claiming channel.
func (r *Registry) Lookup(channel string) (Source, error) {
	for _, s := range r.sources {
		for _, ch := range s.Channels() {
			if ch == channel {
				return s, nil
			}
		}
	}
	return nil, Errorf(ErrUnresolvedMapping, "no source for channel %q", channel)
}

// Resolve looks up the source for channel and resolves version with it.
func (r *Registry) Resolve(ctx context.Context, channel, version string) (*Set, error) {
	src, err := r.Lookup(channel)
	if err != nil {
		return nil, err
	}
	set, err := src.Resolve(ctx, channel, version)
	if err != nil {
		return nil, fmt.Errorf("resolving %s %s: %w", channel, version, err)
	}
	if set == nil {
		return nil, Errorf(ErrUnresolvedMapping, "source returned no mappings for %s %s", channel, version)
	}
	return set, nil
}

// Request names one (channel, version) pair.
type Request struct {
	Channel string
	Version string
}

func (q Request) String() string {
	return q.Channel + "@" + q.Version
}

// ResolveAll resolves independent requests concurrently with at most workers
// goroutines. Results are returned in request order. Duplicate requests are
// rejected since one pair must never be resolved by two callers at once.
func (r *Registry) ResolveAll(ctx context.Context, requests []Request, workers int) ([]*Set, error) {
	seen := make(map[Request]struct{}, len(requests))
	for _, q := range requests {
		if _, dup := seen[q]; dup {
			return nil, fmt.Errorf("duplicate request %s", q)
		}
		seen[q] = struct{}{}
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]*Set, len(requests))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers).WithCancelOnError().WithFirstError()
	for i, q := range requests {
		i, q := i, q
		p.Go(func(ctx context.Context) error {
			set, err := r.Resolve(ctx, q.Channel, q.Version)
			if err != nil {
				return err
			}
			results[i] = set
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
