// Package mapping defines the canonical name-mapping model shared by every
// stage of resolution.
//
// A Set is keyed by intermediate names: stable identifiers assigned by the
// obfuscation tooling that survive renaming across releases. Each Entry maps
// one intermediate name to its human-readable name and records which build
// variant (client, server, or both) the symbol belongs to.
//
// Sets are immutable once built. Entries inside a category are sorted by
// intermediate name so that every consumer observes the same order.
package mapping

import (
	"fmt"
	"sort"
	"strconv"
)

// Side identifies which build variant(s) a mapped symbol applies to.
//
// The integer values are part of the archive format; do not renumber.
type Side int

const (
	Joined     Side = 0
	ServerOnly Side = 1
	ClientOnly Side = 2
)

func (s Side) String() string {
	switch s {
	case Joined:
		return "joined"
	case ServerOnly:
		return "server"
	case ClientOnly:
		return "client"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Valid reports whether s is one of the three defined sides.
func (s Side) Valid() bool {
	return s == Joined || s == ServerOnly || s == ClientOnly
}

// Code returns the archive encoding of s.
func (s Side) Code() string {
	return strconv.Itoa(int(s))
}

// ParseSide decodes the archive encoding of a side.
func ParseSide(code string) (Side, error) {
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, Errorf(ErrMalformedInput, "side %q is not an integer", code)
	}
	s := Side(n)
	if !s.Valid() {
		return 0, Errorf(ErrMalformedInput, "side %d out of range", n)
	}
	return s, nil
}

// order ranks sides for tie-breaking entries that share an intermediate name.
// A client-exclusive entry precedes its server-exclusive counterpart.
func (s Side) order() int {
	switch s {
	case Joined:
		return 0
	case ClientOnly:
		return 1
	case ServerOnly:
		return 2
	default:
		return 3
	}
}

// Category is one section of a Set.
type Category string

const (
	Classes    Category = "classes"
	Fields     Category = "fields"
	Methods    Category = "methods"
	Parameters Category = "params"
)

// Categories lists every category in canonical order.
var Categories = []Category{Classes, Fields, Methods, Parameters}

// Documented reports whether entries of c carry a documentation column.
func (c Category) Documented() bool {
	return c != Parameters
}

// Entry is a single intermediate-to-readable mapping.
//
// Within one category an (Intermediate, Side) pair is unique. The same
// intermediate name appears twice only when client and server disagree on its
// readable name, once as ClientOnly and once as ServerOnly.
type Entry struct {
	Intermediate string
	Mapped       string
	Side         Side
	Doc          string
}

// Set is the resolved mapping for one (channel, version) pair.
type Set struct {
	Channel    string
	Version    string
	Classes    []Entry
	Fields     []Entry
	Methods    []Entry
	Parameters []Entry
}

// NewSet builds a Set, copying and sorting every category.
func NewSet(channel, version string, classes, fields, methods, params []Entry) *Set {
	return &Set{
		Channel:    channel,
		Version:    version,
		Classes:    SortedEntries(classes),
		Fields:     SortedEntries(fields),
		Methods:    SortedEntries(methods),
		Parameters: SortedEntries(params),
	}
}

// Entries returns the entries of category c.
func (s *Set) Entries(c Category) []Entry {
	if s == nil {
		return nil
	}
	switch c {
	case Classes:
		return s.Classes
	case Fields:
		return s.Fields
	case Methods:
		return s.Methods
	case Parameters:
		return s.Parameters
	default:
		return nil
	}
}

// Len returns the total number of entries across all categories.
func (s *Set) Len() int {
	n := 0
	for _, c := range Categories {
		n += len(s.Entries(c))
	}
	return n
}

// Validate checks the uniqueness invariant and side values.
func (s *Set) Validate() error {
	if s == nil {
		return Errorf(ErrMalformedInput, "nil mapping set")
	}
	for _, c := range Categories {
		seen := make(map[string][]Side)
		for i, e := range s.Entries(c) {
			if e.Intermediate == "" {
				return Errorf(ErrMalformedInput, "%s[%d]: empty intermediate name", c, i)
			}
			if !e.Side.Valid() {
				return Errorf(ErrMalformedInput, "%s[%d]: invalid side %d", c, i, int(e.Side))
			}
			for _, prev := range seen[e.Intermediate] {
				if prev == e.Side || prev == Joined || e.Side == Joined {
					return Errorf(ErrMalformedInput, "%s: duplicate intermediate name %q", c, e.Intermediate)
				}
			}
			seen[e.Intermediate] = append(seen[e.Intermediate], e.Side)
		}
	}
	return nil
}

// SortedEntries returns a sorted copy of entries, ordered by intermediate
// name and then side.
func SortedEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Intermediate != out[j].Intermediate {
			return out[i].Intermediate < out[j].Intermediate
		}
		return out[i].Side.order() < out[j].Side.order()
	})
	return out
}
