// Package trace records which cached resources a resolution reused and which
// it rebuilt, in a canonical form that is byte-stable across runs.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ResolutionTrace is the canonical record of one resolution.
//
// It holds logical decisions only: no timestamps, durations, error strings
// or paths that depend on the host. Two runs making the same decisions
// produce the same canonical bytes regardless of goroutine scheduling.
type ResolutionTrace struct {
	Request string
	Events  []Event
}

// EventKind is the stable discriminator for Event. The string values are
// part of the canonical bytes; do not rename.
type EventKind string

const (
	EventResourceInvalidated EventKind = "ResourceInvalidated"
	EventResourceReused      EventKind = "ResourceReused"
	EventMappingMerged       EventKind = "MappingMerged"
	EventRenamesWritten      EventKind = "RenamesWritten"
	EventArchiveWritten      EventKind = "ArchiveWritten"
	EventResourceFailed      EventKind = "ResourceFailed"
)

// Stable reason codes.
const (
	ReasonNoRecord      = "NoRecord"
	ReasonInputsChanged = "InputsChanged"
	ReasonOutputMissing = "OutputMissing"
)

// Event is a single decision about one resource.
type Event struct {
	Kind EventKind

	// Resource is the logical resource name (cache-root relative).
	Resource string

	// Reason is a stable reason code, e.g. ReasonInputsChanged.
	Reason string

	// Inputs lists fingerprint labels relevant to the decision, e.g. the
	// labels whose digests changed.
	Inputs []string
}

// Validate checks basic invariants.
func (t *ResolutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.Request == "" {
		return errors.New("request is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Resource == "" {
			return fmt.Errorf("events[%d].resource is required", i)
		}
		for j, in := range e.Inputs {
			if in == "" {
				return fmt.Errorf("events[%d].inputs[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize sorts inputs and events into their canonical order:
// (resource, kind order, reason, inputs).
func (t *ResolutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Inputs) == 0 {
			t.Events[i].Inputs = nil
			continue
		}
		in := make([]string, len(t.Events[i].Inputs))
		copy(in, t.Events[i].Inputs)
		sort.Strings(in)
		t.Events[i].Inputs = in
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return lessStrings(a.Inputs, b.Inputs)
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventResourceInvalidated:
		return 10
	case EventResourceReused:
		return 20
	case EventMappingMerged:
		return 30
	case EventRenamesWritten:
		return 35
	case EventArchiveWritten:
		return 40
	case EventResourceFailed:
		return 50
	default:
		return 1000
	}
}

func lessStrings(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical encoding without mutating t.
func (t ResolutionTrace) CanonicalJSON() ([]byte, error) {
	c := ResolutionTrace{Request: t.Request, Events: make([]Event, len(t.Events))}
	copy(c.Events, t.Events)
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&c)
}

// Hash returns the hex blake3 digest of the canonical encoding.
func (t ResolutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}

// MarshalJSON fixes field order.
func (t ResolutionTrace) MarshalJSON() ([]byte, error) {
	if t.Request == "" {
		return nil, errors.New("request is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"request":`)
	rb, _ := json.Marshal(t.Request)
	buf.Write(rb)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var inputs []string
	if len(e.Inputs) > 0 {
		inputs = make([]string, len(e.Inputs))
		copy(inputs, e.Inputs)
		sort.Strings(inputs)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	if e.Resource != "" {
		buf.WriteString(`,"resource":`)
		b, _ := json.Marshal(e.Resource)
		buf.Write(b)
	}
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		b, _ := json.Marshal(e.Reason)
		buf.Write(b)
	}
	if len(inputs) > 0 {
		buf.WriteString(`,"inputs":`)
		b, _ := json.Marshal(inputs)
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
