package trace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Event order does not affect the canonical bytes.
func TestCanonicalTraceStability_ByteForByte(t *testing.T) {
	trace1 := ResolutionTrace{
		Request: "official@1.16.5",
		Events: []Event{
			{Kind: EventMappingMerged, Resource: "b"},
			{Kind: EventResourceReused, Resource: "a"},
			{Kind: EventResourceInvalidated, Resource: "b", Reason: ReasonInputsChanged, Inputs: []string{"tsrg", "pg_client"}},
		},
	}
	trace2 := ResolutionTrace{
		Request: "official@1.16.5",
		Events: []Event{
			{Kind: EventResourceInvalidated, Resource: "b", Inputs: []string{"pg_client", "tsrg"}, Reason: ReasonInputsChanged},
			{Kind: EventResourceReused, Resource: "a"},
			{Kind: EventMappingMerged, Resource: "b"},
		},
	}

	b1, err := trace1.CanonicalJSON()
	require.NoError(t, err)
	b2, err := trace2.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

// Events sort by resource, then kind.
func TestCanonicalOrdering_SortsByResourceThenKind(t *testing.T) {
	tr := ResolutionTrace{
		Request: "r",
		Events: []Event{
			{Kind: EventArchiveWritten, Resource: "b"},
			{Kind: EventMappingMerged, Resource: "b"},
			{Kind: EventResourceReused, Resource: "a"},
		},
	}
	b, err := tr.CanonicalJSON()
	require.NoError(t, err)

	expected := `{"request":"r","events":[{"kind":"ResourceReused","resource":"a"},{"kind":"MappingMerged","resource":"b"},{"kind":"ArchiveWritten","resource":"b"}]}`
	assert.Equal(t, expected, string(b))
}

// Canonicalizing leaves the caller's events alone.
func TestCanonicalJSON_DoesNotMutateCaller(t *testing.T) {
	events := []Event{
		{Kind: EventResourceReused, Resource: "z"},
		{Kind: EventResourceReused, Resource: "a", Inputs: []string{"y", "x"}},
	}
	tr := ResolutionTrace{Request: "r", Events: events}

	_, err := tr.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, "z", events[0].Resource)
	assert.Equal(t, []string{"y", "x"}, events[1].Inputs)
}

// Empty inputs are omitted from the JSON.
func TestEventInputs_OmittedWhenEmpty(t *testing.T) {
	tr := ResolutionTrace{Request: "r", Events: []Event{{Kind: EventResourceReused, Resource: "a", Inputs: []string{}}}}
	b, err := tr.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"request":"r","events":[{"kind":"ResourceReused","resource":"a"}]}`, string(b))
}

// Request and event resources are required.
func TestValidate_RejectsMissingFields(t *testing.T) {
	_, err := ResolutionTrace{Events: []Event{{Kind: EventResourceReused, Resource: "a"}}}.CanonicalJSON()
	assert.Error(t, err)

	_, err = ResolutionTrace{Request: "r", Events: []Event{{Kind: EventResourceReused}}}.CanonicalJSON()
	assert.Error(t, err)
}

// Recording order does not change the digest.
func TestHash_IgnoresRecordingOrder(t *testing.T) {
	r1 := NewRecorder()
	r2 := NewRecorder()
	events := []Event{
		{Kind: EventResourceInvalidated, Resource: "m", Reason: ReasonNoRecord},
		{Kind: EventMappingMerged, Resource: "m"},
		{Kind: EventResourceReused, Resource: "t"},
	}
	for _, e := range events {
		r1.Record(e)
	}
	var wg sync.WaitGroup
	for i := len(events) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(e Event) {
			defer wg.Done()
			r2.Record(e)
		}(events[i])
	}
	wg.Wait()

	h1, err := r1.Trace("r").Hash()
	require.NoError(t, err)
	h2, err := r2.Trace("r").Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

// A panicking sink never breaks a resolution.
func TestSafeRecord_SwallowsPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		SafeRecord(panicSink{}, Event{Kind: EventResourceReused, Resource: "a"})
		SafeRecord(nil, Event{Kind: EventResourceReused, Resource: "a"})
	})
}

type panicSink struct{}

func (panicSink) Record(Event) { panic("boom") }
