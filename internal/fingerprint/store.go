// Package fingerprint decides whether an expensive derivation can be skipped
// because none of its inputs changed since it last succeeded.
//
// A Store tracks labelled inputs (files or literal strings) for one logical
// resource. Valid compares their current digests against the record
// persisted by the last Commit; the record lives at
// <root>/<resource> and is replaced atomically.
//
// Callers must follow the ordering:
//
//	ok, err := store.Valid()
//	if !ok {
//		produce output durably
//		store.Commit()
//	}
//
// Committing before the output is durable could mark a missing output as
// valid on the next run. A crash between the output write and Commit only
// costs a recomputation.
package fingerprint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/zeebo/blake3"

	"mapweaver/internal/atomicfile"
	"mapweaver/internal/codec"
)

// recordVersion is bumped whenever the record layout or digest changes.
const recordVersion = 1

// lockRetry is the polling interval while waiting for another holder.
const lockRetry = 50 * time.Millisecond

// Digest is the hex-encoded blake3-256 digest of one input.
type Digest string

// Record is the persisted label → digest set.
type Record struct {
	Version int               `cbor:"v"`
	Inputs  map[string]Digest `cbor:"inputs"`
}

// Equal reports whether r and other carry exactly the same labels and digests.
func (r Record) Equal(other Record) bool {
	return r.Version == other.Version && maps.Equal(r.Inputs, other.Inputs)
}

// Labels returns the record's labels, sorted.
func (r Record) Labels() []string {
	out := make([]string, 0, len(r.Inputs))
	for k := range r.Inputs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type source struct {
	path    string
	literal string
	isFile  bool
}

// Store tracks the inputs of one resource.
//
// A Store is not safe for concurrent use. Distinct resources may be
// processed on separate goroutines with separate Stores; one resource must
// be guarded with Lock when more than one caller could reach it.
type Store struct {
	root     string
	resource string
	inputs   map[string]source
	lock     *flock.Flock

	// snapshot holds the digests taken by the current Valid/Changed/Commit
	// cycle. Commit persists it and clears it.
	snapshot *Record
}

// New returns a Store for resource under root. resource is a slash separated
// path relative to root, e.g. "net/minecraft/mapping/1.16.5/mapping.zip.input".
func New(root, resource string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("cache root is required")
	}
	clean := filepath.Clean(filepath.FromSlash(resource))
	if strings.TrimSpace(resource) == "" || clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid resource name %q", resource)
	}
	return &Store{
		root:     root,
		resource: clean,
		inputs:   make(map[string]source),
	}, nil
}

// Path returns the location of the persisted record.
func (s *Store) Path() string {
	return filepath.Join(s.root, s.resource)
}

// TrackFile registers the content of the file at path under label.
// Tracking an existing label replaces it.
func (s *Store) TrackFile(label, path string) *Store {
	s.inputs[label] = source{path: path, isFile: true}
	s.snapshot = nil
	return s
}

// TrackString registers a literal value under label, e.g. a code version
// token that invalidates old records when the derivation logic changes.
func (s *Store) TrackString(label, value string) *Store {
	s.inputs[label] = source{literal: value}
	s.snapshot = nil
	return s
}

// Labels returns the tracked labels, sorted.
func (s *Store) Labels() []string {
	out := make([]string, 0, len(s.inputs))
	for k := range s.inputs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// snap returns the digests taken earlier in this decision, taking them now
// if none were.
func (s *Store) snap() (Record, error) {
	if s.snapshot != nil {
		return *s.snapshot, nil
	}
	cur, err := s.Current()
	if err != nil {
		return Record{}, err
	}
	s.snapshot = &cur
	return cur, nil
}

// Current digests every tracked input.
func (s *Store) Current() (Record, error) {
	rec := Record{Version: recordVersion, Inputs: make(map[string]Digest, len(s.inputs))}
	for _, label := range s.Labels() {
		src := s.inputs[label]
		if !src.isFile {
			rec.Inputs[label] = DigestString(src.literal)
			continue
		}
		d, err := DigestFile(src.path)
		if err != nil {
			return Record{}, fmt.Errorf("fingerprinting %s: %w", label, err)
		}
		rec.Inputs[label] = d
	}
	return rec, nil
}

// Previous loads the persisted record. ok is false when no usable record
// exists; a corrupt record counts as absent.
func (s *Store) Previous() (rec Record, ok bool) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return Record{}, false
	}
	if err := codec.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	if rec.Version != recordVersion || rec.Inputs == nil {
		return Record{}, false
	}
	return rec, true
}

// Valid reports whether the persisted record matches the tracked inputs
// exactly: same label set, same digest for every label. It returns false
// without error when no record exists. An error means a record exists but a
// tracked input could not be read.
//
// Valid starts a new decision. The digests it takes are the ones a later
// Commit persists.
func (s *Store) Valid() (bool, error) {
	s.snapshot = nil
	prev, ok := s.Previous()
	if !ok {
		return false, nil
	}
	cur, err := s.snap()
	if err != nil {
		return false, err
	}
	return cur.Equal(prev), nil
}

// Changed returns the labels that were added, removed or changed since the
// persisted record, sorted. hadRecord is false when no usable record exists,
// in which case every tracked label is reported.
func (s *Store) Changed() (labels []string, hadRecord bool, err error) {
	cur, err := s.snap()
	if err != nil {
		return nil, false, err
	}
	prev, ok := s.Previous()
	if !ok {
		return cur.Labels(), false, nil
	}
	return Diff(prev, cur), true, nil
}

// Diff returns the labels whose presence or digest differs between a and b.
func Diff(a, b Record) []string {
	var out []string
	for k, v := range a.Inputs {
		if w, ok := b.Inputs[k]; !ok || w != v {
			out = append(out, k)
		}
	}
	for k := range b.Inputs {
		if _, ok := a.Inputs[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Commit persists the digests taken by Valid or Changed as the resource's
// record, atomically replacing any previous record. Inputs are digested here
// only when neither was called. An input rewritten after that point is
// therefore seen as changed by the next run.
func (s *Store) Commit() error {
	cur, err := s.snap()
	if err != nil {
		return err
	}
	data, err := codec.Marshal(cur)
	if err != nil {
		return fmt.Errorf("encoding fingerprint record: %w", err)
	}
	if err := atomicfile.Write(s.Path(), data, 0o644); err != nil {
		return fmt.Errorf("writing fingerprint record %s: %w", s.Path(), err)
	}
	s.snapshot = nil
	return nil
}

// Invalidate removes the persisted record so the next Valid reports false.
func (s *Store) Invalidate() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Lock takes the advisory exclusive lock for this resource, waiting until it
// is available or ctx is done. The lock file sits next to the record.
func (s *Store) Lock(ctx context.Context) error {
	if s.lock != nil {
		return nil
	}
	path := s.Path() + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	l := flock.New(path)
	ok, err := l.TryLockContext(ctx, lockRetry)
	if err != nil {
		_ = l.Close()
		return fmt.Errorf("locking %s: %w", s.resource, err)
	}
	if !ok {
		_ = l.Close()
		return fmt.Errorf("locking %s: not acquired", s.resource)
	}
	s.lock = l
	return nil
}

// Unlock releases the lock taken by Lock. It is a no-op when not held.
func (s *Store) Unlock() error {
	if s.lock == nil {
		return nil
	}
	l := s.lock
	s.lock = nil
	return l.Close()
}

// DigestString returns the digest of a literal value.
func DigestString(v string) Digest {
	sum := blake3.Sum256([]byte(v))
	return Digest(hex.EncodeToString(sum[:]))
}

// DigestFile streams the file at path through blake3.
func DigestFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}
