// Package metadata implements the per-profile metadata document
// spec.md §4.6/§6 describes: a JSON document at
// <dest_root>/<profile>.cuba.json recording one entry per source file,
// guarded for concurrent mutation during a run and persisted
// atomically at run end. Grounded on the teacher's
// FileSystemVault.writeFile atomic temp-then-rename pattern
// (internal/vault/filesystem.go) for the persist step, generalized
// from a content-addressed binary blob to a profile-scoped JSON
// document with sorted keys.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zarniwp/cuba/internal/clock"
	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/fsadapter"
)

// State is the lifecycle tag spec.md §6's JSON schema assigns an entry.
type State string

const (
	StatePresent State = "Present"
	StateMissing State = "Missing"
)

// Entry is one file's recorded state, per spec.md §6.
type Entry struct {
	RelativePath string    `json:"-"`
	Size         int64     `json:"size"`
	MTime        time.Time `json:"mtime"`
	Hash         string    `json:"hash"`
	Transform    string    `json:"transform"`
	Object       string    `json:"object"`
	State        State     `json:"state"`
	LastSuccess  time.Time `json:"last_success"`
}

// Document is the on-disk representation spec.md §6 defines.
type Document struct {
	SchemaVersion int                `json:"schema_version"`
	Profile       string             `json:"profile"`
	CreatedAt     time.Time          `json:"created_at"`
	LastRunAt     time.Time          `json:"last_run_at"`
	Entries       map[string]*Entry  `json:"entries"`
}

// CurrentSchemaVersion is the schema_version this package writes.
const CurrentSchemaVersion = 1

// Store holds one profile's active Document in memory, guarded for
// concurrent mutation by worker goroutines during a run, per spec.md
// §4.6.
type Store struct {
	mu    sync.Mutex
	doc   *Document
	dirty bool
	clk   clock.Clock
}

// NewStore creates a Store for a fresh or freshly loaded Document.
func NewStore(doc *Document, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]*Entry)
	}
	return &Store{doc: doc, clk: clk}
}

// New creates an empty Document for profile and wraps it in a Store.
func New(profile string, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	now := clk.Now()
	return NewStore(&Document{
		SchemaVersion: CurrentSchemaVersion,
		Profile:       profile,
		CreatedAt:     now,
		Entries:       make(map[string]*Entry),
	}, clk)
}

// Get returns a copy of the entry for relativePath, or false if none
// exists.
func (s *Store) Get(relativePath string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Entries[relativePath]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Upsert inserts or replaces the entry for entry.RelativePath.
func (s *Store) Upsert(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry
	s.doc.Entries[entry.RelativePath] = &e
	s.dirty = true
}

// MarkMissing tags an existing entry Missing without removing it, so
// clean's grace-period logic (spec.md §4.8) can later decide whether
// to drop it.
func (s *Store) MarkMissing(relativePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.doc.Entries[relativePath]; ok {
		e.State = StateMissing
		s.dirty = true
	}
}

// Remove deletes the entry for relativePath entirely.
func (s *Store) Remove(relativePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Entries[relativePath]; ok {
		delete(s.doc.Entries, relativePath)
		s.dirty = true
	}
}

// Snapshot returns a deep copy of every entry, sorted by relative
// path, for read-only consumers (verify, clean).
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.doc.Entries))
	for path, e := range s.doc.Entries {
		copyE := *e
		copyE.RelativePath = path
		out = append(out, copyE)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out
}

// Dirty reports whether any mutation occurred since the last Persist.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// objectName is the path Persist writes the document to, under a
// filesystem rooted at the profile's destination root.
func objectName(profile string) string {
	return profile + ".cuba.json"
}

// Persist writes the document to <profile>.cuba.json on fsys, via a
// temp object and atomic finalize (fsadapter.WriteHandle), skipping
// the write entirely if nothing has changed since the last Persist —
// spec.md §4.6's no-op-when-clean requirement.
func (s *Store) Persist(ctx context.Context, fsys fsadapter.Filesystem) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.doc.LastRunAt = s.clk.Now()
	data, err := marshalSorted(s.doc)
	s.mu.Unlock()
	if err != nil {
		return cuberr.New(cuberr.KindInternal, fmt.Errorf("marshaling metadata document: %w", err))
	}

	wh, err := fsys.OpenWriteTemp(ctx, objectName(s.doc.Profile))
	if err != nil {
		return cuberr.New(cuberr.KindIO, fmt.Errorf("opening metadata document for write: %w", err))
	}
	if _, err := wh.Write(data); err != nil {
		_ = wh.Discard(ctx)
		return cuberr.New(cuberr.KindIO, fmt.Errorf("writing metadata document: %w", err))
	}
	if err := wh.Finalize(ctx); err != nil {
		return cuberr.New(cuberr.KindIO, fmt.Errorf("finalizing metadata document: %w", err))
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Load reads and parses the metadata document for profile from fsys,
// returning an empty Store if no document exists yet.
func Load(ctx context.Context, fsys fsadapter.Filesystem, profile string, clk clock.Clock) (*Store, error) {
	rc, err := fsys.OpenRead(ctx, objectName(profile))
	if err != nil {
		if cuberr.Is(err, cuberr.KindNotFound) {
			return New(profile, clk), nil
		}
		return nil, cuberr.New(cuberr.KindIO, fmt.Errorf("reading metadata document: %w", err))
	}
	defer rc.Close()

	var doc Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, cuberr.New(cuberr.KindIntegrity, fmt.Errorf("decoding metadata document: %w", err))
	}
	for path, e := range doc.Entries {
		e.RelativePath = path
	}
	return NewStore(&doc, clk), nil
}

// marshalSorted serializes doc with entries emitted in lexicographic
// key order for reproducibility, per spec.md §6. Go's encoding/json
// already sorts map keys when marshaling, so this wraps Marshal mainly
// to keep the sort behavior documented at the call site rather than
// left implicit.
func marshalSorted(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
