package walker

import (
	"context"
	"io"

	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/fsadapter"
	"github.com/zarniwp/cuba/internal/hashing"
	"github.com/zarniwp/cuba/internal/metadata"
)

// Action is the planner's classification of one (relative_path,
// file_stat) pair joined against the metadata document, per spec.md
// §4.2.
type Action int

const (
	// ActionSkip means the file is unchanged; nothing to do.
	ActionSkip Action = iota
	// ActionUpload means the file is new or changed and must be
	// transformed and written to the destination.
	ActionUpload
	// ActionMarkMissing means a metadata entry exists but the source
	// file is gone.
	ActionMarkMissing
)

// PlanItem pairs a FileStat (when present) with the classification
// decision and, for Upload, whether the fast path alone decided it or
// a hash comparison was needed.
type PlanItem struct {
	RelativePath string
	Stat         FileStat
	Action       Action
	KnownHash    string // set when the hash was already computed during planning
}

// Plan classifies every entry in files against store, per spec.md
// §4.2's Unchanged/Changed/New/Missing rules. When strict is true, the
// fast path (size+mtime) match is always confirmed by a BLAKE3
// comparison rather than trusted outright.
//
// open is used to read a source file's bytes when a hash comparison is
// required (strict mode, or a fast-path mismatch); it is not called
// for files classified Skip via the fast path alone.
func Plan(ctx context.Context, files []FileStat, store *metadata.Store, strict bool, open func(relativePath string) (io.ReadCloser, error)) ([]PlanItem, error) {
	seen := make(map[string]bool, len(files))
	var items []PlanItem

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, cuberr.New(cuberr.KindCancelled, err)
		}
		seen[f.RelativePath] = true

		entry, ok := store.Get(f.RelativePath)
		if !ok {
			items = append(items, PlanItem{RelativePath: f.RelativePath, Stat: f, Action: ActionUpload})
			continue
		}

		fastMatch := entry.Size == f.Size && entry.MTime.Equal(f.MTime)
		if fastMatch && !strict {
			items = append(items, PlanItem{RelativePath: f.RelativePath, Stat: f, Action: ActionSkip})
			continue
		}

		hash, err := hashSource(ctx, open, f.RelativePath)
		if err != nil {
			return nil, err
		}
		if hash == entry.Hash {
			items = append(items, PlanItem{RelativePath: f.RelativePath, Stat: f, Action: ActionSkip, KnownHash: hash})
			continue
		}
		items = append(items, PlanItem{RelativePath: f.RelativePath, Stat: f, Action: ActionUpload, KnownHash: hash})
	}

	for _, entry := range store.Snapshot() {
		if !seen[entry.RelativePath] && entry.State == metadata.StatePresent {
			items = append(items, PlanItem{RelativePath: entry.RelativePath, Action: ActionMarkMissing})
		}
	}

	return items, nil
}

func hashSource(ctx context.Context, open func(relativePath string) (io.ReadCloser, error), relativePath string) (string, error) {
	r, err := open(relativePath)
	if err != nil {
		return "", cuberr.New(cuberr.KindIO, err).WithPath(relativePath)
	}
	defer r.Close()
	sum, err := hashing.Sum(r)
	if err != nil {
		return "", cuberr.New(cuberr.KindIO, err).WithPath(relativePath)
	}
	return sum, nil
}

// Orphans computes destination objects present in fsys's listing but
// absent from the metadata document's current object set — the
// set-difference clean's Delete classification needs (spec.md §4.8).
// Only Present entries' objects count as known: a Missing entry's
// object is no longer backed by anything in the source tree, so it
// must fall out as an orphan and be deleted alongside the entry
// itself (spec.md §8 Invariant #6).
func Orphans(ctx context.Context, fsys fsadapter.Filesystem, destPrefix string, store *metadata.Store) ([]string, error) {
	known := make(map[string]bool)
	for _, e := range store.Snapshot() {
		if e.State == metadata.StatePresent {
			known[e.Object] = true
		}
	}

	objects, err := fsys.List(ctx, destPrefix)
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, o := range objects {
		if o.IsDir {
			continue
		}
		if !known[o.Name] {
			orphans = append(orphans, o.Name)
		}
	}
	return orphans, nil
}
