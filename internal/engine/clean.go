package engine

import (
	"context"

	"github.com/zarniwp/cuba/internal/fsadapter"
	"github.com/zarniwp/cuba/internal/message"
	"github.com/zarniwp/cuba/internal/metadata"
	"github.com/zarniwp/cuba/internal/walker"
)

// Clean runs spec.md §4.8's Clean operation: list destination objects
// under the profile root, compute the set difference against the
// metadata document's object names, delete orphans, and drop metadata
// entries tagged Missing past their grace period (default: immediately,
// per spec.md §4.8 — no grace-period knob is exposed in spec.md §6's
// configuration schema, so every Missing entry qualifies).
func (o *Orchestrator) Clean(ctx context.Context, profile string) Result {
	handle := newRunHandle(o.idgen.New(), profile, "clean", o.clk.Now())
	ctx = handle.bind(ctx)
	if err := o.acquire(profile, handle); err != nil {
		return Result{RunID: handle.CorrelationID, Profile: profile, Operation: "clean", FinalState: StateFailed, Err: err}
	}
	defer o.release(profile)

	handle.setState(StatePreparing)
	spec, _, dstFS, err := o.resolveProfile(profile)
	if err != nil {
		return o.fail(handle, err)
	}
	dstFS = fsadapter.Sub(dstFS, spec.DestRoot)

	handle.setState(StatePlanning)
	store, err := metadata.Load(ctx, dstFS, profile, o.clk)
	if err != nil {
		return o.fail(handle, err)
	}

	orphans, err := walker.Orphans(ctx, dstFS, "", store)
	if err != nil {
		return o.fail(handle, err)
	}
	orphans = withoutMetadataDocument(orphans, profile)

	missing := missingEntries(store)
	o.progress(handle, "Planning", len(orphans)+len(missing), 0, 0, 0)

	if handle.Cancelled() || ctx.Err() != nil {
		return o.cancelledResult(handle)
	}

	handle.setState(StateRunning)
	var deleted, failed int
	var fileErrs []FileError

	for _, object := range orphans {
		if ctx.Err() != nil {
			break
		}
		if err := dstFS.Remove(ctx, object); err != nil {
			failed++
			fileErrs = append(fileErrs, FileError{RelativePath: object, Err: err})
			o.emitFileResult(handle, object, message.ActionFailed, 0, err)
			continue
		}
		deleted++
		o.emitFileResult(handle, object, message.ActionDelete, 0, nil)
	}

	for _, relativePath := range missing {
		if ctx.Err() != nil {
			break
		}
		store.Remove(relativePath)
	}

	handle.setState(StateFinalizing)
	if err := store.Persist(ctx, dstFS); err != nil {
		return o.fail(handle, err)
	}

	final := StateDone
	if handle.Cancelled() || ctx.Err() != nil {
		final = StateCancelled
	} else if failed > 0 {
		final = StateFailed
	}
	handle.setState(final)
	o.progress(handle, "Finalizing", len(orphans), deleted, 0, 0)

	return Result{
		RunID:        handle.CorrelationID,
		Profile:      profile,
		Operation:    "clean",
		FinalState:   final,
		FilesDeleted: deleted,
		FilesFailed:  failed,
		Errors:       fileErrs,
	}
}

// withoutMetadataDocument filters the metadata document's own object
// name out of an orphan list — it lives alongside backup objects under
// the profile's destination root but is never itself a file entry.
func withoutMetadataDocument(orphans []string, profile string) []string {
	doc := profile + ".cuba.json"
	out := orphans[:0]
	for _, o := range orphans {
		if o == doc {
			continue
		}
		out = append(out, o)
	}
	return out
}

// missingEntries returns the relative paths of every entry tagged
// Missing, which clean drops outright per spec.md §4.8's default
// (immediate) grace period.
func missingEntries(store *metadata.Store) []string {
	var out []string
	for _, e := range store.Snapshot() {
		if e.State == metadata.StateMissing {
			out = append(out, e.RelativePath)
		}
	}
	return out
}
