package engine

import (
	"context"
	"fmt"

	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/fsadapter"
	"github.com/zarniwp/cuba/internal/hashing"
	"github.com/zarniwp/cuba/internal/message"
	"github.com/zarniwp/cuba/internal/metadata"
	"github.com/zarniwp/cuba/internal/transform"
)

// Verify runs spec.md §4.8's Verify operation. With allFiles=false it
// only confirms each Present entry's destination object exists and is
// not empty when the recorded size is non-zero; the object's size is not
// compared with the recorded size and its header is not inspected. With
// allFiles=true it additionally streams and rehashes the plaintext,
// comparing against the recorded hash.
func (o *Orchestrator) Verify(ctx context.Context, profile string, allFiles bool) Result {
	handle := newRunHandle(o.idgen.New(), profile, "verify", o.clk.Now())
	ctx = handle.bind(ctx)
	if err := o.acquire(profile, handle); err != nil {
		return Result{RunID: handle.CorrelationID, Profile: profile, Operation: "verify", FinalState: StateFailed, Err: err}
	}
	defer o.release(profile)

	handle.setState(StatePreparing)
	spec, _, dstFS, err := o.resolveProfile(profile)
	if err != nil {
		return o.fail(handle, err)
	}
	dstFS = fsadapter.Sub(dstFS, spec.DestRoot)
	passphrase, err := o.resolvePassphrase(spec)
	if err != nil {
		return o.fail(handle, err)
	}

	handle.setState(StatePlanning)
	store, err := metadata.Load(ctx, dstFS, profile, o.clk)
	if err != nil {
		return o.fail(handle, err)
	}
	entries := store.Snapshot()
	o.progress(handle, "Planning", len(entries), 0, 0, 0)

	handle.setState(StateRunning)
	var verified, failed int
	var fileErrs []FileError

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.State != metadata.StatePresent {
			continue
		}

		if err := o.verifyOne(ctx, dstFS, entry, allFiles, passphrase); err != nil {
			failed++
			fileErrs = append(fileErrs, FileError{RelativePath: entry.RelativePath, Err: err})
			o.emitFileResult(handle, entry.RelativePath, message.ActionIntegrityFailed, 0, err)
			continue
		}
		verified++
		o.emitFileResult(handle, entry.RelativePath, message.ActionVerified, entry.Size, nil)
	}

	handle.setState(StateFinalizing)
	final := StateDone
	if handle.Cancelled() || ctx.Err() != nil {
		final = StateCancelled
	} else if failed > 0 {
		final = StateFailed
	}
	handle.setState(final)

	return Result{
		RunID:       handle.CorrelationID,
		Profile:     profile,
		Operation:   "verify",
		FinalState:  final,
		FilesSkipped: verified,
		FilesFailed: failed,
		Errors:      fileErrs,
	}
}

// verifyOne checks entry against the destination, per spec.md §4.8's
// two verify modes. With allFiles=false it only confirms the object
// exists and is non-empty when entry.Size is non-zero (any other stored
// size passes); with allFiles=true it additionally streams the object
// through the inverse transform and rehashes the plaintext.
func (o *Orchestrator) verifyOne(ctx context.Context, dstFS fsadapter.Filesystem, entry metadata.Entry, allFiles bool, passphrase string) error {
	info, err := dstFS.Stat(ctx, entry.Object)
	if err != nil {
		return cuberr.New(cuberr.KindIntegrity, fmt.Errorf("destination object missing: %w", err)).WithPath(entry.RelativePath)
	}
	if !allFiles {
		if info.Size == 0 && entry.Size != 0 {
			return cuberr.Wrap(cuberr.KindIntegrity, "destination object for %q is empty, expected %d bytes", entry.RelativePath, entry.Size).WithPath(entry.RelativePath)
		}
		return nil
	}

	kind, err := transform.ParseKind(entry.Transform)
	if err != nil {
		return cuberr.New(cuberr.KindInternal, err).WithPath(entry.RelativePath)
	}
	pipeline := transform.Pipeline{Kind: kind, Passphrase: passphrase}

	r, err := dstFS.OpenRead(ctx, entry.Object)
	if err != nil {
		return cuberr.New(cuberr.KindIntegrity, err).WithPath(entry.RelativePath)
	}
	defer r.Close()

	plain, err := pipeline.Inverse(r)
	if err != nil {
		return cuberr.New(cuberr.KindIntegrity, fmt.Errorf("corrupt stored object: %w", err)).WithPath(entry.RelativePath)
	}

	h := hashing.New()
	if _, err := transform.CopyChunked(h, plain, hashing.DefaultChunkSize, func() bool { return ctx.Err() != nil }); err != nil {
		return cuberr.New(cuberr.KindIntegrity, fmt.Errorf("rehashing stored object: %w", err)).WithPath(entry.RelativePath)
	}
	if sum := h.SumHex(); sum != entry.Hash {
		return cuberr.Wrap(cuberr.KindIntegrity, "hash mismatch for %q: recorded %s, recomputed %s", entry.RelativePath, entry.Hash, sum).WithPath(entry.RelativePath)
	}
	return nil
}
