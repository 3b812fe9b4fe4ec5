package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/fsadapter"
	"github.com/zarniwp/cuba/internal/hashing"
	"github.com/zarniwp/cuba/internal/message"
	"github.com/zarniwp/cuba/internal/metadata"
	"github.com/zarniwp/cuba/internal/transform"
)

// Restore runs spec.md §4.8's Restore operation: for every Present
// metadata entry, stream the destination object through the inverse
// transform and write it to the source-side output path. Restore
// targets are treated symmetrically with backup sources (DESIGN.md's
// Open Question (b)): the output is resolved through the same
// rootedFilesystem requirement as backup's source.
func (o *Orchestrator) Restore(ctx context.Context, profile string) Result {
	handle := newRunHandle(o.idgen.New(), profile, "restore", o.clk.Now())
	ctx = handle.bind(ctx)
	if err := o.acquire(profile, handle); err != nil {
		return Result{RunID: handle.CorrelationID, Profile: profile, Operation: "restore", FinalState: StateFailed, Err: err}
	}
	defer o.release(profile)

	handle.setState(StatePreparing)
	spec, srcFS, dstFS, err := o.resolveProfile(profile)
	if err != nil {
		return o.fail(handle, err)
	}
	rooted, ok := srcFS.(rootedFilesystem)
	if !ok {
		return o.fail(handle, cuberr.Wrap(cuberr.KindConfig, "profile %q: restore output filesystem %q is not a rooted (local) filesystem", profile, spec.SourceFS))
	}
	outputRoot := filepath.Join(rooted.RootDir(), filepath.FromSlash(spec.SourceRoot))
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

	if handle.Cancelled() || ctx.Err() != nil {
		return o.cancelledResult(handle)
	}

	handle.setState(StateRunning)
	var restored, skipped, failed int
	var bytesRestored int64
	var fileErrs []FileError

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.State != metadata.StatePresent {
			continue
		}

		kind, err := transform.ParseKind(entry.Transform)
		if err != nil {
			failed++
			fileErrs = append(fileErrs, FileError{RelativePath: entry.RelativePath, Err: err})
			continue
		}
		pipeline := transform.Pipeline{Kind: kind, Passphrase: passphrase}

		destPath := filepath.Join(outputRoot, filepath.FromSlash(entry.RelativePath))
		if !spec.OverwriteOnRestore {
			if _, statErr := os.Stat(destPath); statErr == nil {
				skipped++
				o.emitFileResult(handle, entry.RelativePath, message.ActionSkip, 0, nil)
				continue
			}
		}

		n, err := o.restoreOne(ctx, dstFS, pipeline, entry.Object, destPath)
		if err != nil {
			failed++
			fileErrs = append(fileErrs, FileError{RelativePath: entry.RelativePath, Err: err})
			o.emitFileResult(handle, entry.RelativePath, message.ActionFailed, 0, err)
			continue
		}
		restored++
		bytesRestored += n
		o.emitFileResult(handle, entry.RelativePath, message.ActionRestored, n, nil)
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
		RunID:         handle.CorrelationID,
		Profile:       profile,
		Operation:     "restore",
		FinalState:    final,
		FilesUploaded: restored,
		FilesSkipped:  skipped,
		FilesFailed:   failed,
		BytesUploaded: bytesRestored,
		Errors:        fileErrs,
	}
}

// restoreOne streams object through pipeline's inverse transform and
// writes the plaintext to destPath, creating parent directories as
// needed, per spec.md §4.8's Restore description.
func (o *Orchestrator) restoreOne(ctx context.Context, src fsadapter.Filesystem, pipeline transform.Pipeline, object, destPath string) (int64, error) {
	r, err := src.OpenRead(ctx, object)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	plain, err := pipeline.Inverse(r)
	if err != nil {
		return 0, cuberr.New(cuberr.KindTransform, err).WithPath(object)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, cuberr.New(cuberr.KindIO, err).WithPath(destPath)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return 0, cuberr.New(cuberr.KindIO, err).WithPath(destPath)
	}
	defer out.Close()

	n, err := transform.CopyChunked(out, plain, hashing.DefaultChunkSize, func() bool { return ctx.Err() != nil })
	if err != nil {
		os.Remove(destPath)
		return n, err
	}
	return n, nil
}

func (o *Orchestrator) emitFileResult(handle *RunHandle, relativePath string, action message.FileAction, bytes int64, err error) {
	o.sink.Send(message.Message{
		Kind:      message.KindFileResult,
		Profile:   handle.Profile,
		RunID:     handle.CorrelationID,
		Timestamp: o.clk.Now(),
		File:      &message.FileResultPayload{RelativePath: relativePath, Action: action, Bytes: bytes, Err: err},
	})
}
