package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/dispatch"
	"github.com/zarniwp/cuba/internal/fsadapter"
	"github.com/zarniwp/cuba/internal/message"
	"github.com/zarniwp/cuba/internal/metadata"
	"github.com/zarniwp/cuba/internal/transform"
	"github.com/zarniwp/cuba/internal/walker"
)

// rootedFilesystem is implemented by filesystem drivers with a real OS
// directory backing them, which is what the source walker (spec.md
// §4.2, built on filepath.WalkDir) needs to enumerate symlinks and
// hidden files directly. Currently only internal/fsadapter/local
// satisfies it; a profile's source_fs must resolve to one.
type rootedFilesystem interface {
	RootDir() string
}

// Backup runs spec.md §4.8's Backup operation: walk, plan,
// transform-and-upload, persist metadata.
func (o *Orchestrator) Backup(ctx context.Context, profile string) Result {
	handle := newRunHandle(o.idgen.New(), profile, "backup", o.clk.Now())
	ctx = handle.bind(ctx)
	if err := o.acquire(profile, handle); err != nil {
		return Result{RunID: handle.CorrelationID, Profile: profile, Operation: "backup", FinalState: StateFailed, Err: err}
	}
	defer o.release(profile)

	handle.setState(StatePreparing)
	spec, srcFS, dstFS, err := o.resolveProfile(profile)
	if err != nil {
		return o.fail(handle, err)
	}
	rooted, ok := srcFS.(rootedFilesystem)
	if !ok {
		return o.fail(handle, cuberr.Wrap(cuberr.KindConfig, "profile %q: source filesystem %q is not a rooted (local) filesystem", profile, spec.SourceFS))
	}
	sourceRoot := filepath.Join(rooted.RootDir(), filepath.FromSlash(spec.SourceRoot))
	dstFS = fsadapter.Sub(dstFS, spec.DestRoot)

	passphrase, err := o.resolvePassphrase(spec)
	if err != nil {
		return o.fail(handle, err)
	}
	pipeline := transform.Pipeline{Kind: transform.KindFor(spec.Compress, spec.Encrypt), Passphrase: passphrase}

	if ctx.Err() != nil {
		return o.cancelledResult(handle)
	}

	store, err := metadata.Load(ctx, dstFS, profile, o.clk)
	if err != nil {
		return o.fail(handle, err)
	}

	handle.setState(StatePlanning)
	matcher, err := walker.NewMatcher(spec.Includes, spec.Excludes)
	if err != nil {
		return o.fail(handle, cuberr.New(cuberr.KindConfig, err))
	}
	files, err := walker.Walk(ctx, sourceRoot, matcher, o.sink, profile)
	if err != nil {
		return o.fail(handle, err)
	}

	openFn := func(relativePath string) (io.ReadCloser, error) {
		f, err := os.Open(filepath.Join(sourceRoot, filepath.FromSlash(relativePath)))
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	items, err := walker.Plan(ctx, files, store, o.cfg.Engine.StrictChangeDetection, openFn)
	if err != nil {
		return o.fail(handle, err)
	}
	o.progress(handle, "Planning", len(items), 0, 0, 0)

	if handle.Cancelled() || ctx.Err() != nil {
		return o.cancelledResult(handle)
	}

	handle.setState(StateRunning)
	jobs := make([]dispatch.Job, 0, len(items))
	for _, item := range items {
		item := item
		jobs = append(jobs, dispatch.Job{
			RelativePath: item.RelativePath,
			Action:       item.Action,
			Size:         item.Stat.Size,
			MTime:        item.Stat.MTime,
			KnownHash:    item.KnownHash,
			Open: func(context.Context) (io.ReadCloser, error) {
				return openFn(item.RelativePath)
			},
		})
	}

	summary := dispatch.Run(ctx, dispatch.Config{
		Workers:  workerCount(o.cfg.Engine.WorkerThreads),
		Dest:     dstFS,
		Pipeline: pipeline,
		Store:    store,
		Sink:     o.sink,
		Profile:  profile,
		RunID:    handle.CorrelationID,
		Clock:    o.clk,
	}, jobs)

	handle.setState(StateFinalizing)
	if err := store.Persist(ctx, dstFS); err != nil {
		return o.fail(handle, err)
	}

	final := StateDone
	if handle.Cancelled() || ctx.Err() != nil {
		final = StateCancelled
	} else if summary.FilesFailed > 0 {
		final = StateFailed
	}
	handle.setState(final)
	o.progress(handle, "Finalizing", len(items), summary.FilesUploaded+summary.FilesSkipped+summary.FilesMissing, 0, summary.BytesUploaded)

	return Result{
		RunID:         handle.CorrelationID,
		Profile:       profile,
		Operation:     "backup",
		FinalState:    final,
		FilesUploaded: summary.FilesUploaded,
		FilesSkipped:  summary.FilesSkipped,
		FilesMissing:  summary.FilesMissing,
		FilesFailed:   summary.FilesFailed,
		BytesUploaded: summary.BytesUploaded,
	}
}

func (o *Orchestrator) fail(handle *RunHandle, err error) Result {
	handle.setState(StateFailed)
	o.log(handle, message.LevelError, err.Error(), nil)
	return Result{RunID: handle.CorrelationID, Profile: handle.Profile, Operation: handle.Operation, FinalState: StateFailed, Err: err}
}

func (o *Orchestrator) cancelledResult(handle *RunHandle) Result {
	handle.setState(StateCancelled)
	return Result{RunID: handle.CorrelationID, Profile: handle.Profile, Operation: handle.Operation, FinalState: StateCancelled, Err: cuberr.New(cuberr.KindCancelled, context.Canceled)}
}

// workerCount applies spec.md §4.5's default: min(source cores,
// configured max, 8).
func workerCount(configured int) int {
	n := configured
	if n <= 0 {
		n = 4
	}
	if n > 8 {
		n = 8
	}
	if cores := runtime.NumCPU(); n > cores {
		n = cores
	}
	return n
}
