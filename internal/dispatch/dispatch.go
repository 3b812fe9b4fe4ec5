// Package dispatch runs a bounded worker pool over a plan produced by
// internal/walker, per spec.md §4.1/§4.5: each job opens its source,
// hashes and transforms it in one streaming pass, writes the result to
// a temporary destination object, and only then atomically finalizes
// and records the new metadata entry. Grounded on
// bamsammich-beam/internal/engine/worker.go's WorkerPool: a channel of
// tasks, N goroutines draining it under a sync.WaitGroup, a
// best-effort (non-blocking) error channel, and a tmp-object-then-
// rename publish step — generalized here from local tmp-file-then-
// os.Rename to fsadapter.WriteHandle's tmp-then-Finalize so the same
// pool drives any filesystem driver.
package dispatch

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/zarniwp/cuba/internal/clock"
	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/fsadapter"
	"github.com/zarniwp/cuba/internal/hashing"
	"github.com/zarniwp/cuba/internal/message"
	"github.com/zarniwp/cuba/internal/metadata"
	"github.com/zarniwp/cuba/internal/transform"
	"github.com/zarniwp/cuba/internal/walker"
)

// Job is one unit of work the pool consumes, built from a
// walker.PlanItem plus whatever context dispatch needs to carry it
// out.
type Job struct {
	RelativePath string
	Action       walker.Action
	Size         int64
	MTime        time.Time
	Open         func(ctx context.Context) (io.ReadCloser, error)

	// KnownHash carries a hash already computed during planning (the
	// strict-detection or fast-path-mismatch slow path), so upload does
	// not rehash bytes it already digested once this run (spec.md §4.3:
	// "computed at most once per file per run").
	KnownHash string
}

// Config wires the pool to the collaborators a job needs.
type Config struct {
	Workers  int
	Dest     fsadapter.Filesystem
	Pipeline transform.Pipeline
	Store    *metadata.Store
	Sink     message.Sink
	Profile  string
	RunID    string
	Clock    clock.Clock
}

// Summary totals the outcome of a Run call.
type Summary struct {
	FilesUploaded int
	FilesSkipped  int
	FilesMissing  int
	FilesFailed   int
	BytesUploaded int64
}

// Run drains jobs across cfg.Workers goroutines, blocking until every
// job has been processed or ctx is cancelled. Once ctx is cancelled,
// workers stop starting jobs: every job not yet started is reported as
// a Cancelled failure, and a job already mid-transfer finishes its
// current chunk boundary and then aborts (spec.md §5's
// cancellation-latency bound).
func Run(ctx context.Context, cfg Config, jobs []Job) Summary {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	ch := make(chan Job)
	results := make(chan jobResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range ch {
				if ctx.Err() != nil {
					results <- jobResult{job: job, err: cuberr.New(cuberr.KindCancelled, ctx.Err())}
					continue
				}
				n, err := process(ctx, cfg, job)
				results <- jobResult{job: job, bytes: n, err: err}
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, job := range jobs {
			ch <- job
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var summary Summary
	for res := range results {
		summary.addResult(res, cfg.Sink, cfg.Profile, cfg.RunID)
	}
	return summary
}

type jobResult struct {
	job   Job
	bytes int64
	err   error
}

func (s *Summary) addResult(res jobResult, sink message.Sink, profile, runID string) {
	action := message.ActionSkip
	switch {
	case res.err != nil:
		s.FilesFailed++
		action = message.ActionFailed
	case res.job.Action == walker.ActionUpload:
		s.FilesUploaded++
		s.BytesUploaded += res.bytes
		action = message.ActionUpload
	case res.job.Action == walker.ActionMarkMissing:
		s.FilesMissing++
		action = message.ActionMarkMissing
	default:
		s.FilesSkipped++
		action = message.ActionSkip
	}

	if sink == nil {
		return
	}
	sink.Send(message.Message{
		Kind:    message.KindFileResult,
		Profile: profile,
		RunID:   runID,
		File: &message.FileResultPayload{
			RelativePath: res.job.RelativePath,
			Action:       action,
			Bytes:        res.bytes,
			Err:          res.err,
		},
	})
}

func process(ctx context.Context, cfg Config, job Job) (int64, error) {
	switch job.Action {
	case walker.ActionMarkMissing:
		cfg.Store.MarkMissing(job.RelativePath)
		return 0, nil
	case walker.ActionSkip:
		return 0, nil
	case walker.ActionUpload:
		return upload(ctx, cfg, job)
	default:
		return 0, cuberr.Wrap(cuberr.KindInternal, "unknown dispatch action %d for %s", job.Action, job.RelativePath)
	}
}

func upload(ctx context.Context, cfg Config, job Job) (int64, error) {
	src, err := job.Open(ctx)
	if err != nil {
		return 0, cuberr.New(cuberr.KindIO, err).WithPath(job.RelativePath)
	}
	defer src.Close()

	var hashed io.Reader = src
	var hasher *hashing.Hasher
	if job.KnownHash == "" {
		hashed, hasher = hashing.Reader(src, nil)
	}

	objectName := cfg.Pipeline.Kind.ObjectName(job.RelativePath)
	handle, err := cfg.Dest.OpenWriteTemp(ctx, objectName)
	if err != nil {
		return 0, cuberr.New(cuberr.KindIO, err).WithPath(job.RelativePath)
	}

	w, err := cfg.Pipeline.Forward(handle)
	if err != nil {
		_ = handle.Discard(ctx)
		return 0, cuberr.New(cuberr.KindTransform, err).WithPath(job.RelativePath)
	}

	n, copyErr := transform.CopyChunked(w, hashed, hashing.DefaultChunkSize, func() bool { return ctx.Err() != nil })
	closeErr := w.Close()

	if copyErr != nil {
		_ = handle.Discard(ctx)
		if ctx.Err() != nil {
			return n, cuberr.New(cuberr.KindCancelled, copyErr).WithPath(job.RelativePath)
		}
		return n, cuberr.New(cuberr.KindIO, copyErr).WithPath(job.RelativePath)
	}
	if closeErr != nil {
		_ = handle.Discard(ctx)
		return n, cuberr.New(cuberr.KindTransform, closeErr).WithPath(job.RelativePath)
	}

	if err := handle.Finalize(ctx); err != nil {
		return n, cuberr.New(cuberr.KindIO, err).WithPath(job.RelativePath)
	}

	hash := job.KnownHash
	if hasher != nil {
		hash = hasher.SumHex()
	}
	cfg.Store.Upsert(metadata.Entry{
		RelativePath: job.RelativePath,
		Size:         job.Size,
		MTime:        job.MTime,
		Hash:         hash,
		Transform:    cfg.Pipeline.Kind.String(),
		Object:       objectName,
		State:        metadata.StatePresent,
		LastSuccess:  cfg.Clock.Now(),
	})

	return n, nil
}
