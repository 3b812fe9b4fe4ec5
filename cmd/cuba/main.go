package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zarniwp/cuba/internal/applog"
	"github.com/zarniwp/cuba/internal/clock"
	"github.com/zarniwp/cuba/internal/config"
	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/engine"
	"github.com/zarniwp/cuba/internal/history"
)

func main() {
	os.Exit(run())
}

// run executes the CLI and returns the process exit code, following
// spec.md §6's convention: 0 success, 1 operation failure, 2
// misconfiguration, 130 cancellation (signal). main() itself only
// calls os.Exit so deferred cleanup in run() always executes first.
func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ce *cuberr.Error
		if asCuberr(err, &ce) {
			if ce.Kind == cuberr.KindCancelled {
				return 130
			}
			if ce.Kind == cuberr.KindConfig {
				return 2
			}
		}
		return 1
	}
	return exitCode
}

// exitCode lets a RunE handler that printed a non-fatal failure (a
// Result with FinalState != Done but no Go error) still signal exit
// status 1 without cobra treating it as an unhandled error.
var exitCode int

func asCuberr(err error, target **cuberr.Error) bool {
	for err != nil {
		if ce, ok := err.(*cuberr.Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var rootCmd = &cobra.Command{
	Use:           "cuba",
	Short:         "Lightweight backup engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// cubaApp bundles everything one CLI invocation needs, torn down via
// Close. Grounded on the teacher's app.BTApp/newApp(operation) pairing
// (cmd/bt/main.go's newApp), generalized from a single SQLite handle to
// cuba's engine + history store.
type cubaApp struct {
	orchestrator *engine.Orchestrator
	history      *history.Store
	logFile      *os.File
}

func (a *cubaApp) Close() {
	if a.history != nil {
		a.history.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func newApp(ctx context.Context) (*cubaApp, error) {
	d, err := getDefaults()
	if err != nil {
		return nil, cuberr.New(cuberr.KindConfig, err)
	}

	cfg, err := config.ReadFromFile(d.ConfigPath)
	if err != nil {
		return nil, cuberr.New(cuberr.KindConfig, fmt.Errorf("reading config from %s: %w", d.ConfigPath, err))
	}

	runID := clock.UUIDGenerator{}.New()
	logger, logFile, err := applog.New(d.LogDir, runID)
	if err != nil {
		return nil, cuberr.New(cuberr.KindConfig, err)
	}

	hist, err := history.Open(d.HistoryDB)
	if err != nil {
		logFile.Close()
		return nil, cuberr.New(cuberr.KindConfig, err)
	}

	sink := history.RecordingSink{Inner: applog.Sink{Logger: logger}, Store: hist}

	passwords := newPasswordProvider()
	filesystems, err := buildFilesystems(ctx, cfg, passwords)
	if err != nil {
		hist.Close()
		logFile.Close()
		return nil, cuberr.New(cuberr.KindConfig, err)
	}

	orch := engine.NewOrchestrator(cfg, filesystems, passwords, sink, clock.Real{}, clock.UUIDGenerator{})
	return &cubaApp{orchestrator: orch, history: hist, logFile: logFile}, nil
}

// withCancelOnSignal wires SIGINT/SIGTERM to ctx cancellation, so an
// interactive Ctrl-C is observed at the engine's ctx.Err() poll points
// instead of killing the process mid-write (spec.md §5's cancellation-
// latency bound). The CLI runs one operation per invocation and exits
// when it returns, so ctx is its only cancellation path; a long-lived
// caller (a GUI holding the Orchestrator across goroutines) would
// instead reach a still-running operation's engine.RunHandle through
// Orchestrator.ActiveRun and call Cancel on it directly.
func withCancelOnSignal() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sig)
	}()
	return ctx, cancel
}

// reportResult prints a one-line operation summary and records the run
// in the history store, mirroring the teacher's backupCmd's
// "Backed up %d file(s)" style but generalized across operations and
// with per-file error detail for non-Done outcomes (spec.md §7).
func reportResult(res engine.Result, hist *history.Store, startedAt, finishedAt time.Time) {
	if hist != nil {
		_ = hist.StartRun(context.Background(), res.RunID, res.Profile, res.Operation, startedAt)
		_ = hist.FinishRun(context.Background(), res.RunID, finishedAt, history.RunSummary{
			FinalState:    res.FinalState.String(),
			FilesUploaded: res.FilesUploaded,
			FilesSkipped:  res.FilesSkipped,
			FilesMissing:  res.FilesMissing,
			FilesDeleted:  res.FilesDeleted,
			FilesFailed:   res.FilesFailed,
			BytesUploaded: res.BytesUploaded,
		})
	}

	fmt.Printf("%s %s: %s (uploaded=%d skipped=%d missing=%d deleted=%d failed=%d bytes=%d)\n",
		res.Operation, res.Profile, res.FinalState,
		res.FilesUploaded, res.FilesSkipped, res.FilesMissing, res.FilesDeleted, res.FilesFailed, res.BytesUploaded)

	for _, fe := range res.Errors {
		fmt.Printf("  FAILED %s: %v\n", fe.RelativePath, fe.Err)
	}

	if !res.Success() {
		exitCode = 1
	}
}
