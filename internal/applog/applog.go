// Package applog is the CLI-facing logging layer cuba's binary wraps
// around the engine's message.Sink, per SPEC_FULL.md §2. It generalizes
// the teacher's internal/app/log.go btHandler — a custom slog.Handler
// formatting tab-separated "timestamp / level / id / message /
// key=value..." lines — from a single opID to cuba's per-run
// correlation IDs, and writes to both a log file and stderr the way the
// teacher's newLogger does.
package applog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zarniwp/cuba/internal/message"
)

// handler is a slog.Handler rendering records as
// "<timestamp>\t<level>\t<run-id>\t<message>\t<key=value ...>", matching
// the teacher's btHandler format exactly.
type handler struct {
	w     io.Writer
	runID string
	attrs []slog.Attr
}

func (h *handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	if _, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.runID, r.Message); err != nil {
		return err
	}
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})
	_, err := fmt.Fprintln(h.w)
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{w: h.w, runID: h.runID, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *handler) WithGroup(string) slog.Handler { return h }

// New creates a *slog.Logger writing logDir/cuba.log and stderr, tagged
// with runID. The caller owns the returned *os.File and must close it.
func New(logDir, runID string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	logPath := filepath.Join(logDir, "cuba.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	w := io.MultiWriter(f, os.Stderr)
	return slog.New(&handler{w: w, runID: runID}), f, nil
}

// Sink adapts a *slog.Logger into a message.Sink, per spec.md §9:
// "the message sink is polymorphic over {progress, log, file-result}."
// Progress and file-result messages are rendered as structured log
// lines alongside plain log messages, so a CLI running without a richer
// UI transport still sees every event.
type Sink struct {
	Logger *slog.Logger
}

var _ message.Sink = Sink{}

// Send implements message.Sink.
func (s Sink) Send(m message.Message) {
	switch m.Kind {
	case message.KindLog:
		if m.Log == nil {
			return
		}
		args := attrArgs(m.Profile, m.Log.Attrs)
		switch m.Log.Level {
		case message.LevelDebug:
			s.Logger.Debug(m.Log.Msg, args...)
		case message.LevelWarn:
			s.Logger.Warn(m.Log.Msg, args...)
		case message.LevelError:
			s.Logger.Error(m.Log.Msg, args...)
		default:
			s.Logger.Info(m.Log.Msg, args...)
		}
	case message.KindProgress:
		if m.Progress == nil {
			return
		}
		s.Logger.Info("progress",
			"profile", m.Profile, "phase", m.Progress.Phase,
			"files_planned", m.Progress.FilesPlanned, "files_done", m.Progress.FilesDone,
			"bytes_planned", m.Progress.BytesPlanned, "bytes_done", m.Progress.BytesDone)
	case message.KindFileResult:
		if m.File == nil {
			return
		}
		args := []any{"profile", m.Profile, "path", m.File.RelativePath, "action", m.File.Action.String(), "bytes", m.File.Bytes}
		if m.File.Err != nil {
			args = append(args, "err", m.File.Err.Error())
			s.Logger.Warn("file result", args...)
			return
		}
		s.Logger.Info("file result", args...)
	}
}

func attrArgs(profile string, attrs map[string]any) []any {
	args := make([]any, 0, 2+2*len(attrs))
	args = append(args, "profile", profile)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	return args
}
