// Package walker enumerates a profile's source tree and classifies
// each entry against the metadata store, per spec.md §4.2. Grounded
// on bamsammich-beam's internal/filter glob engine (pattern.go) for
// matching, combined with the original Rust implementation's
// include/exclude semantics (matcher.go), and on the teacher's
// internal/app directory-walk call sites for the overall
// filepath.WalkDir usage shape.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/message"
)

// FileStat is the per-entry information the walker yields, joined
// against metadata by the planner.
type FileStat struct {
	RelativePath string
	Size         int64
	MTime        time.Time
	IsDir        bool
}

// Walk enumerates root, applying matcher, and returns FileStat entries
// for every eligible regular file, sorted by relative path for
// deterministic planning order. Symlinks are followed only when their
// target resolves inside root; links escaping root are skipped with a
// warning message to sink.
func Walk(ctx context.Context, root string, matcher *Matcher, sink message.Sink, profile string) ([]FileStat, error) {
	var out []FileStat

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, cuberr.New(cuberr.KindIO, fmt.Errorf("resolving source root: %w", err))
	}

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && path == absRoot {
				return nil
			}
			return walkErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == absRoot {
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		info, infoErr := entryInfo(path, d, absRoot, sink, profile, rel)
		if infoErr != nil {
			warn(sink, profile, rel, fmt.Sprintf("cannot stat entry, skipped: %v", infoErr))
			return nil
		}
		if info == nil {
			return nil // escaped-symlink, already warned
		}

		if !matcher.Match(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		out = append(out, FileStat{
			RelativePath: rel,
			Size:         info.Size(),
			MTime:        info.ModTime(),
			IsDir:        false,
		})
		return nil
	})
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, cuberr.New(cuberr.KindCancelled, err)
		}
		return nil, cuberr.New(cuberr.KindIO, fmt.Errorf("walking %s: %w", root, err))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, nil
}

// entryInfo resolves d's FileInfo, following symlinks only when their
// target stays inside absRoot. Returns (nil, nil) for a skip with no
// error (warning already emitted), or (nil, err) when the entry or its
// link target cannot be stat'ed; Walk warns about and skips such an
// entry.
func entryInfo(path string, d fs.DirEntry, absRoot string, sink message.Sink, profile, rel string) (os.FileInfo, error) {
	if d.Type()&os.ModeSymlink == 0 {
		return d.Info()
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		warn(sink, profile, rel, fmt.Sprintf("unresolvable symlink: %v", err))
		return nil, nil
	}
	if !withinRoot(absRoot, target) {
		warn(sink, profile, rel, "symlink escapes source root, skipped")
		return nil, nil
	}
	return os.Stat(target)
}

func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func warn(sink message.Sink, profile, relPath, msg string) {
	if sink == nil {
		return
	}
	sink.Send(message.Message{
		Kind:    message.KindLog,
		Profile: profile,
		Log: &message.LogPayload{
			Level: message.LevelWarn,
			Msg:   msg,
			Attrs: map[string]any{"path": relPath},
		},
	})
}
