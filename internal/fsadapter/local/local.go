// Package local implements fsadapter.Filesystem against the local
// disk, grounded directly on the teacher's FileSystemVault
// (internal/vault/filesystem.go): same temp-file-in-same-directory,
// then os.Rename atomic publish pattern, generalized from a fixed
// content/metadata layout to an arbitrary relative-path tree.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/fsadapter"
)

// Filesystem is a local-disk fsadapter.Filesystem rooted at Root.
type Filesystem struct {
	Root string
}

var _ fsadapter.Filesystem = (*Filesystem)(nil)

// New creates a Filesystem rooted at root, creating the root directory
// if it does not already exist.
func New(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, cuberr.New(cuberr.KindIO, fmt.Errorf("creating root %s: %w", root, err))
	}
	return &Filesystem{Root: root}, nil
}

func (f *Filesystem) abs(name string) string {
	return filepath.Join(f.Root, filepath.FromSlash(name))
}

// RootDir returns the filesystem's root directory, letting callers that
// need direct OS access (the source walker) resolve paths without
// going through the relative-object interface.
func (f *Filesystem) RootDir() string { return f.Root }

// OpenRead implements fsadapter.Filesystem.
func (f *Filesystem) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, cuberr.New(cuberr.KindCancelled, err)
	}
	file, err := os.Open(f.abs(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cuberr.New(cuberr.KindNotFound, err).WithPath(name)
		}
		return nil, cuberr.New(cuberr.KindIO, err).WithPath(name)
	}
	return file, nil
}

// OpenWriteTemp implements fsadapter.Filesystem.
func (f *Filesystem) OpenWriteTemp(ctx context.Context, name string) (fsadapter.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, cuberr.New(cuberr.KindCancelled, err)
	}
	dest := f.abs(name)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cuberr.New(cuberr.KindIO, fmt.Errorf("creating directory %s: %w", dir, err))
	}

	tmp, err := os.CreateTemp(dir, ".cuba-tmp-*")
	if err != nil {
		return nil, cuberr.New(cuberr.KindIO, fmt.Errorf("creating temp file: %w", err))
	}
	return &writeHandle{file: tmp, dest: dest}, nil
}

// Stat implements fsadapter.Filesystem.
func (f *Filesystem) Stat(ctx context.Context, name string) (fsadapter.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return fsadapter.ObjectInfo{}, cuberr.New(cuberr.KindCancelled, err)
	}
	info, err := os.Stat(f.abs(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fsadapter.ObjectInfo{}, cuberr.New(cuberr.KindNotFound, err).WithPath(name)
		}
		return fsadapter.ObjectInfo{}, cuberr.New(cuberr.KindIO, err).WithPath(name)
	}
	return fsadapter.ObjectInfo{
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// List implements fsadapter.Filesystem, walking the subtree rooted at
// prefix and returning paths relative to f.Root.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]fsadapter.ObjectInfo, error) {
	base := f.abs(prefix)
	var out []fsadapter.ObjectInfo

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == base {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == base {
			return nil
		}
		rel, relErr := filepath.Rel(f.Root, path)
		if relErr != nil {
			return relErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		out = append(out, fsadapter.ObjectInfo{
			Name:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   d.IsDir(),
		})
		return nil
	})
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, cuberr.New(cuberr.KindCancelled, err)
		}
		return nil, cuberr.New(cuberr.KindIO, fmt.Errorf("listing %s: %w", prefix, err))
	}
	return out, nil
}

// Remove implements fsadapter.Filesystem. Removing a missing object is
// not an error.
func (f *Filesystem) Remove(ctx context.Context, name string) error {
	if err := os.Remove(f.abs(name)); err != nil && !os.IsNotExist(err) {
		return cuberr.New(cuberr.KindIO, err).WithPath(name)
	}
	return nil
}

// EnsureDir implements fsadapter.Filesystem.
func (f *Filesystem) EnsureDir(ctx context.Context, name string) error {
	if err := os.MkdirAll(f.abs(name), 0o755); err != nil {
		return cuberr.New(cuberr.KindIO, fmt.Errorf("creating directory %s: %w", name, err))
	}
	return nil
}

type writeHandle struct {
	file *os.File
	dest string
	done bool
}

func (w *writeHandle) Write(p []byte) (int, error) { return w.file.Write(p) }

// Finalize closes the temp file and atomically renames it to dest,
// the same sequence as the teacher's FileSystemVault.writeFile.
func (w *writeHandle) Finalize(ctx context.Context) error {
	if w.done {
		return nil
	}
	if err := w.file.Close(); err != nil {
		return cuberr.New(cuberr.KindIO, fmt.Errorf("closing temp file: %w", err))
	}
	if err := os.Rename(w.file.Name(), w.dest); err != nil {
		os.Remove(w.file.Name())
		return cuberr.New(cuberr.KindIO, fmt.Errorf("renaming into place: %w", err))
	}
	w.done = true
	return nil
}

// Discard closes and removes the temp file without publishing it.
func (w *writeHandle) Discard(ctx context.Context) error {
	if w.done {
		return nil
	}
	w.file.Close()
	os.Remove(w.file.Name())
	w.done = true
	return nil
}
