// Package fsadapter defines the capability-set filesystem abstraction
// spec.md §4.7 requires: every destination and source a profile can
// reference (local disk, WebDAV, S3-compatible object storage) behind
// one polymorphic interface. Grounded in the teacher's bt.Vault
// interface (internal/bt/vault.go) and FileSystemVault's atomic
// temp-file-then-rename write pattern (internal/vault/filesystem.go),
// generalized from "content-addressed vault" to "path-addressed
// filesystem with an arbitrary object name."
package fsadapter

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

// ObjectInfo describes one stored object, the minimum metadata spec.md
// §4.2's change detector and §4.6's clean operation need.
type ObjectInfo struct {
	Name    string // path relative to the filesystem's root
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Filesystem is the capability set spec.md §4.7 requires every driver
// to implement: open_read, open_write_temp, finalize, stat, list,
// remove, ensure_dir. Every method takes a context so the engine's
// cancellation (spec.md §5) reaches in-flight network calls.
type Filesystem interface {
	// OpenRead opens name for streaming read.
	OpenRead(ctx context.Context, name string) (io.ReadCloser, error)

	// OpenWriteTemp opens a temporary staging object associated with
	// name for streaming write. The object is not visible at name
	// until Finalize is called with the handle this returns.
	OpenWriteTemp(ctx context.Context, name string) (WriteHandle, error)

	// Stat returns metadata for name, or a cuberr.KindNotFound error.
	Stat(ctx context.Context, name string) (ObjectInfo, error)

	// List enumerates objects whose name has the given prefix,
	// recursively. Returned paths are relative to the filesystem root.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Remove deletes the object at name. Removing a missing object is
	// not an error (idempotent, as spec.md §4.6 clean requires).
	Remove(ctx context.Context, name string) error

	// EnsureDir creates any directory structure needed to hold an
	// object at name, if the underlying driver has a concept of
	// directories (no-op for flat object stores).
	EnsureDir(ctx context.Context, name string) error
}

// WriteHandle is returned by OpenWriteTemp. The caller writes the
// object's bytes, then calls Finalize to atomically publish it under
// its final name, or Discard to abandon it, leaving no trace at the
// final name.
type WriteHandle interface {
	io.Writer

	// Finalize makes the written bytes visible at the object's final
	// name, atomically with respect to concurrent readers: a reader
	// never observes a partially written object.
	Finalize(ctx context.Context) error

	// Discard abandons the write, removing any staged bytes. Safe to
	// call after Finalize (no-op).
	Discard(ctx context.Context) error
}

// Sub scopes fs to a profile's root prefix, per spec.md §3's "a
// destination filesystem handle + root path": every name the engine
// passes through the returned Filesystem is joined onto prefix before
// reaching the registered driver, and every name List returns is
// relative to prefix again. This lets one registered filesystem (one
// WebDAV server, one S3 bucket) host many profiles without their
// object names colliding. A blank prefix returns fs unchanged.
func Sub(fs Filesystem, prefix string) Filesystem {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fs
	}
	return &scoped{fs: fs, prefix: prefix}
}

type scoped struct {
	fs     Filesystem
	prefix string
}

func (s *scoped) join(name string) string {
	return path.Join(s.prefix, name)
}

func (s *scoped) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.fs.OpenRead(ctx, s.join(name))
}

func (s *scoped) OpenWriteTemp(ctx context.Context, name string) (WriteHandle, error) {
	return s.fs.OpenWriteTemp(ctx, s.join(name))
}

func (s *scoped) Stat(ctx context.Context, name string) (ObjectInfo, error) {
	info, err := s.fs.Stat(ctx, s.join(name))
	if err != nil {
		return ObjectInfo{}, err
	}
	info.Name = strings.TrimPrefix(strings.TrimPrefix(info.Name, s.prefix), "/")
	return info, nil
}

func (s *scoped) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objects, err := s.fs.List(ctx, s.join(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]ObjectInfo, len(objects))
	for i, o := range objects {
		o.Name = strings.TrimPrefix(strings.TrimPrefix(o.Name, s.prefix), "/")
		out[i] = o
	}
	return out, nil
}

func (s *scoped) Remove(ctx context.Context, name string) error {
	return s.fs.Remove(ctx, s.join(name))
}

func (s *scoped) EnsureDir(ctx context.Context, name string) error {
	return s.fs.EnsureDir(ctx, s.join(name))
}

// RootDir passes through to the wrapped filesystem's root directory
// joined with prefix, when the wrapped filesystem exposes one (the
// local driver), so the source walker's direct-disk access (spec.md
// §4.2) still works through a scoped handle.
func (s *scoped) RootDir() string {
	type rooted interface{ RootDir() string }
	if r, ok := s.fs.(rooted); ok {
		return path.Join(r.RootDir(), s.prefix)
	}
	return s.prefix
}
