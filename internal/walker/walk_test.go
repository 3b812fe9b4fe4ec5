package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zarniwp/cuba/internal/message"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestWalkReturnsSortedEligibleFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", "b")
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "sub/c.txt", "c")

	m, err := NewMatcher(nil, nil)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	got, err := Walk(context.Background(), root, m, message.NopSink{}, "documents")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := []string{"a.txt", "b.txt", "sub/c.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].RelativePath != w {
			t.Errorf("entry %d: got %q, want %q", i, got[i].RelativePath, w)
		}
	}
}

func TestWalkPrunesExcludedDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.txt", "k")
	writeFile(t, root, "node_modules/dep/index.js", "j")

	m, err := NewMatcher(nil, []string{"node_modules/"})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	got, err := Walk(context.Background(), root, m, message.NopSink{}, "documents")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(got) != 1 || got[0].RelativePath != "keep.txt" {
		t.Fatalf("expected only keep.txt, got %+v", got)
	}
}

func TestWalkSkipsSymlinkEscapingRoot(t *testing.T) {
	if os.Getenv("CUBA_SKIP_SYMLINK_TESTS") != "" {
		t.Skip("symlinks unsupported in this environment")
	}
	outside := t.TempDir()
	writeFile(t, outside, "secret.txt", "s")

	root := t.TempDir()
	writeFile(t, root, "keep.txt", "k")
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	m, err := NewMatcher(nil, nil)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	got, err := Walk(context.Background(), root, m, message.NopSink{}, "documents")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(got) != 1 || got[0].RelativePath != "keep.txt" {
		t.Fatalf("expected the escaping symlink to be skipped, got %+v", got)
	}
}

func TestWalkFollowsSymlinkWithinRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sub/real.txt", "r")
	if err := os.Symlink(filepath.Join(root, "sub", "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	m, err := NewMatcher(nil, nil)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	got, err := Walk(context.Background(), root, m, message.NopSink{}, "documents")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	paths := map[string]bool{}
	for _, f := range got {
		paths[f.RelativePath] = true
	}
	if !paths["link.txt"] {
		t.Errorf("expected link.txt (in-root symlink) to be included, got %+v", got)
	}
}

func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")

	m, err := NewMatcher(nil, nil)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Walk(ctx, root, m, message.NopSink{}, "documents")
	if err == nil {
		t.Fatal("expected an error from a pre-cancelled context")
	}
}
