package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zarniwp/cuba/internal/clock"
	"github.com/zarniwp/cuba/internal/config"
	"github.com/zarniwp/cuba/internal/fsadapter"
	"github.com/zarniwp/cuba/internal/fsadapter/local"
	"github.com/zarniwp/cuba/internal/message"
	"github.com/zarniwp/cuba/internal/password"
)

// newTestOrchestrator wires an Orchestrator against real local
// filesystems rooted at srcDir/dstDir, following dispatch_test.go's
// precedent of exercising the real fsadapter/local driver against
// t.TempDir() rather than an in-memory double.
func newTestOrchestrator(t *testing.T, srcDir, dstDir string, spec config.ProfileSpec) *Orchestrator {
	t.Helper()
	srcFS, err := local.New(srcDir)
	if err != nil {
		t.Fatalf("local.New(src): %v", err)
	}
	dstFS, err := local.New(dstDir)
	if err != nil {
		t.Fatalf("local.New(dst): %v", err)
	}

	cfg := &config.Config{
		Filesystems: map[string]config.FilesystemSpec{
			"src": {Kind: "local", Root: srcDir},
			"dst": {Kind: "local", Root: dstDir},
		},
		Profiles: map[string]config.ProfileSpec{"documents": spec},
		Engine:   config.EngineSpec{MaxConcurrentProfiles: 1, WorkerThreads: 2},
	}

	filesystems := map[string]fsadapter.Filesystem{"src": srcFS, "dst": dstFS}
	return NewOrchestrator(cfg, filesystems, password.NewMemory(), message.NopSink{}, clock.Fixed{At: time.Unix(1700000000, 0)}, clock.NewSequential("run"))
}

func baseProfile() config.ProfileSpec {
	return config.ProfileSpec{SourceFS: "src", SourceRoot: "", DestFS: "dst", DestRoot: ""}
}

func writeFile(t *testing.T, dir, relPath, content string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestBackupUploadsNewFiles(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")
	writeFile(t, srcDir, "sub/b.txt", "world")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	res := o.Backup(context.Background(), "documents")

	if !res.Success() {
		t.Fatalf("expected success, got %+v err=%v", res, res.Err)
	}
	if res.RunID == "" {
		t.Error("expected a non-empty RunID")
	}
	if res.FilesUploaded != 2 {
		t.Fatalf("expected 2 uploads, got %+v", res)
	}

	for _, rel := range []string{"a.txt", "sub/b.txt"} {
		if _, err := os.Stat(filepath.Join(dstDir, rel)); err != nil {
			t.Errorf("expected %s to exist at destination: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dstDir, "documents.cuba.json")); err != nil {
		t.Errorf("expected metadata document to be persisted: %v", err)
	}
}

func TestBackupSecondRunSkipsUnchangedFiles(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	first := o.Backup(context.Background(), "documents")
	if !first.Success() || first.FilesUploaded != 1 {
		t.Fatalf("unexpected first run result: %+v", first)
	}

	second := o.Backup(context.Background(), "documents")
	if !second.Success() {
		t.Fatalf("expected success, got %+v", second)
	}
	if second.FilesUploaded != 0 || second.FilesSkipped != 1 {
		t.Fatalf("expected the unchanged file to be skipped, got %+v", second)
	}
}

func TestBackupReuploadsOnlyModifiedFile(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")
	writeFile(t, srcDir, "b.txt", "world")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	if res := o.Backup(context.Background(), "documents"); !res.Success() || res.FilesUploaded != 2 {
		t.Fatalf("unexpected first run: %+v", res)
	}

	// Advance mtime and change content so the fast path can't mistake
	// this for an untouched file.
	later := time.Now().Add(time.Hour)
	writeFile(t, srcDir, "a.txt", "hello, modified")
	if err := os.Chtimes(filepath.Join(srcDir, "a.txt"), later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	res := o.Backup(context.Background(), "documents")
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.FilesUploaded != 1 || res.FilesSkipped != 1 {
		t.Fatalf("expected exactly one reupload and one skip, got %+v", res)
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello, modified" {
		t.Errorf("expected destination object to reflect the modified content, got %q", got)
	}
}

func TestBackupMarksDeletedSourceFileMissing(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")
	writeFile(t, srcDir, "b.txt", "world")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	if res := o.Backup(context.Background(), "documents"); !res.Success() || res.FilesUploaded != 2 {
		t.Fatalf("unexpected first run: %+v", res)
	}

	if err := os.Remove(filepath.Join(srcDir, "b.txt")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	res := o.Backup(context.Background(), "documents")
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.FilesMissing != 1 {
		t.Fatalf("expected b.txt to be marked missing, got %+v", res)
	}
	// The object itself must still be present until clean removes it.
	if _, err := os.Stat(filepath.Join(dstDir, "b.txt")); err != nil {
		t.Errorf("expected the destination object to survive a mark-missing backup: %v", err)
	}
}

func TestBackupCompressAndEncryptRoundTripsThroughRestore(t *testing.T) {
	srcDir, dstDir, outDir := t.TempDir(), t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "the quick brown fox jumps over the lazy dog")

	spec := baseProfile()
	spec.Compress = true
	spec.Encrypt = true
	spec.PasswordID = "documents"

	o := newTestOrchestrator(t, srcDir, dstDir, spec)
	if err := o.passwords.(password.Setter).Set("documents", "correct horse battery staple"); err != nil {
		t.Fatalf("Set password: %v", err)
	}

	res := o.Backup(context.Background(), "documents")
	if !res.Success() {
		t.Fatalf("expected success, got %+v err=%v", res, res.Err)
	}

	if _, err := os.Stat(filepath.Join(dstDir, "a.txt.gz.age")); err != nil {
		t.Errorf("expected a .gz.age object, got err=%v", err)
	}

	// Point the profile's source (restore target) at a fresh directory
	// and restore into it.
	spec.SourceRoot = ""
	outFS, err := local.New(outDir)
	if err != nil {
		t.Fatalf("local.New(out): %v", err)
	}
	o.filesystems["src"] = outFS

	restoreRes := o.Restore(context.Background(), "documents")
	if !restoreRes.Success() {
		t.Fatalf("expected restore success, got %+v err=%v", restoreRes, restoreRes.Err)
	}
	if restoreRes.FilesUploaded != 1 {
		t.Fatalf("expected one restored file, got %+v", restoreRes)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile restored: %v", err)
	}
	if string(got) != "the quick brown fox jumps over the lazy dog" {
		t.Errorf("restored content mismatch: %q", got)
	}
}

func TestBackupHonorsPreCancelledContext(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := o.Backup(ctx, "documents")
	if res.FinalState != StateCancelled {
		t.Fatalf("expected StateCancelled, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "a.txt")); err == nil {
		t.Error("expected no object to be written for a pre-cancelled run")
	}
}

func TestBackupRejectsConcurrentRunsOnSameProfile(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	held := newRunHandle("held", "documents", "backup", o.clk.Now())
	if err := o.acquire("documents", held); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer o.release("documents")

	res := o.Backup(context.Background(), "documents")
	if res.Success() {
		t.Fatal("expected the second concurrent run on the same profile to fail")
	}
	if res.RunID == "" {
		t.Error("expected RunID to be set even on an early acquire failure")
	}
}
