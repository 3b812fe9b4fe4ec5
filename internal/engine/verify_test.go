package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyAllFilesDetectsCorruptedObject(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")
	writeFile(t, srcDir, "b.txt", "world")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	if res := o.Backup(context.Background(), "documents"); !res.Success() {
		t.Fatalf("backup failed: %+v err=%v", res, res.Err)
	}

	if err := os.WriteFile(filepath.Join(dstDir, "a.txt"), []byte("corrupted!"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res := o.Verify(context.Background(), "documents", true)
	if res.Success() {
		t.Fatalf("expected verify to fail on a corrupted object, got %+v", res)
	}
	if res.FilesFailed != 1 || res.FilesSkipped != 1 {
		t.Fatalf("expected exactly one failure and one pass, got %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].RelativePath != "a.txt" {
		t.Fatalf("expected the error to name a.txt, got %+v", res.Errors)
	}
}

func TestVerifyWithoutAllFilesOnlyChecksExistence(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	if res := o.Backup(context.Background(), "documents"); !res.Success() {
		t.Fatalf("backup failed: %+v", res)
	}

	// Corrupt content without changing size: the cheap check must not
	// catch this.
	if err := os.WriteFile(filepath.Join(dstDir, "a.txt"), []byte("HELLO"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res := o.Verify(context.Background(), "documents", false)
	if !res.Success() {
		t.Fatalf("expected the cheap verify to pass on same-size corruption, got %+v", res)
	}
}

func TestVerifyDetectsMissingObject(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	if res := o.Backup(context.Background(), "documents"); !res.Success() {
		t.Fatalf("backup failed: %+v", res)
	}
	if err := os.Remove(filepath.Join(dstDir, "a.txt")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	res := o.Verify(context.Background(), "documents", false)
	if res.Success() {
		t.Fatal("expected verify to fail when the destination object is gone")
	}
}
