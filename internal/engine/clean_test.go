package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCleanRemovesOrphanObjectsNotInMetadata(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	if res := o.Backup(context.Background(), "documents"); !res.Success() {
		t.Fatalf("backup failed: %+v", res)
	}

	// An orphan object the metadata document never recorded.
	if err := os.WriteFile(filepath.Join(dstDir, "orphan.txt"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res := o.Clean(context.Background(), "documents")
	if !res.Success() {
		t.Fatalf("expected clean to succeed, got %+v err=%v", res, res.Err)
	}
	if res.FilesDeleted != 1 {
		t.Fatalf("expected exactly one deletion, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "orphan.txt")); !os.IsNotExist(err) {
		t.Errorf("expected orphan.txt to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "a.txt")); err != nil {
		t.Errorf("expected a.txt to survive clean: %v", err)
	}
}

func TestCleanDoesNotDeleteTheMetadataDocumentItself(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	if res := o.Backup(context.Background(), "documents"); !res.Success() {
		t.Fatalf("backup failed: %+v", res)
	}

	res := o.Clean(context.Background(), "documents")
	if !res.Success() {
		t.Fatalf("expected clean to succeed, got %+v", res)
	}
	if res.FilesDeleted != 0 {
		t.Fatalf("expected no deletions on a clean store, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "documents.cuba.json")); err != nil {
		t.Errorf("expected the metadata document to survive clean: %v", err)
	}
}

func TestCleanDropsMissingEntriesAndTheirObjects(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "a.txt", "hello")
	writeFile(t, srcDir, "b.txt", "world")

	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())
	if res := o.Backup(context.Background(), "documents"); !res.Success() || res.FilesUploaded != 2 {
		t.Fatalf("unexpected first backup: %+v", res)
	}

	if err := os.Remove(filepath.Join(srcDir, "b.txt")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if res := o.Backup(context.Background(), "documents"); !res.Success() || res.FilesMissing != 1 {
		t.Fatalf("unexpected second backup: %+v", res)
	}

	res := o.Clean(context.Background(), "documents")
	if !res.Success() {
		t.Fatalf("expected clean to succeed, got %+v", res)
	}
	if res.FilesDeleted != 1 {
		t.Fatalf("expected b.txt's object to be deleted, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "b.txt")); !os.IsNotExist(err) {
		t.Errorf("expected b.txt's object to be gone, stat err=%v", err)
	}

	// A subsequent clean on the now-quiescent store must be a no-op.
	again := o.Clean(context.Background(), "documents")
	if !again.Success() || again.FilesDeleted != 0 {
		t.Fatalf("expected the second clean to be a no-op, got %+v", again)
	}
}
