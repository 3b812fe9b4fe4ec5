package walker

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/zarniwp/cuba/internal/clock"
	"github.com/zarniwp/cuba/internal/hashing"
	"github.com/zarniwp/cuba/internal/metadata"
)

func openFromContent(content map[string]string) func(string) (io.ReadCloser, error) {
	return func(relativePath string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(content[relativePath])), nil
	}
}

func TestPlanNewFileIsUpload(t *testing.T) {
	store := metadata.New("documents", clock.Fixed{At: time.Unix(0, 0)})
	files := []FileStat{{RelativePath: "a.txt", Size: 1, MTime: time.Unix(100, 0)}}

	items, err := Plan(context.Background(), files, store, false, openFromContent(nil))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 1 || items[0].Action != ActionUpload {
		t.Fatalf("expected a single Upload item, got %+v", items)
	}
}

func TestPlanFastPathUnchangedSkipsWithoutHashing(t *testing.T) {
	mtime := time.Unix(100, 0)
	store := metadata.New("documents", clock.Fixed{At: time.Unix(0, 0)})
	store.Upsert(metadata.Entry{RelativePath: "a.txt", Size: 5, MTime: mtime, Hash: "irrelevant", State: metadata.StatePresent})

	files := []FileStat{{RelativePath: "a.txt", Size: 5, MTime: mtime}}
	open := func(string) (io.ReadCloser, error) {
		t.Fatal("fast path match must not read the source file")
		return nil, nil
	}

	items, err := Plan(context.Background(), files, store, false, open)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 1 || items[0].Action != ActionSkip {
		t.Fatalf("expected Skip, got %+v", items)
	}
}

func TestPlanFastPathMismatchFallsBackToHash(t *testing.T) {
	store := metadata.New("documents", clock.Fixed{At: time.Unix(0, 0)})
	oldHash := hashing.SumBytes([]byte("old content"))
	store.Upsert(metadata.Entry{RelativePath: "a.txt", Size: 3, MTime: time.Unix(100, 0), Hash: oldHash, State: metadata.StatePresent})

	files := []FileStat{{RelativePath: "a.txt", Size: 11, MTime: time.Unix(200, 0)}}
	items, err := Plan(context.Background(), files, store, false, openFromContent(map[string]string{"a.txt": "new content"}))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 1 || items[0].Action != ActionUpload {
		t.Fatalf("expected Upload after hash mismatch, got %+v", items)
	}
}

func TestPlanStrictModeAlwaysConfirmsWithHash(t *testing.T) {
	content := "same bytes"
	hash := hashing.SumBytes([]byte(content))
	mtime := time.Unix(100, 0)
	store := metadata.New("documents", clock.Fixed{At: time.Unix(0, 0)})
	store.Upsert(metadata.Entry{RelativePath: "a.txt", Size: int64(len(content)), MTime: mtime, Hash: hash, State: metadata.StatePresent})

	files := []FileStat{{RelativePath: "a.txt", Size: int64(len(content)), MTime: mtime}}
	items, err := Plan(context.Background(), files, store, true, openFromContent(map[string]string{"a.txt": content}))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 1 || items[0].Action != ActionSkip || items[0].KnownHash != hash {
		t.Fatalf("expected strict-confirmed Skip with KnownHash set, got %+v", items)
	}
}

func TestPlanMissingSourceMarksEntry(t *testing.T) {
	store := metadata.New("documents", clock.Fixed{At: time.Unix(0, 0)})
	store.Upsert(metadata.Entry{RelativePath: "gone.txt", State: metadata.StatePresent})

	items, err := Plan(context.Background(), nil, store, false, openFromContent(nil))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 1 || items[0].Action != ActionMarkMissing || items[0].RelativePath != "gone.txt" {
		t.Fatalf("expected MarkMissing for gone.txt, got %+v", items)
	}
}

func TestPlanAlreadyMissingEntryIsNotReMarked(t *testing.T) {
	store := metadata.New("documents", clock.Fixed{At: time.Unix(0, 0)})
	store.Upsert(metadata.Entry{RelativePath: "gone.txt", State: metadata.StateMissing})

	items, err := Plan(context.Background(), nil, store, false, openFromContent(nil))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no plan items for an already-missing entry, got %+v", items)
	}
}
