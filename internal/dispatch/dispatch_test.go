package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/zarniwp/cuba/internal/clock"
	"github.com/zarniwp/cuba/internal/fsadapter/local"
	"github.com/zarniwp/cuba/internal/message"
	"github.com/zarniwp/cuba/internal/metadata"
	"github.com/zarniwp/cuba/internal/transform"
	"github.com/zarniwp/cuba/internal/walker"
)

func openerFor(content string) func(context.Context) (io.ReadCloser, error) {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(content)), nil
	}
}

func TestRunUploadWritesObjectAndMetadataEntry(t *testing.T) {
	dest, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	clk := clock.Fixed{At: time.Unix(1000, 0)}
	store := metadata.New("documents", clk)
	sink := message.NewChannelSink(8)

	jobs := []Job{{
		RelativePath: "a.txt",
		Action:       walker.ActionUpload,
		Size:         5,
		MTime:        time.Unix(500, 0),
		Open:         openerFor("hello"),
	}}

	summary := Run(context.Background(), Config{
		Workers:  2,
		Dest:     dest,
		Pipeline: transform.Pipeline{Kind: transform.KindNone},
		Store:    store,
		Sink:     sink,
		Profile:  "documents",
		Clock:    clk,
	}, jobs)

	if summary.FilesUploaded != 1 || summary.FilesFailed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.BytesUploaded != 5 {
		t.Errorf("expected 5 bytes uploaded, got %d", summary.BytesUploaded)
	}

	entry, ok := store.Get("a.txt")
	if !ok {
		t.Fatal("expected a metadata entry for a.txt")
	}
	if entry.State != metadata.StatePresent {
		t.Errorf("expected StatePresent, got %v", entry.State)
	}
	if entry.Object != "a.txt" {
		t.Errorf("expected object name a.txt for KindNone, got %q", entry.Object)
	}

	r, err := dest.OpenRead(context.Background(), "a.txt")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "hello" {
		t.Errorf("expected written object to contain %q, got %q", "hello", got)
	}
}

func TestRunMarkMissingUpdatesStoreWithoutWriting(t *testing.T) {
	dest, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	clk := clock.Fixed{At: time.Unix(1000, 0)}
	store := metadata.New("documents", clk)
	store.Upsert(metadata.Entry{RelativePath: "gone.txt", State: metadata.StatePresent})

	jobs := []Job{{RelativePath: "gone.txt", Action: walker.ActionMarkMissing}}

	summary := Run(context.Background(), Config{
		Workers:  1,
		Dest:     dest,
		Pipeline: transform.Pipeline{Kind: transform.KindNone},
		Store:    store,
		Clock:    clk,
	}, jobs)

	if summary.FilesMissing != 1 {
		t.Fatalf("expected FilesMissing=1, got %+v", summary)
	}
	entry, ok := store.Get("gone.txt")
	if !ok || entry.State != metadata.StateMissing {
		t.Fatalf("expected gone.txt marked Missing, got %+v ok=%v", entry, ok)
	}
}

func TestRunOpenFailureIsReportedAsFailedWithoutPanicking(t *testing.T) {
	dest, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	clk := clock.Fixed{At: time.Unix(1000, 0)}
	store := metadata.New("documents", clk)

	jobs := []Job{{
		RelativePath: "broken.txt",
		Action:       walker.ActionUpload,
		Open: func(context.Context) (io.ReadCloser, error) {
			return nil, errors.New("boom")
		},
	}}

	summary := Run(context.Background(), Config{
		Workers:  1,
		Dest:     dest,
		Pipeline: transform.Pipeline{Kind: transform.KindNone},
		Store:    store,
		Clock:    clk,
	}, jobs)

	if summary.FilesFailed != 1 || summary.FilesUploaded != 0 {
		t.Fatalf("expected one failed upload, got %+v", summary)
	}
	if _, ok := store.Get("broken.txt"); ok {
		t.Error("a failed upload must not create a metadata entry")
	}
}

func TestRunHonorsPreCancelledContext(t *testing.T) {
	dest, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	clk := clock.Fixed{At: time.Unix(1000, 0)}
	store := metadata.New("documents", clk)

	jobs := []Job{{RelativePath: "a.txt", Action: walker.ActionUpload, Open: openerFor("x")}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := Run(ctx, Config{
		Workers:  1,
		Dest:     dest,
		Pipeline: transform.Pipeline{Kind: transform.KindNone},
		Store:    store,
		Clock:    clk,
	}, jobs)

	if summary.FilesFailed != 1 {
		t.Fatalf("expected the job to be reported failed on a cancelled context, got %+v", summary)
	}
}
