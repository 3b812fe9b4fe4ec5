package engine

import (
	"context"
	"testing"
	"time"
)

func TestRunHandleCancelStopsItsBoundContext(t *testing.T) {
	handle := newRunHandle("run-1", "documents", "backup", time.Now())
	ctx := handle.bind(context.Background())

	if ctx.Err() != nil {
		t.Fatalf("expected a fresh bound context to be live, got err=%v", ctx.Err())
	}
	if handle.Cancelled() {
		t.Fatal("expected Cancelled() to be false before Cancel is called")
	}

	handle.Cancel()

	if !handle.Cancelled() {
		t.Error("expected Cancelled() to report true after Cancel")
	}
	if ctx.Err() == nil {
		t.Error("expected the bound context to be done after Cancel")
	}
}

// TestActiveRunExposesACancellableHandle exercises the accessor a
// long-lived caller (a GUI holding the Orchestrator) uses to reach and
// cancel an in-flight run it never received a direct reference to,
// per spec.md §3's "cancel flag may be set by any external caller at
// any time."
func TestActiveRunExposesACancellableHandle(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	o := newTestOrchestrator(t, srcDir, dstDir, baseProfile())

	if got := o.ActiveRun("documents"); got != nil {
		t.Fatalf("expected no active run before acquire, got %+v", got)
	}

	handle := newRunHandle("run-1", "documents", "backup", o.clk.Now())
	ctx := handle.bind(context.Background())
	if err := o.acquire("documents", handle); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	got := o.ActiveRun("documents")
	if got != handle {
		t.Fatalf("expected ActiveRun to return the registered handle, got %+v", got)
	}

	got.Cancel()
	if ctx.Err() == nil {
		t.Error("expected cancelling the handle reached through ActiveRun to cancel its bound context")
	}

	o.release("documents")
	if got := o.ActiveRun("documents"); got != nil {
		t.Fatalf("expected no active run after release, got %+v", got)
	}
}
