package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// State is a run's position in the state machine spec.md §4.9 defines:
// Idle → Preparing → Planning → Running → Finalizing → Done|Failed|Cancelled.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StatePlanning
	StateRunning
	StateFinalizing
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePreparing:
		return "Preparing"
	case StatePlanning:
		return "Planning"
	case StateRunning:
		return "Running"
	case StateFinalizing:
		return "Finalizing"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Idle"
	}
}

// RunHandle tracks one operation's progress and cancellation, per
// spec.md §4.1/§4.9/§5. The cancel flag is an atomic bool checked at
// every worker iteration boundary, before each filesystem capability
// call, and between pipeline chunks (spec.md §5).
type RunHandle struct {
	CorrelationID string
	Profile       string
	Operation     string
	StartedAt     time.Time

	state      atomic.Int32
	cancelled  atomic.Bool
	filesDone  atomic.Int64
	bytesDone  atomic.Int64
	cancelFunc context.CancelFunc
}

// newRunHandle creates a RunHandle in StateIdle.
func newRunHandle(correlationID, profile, operation string, startedAt time.Time) *RunHandle {
	h := &RunHandle{CorrelationID: correlationID, Profile: profile, Operation: operation, StartedAt: startedAt}
	h.state.Store(int32(StateIdle))
	return h
}

// bind derives a cancellable context from ctx and wires it to Cancel,
// so a caller reaching this handle through Orchestrator.ActiveRun (not
// holding the original ctx) still stops in-flight work: every blocking
// call downstream of an operation's entry point is passed the context
// bind returns, not the caller's original ctx. Must be called exactly
// once per run, before the first suspension point.
func (h *RunHandle) bind(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.cancelFunc = cancel
	return ctx
}

// State returns the run's current state.
func (h *RunHandle) State() State { return State(h.state.Load()) }

func (h *RunHandle) setState(s State) { h.state.Store(int32(s)) }

// Cancel requests cancellation. Safe to call from any goroutine, at
// any time, including from a caller outside the operation's own
// goroutine (spec.md §3: "cancel flag may be set by any external
// caller at any time"). Also cancels the context bind derived, so
// workers and filesystem calls blocked on ctx.Err() observe it
// immediately rather than only at the next handle.Cancelled() poll
// point.
func (h *RunHandle) Cancel() {
	h.cancelled.Store(true)
	if h.cancelFunc != nil {
		h.cancelFunc()
	}
}

// Cancelled reports whether Cancel has been called.
func (h *RunHandle) Cancelled() bool { return h.cancelled.Load() }

// Result is the outcome spec.md §4.1 requires every operation to
// return: success/failure plus a summary for UI display.
type Result struct {
	RunID         string
	Profile       string
	Operation     string
	FinalState    State
	FilesUploaded int
	FilesSkipped  int
	FilesMissing  int
	FilesDeleted  int
	FilesFailed   int
	BytesUploaded int64
	Errors        []FileError
	Err           error
}

// FileError is one per-file failure, carried in the result for UI
// display per spec.md §7: "The final operation result carries both
// overall status and a per-file error list."
type FileError struct {
	RelativePath string
	Err          error
}

// Success reports whether the run ended in StateDone.
func (r Result) Success() bool { return r.FinalState == StateDone }
