package history

import (
	"context"

	"github.com/zarniwp/cuba/internal/message"
)

// RecordingSink wraps an inner message.Sink and persists every
// FileResult message it forwards, per SPEC_FULL.md §5's "sink
// subscriber that persists FileResult messages" — no new engine-side
// bookkeeping, the store only ever observes what the engine already
// emits.
type RecordingSink struct {
	Inner message.Sink
	Store *Store
}

var _ message.Sink = RecordingSink{}

// Send implements message.Sink.
func (s RecordingSink) Send(m message.Message) {
	if s.Inner != nil {
		s.Inner.Send(m)
	}
	if m.Kind != message.KindFileResult || m.File == nil || s.Store == nil {
		return
	}
	// Recording errors are swallowed: the audit trail must never affect
	// engine-visible behavior (SPEC_FULL.md §5 — history is optional and
	// purely additive).
	_ = s.Store.recordFileEvent(context.Background(), m.RunID, m.Profile, m.File, m.Timestamp)
}
