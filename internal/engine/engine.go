// Package engine is the orchestrator spec.md §4.1 describes: it owns
// configuration, the message sink, and the registries of filesystem
// and password providers, and exposes backup/restore/verify/clean as
// operations parameterized by a run handle and profile name. Grounded
// on the teacher's BTService (internal/bt/service.go): a struct of
// injected collaborator interfaces with one method per high-level
// operation, constructed via NewOrchestrator the way NewBTService
// wires BTService.
package engine

import (
	"fmt"
	"sync"

	"github.com/zarniwp/cuba/internal/clock"
	"github.com/zarniwp/cuba/internal/config"
	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/fsadapter"
	"github.com/zarniwp/cuba/internal/message"
	"github.com/zarniwp/cuba/internal/password"
)

// Orchestrator coordinates every operation against a loaded
// configuration, per spec.md §4.1. Configuration and the filesystem
// registry are read-only after construction (spec.md §5); the only
// mutable shared state is the busy-profile tracker below.
type Orchestrator struct {
	cfg         *config.Config
	filesystems map[string]fsadapter.Filesystem
	passwords   password.Provider
	sink        message.Sink
	clk         clock.Clock
	idgen       clock.IDGenerator

	mu       sync.Mutex
	active   map[string]*RunHandle // profile name -> its active run's handle
	runCount int
}

// NewOrchestrator builds an Orchestrator. filesystems must contain an
// entry for every name referenced by cfg.Filesystems, constructed by
// the caller (cmd/cuba) from each FilesystemSpec's kind.
func NewOrchestrator(cfg *config.Config, filesystems map[string]fsadapter.Filesystem, passwords password.Provider, sink message.Sink, clk clock.Clock, idgen clock.IDGenerator) *Orchestrator {
	if sink == nil {
		sink = message.NopSink{}
	}
	return &Orchestrator{
		cfg:         cfg,
		filesystems: filesystems,
		passwords:   passwords,
		sink:        sink,
		clk:         clk,
		idgen:       idgen,
		active:      make(map[string]*RunHandle),
	}
}

// acquire enforces spec.md §4.1's concurrency rule: at most one active
// run per profile, at most Engine.MaxConcurrentProfiles runs total
// across distinct profiles. The handle is registered under profile for
// the run's duration so ActiveRun can hand it to an external caller
// wanting to cancel a run still in flight.
func (o *Orchestrator) acquire(profile string, handle *RunHandle) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active[profile] != nil {
		return cuberr.Wrap(cuberr.KindBusyProfile, "profile %q already has an active run", profile)
	}
	max := o.cfg.Engine.MaxConcurrentProfiles
	if max <= 0 {
		max = 1
	}
	if o.runCount >= max {
		return cuberr.Wrap(cuberr.KindBusyProfile, "maximum of %d concurrent profile runs already active", max)
	}

	o.active[profile] = handle
	o.runCount++
	return nil
}

func (o *Orchestrator) release(profile string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.active[profile]; ok && h.cancelFunc != nil {
		h.cancelFunc()
	}
	delete(o.active, profile)
	o.runCount--
}

// ActiveRun returns the RunHandle for profile's in-flight operation, or
// nil if none is running. A caller — a GUI-style consumer holding the
// Orchestrator across goroutines — uses this to reach a live handle
// and call Cancel on it while the run is still in progress, per
// spec.md §3: "cancel flag may be set by any external caller at any
// time."
func (o *Orchestrator) ActiveRun(profile string) *RunHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[profile]
}

// resolveProfile looks up a profile's spec and its source/destination
// filesystem drivers.
func (o *Orchestrator) resolveProfile(profile string) (config.ProfileSpec, fsadapter.Filesystem, fsadapter.Filesystem, error) {
	spec, ok := o.cfg.Profiles[profile]
	if !ok {
		return config.ProfileSpec{}, nil, nil, cuberr.Wrap(cuberr.KindConfig, "unknown profile %q", profile)
	}
	src, ok := o.filesystems[spec.SourceFS]
	if !ok {
		return config.ProfileSpec{}, nil, nil, cuberr.Wrap(cuberr.KindConfig, "profile %q: source filesystem %q not registered", profile, spec.SourceFS)
	}
	dst, ok := o.filesystems[spec.DestFS]
	if !ok {
		return config.ProfileSpec{}, nil, nil, cuberr.Wrap(cuberr.KindConfig, "profile %q: destination filesystem %q not registered", profile, spec.DestFS)
	}
	return spec, src, dst, nil
}

// resolvePassphrase fetches the profile's passphrase from the
// password provider when encryption is enabled, per spec.md §6: "the
// engine never reads passwords from environment variables or the
// config file."
func (o *Orchestrator) resolvePassphrase(spec config.ProfileSpec) (string, error) {
	if !spec.Encrypt {
		return "", nil
	}
	if o.passwords == nil {
		return "", cuberr.Wrap(cuberr.KindAuth, "encryption enabled but no password provider configured")
	}
	secret, err := o.passwords.Get(spec.PasswordID)
	if err != nil {
		return "", fmt.Errorf("resolving passphrase for %q: %w", spec.PasswordID, err)
	}
	return secret, nil
}

func (o *Orchestrator) log(handle *RunHandle, level message.Level, msg string, attrs map[string]any) {
	o.sink.Send(message.Message{
		Kind:      message.KindLog,
		Profile:   handle.Profile,
		RunID:     handle.CorrelationID,
		Timestamp: o.clk.Now(),
		Log:       &message.LogPayload{Level: level, Msg: msg, Attrs: attrs},
	})
}

func (o *Orchestrator) progress(handle *RunHandle, phase string, planned, done int, bytesPlanned, bytesDone int64) {
	o.sink.Send(message.Message{
		Kind:      message.KindProgress,
		Profile:   handle.Profile,
		RunID:     handle.CorrelationID,
		Timestamp: o.clk.Now(),
		Progress: &message.ProgressPayload{
			Phase:        phase,
			FilesPlanned: planned,
			FilesDone:    done,
			BytesPlanned: bytesPlanned,
			BytesDone:    bytesDone,
		},
	})
}
