// Package password defines the passphrase-lookup abstraction profiles
// use for encryption and authenticated filesystem drivers. Concrete OS
// keyring integration is out of scope per spec.md's Non-goals; this
// package defines the interface the engine consumes plus an in-memory
// provider for tests and non-interactive use, following the narrow,
// single-purpose interface style of the teacher's internal/bt.Encryptor
// (internal/bt/encryptor.go).
package password

import (
	"fmt"
	"sync"

	"github.com/zarniwp/cuba/internal/cuberr"
)

// Provider resolves a password_id (spec.md §6 ProfileSpec.PasswordID,
// FilesystemSpec.AuthPasswordID) to a secret value. Implementations may
// consult an OS keyring, an environment variable, or a prompt; the
// engine never persists the resolved value beyond a single run.
type Provider interface {
	// Get returns the secret for id, or a cuberr.KindAuth error if no
	// secret is registered under that id.
	Get(id string) (string, error)
}

// Setter is implemented by providers that support registering a new
// secret, e.g. for the `cuba password set <id>` CLI command.
type Setter interface {
	Set(id, secret string) error
}

// Memory is an in-process Provider backed by a guarded map. It never
// touches disk and is the provider engine tests and the keychain
// stub's callers fall back to.
type Memory struct {
	mu      sync.RWMutex
	secrets map[string]string
}

var _ Provider = (*Memory)(nil)
var _ Setter = (*Memory)(nil)

// NewMemory creates an empty Memory provider.
func NewMemory() *Memory {
	return &Memory{secrets: make(map[string]string)}
}

// Get implements Provider.
func (m *Memory) Get(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.secrets[id]
	if !ok {
		return "", cuberr.New(cuberr.KindAuth, fmt.Errorf("no password registered for id %q", id))
	}
	return secret, nil
}

// Set implements Setter.
func (m *Memory) Set(id, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[id] = secret
	return nil
}

// Delete removes a registered secret, if any.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, id)
}
