//go:build !darwin

package keychain

import (
	"fmt"

	"github.com/zarniwp/cuba/internal/cuberr"
)

// Provider is a non-functional stand-in on platforms without a
// supported keychain backend, mirroring flarebyte-baldrick-rebec's
// internal/vault/keychain_stub.go fallback.
type Provider struct{}

// New returns a Provider whose methods always fail.
func New() *Provider { return &Provider{} }

func (p *Provider) Get(id string) (string, error) {
	return "", cuberr.New(cuberr.KindAuth, fmt.Errorf("keychain backend not supported on this OS"))
}

func (p *Provider) Set(id, secret string) error {
	return fmt.Errorf("keychain backend not supported on this OS")
}

func (p *Provider) Delete(id string) error {
	return fmt.Errorf("keychain backend not supported on this OS")
}
